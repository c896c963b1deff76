package engine

import (
	"context"
	"fmt"

	imap "github.com/emersion/go-imap/v2"
	"github.com/wesm/msgctl/internal/store"
)

// ResolveRefs maps refs to current locations like store.ResolveRefs, then
// tries to relocate the leftovers. A message that was moved without the
// server reporting its new UID keeps its message ID and destination
// folder; a HEADER Message-ID search there finds it again.
func (e *Engine) ResolveRefs(ctx context.Context, account string, refs []store.Ref) (resolved, unresolved []store.Ref, err error) {
	resolved, pending, err := e.store.ResolveRefs(ctx, account, refs)
	if err != nil {
		return nil, nil, err
	}

	var ids []int64
	for _, r := range pending {
		if r.ShadowID != 0 {
			ids = append(ids, r.ShadowID)
		}
	}
	records, err := e.store.GetMessages(ctx, account, ids)
	if err != nil {
		return nil, nil, err
	}

	for _, r := range pending {
		rec := records[r.ShadowID]
		if rec == nil || rec.GoneAt.Valid || rec.MessageID == "" || rec.Folder == "" {
			unresolved = append(unresolved, r)
			continue
		}
		loc, err := e.relocate(ctx, rec)
		if err != nil {
			return nil, nil, err
		}
		if loc == nil {
			unresolved = append(unresolved, r)
			continue
		}
		r.Folder = loc.Folder
		r.UID = loc.UID
		resolved = append(resolved, r)
	}
	return resolved, unresolved, nil
}

// relocate searches rec's last known folder for its Message-ID and records
// the location it finds. Returns nil when the message is not there.
func (e *Engine) relocate(ctx context.Context, rec *store.MessageRecord) (*store.Location, error) {
	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{{Key: "Message-ID", Value: rec.MessageID}},
	}
	uids, err := e.remote.Search(ctx, rec.Folder, criteria)
	if err != nil {
		return nil, fmt.Errorf("relocate %d: %w", rec.ShadowID, err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	headers, err := e.remote.FetchHeaders(ctx, rec.Folder, uids, false)
	if err != nil {
		return nil, fmt.Errorf("relocate %d: %w", rec.ShadowID, err)
	}
	// HEADER matches substrings; require the exact id.
	for _, h := range headers {
		if store.NormalizeMessageID(h.MessageID) != rec.MessageID {
			continue
		}
		_, err := e.store.Observe(ctx, store.Observation{
			Account:   rec.Account,
			Folder:    rec.Folder,
			UID:       uint32(h.UID),
			MessageID: h.MessageID,
			Subject:   h.Subject,
			From:      h.From,
			Date:      h.Date,
			Size:      h.Size,
		})
		if err != nil {
			return nil, err
		}
		e.logger.Debug("relocated message", "id", rec.ShadowID, "folder", rec.Folder, "uid", h.UID)
		return &store.Location{Folder: rec.Folder, UID: uint32(h.UID)}, nil
	}
	return nil, nil
}
