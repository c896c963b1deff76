package imap

import (
	"context"
	"fmt"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Mutate applies m to uids in folder. UIDs that no longer exist are
// reported with ErrMessageMissing, since servers skip them silently. The
// remaining set is tried as one command first; if that fails each UID is
// retried on its own so the result says exactly which messages failed.
// The returned error is only set when nothing could be attempted
// (connection, SELECT or the presence check failing).
func (c *Client) Mutate(ctx context.Context, folder string, uids []imap.UID, m Mutation) ([]MutationResult, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	if (m.Kind == MutateMove || m.Kind == MutateCopy) && m.Dest == "" {
		return nil, fmt.Errorf("%s requires a destination folder", m.Kind)
	}

	byUID := make(map[imap.UID]MutationResult, len(uids))
	err := c.withConn(ctx, func(conn *imapclient.Client) error {
		if err := c.selectMailbox(folder); err != nil {
			return err
		}

		present, err := presentUIDs(conn, uids)
		if err != nil {
			return err
		}
		var todo []imap.UID
		for _, uid := range uids {
			if present[uid] {
				todo = append(todo, uid)
			} else {
				byUID[uid] = MutationResult{UID: uid, Err: missingErr(uid)}
			}
		}
		if len(todo) == 0 {
			return nil
		}

		res, err := applyMutation(conn, todo, m)
		if err == nil {
			for _, uid := range todo {
				byUID[uid] = res.result(uid)
			}
			return nil
		}
		if len(todo) == 1 {
			byUID[todo[0]] = MutationResult{UID: todo[0], Err: err}
			return nil
		}

		c.logger.Warn("batch command failed, retrying per message",
			"mailbox", folder, "op", m.Kind.String(), "count", len(todo), "error", err)
		for _, uid := range todo {
			if ctxErr := ctx.Err(); ctxErr != nil {
				byUID[uid] = MutationResult{UID: uid, Err: ctxErr}
				continue
			}
			single, err := applyMutation(conn, []imap.UID{uid}, m)
			if err != nil {
				byUID[uid] = MutationResult{UID: uid, Err: err}
				continue
			}
			byUID[uid] = single.result(uid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]MutationResult, len(uids))
	for i, uid := range uids {
		results[i] = byUID[uid]
	}
	return results, nil
}

func missingErr(uid imap.UID) error {
	return fmt.Errorf("uid %d: %w", uid, ErrMessageMissing)
}

// presentUIDs reports which of uids still exist in the selected mailbox.
func presentUIDs(conn *imapclient.Client, uids []imap.UID) (map[imap.UID]bool, error) {
	var uidSet imap.UIDSet
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}
	data, err := conn.UIDSearch(&imap.SearchCriteria{UID: []imap.UIDSet{uidSet}}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("UID SEARCH UID %v: %w", uidSet, err)
	}
	present := make(map[imap.UID]bool, len(uids))
	for _, uid := range data.AllUIDs() {
		present[uid] = true
	}
	return present, nil
}

// applied is what one successful command reported.
type applied struct {
	// newUIDs maps source to destination UIDs from COPYUID. It is nil
	// when the server did not send COPYUID.
	newUIDs map[imap.UID]imap.UID
}

// result builds the outcome for uid. With COPYUID, a UID the server left
// out of the source set was not moved or copied.
func (a applied) result(uid imap.UID) MutationResult {
	if a.newUIDs == nil {
		return MutationResult{UID: uid}
	}
	newUID, ok := a.newUIDs[uid]
	if !ok {
		return MutationResult{UID: uid, Err: missingErr(uid)}
	}
	return MutationResult{UID: uid, NewUID: newUID}
}

// applyMutation runs one command for uids.
func applyMutation(conn *imapclient.Client, uids []imap.UID, m Mutation) (applied, error) {
	var uidSet imap.UIDSet
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	switch m.Kind {
	case MutateFlags:
		if len(m.AddFlags) > 0 {
			if err := storeFlags(conn, uidSet, imap.StoreFlagsAdd, m.AddFlags); err != nil {
				return applied{}, err
			}
		}
		if len(m.RemoveFlags) > 0 {
			if err := storeFlags(conn, uidSet, imap.StoreFlagsDel, m.RemoveFlags); err != nil {
				return applied{}, err
			}
		}
		return applied{}, nil

	case MutateMove:
		data, err := conn.Move(uidSet, m.Dest).Wait()
		if err != nil {
			return applied{}, fmt.Errorf("MOVE to %q: %w", m.Dest, err)
		}
		if data == nil || data.UIDValidity == 0 {
			return applied{}, nil
		}
		return applied{newUIDs: pairUIDs(data.SourceUIDs, data.DestUIDs)}, nil

	case MutateCopy:
		data, err := conn.Copy(uidSet, m.Dest).Wait()
		if err != nil {
			return applied{}, fmt.Errorf("COPY to %q: %w", m.Dest, err)
		}
		if data == nil || data.UIDValidity == 0 {
			return applied{}, nil
		}
		return applied{newUIDs: pairUIDs(data.SourceUIDs, data.DestUIDs)}, nil

	case MutateExpunge:
		if err := storeFlags(conn, uidSet, imap.StoreFlagsAdd, []imap.Flag{imap.FlagDeleted}); err != nil {
			return applied{}, err
		}
		if err := conn.UIDExpunge(uidSet).Close(); err != nil {
			return applied{}, fmt.Errorf("UID EXPUNGE: %w", err)
		}
		return applied{}, nil
	}
	return applied{}, fmt.Errorf("unknown mutation %d", m.Kind)
}

func storeFlags(conn *imapclient.Client, uidSet imap.UIDSet, op imap.StoreFlagsOp, flags []imap.Flag) error {
	err := conn.Store(uidSet, &imap.StoreFlags{
		Op:     op,
		Silent: true,
		Flags:  flags,
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("UID STORE %v: %w", flags, err)
	}
	return nil
}

// pairUIDs maps COPYUID source UIDs to destination UIDs. The two sets
// correspond in ascending order.
func pairUIDs(src, dst imap.NumSet) map[imap.UID]imap.UID {
	srcSet, ok := src.(imap.UIDSet)
	if !ok {
		return nil
	}
	dstSet, ok := dst.(imap.UIDSet)
	if !ok {
		return nil
	}
	srcNums, ok := srcSet.Nums()
	if !ok {
		return nil
	}
	dstNums, ok := dstSet.Nums()
	if !ok || len(srcNums) != len(dstNums) {
		return nil
	}
	out := make(map[imap.UID]imap.UID, len(srcNums))
	for i, uid := range srcNums {
		out[uid] = dstNums[i]
	}
	return out
}
