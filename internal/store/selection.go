package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ref is a non-owning reference to a message: the shadow ID when known,
// plus the location it had when the reference was taken.
type Ref struct {
	ShadowID  int64 // 0 when the message has no identity record
	MessageID string
	Folder    string
	UID       uint32
	Subject   string
}

// SelectionEntry is a member of an account's selection set.
type SelectionEntry struct {
	Account string
	Ref
	AddedAt time.Time
}

// AddToSelection adds refs to the account's selection. Membership is keyed
// by (account, folder, uid); re-adding an entry refreshes its identity
// fields. Returns the number of entries that were not already selected.
func (s *Store) AddToSelection(ctx context.Context, account string, refs []Ref) (int, error) {
	added := 0
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, r := range refs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO selections (account, folder, uid, shadow_id, message_id, subject, added_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(account, folder, uid) DO NOTHING`,
				account, r.Folder, r.UID, nullShadow(r.ShadowID), nullString(r.MessageID), nullString(r.Subject), now)
			if err != nil {
				return fmt.Errorf("add %s/%d to selection: %w", r.Folder, r.UID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
				continue
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE selections SET
					shadow_id = COALESCE(?, shadow_id),
					message_id = COALESCE(?, message_id),
					subject = COALESCE(?, subject)
				WHERE account = ? AND folder = ? AND uid = ?`,
				nullShadow(r.ShadowID), nullString(r.MessageID), nullString(r.Subject),
				account, r.Folder, r.UID)
			if err != nil {
				return fmt.Errorf("refresh selection %s/%d: %w", r.Folder, r.UID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// RemoveFromSelection removes the given UIDs of folder from the selection.
func (s *Store) RemoveFromSelection(ctx context.Context, account, folder string, uids []uint32) (int, error) {
	removed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, uid := range uids {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM selections WHERE account = ? AND folder = ? AND uid = ?`,
				account, folder, uid)
			if err != nil {
				return fmt.Errorf("remove %s/%d from selection: %w", folder, uid, err)
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}
		return nil
	})
	return removed, err
}

// RemoveShadowIDsFromSelection removes entries carrying any of the shadow
// IDs, wherever they were selected.
func (s *Store) RemoveShadowIDsFromSelection(ctx context.Context, account string, shadowIDs []int64) (int, error) {
	removed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range shadowIDs {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM selections WHERE account = ? AND shadow_id = ?`, account, id)
			if err != nil {
				return fmt.Errorf("remove %d from selection: %w", id, err)
			}
			n, _ := res.RowsAffected()
			removed += int(n)
		}
		return nil
	})
	return removed, err
}

// GetSelection returns the selection for account. An empty folder returns
// entries from every folder.
func (s *Store) GetSelection(ctx context.Context, account, folder string) ([]SelectionEntry, error) {
	query := `SELECT account, folder, uid, shadow_id, message_id, subject, added_at
		FROM selections WHERE account = ?`
	args := []any{account}
	if folder != "" {
		query += ` AND folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY folder, added_at, uid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get selection: %w", err)
	}
	defer rows.Close()

	var entries []SelectionEntry
	for rows.Next() {
		var (
			e         SelectionEntry
			shadowID  sql.NullInt64
			messageID sql.NullString
			subject   sql.NullString
		)
		if err := rows.Scan(&e.Account, &e.Folder, &e.UID, &shadowID, &messageID, &subject, &e.AddedAt); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		e.ShadowID = shadowID.Int64
		e.MessageID = messageID.String
		e.Subject = subject.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearSelection empties the selection for account, or only one folder of
// it when folder is non-empty.
func (s *Store) ClearSelection(ctx context.Context, account, folder string) (int, error) {
	query := `DELETE FROM selections WHERE account = ?`
	args := []any{account}
	if folder != "" {
		query += ` AND folder = ?`
		args = append(args, folder)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear selection: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SelectionCount returns the number of selected messages.
func (s *Store) SelectionCount(ctx context.Context, account, folder string) (int, error) {
	query := `SELECT COUNT(*) FROM selections WHERE account = ?`
	args := []any{account}
	if folder != "" {
		query += ` AND folder = ?`
		args = append(args, folder)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count selection: %w", err)
	}
	return n, nil
}

// ResolveSelection resolves the selection to current locations. See
// ResolveRefs.
func (s *Store) ResolveSelection(ctx context.Context, account, folder string) (resolved, unresolved []Ref, err error) {
	entries, err := s.GetSelection(ctx, account, folder)
	if err != nil {
		return nil, nil, err
	}
	refs := make([]Ref, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref
	}
	return s.ResolveRefs(ctx, account, refs)
}

// ResolveRefs maps references to current locations, by shadow ID first and
// by the recorded location as a fallback. A reference whose identity
// record exists but has no current location (gone, or moved without a
// known UID) is returned in unresolved. The fallback applies only to refs
// without an identity record.
func (s *Store) ResolveRefs(ctx context.Context, account string, refs []Ref) (resolved, unresolved []Ref, err error) {
	var ids []int64
	for _, r := range refs {
		if r.ShadowID != 0 {
			ids = append(ids, r.ShadowID)
		}
	}
	records, err := s.GetMessages(ctx, account, ids)
	if err != nil {
		return nil, nil, err
	}

	for _, r := range refs {
		rec, ok := records[r.ShadowID]
		if r.ShadowID == 0 || !ok {
			if r.Folder != "" && r.UID != 0 {
				resolved = append(resolved, r)
			} else {
				unresolved = append(unresolved, r)
			}
			continue
		}
		if !rec.Present() {
			if r.MessageID == "" {
				r.MessageID = rec.MessageID
			}
			if rec.Folder != "" {
				r.Folder = rec.Folder
			}
			unresolved = append(unresolved, r)
			continue
		}
		r.Folder = rec.Folder
		r.UID = rec.UID
		if r.MessageID == "" {
			r.MessageID = rec.MessageID
		}
		if r.Subject == "" {
			r.Subject = rec.Subject
		}
		resolved = append(resolved, r)
	}
	return resolved, unresolved, nil
}

func nullShadow(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
