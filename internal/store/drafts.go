package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind is the mutation a draft applies to its targets.
type ActionKind string

const (
	ActionFlag    ActionKind = "flag"
	ActionMove    ActionKind = "move"
	ActionCopy    ActionKind = "copy"
	ActionDelete  ActionKind = "delete"
	ActionArchive ActionKind = "archive"
)

// DraftStatus is the lifecycle state of a staged draft.
type DraftStatus string

const (
	DraftStaged     DraftStatus = "staged"
	DraftCommitting DraftStatus = "committing"
	DraftPartial    DraftStatus = "partial" // some targets failed; commit again to retry them
)

// Outcome is the result of applying a draft to one target.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// FlagParams describes the changes of a flag action. Nil pointers leave
// the corresponding flag untouched.
type FlagParams struct {
	Read     *bool    `json:"read,omitempty"`
	Starred  *bool    `json:"starred,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	Unlabels []string `json:"unlabels,omitempty"`
	MoveTo   string   `json:"move_to,omitempty"`
}

// HasAnyAction reports whether p changes anything.
func (p FlagParams) HasAnyAction() bool {
	return p.Read != nil || p.Starred != nil || len(p.Labels) > 0 || len(p.Unlabels) > 0 || p.MoveTo != ""
}

// DraftParams holds the action-specific parameters of a draft.
type DraftParams struct {
	Flags      *FlagParams `json:"flags,omitempty"`
	DestFolder string      `json:"dest_folder,omitempty"`
	Permanent  bool        `json:"permanent,omitempty"`
}

// DraftTarget is one message a draft acts on.
type DraftTarget struct {
	Position  int
	ShadowID  int64
	MessageID string
	Folder    string
	UID       uint32
	Subject   string
	Outcome   Outcome
	Error     string
	UpdatedAt sql.NullTime
}

// Draft is a staged batch mutation. An account has at most one.
type Draft struct {
	ID           string
	Account      string
	Action       ActionKind
	SourceFolder string // empty when targets span folders
	Params       DraftParams
	Status       DraftStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Targets      []DraftTarget
}

// Remaining returns the targets that have not succeeded yet.
func (d *Draft) Remaining() []DraftTarget {
	var out []DraftTarget
	for _, t := range d.Targets {
		if t.Outcome != OutcomeSucceeded {
			out = append(out, t)
		}
	}
	return out
}

// Counts tallies targets by outcome.
func (d *Draft) Counts() (succeeded, failed, pending int) {
	for _, t := range d.Targets {
		switch t.Outcome {
		case OutcomeSucceeded:
			succeeded++
		case OutcomeFailed:
			failed++
		default:
			pending++
		}
	}
	return succeeded, failed, pending
}

// TargetOutcome records the result for the target at Position.
type TargetOutcome struct {
	Position int
	Outcome  Outcome
	Error    string
}

// StageDraft persists d as the account's draft. ID, status and timestamps
// are filled in when empty. If the account already has a draft, a
// *DraftConflictError is returned and nothing is written.
func (s *Store) StageDraft(ctx context.Context, d *Draft) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DraftStaged
	}
	now := s.now()
	d.CreatedAt = now
	d.UpdatedAt = now

	params, err := json.Marshal(d.Params)
	if err != nil {
		return fmt.Errorf("marshal draft params: %w", err)
	}
	for i := range d.Targets {
		d.Targets[i].Position = i
		if d.Targets[i].Outcome == "" {
			d.Targets[i].Outcome = OutcomePending
		}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO drafts (account, id, action, source_folder, params_json, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			d.Account, d.ID, string(d.Action), d.SourceFolder, string(params), string(d.Status), now, now)
		if err != nil {
			return fmt.Errorf("insert draft: %w", err)
		}

		err = insertInChunks(ctx, tx, len(d.Targets), 8,
			`INSERT INTO draft_targets (account, position, shadow_id, message_id, folder, uid, subject, outcome) VALUES `,
			func(start, end int) ([]string, []any) {
				values := make([]string, 0, end-start)
				args := make([]any, 0, (end-start)*8)
				for i := start; i < end; i++ {
					t := d.Targets[i]
					values = append(values, placeholders(8))
					args = append(args, d.Account, t.Position, nullShadow(t.ShadowID),
						nullString(t.MessageID), t.Folder, t.UID, nullString(t.Subject), string(t.Outcome))
				}
				return values, args
			})
		if err != nil {
			return fmt.Errorf("insert draft targets: %w", err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if !isConstraintError(err) {
		return err
	}

	conflict := &DraftConflictError{Account: d.Account}
	if existing, getErr := s.GetDraft(ctx, d.Account); getErr == nil && existing != nil {
		conflict.Existing = existing.Action
		conflict.ID = existing.ID
	}
	return conflict
}

// GetDraft returns the account's draft with its targets in position
// order, or nil, nil when there is none.
func (s *Store) GetDraft(ctx context.Context, account string) (*Draft, error) {
	var (
		d      Draft
		params string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT account, id, action, source_folder, params_json, status, created_at, updated_at
		FROM drafts WHERE account = ?`, account).Scan(
		&d.Account, &d.ID, &d.Action, &d.SourceFolder, &params, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get draft: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &d.Params); err != nil {
		return nil, fmt.Errorf("decode draft params: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT position, shadow_id, message_id, folder, uid, subject, outcome, error, updated_at
		FROM draft_targets WHERE account = ? ORDER BY position`, account)
	if err != nil {
		return nil, fmt.Errorf("get draft targets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t         DraftTarget
			shadowID  sql.NullInt64
			messageID sql.NullString
			subject   sql.NullString
		)
		if err := rows.Scan(&t.Position, &shadowID, &messageID, &t.Folder, &t.UID, &subject,
			&t.Outcome, &t.Error, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan draft target: %w", err)
		}
		t.ShadowID = shadowID.Int64
		t.MessageID = messageID.String
		t.Subject = subject.String
		d.Targets = append(d.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &d, nil
}

// HasDraft reports whether the account has a staged draft.
func (s *Store) HasDraft(ctx context.Context, account string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM drafts WHERE account = ?`, account).Scan(&n); err != nil {
		return false, fmt.Errorf("check draft: %w", err)
	}
	return n > 0, nil
}

// DiscardDraft deletes the account's draft and its targets. Returns
// ErrNoDraft when there is none.
func (s *Store) DiscardDraft(ctx context.Context, account string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE account = ?`, account)
	if err != nil {
		return fmt.Errorf("discard draft: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoDraft
	}
	return nil
}

// SetDraftStatus updates the draft's status.
func (s *Store) SetDraftStatus(ctx context.Context, account string, status DraftStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET status = ?, updated_at = ? WHERE account = ?`,
		string(status), s.now(), account)
	if err != nil {
		return fmt.Errorf("set draft status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoDraft
	}
	return nil
}

// RecordTargetOutcomes stores per-target results in one transaction.
func (s *Store) RecordTargetOutcomes(ctx context.Context, account string, outcomes []TargetOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE draft_targets SET outcome = ?, error = ?, updated_at = ?
			WHERE account = ? AND position = ?`)
		if err != nil {
			return fmt.Errorf("prepare outcome update: %w", err)
		}
		defer stmt.Close()

		for _, o := range outcomes {
			if _, err := stmt.ExecContext(ctx, string(o.Outcome), o.Error, now, account, o.Position); err != nil {
				return fmt.Errorf("record outcome for target %d: %w", o.Position, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE drafts SET updated_at = ? WHERE account = ?`, now, account); err != nil {
			return fmt.Errorf("touch draft: %w", err)
		}
		return nil
	})
}

// CompleteDraft deletes the draft if every target has succeeded and
// reports whether it did.
func (s *Store) CompleteDraft(ctx context.Context, account string) (bool, error) {
	completed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var remaining int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM draft_targets
			WHERE account = ? AND outcome != ?`, account, string(OutcomeSucceeded)).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("count remaining targets: %w", err)
		}
		if remaining > 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE account = ?`, account)
		if err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}
		n, _ := res.RowsAffected()
		completed = n > 0
		return nil
	})
	return completed, err
}
