package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// QueryRecord is the last query run in a folder scope.
type QueryRecord struct {
	Account     string
	Folder      string
	Query       string
	ResultCount int
	ExecutedAt  time.Time
}

// RecordResults replaces the stored results for (account, folder) with
// results, in order. The delete and insert happen in one transaction so a
// concurrent reader sees either the previous list or the new one.
func (s *Store) RecordResults(ctx context.Context, account, folder, query string, results []Ref) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM query_history_results WHERE account = ? AND folder = ?`,
			account, folder); err != nil {
			return fmt.Errorf("clear previous results: %w", err)
		}

		err := insertInChunks(ctx, tx, len(results), 7,
			`INSERT INTO query_history_results (account, folder, position, uid, shadow_id, message_id, subject) VALUES `,
			func(start, end int) ([]string, []any) {
				values := make([]string, 0, end-start)
				args := make([]any, 0, (end-start)*7)
				for i := start; i < end; i++ {
					r := results[i]
					values = append(values, placeholders(7))
					args = append(args, account, folder, i, r.UID,
						nullShadow(r.ShadowID), nullString(r.MessageID), nullString(r.Subject))
				}
				return values, args
			})
		if err != nil {
			return fmt.Errorf("insert results: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO query_history (account, folder, query_string, result_count, executed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(account, folder) DO UPDATE SET
				query_string = excluded.query_string,
				result_count = excluded.result_count,
				executed_at = excluded.executed_at`,
			account, folder, query, len(results), now)
		if err != nil {
			return fmt.Errorf("record query: %w", err)
		}
		return nil
	})
}

// LastResults returns the stored results for (account, folder) in their
// original order. An empty list means no query has been recorded for the
// scope or the last query matched nothing.
func (s *Store) LastResults(ctx context.Context, account, folder string) ([]Ref, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT folder, uid, shadow_id, message_id, subject
		FROM query_history_results
		WHERE account = ? AND folder = ?
		ORDER BY position`, account, folder)
	if err != nil {
		return nil, fmt.Errorf("last results: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var (
			r         Ref
			shadowID  sql.NullInt64
			messageID sql.NullString
			subject   sql.NullString
		)
		if err := rows.Scan(&r.Folder, &r.UID, &shadowID, &messageID, &subject); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.ShadowID = shadowID.Int64
		r.MessageID = messageID.String
		r.Subject = subject.String
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// LastQuery returns the query recorded for (account, folder). An empty
// folder returns the most recent query across all folders. Returns nil, nil
// when nothing has been recorded.
func (s *Store) LastQuery(ctx context.Context, account, folder string) (*QueryRecord, error) {
	query := `SELECT account, folder, query_string, result_count, executed_at
		FROM query_history WHERE account = ?`
	args := []any{account}
	if folder != "" {
		query += ` AND folder = ?`
		args = append(args, folder)
	}
	query += ` ORDER BY executed_at DESC LIMIT 1`

	var rec QueryRecord
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&rec.Account, &rec.Folder, &rec.Query, &rec.ResultCount, &rec.ExecutedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last query: %w", err)
	}
	return &rec, nil
}
