// Package store provides the local state database for msgctl: stable
// message identities, selections, query history and staged drafts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/wesm/msgctl/internal/fileutil"
)

// Store provides database operations for msgctl.
type Store struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// _txlock=immediate makes every BEGIN take the write lock up front, so a
// read-then-write inside withTx cannot interleave with another process.
const defaultSQLiteParams = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON&_txlock=immediate"

// isSQLiteError checks if err is a sqlite3.Error with a message containing substr.
// Handles both value (sqlite3.Error) and pointer (*sqlite3.Error) forms.
func isSQLiteError(err error, substr string) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return strings.Contains(sqliteErr.Error(), substr)
	}
	var sqliteErrPtr *sqlite3.Error
	if errors.As(err, &sqliteErrPtr) && sqliteErrPtr != nil {
		return strings.Contains(sqliteErrPtr.Error(), substr)
	}
	return false
}

// isConstraintError reports whether err is a PRIMARY KEY or UNIQUE
// constraint violation.
func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		var ptr *sqlite3.Error
		if !errors.As(err, &ptr) || ptr == nil {
			return false
		}
		sqliteErr = *ptr
	}
	if sqliteErr.Code != sqlite3.ErrConstraint {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Open opens or creates the database at the given path and applies any
// pending migrations.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := fileutil.SecureMkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:     db,
		dbPath: dbPath,
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	// The cache holds subjects and senders.
	if _, err := os.Stat(dbPath); err == nil {
		if err := fileutil.SecureChmod(dbPath, 0600); err != nil {
			db.Close()
			return nil, fmt.Errorf("restrict database permissions: %w", err)
		}
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// withTx executes fn within a database transaction. If fn returns an error,
// the transaction is rolled back; otherwise it is committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryInChunks executes a parameterized IN-query in chunks to stay within
// SQLite's parameter limit. queryTemplate must contain a single %s placeholder
// for the comma-separated "?" list. The prefix args are prepended before each
// chunk's args (e.g., an account filter).
func queryInChunks[T any](ctx context.Context, q queryer, ids []T, prefixArgs []any, queryTemplate string, fn func(*sql.Rows) error) error {
	const chunkSize = 500
	for i := 0; i < len(ids); i += chunkSize {
		end := min(i+chunkSize, len(ids))
		chunk := ids[i:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(prefixArgs)+len(chunk))
		args = append(args, prefixArgs...)
		for j, id := range chunk {
			placeholders[j] = "?"
			args = append(args, id)
		}

		query := fmt.Sprintf(queryTemplate, strings.Join(placeholders, ","))
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}

		for rows.Next() {
			if err := fn(rows); err != nil {
				rows.Close()
				return err
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
	}
	return nil
}

// insertInChunks executes a multi-value INSERT in chunks to stay within SQLite's
// parameter limit (999). valuesPerRow is the number of parameters in each
// VALUES tuple; valueBuilder generates placeholders and args for rows
// [start, end).
func insertInChunks(ctx context.Context, tx *sql.Tx, totalRows int, valuesPerRow int, queryPrefix string, valueBuilder func(start, end int) ([]string, []any)) error {
	const maxParams = 900
	chunkSize := max(maxParams/valuesPerRow, 1)

	for i := 0; i < totalRows; i += chunkSize {
		end := min(i+chunkSize, totalRows)
		values, args := valueBuilder(i, end)
		query := queryPrefix + strings.Join(values, ",")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// placeholders returns "(?, ?, ...)" with n markers.
func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// Stats holds database statistics.
type Stats struct {
	Messages       int64
	AgentRead      int64
	Gone           int64
	SelectionCount int64
	QueryScopes    int64
	PendingDrafts  int64
}

// GetStats returns row counts for one account.
func (s *Store) GetStats(ctx context.Context, account string) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int64
	}{
		{"SELECT COUNT(*) FROM messages WHERE account = ?", &stats.Messages},
		{"SELECT COUNT(*) FROM messages WHERE account = ? AND agent_read = 1", &stats.AgentRead},
		{"SELECT COUNT(*) FROM messages WHERE account = ? AND gone_at IS NOT NULL", &stats.Gone},
		{"SELECT COUNT(*) FROM selections WHERE account = ?", &stats.SelectionCount},
		{"SELECT COUNT(*) FROM query_history WHERE account = ?", &stats.QueryScopes},
		{"SELECT COUNT(*) FROM drafts WHERE account = ?", &stats.PendingDrafts},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, account).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("get stats %q: %w", q.query, err)
		}
	}
	return stats, nil
}

// ResetCache removes every local record for account: identities,
// selection, query history and any staged draft. Shadow IDs are not
// reissued afterwards because messages uses AUTOINCREMENT.
func (s *Store) ResetCache(ctx context.Context, account string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"drafts", "selections", "query_history_results", "query_history", "messages"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE account = ?", account); err != nil {
				return fmt.Errorf("reset %s: %w", table, err)
			}
		}
		return nil
	})
}
