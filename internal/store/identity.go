package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Observation is one sighting of a remote message during a list or search.
type Observation struct {
	Account   string
	Folder    string
	UID       uint32
	MessageID string
	Subject   string
	From      string
	Date      time.Time
	Size      int64
}

// Location is where a message currently lives on the server.
type Location struct {
	Folder string
	UID    uint32
}

// MessageRecord is the local identity record of a remote message.
type MessageRecord struct {
	ShadowID    int64
	Account     string
	MessageID   string
	Folder      string // empty when the location is unknown
	UID         uint32 // 0 when unknown until re-observed
	Subject     string
	From        string
	Date        time.Time
	Size        int64
	AgentRead   bool
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	GoneAt      sql.NullTime
}

// Present reports whether the record has a usable location.
func (m *MessageRecord) Present() bool {
	return !m.GoneAt.Valid && m.Folder != "" && m.UID != 0
}

// Location returns the record's location, or nil if it is not present.
func (m *MessageRecord) Location() *Location {
	if !m.Present() {
		return nil
	}
	return &Location{Folder: m.Folder, UID: m.UID}
}

// NormalizeMessageID strips whitespace and angle brackets so that ids from
// envelopes and raw headers compare equal.
func NormalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, "<")
	id = strings.TrimSuffix(id, ">")
	return strings.TrimSpace(id)
}

// Observe records a sighting and returns the message's shadow ID. See
// ObserveBatch.
func (s *Store) Observe(ctx context.Context, obs Observation) (int64, error) {
	ids, err := s.ObserveBatch(ctx, []Observation{obs})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// ObserveBatch records sightings in a single transaction and returns their
// shadow IDs in order.
//
// A message with a Message-ID that is already known keeps its shadow ID and
// has its folder and UID updated, which is how moves are reconciled.
// Messages without a Message-ID are keyed by (account, folder, uid) and
// get a new identity if they move.
func (s *Store) ObserveBatch(ctx context.Context, obs []Observation) ([]int64, error) {
	ids := make([]int64, len(obs))
	if len(obs) == 0 {
		return ids, nil
	}
	now := s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, o := range obs {
			id, err := observeTx(ctx, tx, o, now)
			if err != nil {
				return fmt.Errorf("observe %s/%d: %w", o.Folder, o.UID, err)
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func observeTx(ctx context.Context, tx *sql.Tx, o Observation, now time.Time) (int64, error) {
	msgID := NormalizeMessageID(o.MessageID)

	var shadowID int64
	var err error
	if msgID != "" {
		err = tx.QueryRowContext(ctx,
			`SELECT shadow_id FROM messages WHERE account = ? AND message_id = ?`,
			o.Account, msgID).Scan(&shadowID)
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT shadow_id FROM messages
			 WHERE account = ? AND folder = ? AND uid = ? AND message_id IS NULL`,
			o.Account, o.Folder, o.UID).Scan(&shadowID)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("look up message: %w", err)
	}

	// Whatever else claims this location is stale: UIDs are not reused
	// within a mailbox.
	if err := vacateLocation(ctx, tx, o.Account, o.Folder, o.UID, shadowID); err != nil {
		return 0, err
	}

	if shadowID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (account, message_id, folder, uid, subject, from_address,
			                      date_sent, size, first_seen_at, last_seen_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.Account, nullString(msgID), o.Folder, o.UID, o.Subject, o.From,
			nullTime(o.Date), o.Size, now, now)
		if err != nil {
			return 0, fmt.Errorf("insert message: %w", err)
		}
		return res.LastInsertId()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET
			folder = ?,
			uid = ?,
			subject = CASE WHEN ? != '' THEN ? ELSE subject END,
			from_address = CASE WHEN ? != '' THEN ? ELSE from_address END,
			date_sent = COALESCE(?, date_sent),
			size = CASE WHEN ? > 0 THEN ? ELSE size END,
			last_seen_at = ?,
			gone_at = NULL
		WHERE shadow_id = ?`,
		o.Folder, o.UID,
		o.Subject, o.Subject,
		o.From, o.From,
		nullTime(o.Date),
		o.Size, o.Size,
		now, shadowID)
	if err != nil {
		return 0, fmt.Errorf("update message: %w", err)
	}
	return shadowID, nil
}

// vacateLocation clears the location of every record at (folder, uid)
// other than keep.
func vacateLocation(ctx context.Context, tx *sql.Tx, account, folder string, uid uint32, keep int64) error {
	if folder == "" || uid == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE messages SET folder = NULL, uid = NULL
		WHERE account = ? AND folder = ? AND uid = ? AND shadow_id != ?`,
		account, folder, uid, keep)
	if err != nil {
		return fmt.Errorf("vacate %s/%d: %w", folder, uid, err)
	}
	return nil
}

const messageColumns = `shadow_id, account, message_id, folder, uid, subject, from_address,
	date_sent, size, agent_read, first_seen_at, last_seen_at, gone_at`

func scanMessage(row interface{ Scan(...any) error }) (*MessageRecord, error) {
	var (
		m         MessageRecord
		messageID sql.NullString
		folder    sql.NullString
		uid       sql.NullInt64
		dateSent  sql.NullTime
	)
	err := row.Scan(&m.ShadowID, &m.Account, &messageID, &folder, &uid, &m.Subject, &m.From,
		&dateSent, &m.Size, &m.AgentRead, &m.FirstSeenAt, &m.LastSeenAt, &m.GoneAt)
	if err != nil {
		return nil, err
	}
	m.MessageID = messageID.String
	m.Folder = folder.String
	m.UID = uint32(uid.Int64)
	if dateSent.Valid {
		m.Date = dateSent.Time
	}
	return &m, nil
}

// GetMessage returns the identity record for shadowID, or nil if there is
// none.
func (s *Store) GetMessage(ctx context.Context, shadowID int64) (*MessageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE shadow_id = ?`, shadowID)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", shadowID, err)
	}
	return m, nil
}

// GetMessages returns the identity records for the given shadow IDs, keyed
// by shadow ID. Unknown IDs are absent from the map.
func (s *Store) GetMessages(ctx context.Context, account string, shadowIDs []int64) (map[int64]*MessageRecord, error) {
	result := make(map[int64]*MessageRecord, len(shadowIDs))
	err := queryInChunks(ctx, s.db, shadowIDs, []any{account},
		`SELECT `+messageColumns+` FROM messages WHERE account = ? AND shadow_id IN (%s)`,
		func(rows *sql.Rows) error {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			result[m.ShadowID] = m
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return result, nil
}

// Resolve returns the current location of shadowID, or nil if the message
// is unknown, gone, or waiting to be re-observed after a move.
func (s *Store) Resolve(ctx context.Context, shadowID int64) (*Location, error) {
	m, err := s.GetMessage(ctx, shadowID)
	if err != nil || m == nil {
		return nil, err
	}
	return m.Location(), nil
}

// LookupShadowIDs maps UIDs in folder to known shadow IDs.
func (s *Store) LookupShadowIDs(ctx context.Context, account, folder string, uids []uint32) (map[uint32]int64, error) {
	result := make(map[uint32]int64, len(uids))
	err := queryInChunks(ctx, s.db, uids, []any{account, folder},
		`SELECT uid, shadow_id FROM messages WHERE account = ? AND folder = ? AND uid IN (%s)`,
		func(rows *sql.Rows) error {
			var uid uint32
			var id int64
			if err := rows.Scan(&uid, &id); err != nil {
				return err
			}
			result[uid] = id
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("look up shadow ids: %w", err)
	}
	return result, nil
}

// MarkAgentRead sets the agent-read flag. Marking an already-read message
// is a no-op.
func (s *Store) MarkAgentRead(ctx context.Context, shadowIDs ...int64) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range shadowIDs {
			_, err := tx.ExecContext(ctx, `
				UPDATE messages SET agent_read = 1, agent_read_at = COALESCE(agent_read_at, ?)
				WHERE shadow_id = ?`, now, id)
			if err != nil {
				return fmt.Errorf("mark %d agent-read: %w", id, err)
			}
		}
		return nil
	})
}

// AgentReadSet returns the subset of shadowIDs that are marked agent-read.
func (s *Store) AgentReadSet(ctx context.Context, account string, shadowIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool)
	err := queryInChunks(ctx, s.db, shadowIDs, []any{account},
		`SELECT shadow_id FROM messages WHERE account = ? AND agent_read = 1 AND shadow_id IN (%s)`,
		func(rows *sql.Rows) error {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			result[id] = true
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("query agent-read: %w", err)
	}
	return result, nil
}

// UpdateLocation records that a message now lives at (folder, uid). A zero
// uid means the destination is known but the new UID is not; the message
// resolves again once it is re-observed.
func (s *Store) UpdateLocation(ctx context.Context, shadowID int64, folder string, uid uint32) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var account string
		err := tx.QueryRowContext(ctx, `SELECT account FROM messages WHERE shadow_id = ?`, shadowID).Scan(&account)
		if errors.Is(err, sql.ErrNoRows) {
			return &IdentityNotFoundError{ShadowIDs: []int64{shadowID}}
		}
		if err != nil {
			return fmt.Errorf("look up message %d: %w", shadowID, err)
		}
		if err := vacateLocation(ctx, tx, account, folder, uid, shadowID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE messages SET folder = ?, uid = ?, gone_at = NULL WHERE shadow_id = ?`,
			folder, nullUID(uid), shadowID)
		if err != nil {
			return fmt.Errorf("update location of %d: %w", shadowID, err)
		}
		return nil
	})
}

// MarkGone records that messages were permanently removed from the server.
// The records are kept so their shadow IDs keep reporting "no longer
// present".
func (s *Store) MarkGone(ctx context.Context, shadowIDs ...int64) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range shadowIDs {
			_, err := tx.ExecContext(ctx,
				`UPDATE messages SET folder = NULL, uid = NULL, gone_at = ? WHERE shadow_id = ?`,
				now, id)
			if err != nil {
				return fmt.Errorf("mark %d gone: %w", id, err)
			}
		}
		return nil
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func nullUID(uid uint32) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(uid), Valid: uid != 0}
}
