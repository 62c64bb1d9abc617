package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Message types.
const (
	TypeStructured = "STRUCTURED"
	TypeUnknown    = "UNKNOWN"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps SQLite access for transcript fragments and detected messages.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			start_time_ms INTEGER NOT NULL,
			duration_ms INTEGER,
			raw_text TEXT,
			created_at TIMESTAMP
		);`,
		// Composite index backs the (channel, time-range) scan the detector
		// runs on every evaluation. Without it the query degrades to a full
		// table walk as fragment volume grows.
		`CREATE INDEX IF NOT EXISTS idx_fragments_channel_start ON fragments(channel_id, start_time_ms);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			message_type TEXT NOT NULL,
			header TEXT,
			body TEXT,
			confidence_score INTEGER,
			multi_segment INTEGER,
			segment_count INTEGER,
			duration_seconds REAL,
			recording_ids TEXT,
			first_detected_at TIMESTAMP,
			last_detected_at TIMESTAMP,
			repeat_count INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_header_last ON messages(header, last_detected_at);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_last ON messages(last_detected_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	// legacy compatibility: ensure columns exist
	needed := map[string]string{
		"duration_seconds": "REAL",
		"repeat_count":     "INTEGER",
	}
	rows, err := s.db.Query("PRAGMA table_info(messages);")
	if err != nil {
		return err
	}
	defer rows.Close()
	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return err
		}
		existing[name] = struct{}{}
	}
	for col, colType := range needed {
		if _, ok := existing[col]; !ok {
			stmt := fmt.Sprintf("ALTER TABLE messages ADD COLUMN %s %s", col, colType)
			if _, err := s.db.Exec(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fragment is one timestamped unit of transcribed text from a monitored
// channel. Fragments are written once by the capture side and read-only after.
type Fragment struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	StartTimeMs int64     `json:"start_time_ms"`
	DurationMs  int64     `json:"duration_ms"`
	RawText     string    `json:"raw_text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is an accepted structured-broadcast detection. Header, body and
// confidence are fixed at insert; repeats only append recording ids and bump
// last_detected_at / repeat_count.
type Message struct {
	ID              string    `json:"id"`
	MessageType     string    `json:"message_type"`
	Header          *string   `json:"header"`
	Body            string    `json:"body"`
	ConfidenceScore int       `json:"confidence_score"`
	MultiSegment    bool      `json:"multi_segment"`
	SegmentCount    int       `json:"segment_count"`
	DurationSeconds *float64  `json:"duration_seconds"`
	RecordingIDs    []string  `json:"recording_ids"`
	FirstDetectedAt time.Time `json:"first_detected_at"`
	LastDetectedAt  time.Time `json:"last_detected_at"`
	RepeatCount     int       `json:"repeat_count"`
}

func (s *Store) InsertFragment(ctx context.Context, f Fragment) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO fragments(id, channel_id, start_time_ms, duration_ms, raw_text, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, f.ID, f.ChannelID, f.StartTimeMs, f.DurationMs, f.RawText, f.CreatedAt)
	return err
}

// FragmentsInRange returns a channel's fragments with start_time_ms in
// [startMs, endMs], ordered by start time. Served by the composite index.
func (s *Store) FragmentsInRange(ctx context.Context, channelID string, startMs, endMs int64) ([]Fragment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, channel_id, start_time_ms, duration_ms, raw_text, created_at
		FROM fragments WHERE channel_id = ? AND start_time_ms >= ? AND start_time_ms <= ?
		ORDER BY start_time_ms ASC`, channelID, startMs, endMs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Fragment
	for rows.Next() {
		var f Fragment
		var durMs sql.NullInt64
		if err := rows.Scan(&f.ID, &f.ChannelID, &f.StartTimeMs, &durMs, &f.RawText, &f.CreatedAt); err != nil {
			return nil, err
		}
		if durMs.Valid {
			f.DurationMs = durMs.Int64
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) GetFragment(ctx context.Context, id string) (*Fragment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, channel_id, start_time_ms, duration_ms, raw_text, created_at FROM fragments WHERE id = ?`, id)
	var f Fragment
	var durMs sql.NullInt64
	switch err := row.Scan(&f.ID, &f.ChannelID, &f.StartTimeMs, &durMs, &f.RawText, &f.CreatedAt); err {
	case nil:
		if durMs.Valid {
			f.DurationMs = durMs.Int64
		}
		return &f, nil
	case sql.ErrNoRows:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

func (s *Store) InsertMessage(ctx context.Context, m *Message) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.RepeatCount < 1 {
		m.RepeatCount = 1
	}
	m.MultiSegment = m.SegmentCount > 1
	ids, _ := json.Marshal(m.RecordingIDs)
	_, err := s.db.ExecContext(ctx, `INSERT INTO messages(id, message_type, header, body, confidence_score, multi_segment, segment_count, duration_seconds, recording_ids, first_detected_at, last_detected_at, repeat_count)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.MessageType, m.Header, m.Body, m.ConfidenceScore, boolToInt(m.MultiSegment), m.SegmentCount, m.DurationSeconds, string(ids), m.FirstDetectedAt, m.LastDetectedAt, m.RepeatCount)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// AppendRecordingIDs merges newIDs into a message's recording set, advances
// last_detected_at, increments repeat_count, and re-derives segment_count and
// multi_segment from the grown set, all in one transaction. Adding an id
// already present is a no-op for the set; the merge still counts as one
// repeat. Header, body and confidence are never touched here.
func (s *Store) AppendRecordingIDs(ctx context.Context, messageID string, newIDs []string, seenAt time.Time) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := scanMessage(tx.QueryRowContext(ctx, selectMessageSQL+` WHERE id = ?`, messageID))
	if err != nil {
		return nil, err
	}
	present := make(map[string]struct{}, len(m.RecordingIDs))
	for _, id := range m.RecordingIDs {
		present[id] = struct{}{}
	}
	for _, id := range newIDs {
		if _, ok := present[id]; ok {
			continue
		}
		present[id] = struct{}{}
		m.RecordingIDs = append(m.RecordingIDs, id)
	}
	m.RepeatCount++
	if seenAt.After(m.LastDetectedAt) {
		m.LastDetectedAt = seenAt
	}
	if len(m.RecordingIDs) > m.SegmentCount {
		m.SegmentCount = len(m.RecordingIDs)
	}
	m.MultiSegment = m.SegmentCount > 1
	ids, _ := json.Marshal(m.RecordingIDs)
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET recording_ids=?, last_detected_at=?, repeat_count=?, segment_count=?, multi_segment=? WHERE id=?`,
		string(ids), m.LastDetectedAt, m.RepeatCount, m.SegmentCount, boolToInt(m.MultiSegment), m.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

// FindRecentMessageByHeader returns the newest message with this header seen
// since cutoff, or ErrNotFound.
func (s *Store) FindRecentMessageByHeader(ctx context.Context, header string, cutoff time.Time) (*Message, error) {
	row := s.db.QueryRowContext(ctx, selectMessageSQL+` WHERE header = ? AND last_detected_at >= ? ORDER BY last_detected_at DESC LIMIT 1`, header, cutoff)
	return scanMessage(row)
}

// MessagesSince lists messages seen since cutoff, newest first. Used for the
// header-less body-similarity repeat lookup.
func (s *Store) MessagesSince(ctx context.Context, cutoff time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessageSQL+` WHERE last_detected_at >= ? ORDER BY last_detected_at DESC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, selectMessageSQL+` WHERE id = ?`, id))
}

func (s *Store) ListMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, selectMessageSQL+` ORDER BY last_detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// Health returns err if DB not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}

const selectMessageSQL = `SELECT id, message_type, header, body, confidence_score, multi_segment, segment_count, duration_seconds, recording_ids, first_detected_at, last_detected_at, repeat_count FROM messages`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var header sql.NullString
	var durSec sql.NullFloat64
	var multi int
	var ids sql.NullString
	switch err := row.Scan(&m.ID, &m.MessageType, &header, &m.Body, &m.ConfidenceScore, &multi, &m.SegmentCount, &durSec, &ids, &m.FirstDetectedAt, &m.LastDetectedAt, &m.RepeatCount); err {
	case nil:
	case sql.ErrNoRows:
		return nil, ErrNotFound
	default:
		return nil, err
	}
	if header.Valid {
		m.Header = &header.String
	}
	if durSec.Valid {
		m.DurationSeconds = &durSec.Float64
	}
	m.MultiSegment = multi != 0
	if ids.Valid && ids.String != "" {
		_ = json.Unmarshal([]byte(ids.String), &m.RecordingIDs)
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
