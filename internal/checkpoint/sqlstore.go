package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/nugget/scholar/internal/conversation"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// SQLStore is a Store backed by SQLite through database/sql. Both the
// cgo driver ("sqlite3") and the pure Go driver ("sqlite") are supported.
type SQLStore struct {
	db    *sql.DB
	codec Codec
	owned bool

	// decoders holds codecs for rows written with another encoding,
	// keyed by encoding name.
	decoders sync.Map
}

// DSN returns the connection string for driver and path with WAL mode,
// a busy timeout, and immediate write transactions.
func DSN(driver, path string) (string, error) {
	switch driver {
	case "sqlite3":
		return path + "?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", nil
	case "sqlite":
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// Open opens (creating if needed) the database at path with the named
// driver and returns a store that owns the connection.
func Open(driver, path string, codec Codec) (*SQLStore, error) {
	dsn, err := DSN(driver, path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s, err := NewSQLStore(db, codec)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLStore creates a checkpoint store using the given database. A nil
// codec selects zstd.
func NewSQLStore(db *sql.DB, codec Codec) (*SQLStore, error) {
	if codec == nil {
		c, err := NewZstdCodec()
		if err != nil {
			return nil, err
		}
		codec = c
	}
	s := &SQLStore{db: db, codec: codec}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			parent_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			step INTEGER NOT NULL,
			source TEXT NOT NULL,
			metadata TEXT NOT NULL,
			encoding TEXT NOT NULL,
			state BLOB NOT NULL,
			byte_size INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			UNIQUE (thread_id, parent_id)
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread
			ON checkpoints(thread_id, seq);
	`)
	return err
}

// Close closes the database if the store opened it.
func (s *SQLStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// Append implements Store. The head check and the insert run in one
// transaction; the (thread_id, parent_id) uniqueness constraint rejects
// a second child of the same parent even if two writers race past the
// check.
func (s *SQLStore) Append(ctx context.Context, threadID, parentID string, state conversation.State, meta Metadata) (*Checkpoint, error) {
	if err := validateAppend(threadID, state); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	encoded, err := s.codec.Encode(stateJSON)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	head, err := headID(ctx, tx, threadID)
	if err != nil {
		return nil, unavailable("read head", err)
	}
	if head != parentID {
		return nil, &ConflictError{ThreadID: threadID, ParentID: parentID, HeadID: head}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, thread_id, parent_id, created_at, step, source, metadata, encoding, state, byte_size, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), threadID, parentID, now.Format(timeFormat), meta.Step, string(meta.Source),
		string(metaJSON), s.codec.Name(), encoded, len(encoded), state.Len())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{ThreadID: threadID, ParentID: parentID, HeadID: "unknown"}
		}
		return nil, unavailable("insert", err)
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{ThreadID: threadID, ParentID: parentID, HeadID: "unknown"}
		}
		return nil, unavailable("commit", err)
	}

	return &Checkpoint{
		ID:        id.String(),
		ThreadID:  threadID,
		ParentID:  parentID,
		CreatedAt: now,
		Metadata:  meta,
		State:     state.Clone(),
		ByteSize:  int64(len(encoded)),
	}, nil
}

func headID(ctx context.Context, tx *sql.Tx, threadID string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM checkpoints WHERE thread_id = ? ORDER BY seq DESC LIMIT 1`, threadID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const selectColumns = `id, thread_id, parent_id, created_at, metadata, encoding, state, byte_size`

// Latest implements Store.
func (s *SQLStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, threadID)

	cp, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("latest", err)
	}
	return cp, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectColumns+`
		FROM checkpoints WHERE id = ?
	`, id)

	cp, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return cp, nil
}

// History implements Store.
func (s *SQLStore) History(ctx context.Context, threadID string) ([]*Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+`
		FROM checkpoints
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, unavailable("history", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		cp, err := s.scan(rows)
		if err != nil {
			return nil, unavailable("history", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("history", err)
	}
	return checkpoints, nil
}

// ListThreads implements Store.
func (s *SQLStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, COUNT(*) AS checkpoint_count, MAX(created_at) AS last_updated
		FROM checkpoints
		GROUP BY thread_id
		ORDER BY MAX(seq) DESC
	`)
	if err != nil {
		return nil, unavailable("list threads", err)
	}
	defer rows.Close()

	var threads []ThreadSummary
	for rows.Next() {
		var ts ThreadSummary
		var last string
		if err := rows.Scan(&ts.ThreadID, &ts.CheckpointCount, &last); err != nil {
			return nil, unavailable("list threads", err)
		}
		ts.LastUpdated, _ = time.Parse(timeFormat, last)
		threads = append(threads, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list threads", err)
	}
	return threads, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, threadID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return 0, unavailable("delete", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// decoder returns the codec for a stored encoding name, creating each
// foreign codec once.
func (s *SQLStore) decoder(name string) (Codec, error) {
	if name == s.codec.Name() {
		return s.codec, nil
	}
	if c, ok := s.decoders.Load(name); ok {
		return c.(Codec), nil
	}
	c, err := NewCodec(name)
	if err != nil {
		return nil, err
	}
	actual, _ := s.decoders.LoadOrStore(name, c)
	return actual.(Codec), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scan(row scanner) (*Checkpoint, error) {
	var cp Checkpoint
	var createdStr, metaJSON, encoding string
	var blob []byte

	err := row.Scan(&cp.ID, &cp.ThreadID, &cp.ParentID, &createdStr, &metaJSON, &encoding, &blob, &cp.ByteSize)
	if err != nil {
		return nil, err
	}

	cp.CreatedAt, _ = time.Parse(timeFormat, createdStr)
	if err := json.Unmarshal([]byte(metaJSON), &cp.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %s: %w", cp.ID, err)
	}

	codec, err := s.decoder(encoding)
	if err != nil {
		return nil, err
	}
	stateJSON, err := codec.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("decode state %s: %w", cp.ID, err)
	}
	if err := json.Unmarshal(stateJSON, &cp.State); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", cp.ID, err)
	}
	return &cp, nil
}
