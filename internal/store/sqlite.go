package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/soa-bra/glass-project-flow-sub021/internal/board"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added origin index for per-participant catch-up queries
const currentSchemaVersion = 1

// SQLiteStore is the SQLite op log. Uses WAL mode so readers serving
// history never block the appending writer.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Log = (*SQLiteStore)(nil)

// OpenSQLite creates or opens a SQLite database at path and applies the
// schema and migrations.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_ops_board_origin
		ON ops(board_id, origin_id, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// AppendOp stores op. Uses ON CONFLICT DO NOTHING so redelivered ops are
// silently ignored.
func (s *SQLiteStore) AppendOp(ctx context.Context, boardID string, op board.Op) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("append op: %w", err)
	}
	defer tx.Rollback()

	n, err := s.insert(ctx, tx, boardID, op)
	if err != nil {
		return false, fmt.Errorf("append op: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("append op: %w", err)
	}
	return n == 1, nil
}

// AppendBatch stores b's marker and ops atomically.
func (s *SQLiteStore) AppendBatch(ctx context.Context, boardID string, b board.Batch) (int, error) {
	rows, err := batchRows(b)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("append batch: %w", err)
	}
	defer tx.Rollback()

	n, err := s.insert(ctx, tx, boardID, rows[0])
	if err != nil {
		return 0, fmt.Errorf("append batch %s: %w", b.ID, err)
	}
	if n == 0 {
		return 0, nil
	}
	written := 1
	for _, op := range rows[1:] {
		n, err := s.insert(ctx, tx, boardID, op)
		if err != nil {
			return 0, fmt.Errorf("append batch %s: %w", b.ID, err)
		}
		written += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("append batch %s: %w", b.ID, err)
	}
	return written, nil
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, boardID string, op board.Op) (int64, error) {
	body, hash, err := encodeOp(op)
	if err != nil {
		return 0, err
	}
	now := s.now().UnixMilli()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO boards (board_id, created_at) VALUES (?, ?)
		ON CONFLICT(board_id) DO NOTHING
	`, boardID, now); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ops
		(board_id, op_id, type, target_id, origin_id, clock, body, op_hash, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(board_id, op_id) DO NOTHING
	`,
		boardID,
		op.OpID,
		string(op.Type),
		op.Target(),
		op.OriginID,
		op.Clock,
		body,
		hash,
		now,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// History returns the board's ops after afterSeq.
// Ordered by seq, which is arrival order.
func (s *SQLiteStore) History(ctx context.Context, boardID string, afterSeq int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, body, op_hash, received_at
		FROM ops
		WHERE board_id = ? AND seq > ?
		ORDER BY seq ASC
	`, boardID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r        Record
			body     string
			received int64
		)
		if err := rows.Scan(&r.Seq, &body, &r.Hash, &received); err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		if r.Op, err = decodeOp([]byte(body)); err != nil {
			return nil, fmt.Errorf("seq %d: %w", r.Seq, err)
		}
		r.ReceivedAt = time.UnixMilli(received)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return records, nil
}

// Boards lists boards ordered by id.
func (s *SQLiteStore) Boards(ctx context.Context) ([]BoardInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT board_id, COUNT(*), MAX(seq)
		FROM ops
		GROUP BY board_id
		ORDER BY board_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query boards: %w", err)
	}
	defer rows.Close()

	boards := []BoardInfo{}
	for rows.Next() {
		var b BoardInfo
		if err := rows.Scan(&b.ID, &b.Ops, &b.LastSeq); err != nil {
			return nil, fmt.Errorf("scan board: %w", err)
		}
		boards = append(boards, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate boards: %w", err)
	}
	return boards, nil
}

// verifyPragma checks that a pragma has the expected value. Used by tests.
func (s *SQLiteStore) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
