package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pop8234333/exam-system/internal/model"

	_ "modernc.org/sqlite"
)

// querier is the subset of *sql.DB and *sql.Tx the store runs statements on.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite persistence layer. A Store returned by WithTx runs
// every statement inside that transaction.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// New opens the SQLite database at dbPath and applies the schema.
// Transactions take the write lock when they begin.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Nested calls join the outer
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL CHECK (type IN ('CHOICE', 'JUDGE', 'TEXT')),
		title TEXT NOT NULL,
		multi INTEGER NOT NULL DEFAULT 0,
		answer TEXT NOT NULL DEFAULT '',
		analysis TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS papers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL DEFAULT 0,
		published INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS paper_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paper_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		score INTEGER NOT NULL CHECK (score >= 0),
		sort INTEGER NOT NULL DEFAULT 0,
		UNIQUE (paper_id, question_id),
		FOREIGN KEY (paper_id) REFERENCES papers(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_name TEXT NOT NULL,
		paper_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'IN_PROGRESS'
			CHECK (status IN ('IN_PROGRESS', 'COMPLETED', 'GRADED')),
		start_time DATETIME NOT NULL,
		deadline DATETIME,
		end_time DATETIME,
		score INTEGER NOT NULL DEFAULT 0,
		summary TEXT,
		window_switches INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_one_in_progress
		ON attempts (student_name, paper_id) WHERE status = 'IN_PROGRESS';

	CREATE INDEX IF NOT EXISTS idx_attempts_ranking
		ON attempts (status, paper_id, score DESC, id);

	CREATE TABLE IF NOT EXISTS answer_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		answer TEXT NOT NULL DEFAULT '',
		score INTEGER,
		correctness INTEGER CHECK (correctness IN (0, 1, 2)),
		feedback TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (attempt_id) REFERENCES attempts(id)
	);

	CREATE INDEX IF NOT EXISTS idx_answer_records_attempt ON answer_records (attempt_id);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// notFound converts sql.ErrNoRows into a typed NotFoundError.
func notFound(err error, entity string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return &model.NotFoundError{Entity: entity, ID: id}
	}
	return err
}
