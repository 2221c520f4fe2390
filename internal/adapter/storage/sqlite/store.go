package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"

	"github.com/mediaforge/mediaforge/internal/domain"
	"github.com/mediaforge/mediaforge/internal/port"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

var hookOnce sync.Once

func registerHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			pragmas := []string{
				"PRAGMA journal_mode = WAL",
				"PRAGMA busy_timeout = 5000",
				"PRAGMA synchronous = NORMAL",
				"PRAGMA foreign_keys = ON",
				"PRAGMA cache_size = -8000",    // 8MB
				"PRAGMA mmap_size = 268435456", // 256MB
			}
			for _, p := range pragmas {
				if _, err := conn.ExecContext(context.Background(), p, nil); err != nil {
					return fmt.Errorf("execute %s: %w", p, err)
				}
			}
			return nil
		})
	})
}

func NewStore(dataDir string) (*Store, error) {
	registerHook()

	dbPath := dataDir + "/mediaforge.db"
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single connection for SQLite (WAL allows concurrent reads but only one writer)
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

const jobColumns = `id, kind, status, progress, input_ref, output_ref, output_size, error_message, params, created_at, started_at, completed_at`

func (s *Store) Save(j *domain.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, kind, status, progress, input_ref, output_ref, output_size, error_message, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, string(j.Kind), string(j.Status), j.Progress, j.InputRef,
		j.OutputRef, j.OutputSize, j.ErrorMessage, j.Params, j.CreatedAt,
	)
	return err
}

func (s *Store) Get(id string) (*domain.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	return err
}

func (s *Store) ListAll() ([]*domain.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) MarkProcessing(id string) (*domain.Job, error) {
	// Only a pending job moves to processing; redelivered tasks and
	// externally cancelled jobs fall through to the plain read below,
	// leaving startedAt untouched.
	_, err := s.db.Exec(`
		UPDATE jobs SET status = ?, progress = 0, started_at = ?
		WHERE id = ? AND status = ?`,
		string(domain.JobStatusProcessing), time.Now(), id, string(domain.JobStatusPending),
	)
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

func (s *Store) UpdateProgress(id string, progress float64) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET progress = ? WHERE id = ? AND status = ?`,
		progress, id, string(domain.JobStatusProcessing),
	)
	return err
}

func (s *Store) MarkCompleted(id, outputRef string, outputSize int64) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, progress = 100, output_ref = ?, output_size = ?, error_message = '', completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(domain.JobStatusCompleted), outputRef, outputSize, time.Now(),
		id, string(domain.JobStatusCompleted), string(domain.JobStatusFailed),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkFailed(id, errMsg string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, error_message = ?, output_ref = '', output_size = 0, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(domain.JobStatusFailed), errMsg, time.Now(),
		id, string(domain.JobStatusCompleted), string(domain.JobStatusFailed),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j           domain.Job
		kind        string
		status      string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &kind, &status, &j.Progress, &j.InputRef,
		&j.OutputRef, &j.OutputSize, &j.ErrorMessage, &j.Params,
		&j.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	if startedAt.Valid {
		j.StartedAt = startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = completedAt.Time
	}
	return &j, nil
}

var _ port.JobStore = (*Store)(nil)
