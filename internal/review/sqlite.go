package review

import (
	"context"
	"database/sql"
	"time"
)

// SQLiteStore is the durable review store. SetStatus is a single guarded
// UPDATE so concurrent approve/reject cannot lose the later decision.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS review_tasks (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			phase      TEXT NOT NULL,
			content    TEXT NOT NULL,
			status     TEXT NOT NULL,
			notes      TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_review_tasks_status ON review_tasks(status, tenant_id);
	`)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Create(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_tasks (id, tenant_id, phase, content, status, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		task.ID, task.TenantID, task.Phase, task.Content, string(task.Status), task.Notes,
		task.CreatedAt.UnixMilli(), task.UpdatedAt.UnixMilli())
	return err
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status, notes string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE review_tasks
		SET status = ?, notes = ?, updated_at = ?
		WHERE id = ? AND updated_at <= ?`,
		string(status), notes, at.UnixMilli(), id, at.UnixMilli())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, phase, content, status, notes, created_at, updated_at
		FROM review_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *SQLiteStore) ListPending(ctx context.Context, tenantID string) ([]Task, error) {
	query := `
		SELECT id, tenant_id, phase, content, status, notes, created_at, updated_at
		FROM review_tasks WHERE status = ?`
	args := []interface{}{string(StatusPending)}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *task)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row *sql.Row) (*Task, error) {
	task, err := scanTaskRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

func scanTaskRow(row rowScanner) (*Task, error) {
	var (
		task                 Task
		status               string
		createdMs, updatedMs int64
	)
	if err := row.Scan(&task.ID, &task.TenantID, &task.Phase, &task.Content, &status, &task.Notes, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	task.Status = Status(status)
	task.CreatedAt = time.UnixMilli(createdMs)
	task.UpdatedAt = time.UnixMilli(updatedMs)
	return &task, nil
}
