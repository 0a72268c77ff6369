package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	merrors "github.com/mera-ai/mera/internal/errors"
)

// Message is one turn of a tenant's conversation log.
type Message struct {
	ID        string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}

// ConversationLog appends query/answer pairs into schema-prefixed tables,
// one table per tenant. Tables are created on first write.
type ConversationLog struct {
	db *sql.DB
}

func NewConversationLog(db *sql.DB) *ConversationLog {
	return &ConversationLog{db: db}
}

var schemaRefPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// tableName maps a tenant schema ref onto its messages table. Table names
// cannot be bound as query parameters, so the ref is validated instead.
func tableName(schemaRef string) (string, error) {
	if schemaRef == "" {
		schemaRef = "default"
	}
	if !schemaRefPattern.MatchString(schemaRef) {
		return "", merrors.InvalidInput("invalid schema ref: " + schemaRef)
	}
	return schemaRef + "_messages", nil
}

func (l *ConversationLog) ensureTable(ctx context.Context, table string) error {
	_, err := l.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`, table))
	if err != nil {
		return merrors.WrapWithCategory(err, "create conversation table", merrors.ErrPersistence)
	}
	return nil
}

// AppendMessage writes one message into the tenant's log. Replaying the
// same message id is a no-op, so persisting a run twice stays safe.
func (l *ConversationLog) AppendMessage(ctx context.Context, schemaRef string, msg Message) error {
	table, err := tableName(schemaRef)
	if err != nil {
		return err
	}
	if err := l.ensureTable(ctx, table); err != nil {
		return err
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	_, err = l.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`, table),
		msg.ID, msg.UserID, msg.Role, msg.Content, msg.CreatedAt.UnixMilli())
	if err != nil {
		return merrors.WrapWithCategory(err, "append message", merrors.ErrPersistence)
	}
	return nil
}

// History returns a user's most recent messages, oldest first.
func (l *ConversationLog) History(ctx context.Context, schemaRef, userID string, limit int) ([]Message, error) {
	table, err := tableName(schemaRef)
	if err != nil {
		return nil, err
	}
	if err := l.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, role, content, created_at FROM %q
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, table), userID, limit)
	if err != nil {
		return nil, merrors.WrapWithCategory(err, "load history", merrors.ErrPersistence)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var createdMs int64
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Role, &msg.Content, &createdMs); err != nil {
			return nil, merrors.Wrap(err, "scan message")
		}
		msg.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query, oldest-first for callers.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
