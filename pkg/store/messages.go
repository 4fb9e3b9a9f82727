package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const messageColumns = `message_id, conversation_id, role, name, content, character_id, created_at, updated_at`

// MessageInsert is a message with its id already chosen by the caller.
type MessageInsert struct {
	ID string
	MessageCreate
}

func scanMessage(sc rowScanner) (Message, error) {
	var r messageRow
	if err := sc.Scan(&r.MessageID, &r.ConversationID, &r.Role, &r.Name, &r.Content, &r.CharacterID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Message{}, err
	}
	return r.decode(), nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	out := []Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// InsertMessages writes all messages in one transaction. Each message gets
// its own timestamp, in slice order.
func (s *SQLiteStore) InsertMessages(ctx context.Context, msgs []MessageInsert) (out []Message, err error) {
	ctx, span := s.startSpan(ctx, "InsertMessages", attribute.Int("messages.count", len(msgs)))
	defer func() { err = finish(span, "create messages", err) }()

	for _, m := range msgs {
		if strings.TrimSpace(m.ConversationID) == "" {
			return nil, Invalid("create messages", "conversation_id required")
		}
		if strings.TrimSpace(m.Role) == "" {
			return nil, Invalid("create messages", "role required")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	out = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		id := m.ID
		if id == "" {
			id = NewOpaqueID()
		}
		now := s.stamp()
		_, err := tx.ExecContext(ctx, `
INSERT INTO messages(message_id, conversation_id, role, name, content, character_id, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			id, m.ConversationID, m.Role, nullString(m.Name), m.Content, nullString(m.CharacterID), now, now)
		if isForeignKeyViolation(err) {
			return nil, NotFound("create messages", "conversation not found")
		}
		if isUniqueViolation(err) {
			return nil, Invalid("create messages", "message already exists")
		}
		if err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		out = append(out, Message{
			MessageID:      id,
			ConversationID: m.ConversationID,
			Role:           m.Role,
			Name:           m.Name,
			Content:        m.Content,
			CharacterID:    m.CharacterID,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

// ListMessages returns a conversation's messages oldest first. limit <= 0
// means no limit.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) (out []Message, err error) {
	ctx, span := s.startSpan(ctx, "ListMessages", attribute.String("conversation.id", conversationID))
	defer func() { err = finish(span, "list messages", err) }()

	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`
	args := []any{conversationID}
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the last n messages in chronological order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, n int) (out []Message, err error) {
	ctx, span := s.startSpan(ctx, "RecentMessages", attribute.String("conversation.id", conversationID), attribute.Int("limit", n))
	defer func() { err = finish(span, "recent messages", err) }()

	if n <= 0 {
		return []Message{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE conversation_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	out, err = scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// LastMessage returns nil when the conversation has no messages.
func (s *SQLiteStore) LastMessage(ctx context.Context, conversationID string) (m *Message, err error) {
	ctx, span := s.startSpan(ctx, "LastMessage", attribute.String("conversation.id", conversationID))
	defer func() { err = finish(span, "last message", err) }()

	row := s.db.QueryRowContext(ctx, `
SELECT `+messageColumns+`
FROM messages
WHERE conversation_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT 1`, conversationID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return &msg, nil
}

func (s *SQLiteStore) CountMessages(ctx context.Context, conversationID string) (n int, err error) {
	ctx, span := s.startSpan(ctx, "CountMessages", attribute.String("conversation.id", conversationID))
	defer func() { err = finish(span, "count messages", err) }()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteMessage", attribute.String("message.id", id))
	defer func() { err = finish(span, "delete message", err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE message_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("delete message", "message not found")
	}
	return nil
}

// DeleteMessagesForConversation clears a conversation's history and reports
// how many rows went away.
func (s *SQLiteStore) DeleteMessagesForConversation(ctx context.Context, conversationID string) (n int, err error) {
	ctx, span := s.startSpan(ctx, "DeleteMessagesForConversation", attribute.String("conversation.id", conversationID))
	defer func() { err = finish(span, "delete conversation messages", err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}
