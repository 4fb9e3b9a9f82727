package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const conversationColumns = `conversation_id, title, active_characters, created_at, updated_at`

func scanConversation(sc rowScanner) (Conversation, error) {
	var r conversationRow
	if err := sc.Scan(&r.ConversationID, &r.Title, &r.ActiveCharacters, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	return r.decode(), nil
}

// InsertConversation stores a conversation under id, or a fresh id when id
// is empty. The title is stored as given.
func (s *SQLiteStore) InsertConversation(ctx context.Context, id string, in ConversationCreate) (c Conversation, err error) {
	if id == "" {
		id = NewOpaqueID()
	}
	ctx, span := s.startSpan(ctx, "InsertConversation", attribute.String("conversation.id", id))
	defer func() { err = finish(span, "create conversation", err) }()

	now := s.stamp()
	encoded := EncodeObjects(in.ActiveCharacters)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations(conversation_id, title, active_characters, created_at, updated_at)
VALUES(?, ?, ?, ?, ?)`, id, nullString(in.Title), encoded, now, now)
	if isUniqueViolation(err) {
		return Conversation{}, Invalid("create conversation", "conversation already exists")
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	return Conversation{
		ConversationID:   id,
		Title:            in.Title,
		ActiveCharacters: DecodeObjects(encoded),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (c Conversation, err error) {
	ctx, span := s.startSpan(ctx, "GetConversation", attribute.String("conversation.id", id))
	defer func() { err = finish(span, "get conversation", err) }()
	return getConversation(ctx, s.db, id)
}

func getConversation(ctx context.Context, q querier, id string) (Conversation, error) {
	c, err := scanConversation(q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, NotFound("get conversation", "conversation not found")
		}
		return Conversation{}, fmt.Errorf("scan conversation: %w", err)
	}
	return c, nil
}

// ListConversations returns conversations most recently updated first.
// limit <= 0 means no limit.
func (s *SQLiteStore) ListConversations(ctx context.Context, limit, offset int) (out []Conversation, err error) {
	ctx, span := s.startSpan(ctx, "ListConversations")
	defer func() { err = finish(span, "list conversations", err) }()

	query := `SELECT ` + conversationColumns + ` FROM conversations ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		if offset < 0 {
			offset = 0
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	out = []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, upd ConversationUpdate) (c Conversation, err error) {
	ctx, span := s.startSpan(ctx, "UpdateConversation", attribute.String("conversation.id", id))
	defer func() { err = finish(span, "update conversation", err) }()

	sets := []string{}
	args := []any{}
	if upd.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *upd.Title)
	}
	if upd.ActiveCharacters != nil {
		sets = append(sets, "active_characters = ?")
		args = append(args, EncodeObjects(*upd.ActiveCharacters))
	}
	if len(sets) == 0 {
		return Conversation{}, Invalid("update conversation", "no fields to update")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.stamp(), id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE conversation_id = ?`, args...)
	if err != nil {
		return Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Conversation{}, NotFound("update conversation", "conversation not found")
	}
	c, err = getConversation(ctx, tx, id)
	if err != nil {
		return Conversation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

// DeleteConversation removes the conversation; its messages go with it
// through the foreign-key cascade.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteConversation", attribute.String("conversation.id", id))
	defer func() { err = finish(span, "delete conversation", err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conversation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("delete conversation", "conversation not found")
	}
	return nil
}
