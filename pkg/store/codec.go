package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Row codec: stored rows <-> entity records. Nothing here touches the
// database; scanning happens in the per-entity files.

type characterRow struct {
	ID           string
	Name         string
	Voice        sql.NullString
	SystemPrompt sql.NullString
	ImageURL     sql.NullString
	Images       sql.NullString
	IsActive     sql.NullInt64
	LastMessage  sql.NullString
	CreatedAt    sql.NullString
	UpdatedAt    sql.NullString
}

type voiceRow struct {
	Voice       string
	Method      sql.NullString
	AudioPath   sql.NullString
	TextPath    sql.NullString
	SpeakerDesc sql.NullString
	ScenePrompt sql.NullString
	AudioTokens sql.NullString
	ID          sql.NullString
	CreatedAt   sql.NullString
	UpdatedAt   sql.NullString
}

type conversationRow struct {
	ConversationID   string
	Title            sql.NullString
	ActiveCharacters sql.NullString
	CreatedAt        sql.NullString
	UpdatedAt        sql.NullString
}

type messageRow struct {
	MessageID      string
	ConversationID string
	Role           string
	Name           sql.NullString
	Content        string
	CharacterID    sql.NullString
	CreatedAt      sql.NullString
	UpdatedAt      sql.NullString
}

func (r characterRow) decode() Character {
	return Character{
		ID:           r.ID,
		Name:         r.Name,
		Voice:        r.Voice.String,
		SystemPrompt: r.SystemPrompt.String,
		ImageURL:     r.ImageURL.String,
		Images:       DecodeStrings(r.Images.String),
		IsActive:     r.IsActive.Valid && r.IsActive.Int64 != 0,
		LastMessage:  r.LastMessage.String,
		CreatedAt:    r.CreatedAt.String,
		UpdatedAt:    r.UpdatedAt.String,
	}
}

func (r voiceRow) decode() Voice {
	return Voice{
		Voice:       r.Voice,
		Method:      r.Method.String,
		AudioPath:   r.AudioPath.String,
		TextPath:    r.TextPath.String,
		SpeakerDesc: r.SpeakerDesc.String,
		ScenePrompt: r.ScenePrompt.String,
		AudioTokens: DecodeTokens(r.AudioTokens.String),
		ID:          nullableString(r.ID),
		CreatedAt:   r.CreatedAt.String,
		UpdatedAt:   r.UpdatedAt.String,
	}
}

func (r conversationRow) decode() Conversation {
	return Conversation{
		ConversationID:   r.ConversationID,
		Title:            nullableString(r.Title),
		ActiveCharacters: DecodeObjects(r.ActiveCharacters.String),
		CreatedAt:        r.CreatedAt.String,
		UpdatedAt:        r.UpdatedAt.String,
	}
}

func (r messageRow) decode() Message {
	return Message{
		MessageID:      r.MessageID,
		ConversationID: r.ConversationID,
		Role:           r.Role,
		Name:           nullableString(r.Name),
		Content:        r.Content,
		CharacterID:    nullableString(r.CharacterID),
		CreatedAt:      r.CreatedAt.String,
		UpdatedAt:      r.UpdatedAt.String,
	}
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EncodeStrings serializes a URL list for the images column. nil encodes as [].
func EncodeStrings(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeStrings never returns nil; absent or unreadable text decodes to an
// empty list.
func DecodeStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return []string{}
	}
	return out
}

// EncodeObjects serializes active_characters. nil encodes as [].
func EncodeObjects(v []map[string]any) string {
	if len(v) == 0 {
		return "[]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeObjects keeps numbers as json.Number so integer ids survive a
// read-modify-write unchanged.
func DecodeObjects(raw string) []map[string]any {
	out := []map[string]any{}
	if raw == "" {
		return out
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil || out == nil {
		return []map[string]any{}
	}
	return out
}

// EncodeTokens always writes JSON. A raw string that came back from a
// malformed row is re-encoded as a JSON string.
func EncodeTokens(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode audio tokens: %w", err)
	}
	return string(b), nil
}

// DecodeTokens returns nil for empty text, the decoded value for JSON, and
// the raw text unchanged when it does not parse.
func DecodeTokens(raw string) any {
	if raw == "" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return raw
	}
	if dec.More() {
		return raw
	}
	return out
}
