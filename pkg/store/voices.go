package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const voiceColumns = `voice, method, audio_path, text_path, speaker_desc, scene_prompt, audio_tokens, id, created_at, updated_at`

func scanVoice(sc rowScanner) (Voice, error) {
	var r voiceRow
	if err := sc.Scan(&r.Voice, &r.Method, &r.AudioPath, &r.TextPath, &r.SpeakerDesc, &r.ScenePrompt, &r.AudioTokens, &r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Voice{}, err
	}
	return r.decode(), nil
}

func (s *SQLiteStore) ListVoices(ctx context.Context) (out []Voice, err error) {
	ctx, span := s.startSpan(ctx, "ListVoices")
	defer func() { err = finish(span, "list voices", err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT `+voiceColumns+` FROM voices ORDER BY created_at ASC, voice ASC`)
	if err != nil {
		return nil, fmt.Errorf("query voices: %w", err)
	}
	defer rows.Close()

	out = []Voice{}
	for rows.Next() {
		v, err := scanVoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan voice: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voices: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetVoice(ctx context.Context, name string) (v Voice, err error) {
	ctx, span := s.startSpan(ctx, "GetVoice", attribute.String("voice.name", name))
	defer func() { err = finish(span, "get voice", err) }()
	return getVoice(ctx, s.db, name)
}

func getVoice(ctx context.Context, q querier, name string) (Voice, error) {
	v, err := scanVoice(q.QueryRowContext(ctx, `SELECT `+voiceColumns+` FROM voices WHERE voice = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Voice{}, NotFound("get voice", "voice not found")
		}
		return Voice{}, fmt.Errorf("scan voice: %w", err)
	}
	return v, nil
}

func voiceExists(ctx context.Context, q querier, name string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM voices WHERE voice = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check voice %q: %w", name, err)
	}
	return true, nil
}

// InsertVoice stores a new voice under its trimmed name with a fresh
// secondary id and no audio tokens.
func (s *SQLiteStore) InsertVoice(ctx context.Context, in VoiceCreate) (v Voice, err error) {
	ctx, span := s.startSpan(ctx, "InsertVoice")
	defer func() { err = finish(span, "create voice", err) }()

	name := strings.TrimSpace(in.Voice)
	if name == "" {
		return Voice{}, Invalid("create voice", "voice name required")
	}
	span.SetAttributes(attribute.String("voice.name", name))

	id := NewOpaqueID()
	now := s.stamp()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO voices(voice, method, audio_path, text_path, speaker_desc, scene_prompt, id, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		name, in.Method, in.AudioPath, in.TextPath, in.SpeakerDesc, in.ScenePrompt, id, now, now)
	if isUniqueViolation(err) {
		return Voice{}, Invalid("create voice", "voice name already exists")
	}
	if err != nil {
		return Voice{}, fmt.Errorf("insert voice: %w", err)
	}
	return Voice{
		Voice:       name,
		Method:      in.Method,
		AudioPath:   in.AudioPath,
		TextPath:    in.TextPath,
		SpeakerDesc: in.SpeakerDesc,
		ScenePrompt: in.ScenePrompt,
		AudioTokens: nil,
		ID:          &id,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// UpdateVoice applies upd to the named voice. A rename re-points every
// character using the old name in the same transaction; the returned
// voice's UpdatedAt is the timestamp written to those characters.
func (s *SQLiteStore) UpdateVoice(ctx context.Context, name string, upd VoiceUpdate) (v Voice, err error) {
	ctx, span := s.startSpan(ctx, "UpdateVoice", attribute.String("voice.name", name))
	defer func() { err = finish(span, "update voice", err) }()

	rename := ""
	if upd.NewVoice != nil {
		trimmed := strings.TrimSpace(*upd.NewVoice)
		if trimmed == "" {
			return Voice{}, Invalid("update voice", "new voice name required")
		}
		if trimmed != name {
			rename = trimmed
		}
	}

	sets := []string{}
	args := []any{}
	if rename != "" {
		sets = append(sets, "voice = ?")
		args = append(args, rename)
	}
	for _, f := range []struct {
		col string
		val *string
	}{
		{"method", upd.Method},
		{"audio_path", upd.AudioPath},
		{"text_path", upd.TextPath},
		{"speaker_desc", upd.SpeakerDesc},
		{"scene_prompt", upd.ScenePrompt},
	} {
		if f.val != nil {
			sets = append(sets, f.col+" = ?")
			args = append(args, *f.val)
		}
	}
	if upd.AudioTokens != nil {
		raw, err := EncodeTokens(upd.AudioTokens)
		if err != nil {
			return Voice{}, Invalid("update voice", err.Error())
		}
		sets = append(sets, "audio_tokens = ?")
		args = append(args, raw)
	}
	if len(sets) == 0 {
		return Voice{}, Invalid("update voice", "no fields to update")
	}
	now := s.stamp()
	sets = append(sets, "updated_at = ?")
	args = append(args, now, name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Voice{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	exists, err := voiceExists(ctx, tx, name)
	if err != nil {
		return Voice{}, err
	}
	if !exists {
		return Voice{}, NotFound("update voice", "voice not found")
	}
	if rename != "" {
		taken, err := voiceExists(ctx, tx, rename)
		if err != nil {
			return Voice{}, err
		}
		if taken {
			return Voice{}, Invalid("update voice", "voice name already exists")
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE voices SET `+strings.Join(sets, ", ")+` WHERE voice = ?`, args...); err != nil {
		return Voice{}, fmt.Errorf("update voice row: %w", err)
	}
	current := name
	if rename != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE characters SET voice = ?, updated_at = ? WHERE voice = ?`, rename, now, name); err != nil {
			return Voice{}, fmt.Errorf("repoint characters: %w", err)
		}
		current = rename
	}
	v, err = getVoice(ctx, tx, current)
	if err != nil {
		return Voice{}, err
	}
	if err := tx.Commit(); err != nil {
		return Voice{}, fmt.Errorf("commit: %w", err)
	}
	return v, nil
}

// DeleteVoice removes the voice and clears it on every character that used
// it. It returns the timestamp written to those characters.
func (s *SQLiteStore) DeleteVoice(ctx context.Context, name string) (at string, err error) {
	ctx, span := s.startSpan(ctx, "DeleteVoice", attribute.String("voice.name", name))
	defer func() { err = finish(span, "delete voice", err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `DELETE FROM voices WHERE voice = ?`, name)
	if err != nil {
		return "", fmt.Errorf("delete voice row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", NotFound("delete voice", "voice not found")
	}
	now := s.stamp()
	if _, err := tx.ExecContext(ctx, `UPDATE characters SET voice = '', updated_at = ? WHERE voice = ?`, now, name); err != nil {
		return "", fmt.Errorf("clear characters voice: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return now, nil
}

// SetAudioTokens persists the token blob and stamps updated_at. It returns
// the stamp so a cached copy can follow.
func (s *SQLiteStore) SetAudioTokens(ctx context.Context, name string, tokens any) (at string, err error) {
	ctx, span := s.startSpan(ctx, "SetAudioTokens", attribute.String("voice.name", name))
	defer func() { err = finish(span, "persist audio tokens", err) }()

	raw, err := EncodeTokens(tokens)
	if err != nil {
		return "", Invalid("persist audio tokens", err.Error())
	}
	now := s.stamp()
	res, err := s.db.ExecContext(ctx, `UPDATE voices SET audio_tokens = ?, updated_at = ? WHERE voice = ?`, raw, now, name)
	if err != nil {
		return "", fmt.Errorf("update audio tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", NotFound("persist audio tokens", "voice not found")
	}
	return now, nil
}
