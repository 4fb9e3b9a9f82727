package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const characterColumns = `id, name, voice, system_prompt, image_url, images, is_active, last_message, created_at, updated_at`

func scanCharacter(sc rowScanner) (Character, error) {
	var r characterRow
	if err := sc.Scan(&r.ID, &r.Name, &r.Voice, &r.SystemPrompt, &r.ImageURL, &r.Images, &r.IsActive, &r.LastMessage, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return Character{}, err
	}
	return r.decode(), nil
}

// NameMatches is the case-insensitive substring test used by character
// search. Matching happens here rather than in SQL because SQLite's lower()
// only folds ASCII.
func NameMatches(name, query string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(query))
}

func (s *SQLiteStore) ListCharacters(ctx context.Context, filter CharacterFilter) (out []Character, err error) {
	ctx, span := s.startSpan(ctx, "ListCharacters")
	defer func() { err = finish(span, "list characters", err) }()

	query := `SELECT ` + characterColumns + ` FROM characters WHERE 1 = 1`
	args := []any{}
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query characters: %w", err)
	}
	defer rows.Close()

	out = []Character{}
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		if filter.NameContains != "" && !NameMatches(c.Name, filter.NameContains) {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetCharacter(ctx context.Context, id string) (c Character, err error) {
	ctx, span := s.startSpan(ctx, "GetCharacter", attribute.String("character.id", id))
	defer func() { err = finish(span, "get character", err) }()
	return getCharacter(ctx, s.db, id)
}

func getCharacter(ctx context.Context, q querier, id string) (Character, error) {
	row := q.QueryRowContext(ctx, `SELECT `+characterColumns+` FROM characters WHERE id = ?`, id)
	c, err := scanCharacter(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Character{}, NotFound("get character", "character not found")
		}
		return Character{}, fmt.Errorf("scan character: %w", err)
	}
	return c, nil
}

// InsertCharacter allocates a slug id and inserts the row in one transaction,
// retrying the allocation if the id was taken concurrently.
func (s *SQLiteStore) InsertCharacter(ctx context.Context, in CharacterCreate) (c Character, err error) {
	ctx, span := s.startSpan(ctx, "InsertCharacter")
	defer func() { err = finish(span, "create character", err) }()

	if strings.TrimSpace(in.Name) == "" {
		return Character{}, Invalid("create character", "character name required")
	}
	slug := Slugify(in.Name)

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		c, err = s.insertCharacterOnce(ctx, slug, in)
		if isUniqueViolation(err) {
			continue
		}
		if err != nil {
			return Character{}, err
		}
		span.SetAttributes(attribute.String("character.id", c.ID))
		return c, nil
	}
	return Character{}, fmt.Errorf("allocate id for slug %q: %w", slug, err)
}

func (s *SQLiteStore) insertCharacterOnce(ctx context.Context, slug string, in CharacterCreate) (Character, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Character{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	id, err := nextCharacterID(ctx, tx, slug)
	if err != nil {
		return Character{}, err
	}
	now := s.stamp()
	images := DecodeStrings(EncodeStrings(in.Images))
	if _, err := tx.ExecContext(ctx, `
INSERT INTO characters(id, name, voice, system_prompt, image_url, images, is_active, last_message, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		id, in.Name, in.Voice, in.SystemPrompt, in.ImageURL, EncodeStrings(in.Images), boolInt(in.IsActive), now, now); err != nil {
		return Character{}, fmt.Errorf("insert character: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Character{}, fmt.Errorf("commit: %w", err)
	}
	return Character{
		ID:           id,
		Name:         in.Name,
		Voice:        in.Voice,
		SystemPrompt: in.SystemPrompt,
		ImageURL:     in.ImageURL,
		Images:       images,
		IsActive:     in.IsActive,
		LastMessage:  "",
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// UpdateCharacter writes the non-nil fields and returns the stored row.
func (s *SQLiteStore) UpdateCharacter(ctx context.Context, id string, upd CharacterUpdate) (c Character, err error) {
	ctx, span := s.startSpan(ctx, "UpdateCharacter", attribute.String("character.id", id))
	defer func() { err = finish(span, "update character", err) }()

	if upd.empty() {
		return Character{}, Invalid("update character", "no fields to update")
	}

	sets := []string{}
	args := []any{}
	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Voice != nil {
		sets = append(sets, "voice = ?")
		args = append(args, *upd.Voice)
	}
	if upd.SystemPrompt != nil {
		sets = append(sets, "system_prompt = ?")
		args = append(args, *upd.SystemPrompt)
	}
	if upd.ImageURL != nil {
		sets = append(sets, "image_url = ?")
		args = append(args, *upd.ImageURL)
	}
	if upd.Images != nil {
		sets = append(sets, "images = ?")
		args = append(args, EncodeStrings(*upd.Images))
	}
	if upd.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolInt(*upd.IsActive))
	}
	if upd.LastMessage != nil {
		sets = append(sets, "last_message = ?")
		args = append(args, *upd.LastMessage)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.stamp(), id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Character{}, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx, `UPDATE characters SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return Character{}, fmt.Errorf("update character: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Character{}, NotFound("update character", "character not found")
	}
	c, err = getCharacter(ctx, tx, id)
	if err != nil {
		return Character{}, err
	}
	if err := tx.Commit(); err != nil {
		return Character{}, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) DeleteCharacter(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteCharacter", attribute.String("character.id", id))
	defer func() { err = finish(span, "delete character", err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM characters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NotFound("delete character", "character not found")
	}
	return nil
}
