package store

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state", "chat.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestSQLiteStore_CharacterPersistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "chat.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	created, err := s.InsertCharacter(ctx, CharacterCreate{
		Name:     "Aria",
		Voice:    "aria",
		Images:   []string{"a.png", "b.png"},
		IsActive: true,
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetCharacter(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
	assert.Equal(t, []string{"a.png", "b.png"}, got.Images)
}

func TestSQLiteStore_UpdateCharacter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	c, err := s.InsertCharacter(ctx, CharacterCreate{Name: "Aria"})
	require.NoError(t, err)

	active := true
	images := []string{}
	updated, err := s.UpdateCharacter(ctx, c.ID, CharacterUpdate{
		IsActive:    &active,
		LastMessage: strPtr("hello"),
		Images:      &images,
	})
	require.NoError(t, err)
	assert.True(t, updated.IsActive)
	assert.Equal(t, "hello", updated.LastMessage)
	assert.Equal(t, []string{}, updated.Images)
	assert.Equal(t, c.CreatedAt, updated.CreatedAt)
	assert.Greater(t, updated.UpdatedAt, c.UpdatedAt)

	_, err = s.UpdateCharacter(ctx, c.ID, CharacterUpdate{})
	assert.True(t, IsValidation(err))

	_, err = s.UpdateCharacter(ctx, "ghost-001", CharacterUpdate{Name: strPtr("x")})
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_ListCharactersFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertCharacter(ctx, CharacterCreate{Name: "Aria", IsActive: true})
	require.NoError(t, err)
	_, err = s.InsertCharacter(ctx, CharacterCreate{Name: "Bob"})
	require.NoError(t, err)
	_, err = s.InsertCharacter(ctx, CharacterCreate{Name: "Marianne"})
	require.NoError(t, err)

	all, err := s.ListCharacters(ctx, CharacterFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := s.ListCharacters(ctx, CharacterFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Aria", active[0].Name)

	matches, err := s.ListCharacters(ctx, CharacterFilter{NameContains: "ARI"})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestSQLiteStore_SearchFoldsNonASCII(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertCharacter(ctx, CharacterCreate{Name: "Élodie"})
	require.NoError(t, err)

	for _, q := range []string{"élo", "ÉLO", "Élodie", "odie"} {
		matches, err := s.ListCharacters(ctx, CharacterFilter{NameContains: q})
		require.NoError(t, err)
		assert.Len(t, matches, 1, "query %q", q)
	}
	assert.True(t, NameMatches("ÅNGSTRÖM", "ström"))
	assert.False(t, NameMatches("Élodie", "eло"))
}

func TestSQLiteStore_VoiceRenameRepointsCharacters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertVoice(ctx, VoiceCreate{Voice: "aria"})
	require.NoError(t, err)
	_, err = s.InsertVoice(ctx, VoiceCreate{Voice: "echo"})
	require.NoError(t, err)
	c, err := s.InsertCharacter(ctx, CharacterCreate{Name: "Aria", Voice: "aria"})
	require.NoError(t, err)

	renamed, err := s.UpdateVoice(ctx, "aria", VoiceUpdate{NewVoice: strPtr("nova")})
	require.NoError(t, err)
	assert.Equal(t, "nova", renamed.Voice)

	got, err := s.GetCharacter(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "nova", got.Voice)
	assert.Equal(t, renamed.UpdatedAt, got.UpdatedAt)

	_, err = s.GetVoice(ctx, "aria")
	assert.True(t, IsNotFound(err))

	_, err = s.UpdateVoice(ctx, "nova", VoiceUpdate{NewVoice: strPtr("echo")})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	still, err := s.GetVoice(ctx, "nova")
	require.NoError(t, err)
	assert.Equal(t, renamed, still)
}

func TestSQLiteStore_VoiceValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertVoice(ctx, VoiceCreate{Voice: "  "})
	assert.True(t, IsValidation(err))

	v, err := s.InsertVoice(ctx, VoiceCreate{Voice: " aria "})
	require.NoError(t, err)
	assert.Equal(t, "aria", v.Voice)
	require.NotNil(t, v.ID)
	assert.NotEmpty(t, *v.ID)

	_, err = s.InsertVoice(ctx, VoiceCreate{Voice: "aria"})
	assert.True(t, IsValidation(err))

	_, err = s.UpdateVoice(ctx, "aria", VoiceUpdate{NewVoice: strPtr(" ")})
	assert.True(t, IsValidation(err))

	_, err = s.UpdateVoice(ctx, "aria", VoiceUpdate{NewVoice: strPtr("aria")})
	assert.True(t, IsValidation(err), "renaming to the same name leaves nothing to update")

	_, err = s.UpdateVoice(ctx, "ghost", VoiceUpdate{Method: strPtr("clone")})
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_DeleteVoiceClearsCharacters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.InsertVoice(ctx, VoiceCreate{Voice: "aria"})
	require.NoError(t, err)
	c, err := s.InsertCharacter(ctx, CharacterCreate{Name: "Aria", Voice: "aria"})
	require.NoError(t, err)
	other, err := s.InsertCharacter(ctx, CharacterCreate{Name: "Bob", Voice: "echo"})
	require.NoError(t, err)

	at, err := s.DeleteVoice(ctx, "aria")
	require.NoError(t, err)

	got, err := s.GetCharacter(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Voice)
	assert.Equal(t, at, got.UpdatedAt)

	untouched, err := s.GetCharacter(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other, untouched)

	_, err = s.DeleteVoice(ctx, "aria")
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_AudioTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.InsertVoice(ctx, VoiceCreate{Voice: "aria"})
	require.NoError(t, err)
	at, err := s.SetAudioTokens(ctx, "aria", []int{1, 2, 3})
	require.NoError(t, err)

	v, err := s.GetVoice(ctx, "aria")
	require.NoError(t, err)
	raw, err := EncodeTokens(v.AudioTokens)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", raw)
	assert.Equal(t, at, v.UpdatedAt)
	assert.Greater(t, v.UpdatedAt, created.UpdatedAt)
	assert.Equal(t, created.CreatedAt, v.CreatedAt)

	_, err = s.db.ExecContext(ctx, `UPDATE voices SET audio_tokens = 'not-json' WHERE voice = 'aria'`)
	require.NoError(t, err)
	v, err = s.GetVoice(ctx, "aria")
	require.NoError(t, err)
	assert.Equal(t, "not-json", v.AudioTokens)

	_, err = s.SetAudioTokens(ctx, "ghost", 1)
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_ConversationCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv, err := s.InsertConversation(ctx, "", ConversationCreate{
		Title:            strPtr("hello"),
		ActiveCharacters: []map[string]any{{"id": "c1"}},
	})
	require.NoError(t, err)

	_, err = s.InsertMessages(ctx, []MessageInsert{
		{MessageCreate: MessageCreate{ConversationID: conv.ConversationID, Role: "user", Content: "one"}},
		{MessageCreate: MessageCreate{ConversationID: conv.ConversationID, Role: "assistant", Content: "two"}},
	})
	require.NoError(t, err)

	n, err := s.CountMessages(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.DeleteConversation(ctx, conv.ConversationID))

	n, err = s.CountMessages(ctx, conv.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.True(t, IsNotFound(s.DeleteConversation(ctx, conv.ConversationID)))
}

func TestSQLiteStore_MessageToMissingConversation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.InsertMessages(context.Background(), []MessageInsert{
		{MessageCreate: MessageCreate{ConversationID: "missing", Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_MessageOrdering(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	// A frozen clock still yields strictly increasing stamps.
	s := newTestStore(t, WithClock(func() time.Time {
		tick++
		if tick > 3 {
			return base
		}
		return base.Add(time.Duration(tick) * time.Second)
	}))

	conv, err := s.InsertConversation(ctx, "conv-1", ConversationCreate{})
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ConversationID)
	assert.Nil(t, conv.Title)

	for _, content := range []string{"m1", "m2", "m3", "m4", "m5"} {
		_, err := s.InsertMessages(ctx, []MessageInsert{{MessageCreate: MessageCreate{ConversationID: "conv-1", Role: "user", Content: content}}})
		require.NoError(t, err)
	}

	all, err := s.ListMessages(ctx, "conv-1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, contents(all))

	page, err := s.ListMessages(ctx, "conv-1", 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3"}, contents(page))

	recent, err := s.RecentMessages(ctx, "conv-1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4", "m5"}, contents(recent))

	last, err := s.LastMessage(ctx, "conv-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "m5", last.Content)

	none, err := s.LastMessage(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, none)

	deleted, err := s.DeleteMessagesForConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
}

func TestSQLiteStore_ListConversationsByRecency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, err := s.InsertConversation(ctx, "", ConversationCreate{Title: strPtr("a")})
	require.NoError(t, err)
	b, err := s.InsertConversation(ctx, "", ConversationCreate{Title: strPtr("b")})
	require.NoError(t, err)

	_, err = s.UpdateConversation(ctx, a.ConversationID, ConversationUpdate{Title: strPtr("a2")})
	require.NoError(t, err)

	list, err := s.ListConversations(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ConversationID, list[0].ConversationID)
	assert.Equal(t, b.ConversationID, list[1].ConversationID)

	page, err := s.ListConversations(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, b.ConversationID, page[0].ConversationID)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("get", "character not found")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Invalid("create", "voice name required")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(Failure("get", assert.AnError)))

	err := Failure("get character", assert.AnError)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "get character")
}

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
