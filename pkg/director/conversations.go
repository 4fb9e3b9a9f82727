package director

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/chatstore/pkg/store"
)

const titleRunes = 50

// ConversationTitle derives a title from the first message, or from now when
// the message is blank.
func ConversationTitle(firstMessage string, now time.Time) string {
	text := strings.TrimSpace(firstMessage)
	if text == "" {
		return "Conversation " + now.Format("2006-01-02 15:04")
	}
	runes := []rune(text)
	if len(runes) > titleRunes {
		return string(runes[:titleRunes]) + "..."
	}
	return text
}

func (d *Director) defaultTitle(in store.ConversationCreate) store.ConversationCreate {
	if in.Title == nil || *in.Title == "" {
		title := ConversationTitle("", d.now())
		in.Title = &title
	}
	return in
}

// CreateConversation inserts a conversation. With autoTitle a missing title
// becomes "Conversation YYYY-MM-DD HH:MM".
func (d *Director) CreateConversation(ctx context.Context, in store.ConversationCreate, autoTitle bool) (store.Conversation, error) {
	if autoTitle {
		in = d.defaultTitle(in)
	}
	return d.store.InsertConversation(ctx, "", in)
}

// CreateConversationBackground returns the new id at once and inserts the
// conversation in the background. Messages submitted for the same id run
// after it.
func (d *Director) CreateConversationBackground(in store.ConversationCreate) string {
	id := store.NewOpaqueID()
	d.bg.submit(job{
		key:  conversationKey(id),
		name: "create conversation " + id,
		run: func(ctx context.Context) error {
			_, err := d.store.InsertConversation(ctx, id, d.defaultTitle(in))
			return err
		},
	})
	return id
}

func conversationKey(id string) string { return "conversation:" + id }

func (d *Director) Conversation(ctx context.Context, id string) (store.Conversation, error) {
	return d.store.GetConversation(ctx, id)
}

// Conversations lists by most recent activity. limit <= 0 lists all.
func (d *Director) Conversations(ctx context.Context, limit, offset int) ([]store.Conversation, error) {
	return d.store.ListConversations(ctx, limit, offset)
}

func (d *Director) UpdateConversation(ctx context.Context, id string, upd store.ConversationUpdate) (store.Conversation, error) {
	return d.store.UpdateConversation(ctx, id, upd)
}

func (d *Director) UpdateConversationTitle(ctx context.Context, id, title string) (store.Conversation, error) {
	return d.store.UpdateConversation(ctx, id, store.ConversationUpdate{Title: &title})
}

func (d *Director) UpdateConversationActiveCharacters(ctx context.Context, id string, refs []map[string]any) (store.Conversation, error) {
	if refs == nil {
		refs = []map[string]any{}
	}
	return d.store.UpdateConversation(ctx, id, store.ConversationUpdate{ActiveCharacters: &refs})
}

func refID(ref map[string]any) string {
	return fmt.Sprint(ref["id"])
}

// AddCharacterToConversation appends ref unless a reference with the same
// id is already active.
func (d *Director) AddCharacterToConversation(ctx context.Context, id string, ref map[string]any) (store.Conversation, error) {
	conv, err := d.store.GetConversation(ctx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	want := refID(ref)
	for _, existing := range conv.ActiveCharacters {
		if refID(existing) == want {
			return conv, nil
		}
	}
	refs := append(conv.ActiveCharacters, ref)
	return d.UpdateConversationActiveCharacters(ctx, id, refs)
}

func (d *Director) RemoveCharacterFromConversation(ctx context.Context, id, characterID string) (store.Conversation, error) {
	conv, err := d.store.GetConversation(ctx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	refs := make([]map[string]any, 0, len(conv.ActiveCharacters))
	for _, existing := range conv.ActiveCharacters {
		if refID(existing) != characterID {
			refs = append(refs, existing)
		}
	}
	return d.UpdateConversationActiveCharacters(ctx, id, refs)
}

// DeleteConversation removes the conversation and all of its messages.
func (d *Director) DeleteConversation(ctx context.Context, id string) error {
	return d.store.DeleteConversation(ctx, id)
}

// AutoUpdateConversationTitle replaces a blank or generated title with one
// taken from firstMessage. Custom titles are left alone.
func (d *Director) AutoUpdateConversationTitle(ctx context.Context, id, firstMessage string) (store.Conversation, error) {
	conv, err := d.store.GetConversation(ctx, id)
	if err != nil {
		return store.Conversation{}, err
	}
	if conv.Title != nil && *conv.Title != "" && !strings.Contains(*conv.Title, "Conversation") {
		return conv, nil
	}
	return d.UpdateConversationTitle(ctx, id, ConversationTitle(firstMessage, d.now()))
}
