package director

import (
	"context"

	"github.com/dotsetgreg/chatstore/pkg/store"
)

func (d *Director) CreateMessage(ctx context.Context, m store.MessageCreate) (store.Message, error) {
	out, err := d.store.InsertMessages(ctx, []store.MessageInsert{{MessageCreate: m}})
	if err != nil {
		return store.Message{}, err
	}
	return out[0], nil
}

// CreateMessagesBatch inserts msgs in one transaction, in order.
func (d *Director) CreateMessagesBatch(ctx context.Context, msgs []store.MessageCreate) ([]store.Message, error) {
	if len(msgs) == 0 {
		return []store.Message{}, nil
	}
	batch := make([]store.MessageInsert, len(msgs))
	for i, m := range msgs {
		batch[i] = store.MessageInsert{MessageCreate: m}
	}
	return d.store.InsertMessages(ctx, batch)
}

// CreateMessageBackground returns the message id at once and inserts the
// message in the background. Failures only reach the failure sink.
func (d *Director) CreateMessageBackground(m store.MessageCreate) string {
	return d.CreateMessagesBatchBackground([]store.MessageCreate{m})[0]
}

// CreateMessagesBatchBackground returns the ids in input order. Messages of
// one conversation are written in submission order.
func (d *Director) CreateMessagesBatchBackground(msgs []store.MessageCreate) []string {
	ids := make([]string, len(msgs))
	groups := map[string][]store.MessageInsert{}
	var order []string
	for i, m := range msgs {
		ids[i] = store.NewOpaqueID()
		if _, ok := groups[m.ConversationID]; !ok {
			order = append(order, m.ConversationID)
		}
		groups[m.ConversationID] = append(groups[m.ConversationID], store.MessageInsert{ID: ids[i], MessageCreate: m})
	}
	for _, conversationID := range order {
		batch := groups[conversationID]
		d.bg.submit(job{
			key:  conversationKey(conversationID),
			name: "create messages " + conversationID,
			run: func(ctx context.Context) error {
				_, err := d.store.InsertMessages(ctx, batch)
				return err
			},
		})
	}
	return ids
}

// Messages lists a conversation oldest first. limit <= 0 lists all.
func (d *Director) Messages(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error) {
	return d.store.ListMessages(ctx, conversationID, limit, offset)
}

// RecentMessages returns the last n messages, oldest first.
func (d *Director) RecentMessages(ctx context.Context, conversationID string, n int) ([]store.Message, error) {
	return d.store.RecentMessages(ctx, conversationID, n)
}

// LastMessage returns nil when the conversation has no messages.
func (d *Director) LastMessage(ctx context.Context, conversationID string) (*store.Message, error) {
	return d.store.LastMessage(ctx, conversationID)
}

func (d *Director) MessageCount(ctx context.Context, conversationID string) (int, error) {
	return d.store.CountMessages(ctx, conversationID)
}

func (d *Director) DeleteMessage(ctx context.Context, id string) error {
	return d.store.DeleteMessage(ctx, id)
}

func (d *Director) DeleteMessagesForConversation(ctx context.Context, conversationID string) (int, error) {
	return d.store.DeleteMessagesForConversation(ctx, conversationID)
}
