// Package director fronts the SQLite store with an in-memory cache of
// characters and voices. Conversations and messages are never cached.
// Synchronous character and voice writes go to the store first and reach
// the cache only when they succeed; message and conversation writes may
// also be handed to a background writer.
package director

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dotsetgreg/chatstore/pkg/logger"
	"github.com/dotsetgreg/chatstore/pkg/store"
)

// Store is the durable layer the director fronts. *store.SQLiteStore
// implements it.
type Store interface {
	ListCharacters(ctx context.Context, filter store.CharacterFilter) ([]store.Character, error)
	GetCharacter(ctx context.Context, id string) (store.Character, error)
	InsertCharacter(ctx context.Context, in store.CharacterCreate) (store.Character, error)
	UpdateCharacter(ctx context.Context, id string, upd store.CharacterUpdate) (store.Character, error)
	DeleteCharacter(ctx context.Context, id string) error

	ListVoices(ctx context.Context) ([]store.Voice, error)
	GetVoice(ctx context.Context, name string) (store.Voice, error)
	InsertVoice(ctx context.Context, in store.VoiceCreate) (store.Voice, error)
	UpdateVoice(ctx context.Context, name string, upd store.VoiceUpdate) (store.Voice, error)
	DeleteVoice(ctx context.Context, name string) (string, error)
	SetAudioTokens(ctx context.Context, name string, tokens any) (string, error)

	InsertConversation(ctx context.Context, id string, in store.ConversationCreate) (store.Conversation, error)
	GetConversation(ctx context.Context, id string) (store.Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]store.Conversation, error)
	UpdateConversation(ctx context.Context, id string, upd store.ConversationUpdate) (store.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	InsertMessages(ctx context.Context, msgs []store.MessageInsert) ([]store.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]store.Message, error)
	RecentMessages(ctx context.Context, conversationID string, n int) ([]store.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*store.Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteMessagesForConversation(ctx context.Context, conversationID string) (int, error)

	Close() error
}

type Options struct {
	// Workers is the number of background shards.
	Workers   int
	QueueSize int
	// EnqueueTimeout bounds how long a submit waits on a full shard before
	// the job is dropped.
	EnqueueTimeout time.Duration
	JobTimeout     time.Duration
	OnFailure      FailureSink
	// Now stamps generated conversation titles. Defaults to time.Now.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Workers:        2,
		QueueSize:      256,
		EnqueueTimeout: 100 * time.Millisecond,
		JobTimeout:     30 * time.Second,
	}
}

type Director struct {
	store Store
	cache *cache
	bg    *backgroundWriter
	now   func() time.Time

	// writeMu serializes synchronous character and voice mutations with
	// each other, with refreshes and with token persistence.
	writeMu sync.Mutex
	// pendingTokens holds the latest unpersisted tokens per voice name.
	pendingTokens *xsync.MapOf[string, any]

	closeOnce sync.Once
	closeErr  error
}

// New wraps st. The cache starts cold; call Init to warm it.
func New(st Store, opts Options) *Director {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.EnqueueTimeout <= 0 {
		opts.EnqueueTimeout = def.EnqueueTimeout
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = def.JobTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Director{
		store:         st,
		cache:         newCache(),
		bg:            newBackgroundWriter(opts.Workers, opts.QueueSize, opts.EnqueueTimeout, opts.JobTimeout, opts.OnFailure),
		now:           opts.Now,
		pendingTokens: xsync.NewMapOf[string, any](),
	}
}

// Open opens the SQLite file at path and returns a warmed director.
func Open(ctx context.Context, path string, opts Options, storeOpts ...store.Option) (*Director, error) {
	st, err := store.NewSQLiteStore(path, storeOpts...)
	if err != nil {
		return nil, err
	}
	d := New(st, opts)
	if err := d.Init(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

// Init warm-loads every character and voice.
func (d *Director) Init(ctx context.Context) error {
	if err := d.Refresh(ctx); err != nil {
		return err
	}
	chars, voices := d.cache.sizes()
	logger.InfoCF("director", "Cache warmed", map[string]interface{}{
		"characters": chars,
		"voices":     voices,
	})
	return nil
}

// Refresh reloads both caches from the store.
func (d *Director) Refresh(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.refreshCharactersLocked(ctx); err != nil {
		return err
	}
	return d.refreshVoicesLocked(ctx)
}

func (d *Director) RefreshCharacters(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.refreshCharactersLocked(ctx)
}

func (d *Director) RefreshVoices(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.refreshVoicesLocked(ctx)
}

func (d *Director) refreshCharactersLocked(ctx context.Context) error {
	list, err := d.store.ListCharacters(ctx, store.CharacterFilter{})
	if err != nil {
		return fmt.Errorf("refresh characters: %w", err)
	}
	d.cache.replaceCharacters(list)
	return nil
}

// refreshVoicesLocked keeps tokens that are still waiting to be persisted;
// they are newer than anything the store can return.
func (d *Director) refreshVoicesLocked(ctx context.Context) error {
	list, err := d.store.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("refresh voices: %w", err)
	}
	d.cache.replaceVoices(list, d.pendingTokens.Load)
	return nil
}

// Clear drops both caches. Reads go to the store until the next refresh.
func (d *Director) Clear() {
	d.ClearCharacterCache()
	d.ClearVoiceCache()
}

func (d *Director) ClearCharacterCache() {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.cache.clearCharacters()
}

func (d *Director) ClearVoiceCache() {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.cache.clearVoices()
}

// Close drains queued background writes, persists tokens whose jobs were
// dropped and closes the store.
func (d *Director) Close() error {
	d.closeOnce.Do(func() {
		d.bg.close()
		d.flushPendingTokens()
		d.closeErr = d.store.Close()
	})
	return d.closeErr
}

func (d *Director) flushPendingTokens() {
	var names []string
	d.pendingTokens.Range(func(name string, _ any) bool {
		names = append(names, name)
		return true
	})
	for _, name := range names {
		ctx, cancel := context.WithTimeout(context.Background(), d.bg.jobTimeout)
		if err := d.persistTokens(ctx, name); err != nil {
			d.bg.sink(WriteBehind.String()+" audio tokens "+name, err)
		}
		cancel()
	}
}

// WriteMode names how a mutation reaches the two layers.
type WriteMode int

const (
	// WriteThrough writes the store first and updates the cache only on
	// success.
	WriteThrough WriteMode = iota
	// WriteBehind updates the cache at once and persists later in the
	// background. Only audio tokens use it.
	WriteBehind
)

func (m WriteMode) String() string {
	switch m {
	case WriteThrough:
		return "write-through"
	case WriteBehind:
		return "write-behind"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// writeThrough runs write under the write lock and applies the cache change
// only when the store accepted it.
func (d *Director) writeThrough(op string, write func() error, apply func()) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := write(); err != nil {
		logger.DebugCF("director", "Store write rejected", map[string]interface{}{
			"op":    op,
			"mode":  WriteThrough.String(),
			"error": err.Error(),
		})
		return err
	}
	apply()
	return nil
}
