package director

import (
	"context"

	"github.com/dotsetgreg/chatstore/pkg/store"
)

// CachedAudioTokens reads tokens from the cache only. ok is false when the
// voice is not cached.
func (d *Director) CachedAudioTokens(name string) (any, bool) {
	tokens, ok := d.cache.tokens(name)
	if ok {
		voiceCacheHits.Inc()
	} else {
		voiceCacheMisses.Inc()
	}
	return tokens, ok
}

// UpdateCachedAudioTokens replaces the cached tokens at once and persists
// them in the background. Bursts for the same voice collapse into a single
// write of the latest value. It reports false, and does nothing, when the
// voice is not cached.
func (d *Director) UpdateCachedAudioTokens(name string, tokens any) bool {
	tokens = store.CloneTokens(tokens)
	ok := d.cache.setTokens(name, tokens, func() {
		d.pendingTokens.Store(name, tokens)
	})
	if !ok {
		return false
	}
	d.schedulePersistTokens(name)
	return true
}

func (d *Director) schedulePersistTokens(name string) {
	d.bg.submit(job{
		key:  "voice:" + name,
		name: WriteBehind.String() + " audio tokens " + name,
		run: func(ctx context.Context) error {
			return d.persistTokens(ctx, name)
		},
	})
}

// persistTokens writes the latest pending value for name. A job whose value
// was already taken by an earlier job does nothing.
func (d *Director) persistTokens(ctx context.Context, name string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	tokens, ok := d.pendingTokens.LoadAndDelete(name)
	if !ok {
		return nil
	}
	at, err := d.store.SetAudioTokens(ctx, name, tokens)
	if err != nil {
		return err
	}
	d.cache.touchVoice(name, at)
	return nil
}
