package director

import (
	"context"
	"strings"

	"github.com/dotsetgreg/chatstore/pkg/logger"
	"github.com/dotsetgreg/chatstore/pkg/store"
)

func (d *Director) AllVoices(ctx context.Context) ([]store.Voice, error) {
	if list, ok := d.cache.listVoices(); ok {
		voiceCacheHits.Inc()
		return list, nil
	}
	voiceCacheMisses.Inc()
	return d.store.ListVoices(ctx)
}

// Voice returns the cached voice with its current tokens, falling back to
// the store. A voice found in the store after warm-up is added to the cache.
func (d *Director) Voice(ctx context.Context, name string) (store.Voice, error) {
	if v, ok, _ := d.cache.voice(name); ok {
		voiceCacheHits.Inc()
		return v, nil
	}
	voiceCacheMisses.Inc()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if v, ok, _ := d.cache.voice(name); ok {
		return v, nil
	}
	v, err := d.store.GetVoice(ctx, name)
	if err != nil {
		return store.Voice{}, err
	}
	if _, _, loaded := d.cache.voice(name); loaded {
		d.cache.putVoice(v, false)
	}
	return v, nil
}

func (d *Director) CreateVoice(ctx context.Context, in store.VoiceCreate) (store.Voice, error) {
	var created store.Voice
	err := d.writeThrough("create voice", func() (err error) {
		if d.cache.hasVoice(strings.TrimSpace(in.Voice)) {
			return store.Invalid("create voice", "voice name already exists")
		}
		created, err = d.store.InsertVoice(ctx, in)
		return err
	}, func() {
		d.cache.putVoice(created, false)
	})
	if err != nil {
		return store.Voice{}, err
	}
	logger.InfoCF("director", "Voice created", map[string]interface{}{"voice": created.Voice})
	return created, nil
}

// UpdateVoice applies upd. A rename moves the cache entry and re-points
// cached characters in the same step the store commits. Setting AudioTokens
// here supersedes any token write still waiting in the background.
func (d *Director) UpdateVoice(ctx context.Context, name string, upd store.VoiceUpdate) (store.Voice, error) {
	var (
		updated   store.Voice
		requeue   bool
		setTokens = upd.AudioTokens != nil
	)
	err := d.writeThrough("update voice", func() (err error) {
		updated, err = d.store.UpdateVoice(ctx, name, upd)
		return err
	}, func() {
		if setTokens {
			d.pendingTokens.Delete(name)
		}
		if updated.Voice == name {
			d.cache.putVoice(updated, !setTokens)
			return
		}
		d.cache.renameVoice(name, updated, !setTokens, func() {
			if tokens, ok := d.pendingTokens.LoadAndDelete(name); ok {
				d.pendingTokens.Store(updated.Voice, tokens)
				requeue = true
			}
		})
	})
	if err != nil {
		return store.Voice{}, err
	}
	if requeue {
		d.schedulePersistTokens(updated.Voice)
	}
	if updated.Voice != name {
		logger.InfoCF("director", "Voice renamed", map[string]interface{}{
			"from": name,
			"to":   updated.Voice,
		})
	}
	if v, ok, _ := d.cache.voice(updated.Voice); ok {
		return v, nil
	}
	return updated, nil
}

// DeleteVoice removes the voice and clears it on every character that used it.
func (d *Director) DeleteVoice(ctx context.Context, name string) error {
	var at string
	err := d.writeThrough("delete voice", func() (err error) {
		at, err = d.store.DeleteVoice(ctx, name)
		return err
	}, func() {
		d.cache.removeVoice(name, at, func() {
			d.pendingTokens.Delete(name)
		})
	})
	if err != nil {
		return err
	}
	logger.InfoCF("director", "Voice deleted", map[string]interface{}{"voice": name})
	return nil
}
