package director

import (
	"sort"
	"sync"

	"github.com/dotsetgreg/chatstore/pkg/store"
)

type voiceEntry struct {
	voice store.Voice
	// tokens changes far more often than the rest of the record and is
	// written on its own path; voice.AudioTokens is not read.
	tokens any
}

// cache holds the two warm maps. One mutex guards both so a voice rename
// and the character re-point are a single step for readers.
type cache struct {
	mu               sync.RWMutex
	characters       map[string]*store.Character
	voices           map[string]*voiceEntry
	charactersLoaded bool
	voicesLoaded     bool
}

func newCache() *cache {
	return &cache{
		characters: map[string]*store.Character{},
		voices:     map[string]*voiceEntry{},
	}
}

func (c *cache) replaceCharacters(list []store.Character) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.characters = make(map[string]*store.Character, len(list))
	for i := range list {
		ch := list[i].Clone()
		c.characters[ch.ID] = &ch
	}
	c.charactersLoaded = true
}

// replaceVoices swaps in list. pending reports tokens newer than the store
// (write-behind not yet persisted); they win over the stored value. It is
// consulted under the cache lock, the same lock setTokens records under.
func (c *cache) replaceVoices(list []store.Voice, pending func(name string) (any, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices = make(map[string]*voiceEntry, len(list))
	for _, v := range list {
		tokens := v.AudioTokens
		if p, ok := pending(v.Voice); ok {
			tokens = store.CloneTokens(p)
		}
		c.voices[v.Voice] = &voiceEntry{voice: v, tokens: tokens}
	}
	c.voicesLoaded = true
}

func (c *cache) clearCharacters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.characters = map[string]*store.Character{}
	c.charactersLoaded = false
}

func (c *cache) clearVoices() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voices = map[string]*voiceEntry{}
	c.voicesLoaded = false
}

func (c *cache) sizes() (characters, voices int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.characters), len(c.voices)
}

// listCharacters returns copies matching keep, oldest first. ok is false
// when the map was never loaded.
func (c *cache) listCharacters(keep func(*store.Character) bool) ([]store.Character, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.charactersLoaded {
		return nil, false
	}
	out := make([]store.Character, 0, len(c.characters))
	for _, ch := range c.characters {
		if keep == nil || keep(ch) {
			out = append(out, ch.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, true
}

// character reports whether id is cached and whether the map is loaded.
func (c *cache) character(id string) (store.Character, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.characters[id]
	if !ok {
		return store.Character{}, false, c.charactersLoaded
	}
	return ch.Clone(), true, c.charactersLoaded
}

func (c *cache) putCharacter(ch store.Character) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := ch.Clone()
	c.characters[ch.ID] = &cp
}

func (c *cache) removeCharacter(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.characters, id)
}

func (e *voiceEntry) snapshot() store.Voice {
	v := e.voice
	v.AudioTokens = e.tokens
	return v.Clone()
}

func (c *cache) listVoices() ([]store.Voice, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.voicesLoaded {
		return nil, false
	}
	out := make([]store.Voice, 0, len(c.voices))
	for _, e := range c.voices {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Voice < out[j].Voice
	})
	return out, true
}

func (c *cache) voice(name string) (store.Voice, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.voices[name]
	if !ok {
		return store.Voice{}, false, c.voicesLoaded
	}
	return e.snapshot(), true, c.voicesLoaded
}

func (c *cache) hasVoice(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.voices[name]
	return ok
}

// putVoice stores v. With keepTokens an existing entry keeps its cached
// tokens instead of the possibly older value read from the store.
func (c *cache) putVoice(v store.Voice, keepTokens bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := v.AudioTokens
	if prev, ok := c.voices[v.Voice]; ok && keepTokens {
		tokens = prev.tokens
	}
	c.voices[v.Voice] = &voiceEntry{voice: v, tokens: tokens}
}

// renameVoice moves the entry from oldName to v.Voice and re-points every
// cached character that used oldName. moved runs under the same lock.
func (c *cache) renameVoice(oldName string, v store.Voice, keepTokens bool, moved func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := v.AudioTokens
	if prev, ok := c.voices[oldName]; ok && keepTokens {
		tokens = prev.tokens
	}
	delete(c.voices, oldName)
	c.voices[v.Voice] = &voiceEntry{voice: v, tokens: tokens}
	for _, ch := range c.characters {
		if ch.Voice == oldName {
			ch.Voice = v.Voice
			ch.UpdatedAt = v.UpdatedAt
		}
	}
	if moved != nil {
		moved()
	}
}

// removeVoice drops the entry and clears the voice on every cached
// character that used it.
func (c *cache) removeVoice(name, at string, removed func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.voices, name)
	for _, ch := range c.characters {
		if ch.Voice == name {
			ch.Voice = ""
			ch.UpdatedAt = at
		}
	}
	if removed != nil {
		removed()
	}
}

func (c *cache) tokens(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.voices[name]
	if !ok {
		return nil, false
	}
	return store.CloneTokens(e.tokens), true
}

// touchVoice sets UpdatedAt on a cached voice. Gone entries are skipped.
func (c *cache) touchVoice(name, at string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.voices[name]; ok {
		e.voice.UpdatedAt = at
	}
}

// setTokens updates the cached tokens of a cached voice and runs then under
// the lock. tokens must not be shared with the caller. It reports false when the voice is not cached.
func (c *cache) setTokens(name string, tokens any, then func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.voices[name]
	if !ok {
		return false
	}
	e.tokens = tokens
	if then != nil {
		then()
	}
	return true
}

func nameContains(query string) func(*store.Character) bool {
	return func(ch *store.Character) bool {
		return store.NameMatches(ch.Name, query)
	}
}
