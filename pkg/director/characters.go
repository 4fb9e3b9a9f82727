package director

import (
	"context"

	"github.com/dotsetgreg/chatstore/pkg/logger"
	"github.com/dotsetgreg/chatstore/pkg/store"
)

func (d *Director) AllCharacters(ctx context.Context) ([]store.Character, error) {
	return d.listCharacters(ctx, store.CharacterFilter{}, nil)
}

func (d *Director) ActiveCharacters(ctx context.Context) ([]store.Character, error) {
	return d.listCharacters(ctx, store.CharacterFilter{ActiveOnly: true}, func(ch *store.Character) bool {
		return ch.IsActive
	})
}

// SearchCharacters matches query as a case-insensitive substring of the name.
func (d *Director) SearchCharacters(ctx context.Context, query string) ([]store.Character, error) {
	return d.listCharacters(ctx, store.CharacterFilter{NameContains: query}, nameContains(query))
}

func (d *Director) listCharacters(ctx context.Context, filter store.CharacterFilter, keep func(*store.Character) bool) ([]store.Character, error) {
	if list, ok := d.cache.listCharacters(keep); ok {
		characterCacheHits.Inc()
		return list, nil
	}
	characterCacheMisses.Inc()
	return d.store.ListCharacters(ctx, filter)
}

// Character returns the cached record, falling back to the store. A record
// found in the store after warm-up is added to the cache.
func (d *Director) Character(ctx context.Context, id string) (store.Character, error) {
	if ch, ok, _ := d.cache.character(id); ok {
		characterCacheHits.Inc()
		return ch, nil
	}
	characterCacheMisses.Inc()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if ch, ok, _ := d.cache.character(id); ok {
		return ch, nil
	}
	ch, err := d.store.GetCharacter(ctx, id)
	if err != nil {
		return store.Character{}, err
	}
	if _, _, loaded := d.cache.character(id); loaded {
		d.cache.putCharacter(ch)
	}
	return ch, nil
}

func (d *Director) CreateCharacter(ctx context.Context, in store.CharacterCreate) (store.Character, error) {
	var created store.Character
	err := d.writeThrough("create character", func() (err error) {
		created, err = d.store.InsertCharacter(ctx, in)
		return err
	}, func() {
		d.cache.putCharacter(created)
	})
	if err != nil {
		return store.Character{}, err
	}
	logger.InfoCF("director", "Character created", map[string]interface{}{
		"id":   created.ID,
		"name": created.Name,
	})
	return created.Clone(), nil
}

func (d *Director) UpdateCharacter(ctx context.Context, id string, upd store.CharacterUpdate) (store.Character, error) {
	var updated store.Character
	err := d.writeThrough("update character", func() (err error) {
		updated, err = d.store.UpdateCharacter(ctx, id, upd)
		return err
	}, func() {
		d.cache.putCharacter(updated)
	})
	if err != nil {
		return store.Character{}, err
	}
	return updated.Clone(), nil
}

func (d *Director) SetCharacterActive(ctx context.Context, id string, active bool) (store.Character, error) {
	return d.UpdateCharacter(ctx, id, store.CharacterUpdate{IsActive: &active})
}

func (d *Director) DeleteCharacter(ctx context.Context, id string) error {
	err := d.writeThrough("delete character", func() error {
		return d.store.DeleteCharacter(ctx, id)
	}, func() {
		d.cache.removeCharacter(id)
	})
	if err != nil {
		return err
	}
	logger.InfoCF("director", "Character deleted", map[string]interface{}{"id": id})
	return nil
}
