// Package seed loads voices and characters from a YAML file.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dotsetgreg/chatstore/pkg/logger"
	"github.com/dotsetgreg/chatstore/pkg/store"
)

type File struct {
	Voices     []store.VoiceCreate     `yaml:"voices"`
	Characters []store.CharacterCreate `yaml:"characters"`
}

// Target is the subset of the director a seed is applied through.
type Target interface {
	Voice(ctx context.Context, name string) (store.Voice, error)
	CreateVoice(ctx context.Context, in store.VoiceCreate) (store.Voice, error)
	AllCharacters(ctx context.Context) ([]store.Character, error)
	CreateCharacter(ctx context.Context, in store.CharacterCreate) (store.Character, error)
}

type Result struct {
	VoicesCreated     int
	VoicesSkipped     int
	CharactersCreated []string
	CharactersSkipped int
}

func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &f, nil
}

// Apply creates voices before characters so character voice references
// resolve. Voices that already exist and characters whose name is already
// taken are skipped, so a seed can be applied more than once.
func Apply(ctx context.Context, t Target, f *File) (Result, error) {
	var res Result
	for _, v := range f.Voices {
		_, err := t.Voice(ctx, v.Voice)
		if err == nil {
			res.VoicesSkipped++
			continue
		}
		if !store.IsNotFound(err) {
			return res, err
		}
		if _, err := t.CreateVoice(ctx, v); err != nil {
			return res, fmt.Errorf("voice %q: %w", v.Voice, err)
		}
		res.VoicesCreated++
	}

	existing, err := t.AllCharacters(ctx)
	if err != nil {
		return res, err
	}
	names := make(map[string]bool, len(existing))
	for _, c := range existing {
		names[c.Name] = true
	}
	for _, c := range f.Characters {
		if names[c.Name] {
			res.CharactersSkipped++
			continue
		}
		created, err := t.CreateCharacter(ctx, c)
		if err != nil {
			return res, fmt.Errorf("character %q: %w", c.Name, err)
		}
		names[c.Name] = true
		res.CharactersCreated = append(res.CharactersCreated, created.ID)
	}

	logger.InfoCF("seed", "Seed applied", map[string]interface{}{
		"voices_created":     res.VoicesCreated,
		"voices_skipped":     res.VoicesSkipped,
		"characters_created": len(res.CharactersCreated),
		"characters_skipped": res.CharactersSkipped,
	})
	return res, nil
}
