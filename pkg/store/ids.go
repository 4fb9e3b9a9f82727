package store

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultSlug is used when a name has no usable characters.
const DefaultSlug = "character"

// maxIDAttempts bounds allocate-and-insert retries when another writer
// claimed the same sequence number first.
const maxIDAttempts = 5

var (
	hyphenRuns = regexp.MustCompile(`-+`)
	lowerCaser = cases.Lower(language.Und)
)

// Slugify lowercases name, keeps [a-z0-9], whitespace and hyphens, turns
// whitespace runs into single hyphens and trims hyphens from both ends.
func Slugify(name string) string {
	lower := lowerCaser.String(strings.TrimSpace(name))

	var kept strings.Builder
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			kept.WriteRune(r)
		case unicode.IsSpace(r):
			kept.WriteRune(' ')
		}
	}

	slug := strings.Join(strings.FieldsFunc(kept.String(), unicode.IsSpace), "-")
	slug = hyphenRuns.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return DefaultSlug
	}
	return slug
}

// FormatCharacterID joins a slug and a sequence number: robot, 2 -> robot-002.
func FormatCharacterID(slug string, seq int) string {
	return fmt.Sprintf("%s-%03d", slug, seq)
}

// nextCharacterID returns slug-NNN with NNN one past the highest existing
// three-digit suffix for exactly this slug.
func nextCharacterID(ctx context.Context, q querier, slug string) (string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM characters WHERE id LIKE ?`, slug+"-%")
	if err != nil {
		return "", fmt.Errorf("list ids for slug %q: %w", slug, err)
	}
	defer rows.Close()

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(slug) + `-(\d{3,})$`)
	highest := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("scan character id: %w", err)
		}
		m := pattern.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate character ids: %w", err)
	}
	return FormatCharacterID(slug, highest+1), nil
}

// NewOpaqueID returns the identifier used for voices, conversations and
// messages.
func NewOpaqueID() string {
	return uuid.NewString()
}
