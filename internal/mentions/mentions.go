// Package mentions scans document and comment text for @agent_id tokens and
// records them as mention rows for the referenced agents.
package mentions

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"github.com/taskhive/taskhive/internal/store"
	"github.com/taskhive/taskhive/pkg/models"
)

// mentionPattern matches @ followed by identifier characters (letters,
// digits, underscore, hyphen). A leading hyphen is not a valid handle start.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_][A-Za-z0-9_-]*)`)

// Engine records mentions found in free text.
type Engine struct {
	Store store.Store
	Log   *slog.Logger
}

// ScanAndRecord extracts distinct @handles from content, resolves each
// against registered agents, and records one mention per (source, agent)
// pair. Handles that match no agent are ignored; free text may use @ for
// other purposes. Re-scanning the same source creates no duplicates (the
// store's unique index dedups). Returns the newly created mentions.
func (e *Engine) ScanAndRecord(ctx context.Context, sourceType, sourceID, authorID, content string) ([]models.Mention, error) {
	var out []models.Mention
	for _, handle := range Handles(content) {
		if _, err := e.Store.GetAgent(ctx, handle); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}
		id, created, err := e.Store.AddMention(ctx, handle, sourceType, sourceID, authorID)
		if err != nil {
			return nil, err
		}
		if !created {
			continue
		}
		m, err := e.Store.GetMention(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if len(out) > 0 {
		e.log().Info("mentions recorded", "source_type", sourceType, "source_id", sourceID, "count", len(out))
	}
	return out, nil
}

// Handles returns the distinct @handles in content, in order of first
// occurrence.
func Handles(content string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		h := m[1]
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

func (e *Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}
