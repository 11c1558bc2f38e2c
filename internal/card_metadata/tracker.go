// Package card_metadata maintains field-level provenance on card payloads:
// when each field was first seen, last changed, how often, and by whom.
// Metadata lives under the payload's reserved "_metadata" key, keyed by
// dot-notation field paths, so stored data stays readable by other services.
package card_metadata

import (
	"fmt"
	"sort"
	"time"

	"github.com/harborlight/companion/internal/cards"
)

// Source identifies who last wrote a field.
type Source string

const (
	SourceLLM  Source = "llm"
	SourceUser Source = "user"
)

// Recency bucket labels, youngest first.
const (
	LabelNew         = "new"
	LabelToday       = "updated today"
	LabelThisWeek    = "updated this week"
	LabelTwoWeeks    = "updated 2 weeks ago"
	LabelThisMonth   = "updated this month"
	LabelEstablished = "established"
)

// Tracker reads and writes field metadata on card payloads.
type Tracker struct {
	clock cards.Clock
}

// NewTracker creates a Tracker using the given clock.
func NewTracker(clock cards.Clock) *Tracker {
	if clock == nil {
		clock = cards.SystemClock{}
	}
	return &Tracker{clock: clock}
}

// Initialize walks every scalar leaf of the payload and creates metadata for
// any leaf that has none yet. Existing entries are left untouched.
//
// List elements are addressed as "parent[i]"; scalar list elements are not
// tracked individually, and indices are not re-identified across edits.
func (t *Tracker) Initialize(p cards.Payload, source Source) {
	meta := ensureMetadata(p)
	now := t.clock.Now().Format(time.RFC3339)

	walkLeaves(ContentRoot(p), "", func(path string, _ any) {
		if _, ok := meta[path]; ok {
			return
		}
		meta[path] = newEntry(now, source)
	})
}

// Touch marks the given field paths as updated by source. Paths without
// existing metadata are initialized instead of counted as updates.
func (t *Tracker) Touch(p cards.Payload, paths []string, source Source) {
	meta := ensureMetadata(p)
	now := t.clock.Now().Format(time.RFC3339)

	for _, path := range paths {
		entry, ok := meta[path].(map[string]any)
		if !ok {
			meta[path] = newEntry(now, source)
			continue
		}
		entry["last_updated"] = now
		entry["update_count"] = updateCount(entry) + 1
		entry["source"] = string(source)
	}
}

// ResetAll touches every path that currently has metadata with source=user.
// This models a full user edit invalidating all recency claims.
func (t *Tracker) ResetAll(p cards.Payload) {
	meta := ensureMetadata(p)
	paths := make([]string, 0, len(meta))
	for path := range meta {
		paths = append(paths, path)
	}
	t.Touch(p, paths, SourceUser)
}

// RecencyLabel buckets the age of a field's last update into a human label.
// Returns the empty string when the path has no metadata.
func (t *Tracker) RecencyLabel(p cards.Payload, path string) string {
	meta, ok := p[cards.MetadataKey].(map[string]any)
	if !ok {
		return ""
	}
	entry, ok := meta[path].(map[string]any)
	if !ok {
		return ""
	}
	raw, ok := entry["last_updated"].(string)
	if !ok {
		return ""
	}
	lastUpdated, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return ""
	}

	switch age := t.clock.Now().Sub(lastUpdated); {
	case age < time.Hour:
		return LabelNew
	case age < 24*time.Hour:
		return LabelToday
	case age < 7*24*time.Hour:
		return LabelThisWeek
	case age < 14*24*time.Hour:
		return LabelTwoWeeks
	case age < 30*24*time.Hour:
		return LabelThisMonth
	default:
		return LabelEstablished
	}
}

// Leaf is one scalar payload field with its dot-notation path.
type Leaf struct {
	Path  string
	Value any
}

// Leaves returns every scalar leaf of the payload sorted by path, using the
// same traversal and path scheme as Initialize.
func Leaves(p cards.Payload) []Leaf {
	var leaves []Leaf
	walkLeaves(ContentRoot(p), "", func(path string, value any) {
		leaves = append(leaves, Leaf{Path: path, Value: value})
	})
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Path < leaves[j].Path })
	return leaves
}

// ContentRoot returns the subtree that carries tracked fields. Generated
// cards wrap their fields in a "data" envelope whose paths are stored
// without the envelope prefix; bare payloads are walked directly.
func ContentRoot(p cards.Payload) map[string]any {
	if data, ok := p["data"].(map[string]any); ok {
		return data
	}
	return p
}

func ensureMetadata(p cards.Payload) map[string]any {
	if meta, ok := p[cards.MetadataKey].(map[string]any); ok {
		return meta
	}
	meta := make(map[string]any)
	p[cards.MetadataKey] = meta
	return meta
}

func newEntry(now string, source Source) map[string]any {
	return map[string]any{
		"first_seen":   now,
		"last_updated": now,
		"update_count": 0,
		"source":       string(source),
	}
}

// updateCount tolerates both int (fresh) and float64 (JSON round-trip).
func updateCount(entry map[string]any) int {
	switch v := entry["update_count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// walkLeaves visits every scalar leaf reachable from obj, building
// dot-notation paths. Maps recurse per key, lists recurse into compound
// elements only.
func walkLeaves(obj map[string]any, prefix string, visit func(path string, value any)) {
	for key, value := range obj {
		if key == cards.MetadataKey {
			continue
		}
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		walkValue(value, path, visit)
	}
}

func walkValue(value any, path string, visit func(path string, value any)) {
	switch v := value.(type) {
	case map[string]any:
		walkLeaves(v, path, visit)
	case []any:
		for i, item := range v {
			switch item.(type) {
			case map[string]any, []any:
				walkValue(item, fmt.Sprintf("%s[%d]", path, i), visit)
			}
		}
	default:
		visit(path, value)
	}
}
