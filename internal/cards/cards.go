// Package cards defines the memory card domain types shared by the
// detection, assembly and update pipeline.
package cards

import (
	"errors"
	"fmt"
	"time"
)

// ErrStaleRevision is returned by stores when a write carries a revision
// older than the stored one, meaning another writer got there first.
var ErrStaleRevision = errors.New("card revision is stale")

// MetadataKey is the reserved payload key holding per-field provenance.
// The dot-path keying underneath it is a storage contract and must not change.
const MetadataKey = "_metadata"

// CardType identifies the kind of memory card.
type CardType string

const (
	TypeSelf      CardType = "self"
	TypeCharacter CardType = "character"
	TypeWorld     CardType = "world"
)

// ParseCardType validates a card type string.
func ParseCardType(s string) (CardType, error) {
	switch CardType(s) {
	case TypeSelf, TypeCharacter, TypeWorld:
		return CardType(s), nil
	default:
		return "", fmt.Errorf("unknown card type %q", s)
	}
}

// RelationshipCategory is the broad relationship bucket on character cards.
type RelationshipCategory string

const (
	CategoryFamily   RelationshipCategory = "family"
	CategoryFriend   RelationshipCategory = "friend"
	CategoryCoworker RelationshipCategory = "coworker"
	CategoryRomantic RelationshipCategory = "romantic"
	CategoryOther    RelationshipCategory = "other"
)

// Payload is the free-form card body. Nested maps and lists are allowed;
// the MetadataKey entry is reserved for field provenance.
type Payload map[string]any

// Card is a single memory record. Self and character cards carry their
// content in Payload; world cards additionally expose the event columns
// as typed fields.
type Card struct {
	ID      int64    `json:"id"`
	OwnerID int64    `json:"owner_id"`
	Type    CardType `json:"card_type"`
	Payload Payload  `json:"payload,omitempty"`

	// Character cards only
	DisplayName          string               `json:"display_name,omitempty"`
	RelationshipCategory RelationshipCategory `json:"relationship_type,omitempty"`
	RelationshipLabel    string               `json:"relationship_label,omitempty"`

	// World cards only
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"key_array,omitempty"`
	EventType   string   `json:"event_type,omitempty"`
	Resolved    bool     `json:"resolved,omitempty"`

	AutoUpdateEnabled bool `json:"auto_update_enabled"`
	IsPinned          bool `json:"is_pinned"`
	IsHidden          bool `json:"-"`

	// Revision increments on every write. Writers carry the revision they
	// read so the store can reject stale read-modify-write cycles.
	Revision int64 `json:"revision"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Name returns the human-facing identifier for the card: display name for
// characters, title for world events, empty for self.
func (c *Card) Name() string {
	switch c.Type {
	case TypeCharacter:
		return c.DisplayName
	case TypeWorld:
		return c.Title
	default:
		return ""
	}
}

// Mention is an append-only observation that a card was referenced in a
// specific session message.
type Mention struct {
	ID             int64
	OwnerID        int64
	SessionID      int64
	CardID         int64
	CardType       CardType
	ContextSnippet string
	MentionedAt    time.Time
}

// Message is one transcript entry, consumed read-only.
type Message struct {
	Role      string
	Speaker   string
	Content   string
	Timestamp time.Time
}

// Clock abstracts time reads so recency logic is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
