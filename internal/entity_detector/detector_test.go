package entity_detector

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/pkg/logger"
)

type fakeStore struct {
	characters []cards.Card
	world      []cards.Card
}

func (f *fakeStore) CharacterCards(ctx context.Context, ownerID int64) ([]cards.Card, error) {
	return f.characters, nil
}

func (f *fakeStore) WorldCards(ctx context.Context, ownerID int64) ([]cards.Card, error) {
	return f.world, nil
}

func newTestDetector(store *fakeStore) *Detector {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return New(store, Config{}, log)
}

func character(id int64, name string, category cards.RelationshipCategory, label string) cards.Card {
	return cards.Card{
		ID:                   id,
		Type:                 cards.TypeCharacter,
		DisplayName:          name,
		RelationshipCategory: category,
		RelationshipLabel:    label,
	}
}

func worldEvent(id int64, title, eventType string, keywords ...string) cards.Card {
	return cards.Card{
		ID:        id,
		Type:      cards.TypeWorld,
		Title:     title,
		EventType: eventType,
		Keywords:  keywords,
	}
}

func TestNameMatchRespectsWordBoundaries(t *testing.T) {
	d := newTestDetector(&fakeStore{
		characters: []cards.Card{character(1, "Mom", cards.CategoryFamily, "")},
	})

	matches, err := d.Detect(context.Background(), "I keep overcoming obstacles", 1)
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = d.Detect(context.Background(), "I talked to my mom today", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchName, matches[0].Kind)
	assert.Equal(t, int64(1), matches[0].CardID)
}

func TestPossessiveAndPluralNormalization(t *testing.T) {
	d := newTestDetector(&fakeStore{
		characters: []cards.Card{character(1, "Wife", cards.CategoryRomantic, "")},
		world:      []cards.Card{worldEvent(2, "College", "transition")},
	})

	matches, err := d.Detect(context.Background(), "Wife's birthday is coming up", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchName, matches[0].Kind)

	matches, err = d.Detect(context.Background(), "I visited a few colleges last year", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, cards.TypeWorld, matches[0].CardType)
	assert.Equal(t, MatchTitle, matches[0].Kind)
}

func TestLabelTakesPrecedenceOverCategoryKeywords(t *testing.T) {
	d := newTestDetector(&fakeStore{
		characters: []cards.Card{
			character(1, "Paula", cards.CategoryFamily, "Sister"),
			character(2, "Ben", cards.CategoryFamily, ""),
		},
	})

	matches, err := d.Detect(context.Background(), "my sister called me yesterday", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].CardID)
	assert.Equal(t, MatchLabel, matches[0].Kind)
}

func TestCategoryKeywordsMatchUnlabeledCards(t *testing.T) {
	d := newTestDetector(&fakeStore{
		characters: []cards.Card{
			character(1, "Ben", cards.CategoryFamily, ""),
			character(2, "Rosa", cards.CategoryCoworker, ""),
		},
	})

	matches, err := d.Detect(context.Background(), "my brother is visiting", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].CardID)
	assert.Equal(t, MatchKeyword, matches[0].Kind)
}

func TestNoCoworkerCardMeansNoBossMatch(t *testing.T) {
	d := newTestDetector(&fakeStore{
		characters: []cards.Card{character(1, "Mom", cards.CategoryFamily, "")},
	})

	matches, err := d.Detect(context.Background(), "My boss is really demanding", 1)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestWorldEventKeywordArray(t *testing.T) {
	d := newTestDetector(&fakeStore{
		world: []cards.Card{worldEvent(7, "Graduation", "achievement", "diploma", "ceremony")},
	})

	matches, err := d.Detect(context.Background(), "the ceremony was beautiful", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchKeyword, matches[0].Kind)
}

func TestEventTypeMatchesAllEventsOfType(t *testing.T) {
	d := newTestDetector(&fakeStore{
		world: []cards.Card{
			worldEvent(1, "Graduation", "achievement"),
			worldEvent(2, "Promotion", "achievement"),
			worldEvent(3, "Moving Out", "transition"),
		},
	})

	matches, err := d.Detect(context.Background(), "I'm proud of my achievements", 1)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Equal(t, MatchEventType, m.Kind)
	}
}

func TestCustomKeywordTable(t *testing.T) {
	store := &fakeStore{
		characters: []cards.Card{character(1, "Oma", cards.CategoryFamily, "")},
	}
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	d := New(store, Config{Keywords: Keywords{
		cards.CategoryFamily: {"oma", "opa"},
	}}, log)

	matches, err := d.Detect(context.Background(), "ich besuche meine opa", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchKeyword, matches[0].Kind)
}

func TestDedupAcrossRules(t *testing.T) {
	// Name "Sister" plus label "Sister" could match twice; one entry wins.
	d := newTestDetector(&fakeStore{
		characters: []cards.Card{character(1, "Sister", cards.CategoryFamily, "Sister")},
	})

	matches, err := d.Detect(context.Background(), "my sister helped me", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, MatchName, matches[0].Kind)
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Wife's birthday", "wife birthday"},
		{"my wives are here", "my wife are here"},
		{"their lives changed", "their life changed"},
		{"two bosses argued", "two boss argued"},
		{"my friends and parents", "my friend and parent"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeText(tt.in), tt.in)
	}
}

func TestContainsWholeWord(t *testing.T) {
	assert.True(t, containsWholeWord("my mom today", "mom"))
	assert.False(t, containsWholeWord("overcoming obstacles", "mom"))
	assert.False(t, containsWholeWord("overachievements", "achievement"))
	assert.True(t, containsWholeWord("my best friend rocks", "best friend"))
	assert.False(t, containsWholeWord("anything", ""))
}
