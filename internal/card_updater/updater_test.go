package card_updater

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight/companion/internal/card_generator"
	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/internal/llm_client"
	"github.com/harborlight/companion/pkg/logger"
	"github.com/harborlight/companion/pkg/metrics"
)

type fakeStore struct {
	selfCard   *cards.Card
	characters []cards.Card
	world      []cards.Card

	saved       []*cards.Card
	saveErr     error
	createdSelf []cards.Payload
	createdChar []string
	ops         []cards.OperationEntry
}

func (f *fakeStore) SelfCard(ctx context.Context, ownerID int64) (*cards.Card, error) {
	return f.selfCard, nil
}

func (f *fakeStore) CharacterCards(ctx context.Context, ownerID int64) ([]cards.Card, error) {
	return f.characters, nil
}

func (f *fakeStore) WorldCards(ctx context.Context, ownerID int64) ([]cards.Card, error) {
	return f.world, nil
}

func (f *fakeStore) CardByID(ctx context.Context, ownerID int64, cardType cards.CardType, cardID int64) (*cards.Card, error) {
	if f.selfCard != nil && cardType == cards.TypeSelf && f.selfCard.ID == cardID {
		return f.selfCard, nil
	}
	for i := range f.characters {
		if cardType == cards.TypeCharacter && f.characters[i].ID == cardID {
			return &f.characters[i], nil
		}
	}
	for i := range f.world {
		if cardType == cards.TypeWorld && f.world[i].ID == cardID {
			return &f.world[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SaveCard(ctx context.Context, card *cards.Card) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, card)
	return nil
}

func (f *fakeStore) CreateSelfCard(ctx context.Context, ownerID int64, payload cards.Payload) (*cards.Card, error) {
	f.createdSelf = append(f.createdSelf, payload)
	return &cards.Card{ID: 1000, OwnerID: ownerID, Type: cards.TypeSelf, Payload: payload}, nil
}

func (f *fakeStore) CreateCharacterCard(ctx context.Context, ownerID int64, name string, category cards.RelationshipCategory, payload cards.Payload) (*cards.Card, error) {
	f.createdChar = append(f.createdChar, name)
	return &cards.Card{ID: 2000, OwnerID: ownerID, Type: cards.TypeCharacter, DisplayName: name}, nil
}

func (f *fakeStore) LogOperation(ctx context.Context, entry cards.OperationEntry) error {
	f.ops = append(f.ops, entry)
	return nil
}

type fakeCompleter struct {
	response string
	err      error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm_client.CompletionRequest) (string, error) {
	return f.response, f.err
}

func (f *fakeCompleter) Stream(ctx context.Context, req llm_client.CompletionRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {}
}

func (f *fakeCompleter) Name() string { return "test-model" }

type fakeGenerator struct {
	result *card_generator.Result
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, cardType cards.CardType, plainText, extraContext, name string) (*card_generator.Result, error) {
	f.calls++
	return f.result, f.err
}

func newTestUpdater(store *fakeStore, completer *fakeCompleter, gen *fakeGenerator) *Updater {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	tracker := card_metadata.NewTracker(nil)
	return New(store, completer, gen, tracker, nil, DefaultConfig(), log)
}

func transcript(lines ...string) []cards.Message {
	msgs := make([]cards.Message, 0, len(lines))
	for _, l := range lines {
		msgs = append(msgs, cards.Message{Role: "user", Content: l})
	}
	return msgs
}

func selfCardFixture() *cards.Card {
	return &cards.Card{
		ID:                1,
		Type:              cards.TypeSelf,
		AutoUpdateEnabled: true,
		Payload:           cards.Payload{"personality": "curious, kind"},
	}
}

func proposalJSON(confidence float64, body string) string {
	return fmt.Sprintf(`{"confidence": %g, %s}`, confidence, body)
}

func TestBatchConfidenceGateRejectsLowConfidence(t *testing.T) {
	store := &fakeStore{selfCard: selfCardFixture()}
	completer := &fakeCompleter{response: proposalJSON(0.2, `"updates": [
		{"card_id": 1, "card_type": "self", "updates": [
			{"field": "personality", "action": "merge", "value": "brave", "confidence": 0.9}
		]}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("hello"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.CardsUpdated)
	assert.Equal(t, 0, summary.CardsSkipped)
	assert.Empty(t, store.saved)

	require.NotEmpty(t, store.ops)
	assert.Equal(t, "skipped", store.ops[len(store.ops)-1].Status)
}

func TestFieldConfidenceGate(t *testing.T) {
	store := &fakeStore{selfCard: selfCardFixture()}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
		{"card_id": 1, "card_type": "self", "updates": [
			{"field": "personality", "action": "merge", "value": "brave", "confidence": 0.5}
		]}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("hello"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.CardsUpdated)
	assert.Empty(t, store.saved)
	assert.Equal(t, "curious, kind", store.selfCard.Payload["personality"])
}

func TestMergeIsIdempotentOnDedup(t *testing.T) {
	run := func() string {
		store := &fakeStore{selfCard: &cards.Card{
			ID:                1,
			Type:              cards.TypeSelf,
			AutoUpdateEnabled: true,
			Payload:           cards.Payload{"personality": "curious, kind"},
		}}
		completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
			{"card_id": 1, "card_type": "self", "updates": [
				{"field": "personality", "action": "merge", "value": "kind, brave", "confidence": 0.9}
			]}
		]`)}
		u := newTestUpdater(store, completer, &fakeGenerator{})

		_, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
		require.NoError(t, err)
		// Second run over the already merged value
		_, err = u.AnalyzeAndUpdate(context.Background(), 1, 11, transcript("x"))
		require.NoError(t, err)
		return store.selfCard.Payload["personality"].(string)
	}

	assert.Equal(t, "Curious, Kind, Brave", run())
}

func TestPatternAppendDedupIsCaseInsensitive(t *testing.T) {
	store := &fakeStore{characters: []cards.Card{{
		ID:                5,
		Type:              cards.TypeCharacter,
		DisplayName:       "Mom",
		AutoUpdateEnabled: true,
		Payload: cards.Payload{
			"patterns": []any{map[string]any{"pattern": "Worries A Lot"}},
		},
	}}}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
		{"card_id": 5, "card_type": "character", "updates": [
			{"field": "patterns", "action": "append",
			 "value": [{"pattern": "worries a lot"}, {"pattern": "bakes on sundays"}],
			 "confidence": 0.9}
		]}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.CardsUpdated)
	patterns := store.characters[0].Payload["patterns"].([]any)
	require.Len(t, patterns, 2)
	assert.Equal(t, "Worries A Lot", patterns[0].(map[string]any)["pattern"])
	assert.Equal(t, "bakes on sundays", patterns[1].(map[string]any)["pattern"])
}

func TestAutoUpdateDisabledCardIsSkipped(t *testing.T) {
	store := &fakeStore{characters: []cards.Card{{
		ID:          5,
		Type:        cards.TypeCharacter,
		DisplayName: "Mom",
		Payload:     cards.Payload{"personality": "warm"},
	}}}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
		{"card_id": 5, "card_type": "character", "updates": [
			{"field": "personality", "action": "merge", "value": "stern", "confidence": 0.9}
		]}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.CardsUpdated)
	assert.Equal(t, 1, summary.CardsSkipped)
	assert.Empty(t, store.saved)
}

func TestMissingFieldIsInitializedBeforeAppend(t *testing.T) {
	store := &fakeStore{selfCard: &cards.Card{
		ID:                1,
		Type:              cards.TypeSelf,
		AutoUpdateEnabled: true,
		Payload:           cards.Payload{},
	}}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
		{"card_id": 1, "card_type": "self", "updates": [
			{"field": "interests", "action": "append", "value": ["chess"], "confidence": 0.9}
		]}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.CardsUpdated)
	assert.Equal(t, []any{"chess"}, store.selfCard.Payload["interests"])

	// Applied field gets metadata with source=llm
	meta := store.selfCard.Payload[cards.MetadataKey].(map[string]any)
	entry := meta["interests"].(map[string]any)
	assert.Equal(t, "llm", entry["source"])
}

func TestWorldEventsAreReplaceOnly(t *testing.T) {
	store := &fakeStore{world: []cards.Card{{
		ID:                7,
		Type:              cards.TypeWorld,
		Title:             "Graduation",
		Description:       "old description",
		Keywords:          []string{"diploma"},
		AutoUpdateEnabled: true,
	}}}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
		{"card_id": 7, "card_type": "world", "updates": [
			{"field": "description", "action": "replace", "value": "corrected description", "confidence": 0.9},
			{"field": "key_array", "action": "replace", "value": ["diploma", "ceremony"], "confidence": 0.9},
			{"field": "title", "action": "replace", "value": "Hacked", "confidence": 0.9},
			{"field": "description", "action": "merge", "value": "nope", "confidence": 0.9}
		]}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.NoError(t, err)

	require.Equal(t, 1, summary.CardsUpdated)
	assert.ElementsMatch(t, []string{"description", "key_array"}, summary.Changes[0].Fields)
	assert.Equal(t, "corrected description", store.world[0].Description)
	assert.Equal(t, []string{"diploma", "ceremony"}, store.world[0].Keywords)
	assert.Equal(t, "Graduation", store.world[0].Title)
}

func TestNewCharacterCardCreation(t *testing.T) {
	store := &fakeStore{
		selfCard:   selfCardFixture(),
		characters: []cards.Card{{ID: 5, Type: cards.TypeCharacter, DisplayName: "Mom"}},
	}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [], "new_cards": [
		{"card_type": "character", "name": "Avery", "relationship_type": "friend"},
		{"card_type": "character", "name": "mom", "relationship_type": "family"},
		{"card_type": "character", "name": "", "relationship_type": "friend"},
		{"card_type": "world", "name": "Graduation"}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10,
		transcript("I made a new friend called Avery"))
	require.NoError(t, err)

	assert.Equal(t, []string{"Avery"}, summary.NewCards)
	assert.Equal(t, []string{"Avery"}, store.createdChar)
}

func TestSelfBootstrapFailureIsSwallowed(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": []`)}
	gen := &fakeGenerator{err: errors.New("generation exploded")}
	u := newTestUpdater(store, completer, gen)

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("hello"))
	require.NoError(t, err)

	assert.False(t, summary.SelfCardCreated)
	assert.Equal(t, 1, gen.calls)
	assert.Empty(t, store.createdSelf)
}

func TestSelfBootstrapCreatesCard(t *testing.T) {
	store := &fakeStore{}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": []`)}
	gen := &fakeGenerator{result: &card_generator.Result{
		CardType: cards.TypeSelf,
		Payload:  cards.Payload{"data": map[string]any{"summary": "a person"}},
	}}
	u := newTestUpdater(store, completer, gen)

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("hello"))
	require.NoError(t, err)

	assert.True(t, summary.SelfCardCreated)
	require.Len(t, store.createdSelf, 1)
}

func TestBootstrapSkippedWhenSelfCardExists(t *testing.T) {
	store := &fakeStore{selfCard: selfCardFixture()}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": []`)}
	gen := &fakeGenerator{}
	u := newTestUpdater(store, completer, gen)

	_, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("hello"))
	require.NoError(t, err)
	assert.Equal(t, 0, gen.calls)
}

func TestMalformedProposalDegradesToNoop(t *testing.T) {
	store := &fakeStore{selfCard: selfCardFixture()}
	completer := &fakeCompleter{response: "I could not produce JSON, sorry!"}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.CardsUpdated)
	assert.Empty(t, store.saved)
}

func TestCompletionErrorPropagates(t *testing.T) {
	store := &fakeStore{selfCard: selfCardFixture()}
	completer := &fakeCompleter{err: errors.New("timeout")}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	_, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.Error(t, err)

	require.NotEmpty(t, store.ops)
	assert.Equal(t, "error", store.ops[len(store.ops)-1].Status)
}

func TestStaleRevisionCountsAsSkipped(t *testing.T) {
	store := &fakeStore{
		selfCard: selfCardFixture(),
		saveErr:  cards.ErrStaleRevision,
	}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
		{"card_id": 1, "card_type": "self", "updates": [
			{"field": "personality", "action": "merge", "value": "brave", "confidence": 0.9}
		]}
	]`)}
	u := newTestUpdater(store, completer, &fakeGenerator{})

	summary, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.NoError(t, err)

	assert.Equal(t, 0, summary.CardsUpdated)
	assert.Equal(t, 1, summary.CardsSkipped)
}

func TestSkippedCardsIncrementCounter(t *testing.T) {
	store := &fakeStore{
		selfCard: selfCardFixture(),
		saveErr:  cards.ErrStaleRevision,
	}
	completer := &fakeCompleter{response: proposalJSON(0.9, `"updates": [
		{"card_id": 1, "card_type": "self", "updates": [
			{"field": "personality", "action": "merge", "value": "brave", "confidence": 0.9}
		]}
	]`)}

	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.NewMetrics(false, true, log)
	u := New(store, completer, &fakeGenerator{}, card_metadata.NewTracker(nil), &m, DefaultConfig(), log)

	_, err := u.AnalyzeAndUpdate(context.Background(), 1, 10, transcript("x"))
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CardsSkippedCounter))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CardsUpdatedCounter))
}

func TestMergeTraitString(t *testing.T) {
	tests := []struct {
		old, incoming, want string
	}{
		{"curious, kind", "kind, brave", "Curious, Kind, Brave"},
		{"", "brave", "Brave"},
		{"brave", "", "Brave"},
		{"a, b", "a, b", "A, B"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mergeTraitString(tt.old, tt.incoming))
	}
}
