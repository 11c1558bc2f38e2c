package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight/companion/internal/card_updater"
	"github.com/harborlight/companion/internal/cards"
	appconfig "github.com/harborlight/companion/internal/config"
	"github.com/harborlight/companion/internal/context_assembler"
	"github.com/harborlight/companion/internal/entity_detector"
	"github.com/harborlight/companion/internal/friendship_analyzer"
	"github.com/harborlight/companion/internal/persistence"
	"github.com/harborlight/companion/pkg/logger"
)

type fakeService struct {
	matches          []entity_detector.Match
	logged           []int64
	bundle           *context_assembler.Bundle
	prose            string
	summary          *card_updater.Summary
	summaryErr       error
	friendship       *friendship_analyzer.Result
	friendshipCalled bool
	counselorSeen    string
}

func (f *fakeService) DetectMentions(ctx context.Context, ownerID int64, text string) []entity_detector.Match {
	return f.matches
}

func (f *fakeService) LogMention(ctx context.Context, ownerID, sessionID int64, cardType cards.CardType, cardID int64, snippet string) error {
	f.logged = append(f.logged, cardID)
	return nil
}

func (f *fakeService) AssembleContext(ctx context.Context, ownerID, sessionID int64) *context_assembler.Bundle {
	if f.bundle == nil {
		return &context_assembler.Bundle{}
	}
	return f.bundle
}

func (f *fakeService) FormattedContext(ctx context.Context, ownerID, sessionID int64) string {
	return f.prose
}

func (f *fakeService) AnalyzeAndUpdate(ctx context.Context, ownerID, sessionID int64, messages []cards.Message) (*card_updater.Summary, error) {
	return f.summary, f.summaryErr
}

func (f *fakeService) AnalyzeFriendship(ctx context.Context, messages []cards.Message, counselorName string, currentLevel, currentPoints int) (*friendship_analyzer.Result, error) {
	f.friendshipCalled = true
	f.counselorSeen = counselorName
	return f.friendship, nil
}

type fakeSessions struct {
	session  *persistence.Session
	messages []cards.Message
	err      error
}

func (f *fakeSessions) SessionByID(ctx context.Context, ownerID, sessionID int64) (*persistence.Session, error) {
	return f.session, nil
}

func (f *fakeSessions) SessionMessages(ctx context.Context, ownerID, sessionID int64) ([]cards.Message, error) {
	return f.messages, f.err
}

func newTestServer(service *fakeService, sessions *fakeSessions) *Server {
	log := logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	cfg := &appconfig.AppConfig{}
	cfg.Server.Port = 8080
	cfg.Server.RequestTimeout = 60 * time.Second
	return New(cfg, service, sessions, nil, nil, log)
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestDetectMentionsEndpoint(t *testing.T) {
	service := &fakeService{matches: []entity_detector.Match{
		{CardID: 5, CardType: cards.TypeCharacter, Kind: entity_detector.MatchName},
	}}
	s := newTestServer(service, &fakeSessions{})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/mentions/detect",
		map[string]any{"owner_id": 1, "text": "talked to my mom"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Mentions []mentionResponse `json:"mentions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Mentions, 1)
	assert.Equal(t, int64(5), resp.Mentions[0].CardID)
	assert.Equal(t, "name", resp.Mentions[0].Kind)
	assert.Empty(t, service.logged)
}

func TestDetectMentionsLogsWhenRequested(t *testing.T) {
	service := &fakeService{matches: []entity_detector.Match{
		{CardID: 5, CardType: cards.TypeCharacter, Kind: entity_detector.MatchName},
		{CardID: 7, CardType: cards.TypeWorld, Kind: entity_detector.MatchTitle},
	}}
	s := newTestServer(service, &fakeSessions{})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/mentions/detect",
		map[string]any{"owner_id": 1, "session_id": 10, "text": "mom at graduation", "log": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{5, 7}, service.logged)
}

func TestDetectMentionsRequiresOwnerAndText(t *testing.T) {
	s := newTestServer(&fakeService{}, &fakeSessions{})

	rec := doRequest(t, s, http.MethodPost, "/api/v1/mentions/detect",
		map[string]any{"text": "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/mentions/detect",
		map[string]any{"owner_id": 1, "text": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContextEndpointProseFormat(t *testing.T) {
	service := &fakeService{prose: "### Self Card\n- name: Jo"}
	s := newTestServer(service, &fakeSessions{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/context?owner_id=1&session_id=10&format=prose", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["context"], "### Self Card")
}

func TestContextEndpointBundle(t *testing.T) {
	service := &fakeService{bundle: &context_assembler.Bundle{TotalCount: 2}}
	s := newTestServer(service, &fakeSessions{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/context?owner_id=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_count":2`)
}

func TestContextEndpointRequiresOwner(t *testing.T) {
	s := newTestServer(&fakeService{}, &fakeSessions{})
	rec := doRequest(t, s, http.MethodGet, "/api/v1/context", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeEndpoint(t *testing.T) {
	service := &fakeService{summary: &card_updater.Summary{CardsUpdated: 1}}
	sessions := &fakeSessions{messages: []cards.Message{{Role: "user", Content: "hi"}}}
	s := newTestServer(service, sessions)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/10/analyze",
		map[string]any{"owner_id": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cards_updated":1`)
}

func TestAnalyzeEndpointEmptySessionIs404(t *testing.T) {
	s := newTestServer(&fakeService{}, &fakeSessions{})
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/10/analyze",
		map[string]any{"owner_id": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeEndpointUpdaterFailure(t *testing.T) {
	service := &fakeService{summaryErr: errors.New("llm down")}
	sessions := &fakeSessions{messages: []cards.Message{{Role: "user", Content: "hi"}}}
	s := newTestServer(service, sessions)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/10/analyze",
		map[string]any{"owner_id": 1})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAnalyzeEndpointRejectsBadSessionID(t *testing.T) {
	s := newTestServer(&fakeService{}, &fakeSessions{})
	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/nope/analyze",
		map[string]any{"owner_id": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFriendshipEndpointFillsCounselorFromSession(t *testing.T) {
	service := &fakeService{friendship: &friendship_analyzer.Result{PointsDelta: 3, FriendshipTier: "trusted"}}
	sessions := &fakeSessions{
		session:  &persistence.Session{ID: 10, OwnerID: 1, CounselorName: "Rowan"},
		messages: []cards.Message{{Speaker: "client", Content: "hi"}},
	}
	s := newTestServer(service, sessions)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/10/friendship",
		map[string]any{"owner_id": 1, "current_level": 3, "current_points": 20})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Rowan", service.counselorSeen)
	assert.Contains(t, rec.Body.String(), `"points_delta":3`)
}

func TestFriendshipEndpointNullResult(t *testing.T) {
	service := &fakeService{friendship: nil}
	sessions := &fakeSessions{messages: []cards.Message{{Speaker: "client", Content: "hi"}}}
	s := newTestServer(service, sessions)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/sessions/10/friendship",
		map[string]any{"owner_id": 1, "counselor_name": "Rowan"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, service.friendshipCalled)
	assert.Contains(t, rec.Body.String(), `"result":null`)
}

func TestHeartbeat(t *testing.T) {
	s := newTestServer(&fakeService{}, &fakeSessions{})
	rec := doRequest(t, s, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSnippetCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("a", 199) + "日本語テキスト"

	got := snippet(long)

	assert.LessOrEqual(t, len(got), 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 199), got)

	short := "café"
	assert.Equal(t, short, snippet(short))
}
