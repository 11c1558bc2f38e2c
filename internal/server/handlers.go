package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/harborlight/companion/internal/card_updater"
	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/internal/context_assembler"
	"github.com/harborlight/companion/internal/entity_detector"
	"github.com/harborlight/companion/internal/friendship_analyzer"
	"github.com/harborlight/companion/pkg/logger"
)

// MemoryService is the facade surface the handlers call.
type MemoryService interface {
	DetectMentions(ctx context.Context, ownerID int64, text string) []entity_detector.Match
	LogMention(ctx context.Context, ownerID, sessionID int64, cardType cards.CardType, cardID int64, snippet string) error
	AssembleContext(ctx context.Context, ownerID, sessionID int64) *context_assembler.Bundle
	FormattedContext(ctx context.Context, ownerID, sessionID int64) string
	AnalyzeAndUpdate(ctx context.Context, ownerID, sessionID int64, messages []cards.Message) (*card_updater.Summary, error)
	AnalyzeFriendship(ctx context.Context, messages []cards.Message, counselorName string, currentLevel, currentPoints int) (*friendship_analyzer.Result, error)
}

type detectRequest struct {
	OwnerID   int64  `json:"owner_id"`
	SessionID int64  `json:"session_id"`
	Text      string `json:"text"`
	// Log records a mention row for each match when a session is given.
	Log bool `json:"log"`
}

type mentionResponse struct {
	CardID   int64          `json:"card_id"`
	CardType cards.CardType `json:"card_type"`
	Kind     string         `json:"match_kind"`
}

func (s *Server) handleDetectMentions(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID <= 0 || strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "owner_id and text are required")
		return
	}

	matches := s.service.DetectMentions(r.Context(), req.OwnerID, req.Text)

	if req.Log && req.SessionID > 0 {
		for _, m := range matches {
			if err := s.service.LogMention(r.Context(), req.OwnerID, req.SessionID,
				m.CardType, m.CardID, snippet(req.Text)); err != nil {
				s.log.Warn("Failed to log mention",
					logger.Int64Field("card_id", m.CardID),
					logger.ErrorField(err),
				)
			}
		}
	}

	out := make([]mentionResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, mentionResponse{
			CardID:   m.CardID,
			CardType: m.CardType,
			Kind:     string(m.Kind),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"mentions": out})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := queryInt64(r, "owner_id")
	if !ok {
		s.writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	sessionID, _ := queryInt64(r, "session_id")

	if r.URL.Query().Get("format") == "prose" {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"context": s.service.FormattedContext(r.Context(), ownerID, sessionID),
		})
		return
	}

	bundle := s.service.AssembleContext(r.Context(), ownerID, sessionID)
	s.writeJSON(w, http.StatusOK, bundle)
}

type analyzeRequest struct {
	OwnerID int64 `json:"owner_id"`
}

func (s *Server) handleAnalyzeSession(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := s.sessionRequest(w, r)
	if !ok {
		return
	}

	messages, ok := s.loadTranscript(w, r, req.OwnerID, sessionID)
	if !ok {
		return
	}

	summary, err := s.service.AnalyzeAndUpdate(r.Context(), req.OwnerID, sessionID, messages)
	if err != nil {
		s.log.Error("Session analysis failed",
			logger.Int64Field("session_id", sessionID),
			logger.ErrorField(err),
		)
		s.writeError(w, http.StatusBadGateway, "analysis failed")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type friendshipRequest struct {
	OwnerID       int64  `json:"owner_id"`
	CounselorName string `json:"counselor_name"`
	CurrentLevel  int    `json:"current_level"`
	CurrentPoints int    `json:"current_points"`
}

func (s *Server) handleFriendship(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathSessionID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req friendshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID <= 0 {
		s.writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	messages, ok := s.loadTranscript(w, r, req.OwnerID, sessionID)
	if !ok {
		return
	}

	counselor := req.CounselorName
	if counselor == "" {
		if session, err := s.sessions.SessionByID(r.Context(), req.OwnerID, sessionID); err == nil && session != nil {
			counselor = session.CounselorName
		}
	}

	result, err := s.service.AnalyzeFriendship(r.Context(), messages, counselor,
		req.CurrentLevel, req.CurrentPoints)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "friendship analysis failed")
		return
	}
	// result is nil when analysis degraded to a no-op
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) sessionRequest(w http.ResponseWriter, r *http.Request) (int64, analyzeRequest, bool) {
	sessionID, ok := pathSessionID(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid session id")
		return 0, analyzeRequest{}, false
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return 0, analyzeRequest{}, false
	}
	if req.OwnerID <= 0 {
		s.writeError(w, http.StatusBadRequest, "owner_id is required")
		return 0, analyzeRequest{}, false
	}
	return sessionID, req, true
}

func (s *Server) loadTranscript(w http.ResponseWriter, r *http.Request, ownerID, sessionID int64) ([]cards.Message, bool) {
	messages, err := s.sessions.SessionMessages(r.Context(), ownerID, sessionID)
	if err != nil {
		s.log.Error("Failed to load session transcript",
			logger.Int64Field("session_id", sessionID),
			logger.ErrorField(err),
		)
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	if len(messages) == 0 {
		s.writeError(w, http.StatusNotFound, "session has no transcript")
		return nil, false
	}
	return messages, true
}

func pathSessionID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryInt64(r *http.Request, key string) (int64, bool) {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// snippet trims mention context to a bounded prefix, cutting on a rune
// boundary so the stored snippet stays valid UTF-8.
func snippet(text string) string {
	const maxLen = 200
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Failed to encode response", logger.ErrorField(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
