// Package memory_service is the facade the chat and session-completion
// layers call. It wires the detector, assembler, updater and friendship
// analyzer behind one surface and enforces the degradation contract:
// chat-adjacent operations never fail the turn, they fall back to empty
// results; post-session analysis surfaces its errors to the caller.
package memory_service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harborlight/companion/internal/card_metadata"
	"github.com/harborlight/companion/internal/card_updater"
	"github.com/harborlight/companion/internal/cards"
	"github.com/harborlight/companion/internal/context_assembler"
	"github.com/harborlight/companion/internal/entity_detector"
	"github.com/harborlight/companion/internal/friendship_analyzer"
	"github.com/harborlight/companion/pkg/logger"
	"github.com/harborlight/companion/pkg/metrics"
)

// MentionStore appends mention observations.
type MentionStore interface {
	AddMention(ctx context.Context, mention cards.Mention) error
}

// Service exposes the memory operations to callers.
type Service struct {
	detector  *entity_detector.Detector
	assembler *context_assembler.Assembler
	updater   *card_updater.Updater
	analyzer  *friendship_analyzer.Analyzer
	tracker   *card_metadata.Tracker
	mentions  MentionStore
	clock     cards.Clock
	metrics   *metrics.Metrics
	log       logger.Logger
}

// New creates the facade. A nil clock falls back to the system clock.
func New(
	detector *entity_detector.Detector,
	assembler *context_assembler.Assembler,
	updater *card_updater.Updater,
	analyzer *friendship_analyzer.Analyzer,
	tracker *card_metadata.Tracker,
	mentions MentionStore,
	clock cards.Clock,
	m *metrics.Metrics,
	log logger.Logger,
) *Service {
	if clock == nil {
		clock = cards.SystemClock{}
	}
	return &Service{
		detector:  detector,
		assembler: assembler,
		updater:   updater,
		analyzer:  analyzer,
		tracker:   tracker,
		mentions:  mentions,
		clock:     clock,
		metrics:   m,
		log:       log,
	}
}

// DetectMentions scans one message for card references. A store failure
// degrades to no mentions so the chat turn proceeds.
func (s *Service) DetectMentions(ctx context.Context, ownerID int64, text string) []entity_detector.Match {
	matches, err := s.detector.Detect(ctx, text, ownerID)
	if err != nil {
		s.log.Warn("Mention detection degraded to empty",
			logger.Int64Field("owner_id", ownerID),
			logger.ErrorField(err),
		)
		return nil
	}
	return matches
}

// LogMention records that a card was referenced in a session message.
func (s *Service) LogMention(
	ctx context.Context,
	ownerID, sessionID int64,
	cardType cards.CardType,
	cardID int64,
	snippet string,
) error {
	if _, err := cards.ParseCardType(string(cardType)); err != nil {
		return err
	}

	mention := cards.Mention{
		OwnerID:        ownerID,
		SessionID:      sessionID,
		CardID:         cardID,
		CardType:       cardType,
		ContextSnippet: snippet,
		MentionedAt:    s.clock.Now(),
	}
	if err := s.mentions.AddMention(ctx, mention); err != nil {
		return fmt.Errorf("logging mention: %w", err)
	}

	if s.metrics != nil && s.metrics.MentionsLoggedCounter != nil {
		s.metrics.MentionsLoggedCounter.Inc()
	}
	return nil
}

// AssembleContext builds the tiered context bundle for a chat turn. A store
// failure degrades to an empty bundle rather than failing the turn.
func (s *Service) AssembleContext(ctx context.Context, ownerID, sessionID int64) *context_assembler.Bundle {
	start := time.Now()
	bundle, err := s.assembler.Assemble(ctx, ownerID, sessionID)
	if err != nil {
		s.log.Warn("Context assembly degraded to empty",
			logger.Int64Field("owner_id", ownerID),
			logger.Int64Field("session_id", sessionID),
			logger.ErrorField(err),
		)
		if s.metrics != nil {
			s.metrics.ObserveOperation("context_assemble", metrics.StatusError, time.Since(start))
		}
		return &context_assembler.Bundle{}
	}
	if s.metrics != nil {
		s.metrics.ObserveOperation("context_assemble", metrics.StatusSuccess, time.Since(start))
	}
	return bundle
}

// FormattedContext returns the assembled context rendered as the prose
// block injected into the advisor's system prompt.
func (s *Service) FormattedContext(ctx context.Context, ownerID, sessionID int64) string {
	return context_assembler.FormatProse(s.AssembleContext(ctx, ownerID, sessionID), s.tracker)
}

// AnalyzeAndUpdate runs the post-session card update pipeline.
func (s *Service) AnalyzeAndUpdate(
	ctx context.Context,
	ownerID, sessionID int64,
	messages []cards.Message,
) (*card_updater.Summary, error) {
	if len(messages) == 0 {
		return &card_updater.Summary{}, nil
	}
	return s.updater.AnalyzeAndUpdate(ctx, ownerID, sessionID, messages)
}

// AnalyzeFriendship scores a completed session for relationship growth.
// A nil result means no change, not a failure.
func (s *Service) AnalyzeFriendship(
	ctx context.Context,
	messages []cards.Message,
	counselorName string,
	currentLevel, currentPoints int,
) (*friendship_analyzer.Result, error) {
	if strings.TrimSpace(counselorName) == "" {
		counselorName = "Advisor"
	}
	return s.analyzer.Analyze(ctx, messages, counselorName, currentLevel, currentPoints)
}
