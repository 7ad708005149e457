package speech

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/storybook/internal/models"
	"go.uber.org/zap"
)

// StubEngine produces deterministic silent PCM instead of calling a provider.
// It is meant for development and CI where no provider is reachable.
type StubEngine struct {
	player Player
	logger *zap.Logger

	mu      sync.Mutex
	voices  []models.Voice
	changed chan struct{}
}

// NewStubEngine returns a stub offering voices. A nil player discards audio.
func NewStubEngine(voices []models.Voice, player Player, logger *zap.Logger) *StubEngine {
	if player == nil {
		player = DiscardPlayer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubEngine{
		player:  player,
		logger:  logger,
		voices:  append([]models.Voice(nil), voices...),
		changed: make(chan struct{}, 1),
	}
}

// Voices implements Engine.
func (s *StubEngine) Voices() []models.Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Voice(nil), s.voices...)
}

// VoicesChanged implements Engine.
func (s *StubEngine) VoicesChanged() <-chan struct{} {
	return s.changed
}

// SetVoices replaces the voice list and signals the change.
func (s *StubEngine) SetVoices(voices []models.Voice) {
	s.mu.Lock()
	s.voices = append([]models.Voice(nil), voices...)
	s.mu.Unlock()
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Speak implements Engine. It plays len(text)*320 bytes of silence, about
// 10ms of 16 kHz PCM16 per byte of text.
func (s *StubEngine) Speak(ctx context.Context, u Utterance) error {
	if u.Text == "" {
		return fmt.Errorf("stub: text is required")
	}
	pcm := make([]byte, len(u.Text)*320)
	voiceID := ""
	if u.Voice != nil {
		voiceID = u.Voice.ID
	}
	s.logger.Info("stub synthesis",
		zap.String("utterance", u.ID),
		zap.String("voice", voiceID),
		zap.Int("text_length", len(u.Text)),
		zap.Int("bytes", len(pcm)),
	)
	return s.player.Play(ctx, bytes.NewReader(pcm))
}
