// Package speech dispatches extracted text to a speech synthesis engine and
// tracks the convert control while an utterance is being spoken.
package speech

import (
	"context"
	"errors"
	"io"

	"github.com/hyperjump/storybook/internal/models"
)

var (
	// ErrNoEngine is returned when no speech engine is available.
	ErrNoEngine = errors.New("speech: no synthesis engine available")
	// ErrNoText is returned when there is nothing to speak.
	ErrNoText = errors.New("speech: no text to speak")
	// ErrBusy is returned when an utterance is already being spoken.
	ErrBusy = errors.New("speech: already speaking")
)

// Utterance is one request to speak text. Voice is nil when no voice is bound,
// in which case the engine picks its default.
type Utterance struct {
	ID    string
	Text  string
	Voice *models.Voice
}

// Engine is a speech synthesis capability.
type Engine interface {
	// Voices returns the voices known right now. The list may be empty until
	// the engine has loaded it.
	Voices() []models.Voice
	// VoicesChanged fires whenever the voice list has changed.
	VoicesChanged() <-chan struct{}
	// Speak blocks until the utterance has finished playing. A non-nil error
	// describes a failure during synthesis or playback.
	Speak(ctx context.Context, u Utterance) error
}

// starter is implemented by engines that load state in the background.
type starter interface {
	Start(ctx context.Context)
}

// Player plays 16 kHz mono PCM16 audio.
type Player interface {
	Play(ctx context.Context, pcm io.Reader) error
}
