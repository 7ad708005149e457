package speech

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperjump/storybook/internal/models"
	"go.uber.org/zap"
)

// State is the dispatcher state.
type State int

const (
	// Idle means the convert control is available.
	Idle State = iota
	// Speaking means an utterance is in progress.
	Speaking
)

func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "idle"
}

const (
	// ConvertLabel is the convert control's resting label.
	ConvertLabel = "Convert to Audio"
	// ConvertingLabel is shown while speaking.
	ConvertingLabel = "Converting..."
)

// Status is a snapshot of the dispatcher for presentation.
type Status struct {
	State          State
	AudioVisible   bool
	ConvertLabel   string
	ConvertEnabled bool
	Voices         []models.Voice
	SelectedVoice  int
}

// Dispatcher submits utterances to an Engine, one at a time.
type Dispatcher struct {
	engine Engine
	logger *zap.Logger

	mu           sync.Mutex
	ctx          context.Context
	state        State
	audioVisible bool
	voices       []models.Voice
	selected     int
	version      uint64
	wg           sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher returns an idle dispatcher. engine may be nil when the host
// has no speech capability; Convert then fails with ErrNoEngine.
func NewDispatcher(engine Engine, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		engine:   engine,
		logger:   zap.NewNop(),
		ctx:      context.Background(),
		selected: -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start refreshes the voice list once and then again every time the engine
// reports a change, until ctx is done. Utterances run under ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()
	if d.engine == nil {
		return
	}
	if s, ok := d.engine.(starter); ok {
		s.Start(ctx)
	}
	d.RefreshVoices()
	changed := d.engine.VoicesChanged()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changed:
				if !ok {
					return
				}
				d.RefreshVoices()
			}
		}
	}()
}

// RefreshVoices reloads the voice list from the engine. A selection that no
// longer fits the list falls back to the first voice.
func (d *Dispatcher) RefreshVoices() {
	if d.engine == nil {
		return
	}
	voices := d.engine.Voices()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.voices = append([]models.Voice(nil), voices...)
	switch {
	case len(d.voices) == 0:
		d.selected = -1
	case d.selected < 0 || d.selected >= len(d.voices):
		d.selected = 0
	}
	d.version++
	d.logger.Debug("voices refreshed", zap.Int("count", len(d.voices)), zap.Int("selected", d.selected))
}

// Voices returns the current voice list and the selected index (-1 for none).
func (d *Dispatcher) Voices() ([]models.Voice, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Voice(nil), d.voices...), d.selected
}

// SelectVoice selects the voice at index i of the current list.
func (d *Dispatcher) SelectVoice(i int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.voices) {
		return fmt.Errorf("speech: voice index %d out of range (%d voices)", i, len(d.voices))
	}
	d.selected = i
	d.version++
	return nil
}

// HideAudio hides the audio controls section.
func (d *Dispatcher) HideAudio() {
	d.mu.Lock()
	if d.audioVisible {
		d.audioVisible = false
		d.version++
	}
	d.mu.Unlock()
}

// Version returns a counter that moves whenever Status would change.
func (d *Dispatcher) Version() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Status returns a snapshot of the dispatcher.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		State:          d.state,
		AudioVisible:   d.audioVisible,
		ConvertLabel:   ConvertLabel,
		ConvertEnabled: d.state == Idle,
		Voices:         append([]models.Voice(nil), d.voices...),
		SelectedVoice:  d.selected,
	}
	if d.state == Speaking {
		st.ConvertLabel = ConvertingLabel
	}
	return st
}

// Convert speaks text with the selected voice. It returns as soon as the
// utterance is submitted; done is called with the engine's result just
// before the dispatcher returns to Idle. done must not call Convert.
func (d *Dispatcher) Convert(text string, done func(err error)) (Utterance, error) {
	if text == "" {
		return Utterance{}, ErrNoText
	}
	if d.engine == nil {
		return Utterance{}, ErrNoEngine
	}
	d.mu.Lock()
	if d.state == Speaking {
		d.mu.Unlock()
		return Utterance{}, ErrBusy
	}
	u := Utterance{ID: uuid.NewString(), Text: text}
	if len(d.voices) > 0 && d.selected >= 0 && d.selected < len(d.voices) {
		v := d.voices[d.selected]
		u.Voice = &v
	}
	d.state = Speaking
	d.audioVisible = true
	d.version++
	ctx := d.ctx
	d.wg.Add(1)
	d.mu.Unlock()

	voiceID := ""
	if u.Voice != nil {
		voiceID = u.Voice.ID
	}
	d.logger.Debug("speaking", zap.String("utterance", u.ID), zap.String("voice", voiceID), zap.Int("chars", len(text)))

	go func() {
		defer d.wg.Done()
		err := d.engine.Speak(ctx, u)
		if err != nil {
			d.logger.Debug("speech failed", zap.String("utterance", u.ID), zap.Error(err))
		} else {
			d.logger.Debug("speech finished", zap.String("utterance", u.ID))
		}
		// Report before returning to Idle.
		if done != nil {
			done(err)
		}
		d.mu.Lock()
		d.state = Idle
		d.version++
		d.mu.Unlock()
	}()
	return u, nil
}

// Wait blocks until no utterance is in progress.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
