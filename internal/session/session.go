// Package session holds the state of one reading session: the chosen file,
// its extracted text, the message line and which sections are visible. It
// routes files to the extractor and text to the speech dispatcher and export.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hyperjump/storybook/internal/export"
	"github.com/hyperjump/storybook/internal/extract"
	"github.com/hyperjump/storybook/internal/models"
	"github.com/hyperjump/storybook/internal/speech"
	"go.uber.org/zap"
)

// Messages shown to the user.
const (
	MsgUnsupportedType = "Please select a PDF or TXT file."
	MsgPDFError        = "Error reading PDF: "
	MsgTextReadError   = "Error reading text file."
	MsgNoTextToConvert = "No text content to convert."
	MsgNoTextToExport  = "No text content to convert to audio."
	MsgNoSpeech        = "Text-to-speech is not supported in this environment."
	MsgBusy            = "Conversion already in progress."
)

var (
	// ErrUnsupportedType is returned for files that are neither PDF nor text.
	ErrUnsupportedType = errors.New("session: unsupported file type")
	// ErrSuperseded is returned when a newer selection replaced the file
	// before its extraction finished. The result is discarded.
	ErrSuperseded = errors.New("session: superseded by a newer selection")
)

// UserError is a failure that has been shown to the user as Msg.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string { return e.Msg }
func (e *UserError) Unwrap() error { return e.Err }

// Session is the controller for one page session. All methods are safe for
// concurrent use.
type Session struct {
	extractor      *extract.Extractor
	speech         *speech.Dispatcher
	logger         *zap.Logger
	clearOnFailure bool

	mu             sync.Mutex
	text           string
	fileName       string
	errMsg         string
	content        string
	contentVisible bool
	loading        bool
	generation     uint64
	version        uint64
	cancel         context.CancelFunc
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClearTextOnFailure makes a failed extraction discard the previous
// file's text instead of keeping it available for convert and export.
func WithClearTextOnFailure(clear bool) Option {
	return func(s *Session) { s.clearOnFailure = clear }
}

// New returns an empty session.
func New(extractor *extract.Extractor, dispatcher *speech.Dispatcher, opts ...Option) *Session {
	s := &Session{
		extractor: extractor,
		speech:    dispatcher,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SelectFile takes a newly chosen file, extracts its text and presents it.
// It blocks until extraction is done. Selecting another file while this one
// is still extracting cancels it and its result is dropped (ErrSuperseded).
func (s *Session) SelectFile(ctx context.Context, f File) error {
	name := f.Name()

	s.mu.Lock()
	s.fileName = name
	s.errMsg = ""
	s.contentVisible = false
	s.speech.HideAudio()
	s.generation++
	gen := s.generation
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.loading = false
	s.version++

	kind, ok := extract.KindFromName(name)
	if !ok {
		s.errMsg = MsgUnsupportedType
		s.mu.Unlock()
		s.logger.Debug("rejected file", zap.String("file", name))
		return &UserError{Msg: MsgUnsupportedType, Err: ErrUnsupportedType}
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel
	s.loading = true
	s.mu.Unlock()

	s.logger.Debug("extracting", zap.String("file", name), zap.String("kind", string(kind)), zap.Uint64("generation", gen))
	text, err := s.extract(ctx, f, kind)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug("dropping stale extraction", zap.String("file", name), zap.Uint64("generation", gen))
		return ErrSuperseded
	}
	s.cancel = nil
	s.loading = false
	s.version++
	if err != nil {
		var ue *UserError
		if !errors.As(err, &ue) {
			ue = &UserError{Msg: err.Error(), Err: err}
		}
		s.errMsg = ue.Msg
		if s.clearOnFailure {
			s.text = ""
		}
		s.logger.Debug("extraction failed", zap.String("file", name), zap.Error(ue.Err))
		return ue
	}
	s.text = text
	s.present(text)
	s.logger.Info("file loaded", zap.String("file", name), zap.Int("chars", len(text)))
	return nil
}

func (s *Session) extract(ctx context.Context, f File, kind extract.Kind) (string, error) {
	content, err := readAll(f)
	if err == nil {
		var text string
		text, err = s.extractor.ExtractBytes(ctx, content, kind)
		if err == nil {
			return text, nil
		}
	}
	if kind == extract.KindText {
		return "", &UserError{Msg: MsgTextReadError, Err: err}
	}
	return "", &UserError{Msg: MsgPDFError + err.Error(), Err: err}
}

func readAll(f File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name(), err)
	}
	return content, nil
}

// present writes text into the content area and shows it. Must be called
// with mu held.
func (s *Session) present(text string) {
	s.content = text
	s.contentVisible = true
}

// Convert starts speaking the extracted text with the selected voice.
func (s *Session) Convert() error {
	s.mu.Lock()
	text := s.text
	s.mu.Unlock()

	if _, err := s.speech.Convert(text, s.speechDone); err != nil {
		msg := err.Error()
		switch {
		case errors.Is(err, speech.ErrNoText):
			msg = MsgNoTextToConvert
		case errors.Is(err, speech.ErrNoEngine):
			msg = MsgNoSpeech
		case errors.Is(err, speech.ErrBusy):
			msg = MsgBusy
		}
		s.setError(msg)
		return &UserError{Msg: msg, Err: err}
	}
	return nil
}

func (s *Session) speechDone(err error) {
	if err != nil {
		s.setError(err.Error())
	}
}

// Download returns the extracted text packaged for saving.
func (s *Session) Download() (*export.Download, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := export.Text(s.text)
	if err != nil {
		s.errMsg = MsgNoTextToExport
		s.version++
		return nil, &UserError{Msg: MsgNoTextToExport, Err: err}
	}
	return d, nil
}

// SelectVoice changes the voice used by the next conversion.
func (s *Session) SelectVoice(i int) error {
	return s.speech.SelectVoice(i)
}

// Voices returns the voice list and selected index.
func (s *Session) Voices() models.VoiceList {
	voices, selected := s.speech.Voices()
	return models.VoiceList{Voices: voices, Selected: selected}
}

// Text returns the extracted text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// View returns a snapshot of what the page shows.
func (s *Session) View() models.SessionView {
	st := s.speech.Status()
	s.mu.Lock()
	defer s.mu.Unlock()
	v := models.SessionView{
		FileName:       s.fileName,
		Error:          s.errMsg,
		Loading:        s.loading,
		ContentVisible: s.contentVisible,
		AudioVisible:   st.AudioVisible,
		Speaking:       st.State == speech.Speaking,
		ConvertLabel:   st.ConvertLabel,
		ConvertEnabled: st.ConvertEnabled,
		Voices:         st.Voices,
		SelectedVoice:  st.SelectedVoice,
	}
	if s.contentVisible {
		v.Content = s.content
	}
	if v.Voices == nil {
		v.Voices = []models.Voice{}
	}
	return v
}

// Version returns a counter that moves whenever View would change.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	v := s.version
	s.mu.Unlock()
	return v + s.speech.Version()
}

// Wait blocks until any utterance in progress has finished.
func (s *Session) Wait() {
	s.speech.Wait()
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.version++
	s.mu.Unlock()
}
