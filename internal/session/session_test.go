package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/hyperjump/storybook/internal/export"
	"github.com/hyperjump/storybook/internal/extract"
	"github.com/hyperjump/storybook/internal/models"
	"github.com/hyperjump/storybook/internal/speech"
)

// gatedEngine blocks Speak until a result is sent on finish.
type gatedEngine struct {
	mu      sync.Mutex
	voices  []models.Voice
	calls   []speech.Utterance
	started chan struct{}
	finish  chan error
	changed chan struct{}
}

func newGatedEngine(voices ...models.Voice) *gatedEngine {
	return &gatedEngine{
		voices:  voices,
		started: make(chan struct{}, 1),
		finish:  make(chan error),
		changed: make(chan struct{}),
	}
}

func (g *gatedEngine) Voices() []models.Voice        { return g.voices }
func (g *gatedEngine) VoicesChanged() <-chan struct{} { return g.changed }
func (g *gatedEngine) Speak(_ context.Context, u speech.Utterance) error {
	g.mu.Lock()
	g.calls = append(g.calls, u)
	g.mu.Unlock()
	g.started <- struct{}{}
	return <-g.finish
}

func (g *gatedEngine) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// countingParser records whether the PDF extractor was invoked.
type countingParser struct {
	mu    sync.Mutex
	calls int
	doc   extract.Document
	err   error
}

func (p *countingParser) Parse([]byte) (extract.Document, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.doc, nil
}

type staticDoc [][]string

func (d staticDoc) NumPages() int { return len(d) }
func (d staticDoc) PageFragments(_ context.Context, page int) ([]string, error) {
	return d[page-1], nil
}

type failingFile struct{ name string }

func (f failingFile) Name() string { return f.name }
func (f failingFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(errReader{}), nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func newTestSession(eng speech.Engine, parser extract.Parser, opts ...Option) (*Session, *speech.Dispatcher) {
	var ex *extract.Extractor
	if parser != nil {
		ex = extract.NewExtractor(extract.WithParser(parser))
	} else {
		ex = extract.NewExtractor()
	}
	d := speech.NewDispatcher(eng)
	d.Start(context.Background())
	return New(ex, d, opts...), d
}

func TestSelectFile_rejectsUnsupportedType(t *testing.T) {
	parser := &countingParser{doc: staticDoc{{"x"}}}
	s, _ := newTestSession(newGatedEngine(), parser)
	for _, name := range []string{"story.docx", "story.pdf.zip", "README", "image.PNG"} {
		err := s.SelectFile(context.Background(), MemFile(name, []byte("%PDF-1.4")))
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("%s: err = %v", name, err)
		}
		v := s.View()
		if v.Error != MsgUnsupportedType || v.ContentVisible || v.AudioVisible {
			t.Errorf("%s: view = %+v", name, v)
		}
	}
	if parser.calls != 0 {
		t.Errorf("extractor invoked %d times", parser.calls)
	}
	if s.Text() != "" {
		t.Error("text should be unset")
	}
}

func TestSelectFile_plainText(t *testing.T) {
	s, _ := newTestSession(newGatedEngine(), nil)
	content := " Hello world \r\n"
	if err := s.SelectFile(context.Background(), MemFile("Story.TXT", []byte(content))); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	v := s.View()
	if !v.ContentVisible || v.Content != content || v.Error != "" || v.FileName != "Story.TXT" {
		t.Errorf("view = %+v", v)
	}
	if s.Text() != content {
		t.Errorf("text = %q", s.Text())
	}
}

func TestSelectFile_pdf(t *testing.T) {
	parser := &countingParser{doc: staticDoc{{"Chapter", "One"}, {"The", "end."}}}
	s, _ := newTestSession(newGatedEngine(), parser)
	if err := s.SelectFile(context.Background(), MemFile("book.pdf", []byte("%PDF"))); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if got := s.View().Content; got != "Chapter One\n\nThe end." {
		t.Errorf("content = %q", got)
	}
}

func TestSelectFile_pdfFailureKeepsPreviousText(t *testing.T) {
	parser := &countingParser{err: errors.New("Invalid PDF structure")}
	s, _ := newTestSession(newGatedEngine(), parser)
	_ = s.SelectFile(context.Background(), MemFile("a.txt", []byte("old text")))

	err := s.SelectFile(context.Background(), MemFile("b.pdf", []byte("garbage")))
	var ue *UserError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UserError", err)
	}
	v := s.View()
	if v.Error != "Error reading PDF: Invalid PDF structure" {
		t.Errorf("error = %q", v.Error)
	}
	if v.ContentVisible {
		t.Error("content should stay hidden after a failure")
	}
	if s.Text() != "old text" {
		t.Errorf("text = %q, previous text is kept by default", s.Text())
	}
}

func TestSelectFile_clearTextOnFailure(t *testing.T) {
	s, _ := newTestSession(newGatedEngine(), nil, WithClearTextOnFailure(true))
	_ = s.SelectFile(context.Background(), MemFile("a.txt", []byte("old text")))
	_ = s.SelectFile(context.Background(), failingFile{name: "b.txt"})
	if s.Text() != "" {
		t.Errorf("text = %q, want cleared", s.Text())
	}
	if err := s.Convert(); err == nil || s.View().Error != MsgNoTextToConvert {
		t.Errorf("convert err = %v, view error = %q", err, s.View().Error)
	}
}

func TestSelectFile_textReadFailure(t *testing.T) {
	s, _ := newTestSession(newGatedEngine(), nil)
	err := s.SelectFile(context.Background(), failingFile{name: "notes.txt"})
	if err == nil || err.Error() != MsgTextReadError {
		t.Errorf("err = %v", err)
	}
	if s.View().Error != MsgTextReadError {
		t.Errorf("error = %q", s.View().Error)
	}
}

func TestSelectFile_newErrorReplacesOld(t *testing.T) {
	s, _ := newTestSession(newGatedEngine(), nil)
	_ = s.SelectFile(context.Background(), MemFile("a.doc", nil))
	_ = s.SelectFile(context.Background(), failingFile{name: "b.txt"})
	if got := s.View().Error; got != MsgTextReadError {
		t.Errorf("error = %q", got)
	}
	_ = s.SelectFile(context.Background(), MemFile("c.txt", []byte("ok")))
	if got := s.View().Error; got != "" {
		t.Errorf("error should be cleared on acceptance, got %q", got)
	}
}

// blockingDoc holds page 1 until release is closed.
type blockingDoc struct {
	entered chan struct{}
	release chan struct{}
	text    string
}

func (d *blockingDoc) NumPages() int { return 1 }
func (d *blockingDoc) PageFragments(ctx context.Context, _ int) ([]string, error) {
	close(d.entered)
	select {
	case <-d.release:
		return []string{d.text}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type docParser struct{ doc extract.Document }

func (p docParser) Parse([]byte) (extract.Document, error) { return p.doc, nil }

func TestSelectFile_newerSelectionWins(t *testing.T) {
	slow := &blockingDoc{entered: make(chan struct{}), release: make(chan struct{}), text: "stale"}
	s, _ := newTestSession(newGatedEngine(), docParser{doc: slow})

	errc := make(chan error, 1)
	go func() {
		errc <- s.SelectFile(context.Background(), MemFile("slow.pdf", nil))
	}()
	<-slow.entered

	if err := s.SelectFile(context.Background(), MemFile("fast.txt", []byte("fresh"))); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	close(slow.release)
	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("slow err = %v, want ErrSuperseded", err)
	}
	v := s.View()
	if v.Content != "fresh" || s.Text() != "fresh" || v.FileName != "fast.txt" || v.Error != "" || v.Loading {
		t.Errorf("view = %+v", v)
	}
}

func TestSelectFile_rejectedSelectionSupersedesInFlight(t *testing.T) {
	slow := &blockingDoc{entered: make(chan struct{}), release: make(chan struct{}), text: "stale"}
	s, _ := newTestSession(newGatedEngine(), docParser{doc: slow})
	errc := make(chan error, 1)
	go func() {
		errc <- s.SelectFile(context.Background(), MemFile("slow.pdf", nil))
	}()
	<-slow.entered
	_ = s.SelectFile(context.Background(), MemFile("picture.jpg", nil))
	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("slow err = %v", err)
	}
	if s.Text() != "" || s.View().Error != MsgUnsupportedType {
		t.Errorf("text = %q, view = %+v", s.Text(), s.View())
	}
}

func TestConvert_noText(t *testing.T) {
	eng := newGatedEngine()
	s, _ := newTestSession(eng, nil)
	err := s.Convert()
	if err == nil || err.Error() != MsgNoTextToConvert {
		t.Fatalf("err = %v", err)
	}
	if eng.count() != 0 {
		t.Error("speech engine must not be invoked")
	}
	if s.View().Error != MsgNoTextToConvert {
		t.Errorf("error = %q", s.View().Error)
	}
}

func TestConvert_noSpeechCapability(t *testing.T) {
	s, _ := newTestSession(nil, nil)
	_ = s.SelectFile(context.Background(), MemFile("a.txt", []byte("hi")))
	if err := s.Convert(); err == nil || s.View().Error != MsgNoSpeech {
		t.Errorf("err = %v, view error = %q", err, s.View().Error)
	}
}

func TestConvert_speechErrorRestoresControl(t *testing.T) {
	eng := newGatedEngine()
	s, _ := newTestSession(eng, nil)
	_ = s.SelectFile(context.Background(), MemFile("a.txt", []byte("hi")))
	if err := s.Convert(); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	<-eng.started
	eng.finish <- errors.New("audio-busy")
	s.Wait()
	v := s.View()
	if !v.ConvertEnabled || v.ConvertLabel != speech.ConvertLabel || v.Speaking {
		t.Errorf("view = %+v", v)
	}
	if v.Error != "audio-busy" {
		t.Errorf("error = %q", v.Error)
	}
}

// The example scenario: story.txt, convert with no voices, then export.
func TestScenario_readAndExport(t *testing.T) {
	eng := newGatedEngine()
	s, _ := newTestSession(eng, nil)

	if err := s.SelectFile(context.Background(), MemFile("story.txt", []byte("Hello world"))); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}
	if v := s.View(); v.Content != "Hello world" || v.Error != "" {
		t.Fatalf("view = %+v", v)
	}

	if err := s.Convert(); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	<-eng.started
	v := s.View()
	if !v.AudioVisible || v.ConvertEnabled || v.ConvertLabel != speech.ConvertingLabel {
		t.Errorf("while speaking view = %+v", v)
	}
	eng.mu.Lock()
	if eng.calls[0].Voice != nil || eng.calls[0].Text != "Hello world" {
		t.Errorf("utterance = %+v", eng.calls[0])
	}
	eng.mu.Unlock()
	eng.finish <- nil
	s.Wait()
	if v := s.View(); !v.ConvertEnabled || v.ConvertLabel != speech.ConvertLabel {
		t.Errorf("after finish view = %+v", v)
	}

	d, err := s.Download()
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if d.Name != export.FileName || d.ContentType != "text/plain" || d.Body != "Hello world" {
		t.Errorf("download = %+v", d)
	}
}

func TestDownload_noText(t *testing.T) {
	s, _ := newTestSession(newGatedEngine(), nil)
	d, err := s.Download()
	if d != nil || !errors.Is(err, export.ErrNoText) {
		t.Fatalf("download = %v, err = %v", d, err)
	}
	if s.View().Error != MsgNoTextToExport {
		t.Errorf("error = %q", s.View().Error)
	}
}

func TestSelectFile_hidesAudioSection(t *testing.T) {
	eng := newGatedEngine()
	s, _ := newTestSession(eng, nil)
	_ = s.SelectFile(context.Background(), MemFile("a.txt", []byte("one")))
	_ = s.Convert()
	<-eng.started
	eng.finish <- nil
	s.Wait()
	if !s.View().AudioVisible {
		t.Fatal("audio should be visible after convert")
	}
	_ = s.SelectFile(context.Background(), MemFile("b.txt", []byte("two")))
	if s.View().AudioVisible {
		t.Error("a new selection hides the audio section")
	}
}

func TestVoices(t *testing.T) {
	eng := newGatedEngine(models.Voice{ID: "a", Name: "A"}, models.Voice{ID: "b", Name: "B"})
	s, _ := newTestSession(eng, nil)
	if err := s.SelectVoice(1); err != nil {
		t.Fatalf("SelectVoice: %v", err)
	}
	vl := s.Voices()
	if len(vl.Voices) != 2 || vl.Selected != 1 {
		t.Errorf("voices = %+v", vl)
	}
	if err := s.SelectVoice(5); err == nil {
		t.Error("expected out of range error")
	}
	if !strings.Contains(s.View().Voices[1].Name, "B") {
		t.Errorf("view voices = %+v", s.View().Voices)
	}
}

func TestVersion_movesOnlyWithView(t *testing.T) {
	eng := newGatedEngine(models.Voice{ID: "a"}, models.Voice{ID: "b"})
	s, _ := newTestSession(eng, nil)

	v0 := s.Version()
	_ = s.View()
	if s.Version() != v0 {
		t.Fatal("reading the view must not move the version")
	}

	_ = s.SelectFile(context.Background(), MemFile("a.txt", []byte("one")))
	v1 := s.Version()
	if v1 == v0 {
		t.Error("selecting a file should move the version")
	}

	_ = s.SelectFile(context.Background(), MemFile("a.doc", nil))
	v2 := s.Version()
	if v2 == v1 {
		t.Error("a rejected file should move the version")
	}

	_ = s.SelectVoice(1)
	v3 := s.Version()
	if v3 == v2 {
		t.Error("selecting a voice should move the version")
	}

	if err := s.Convert(); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	<-eng.started
	v4 := s.Version()
	if v4 == v3 {
		t.Error("starting speech should move the version")
	}
	eng.finish <- errors.New("audio-busy")
	s.Wait()
	if s.Version() == v4 {
		t.Error("finishing speech should move the version")
	}
}
