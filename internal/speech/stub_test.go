package speech

import (
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/hyperjump/storybook/internal/models"
)

func TestStubEngine_speakPlaysSilence(t *testing.T) {
	player := &recordingPlayer{}
	eng := NewStubEngine(nil, player, nil)
	if err := eng.Speak(context.Background(), Utterance{Text: "hello"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if len(player.played) != 1 || len(player.played[0]) != 5*320 {
		t.Fatalf("played %d blobs", len(player.played))
	}
	for _, b := range player.played[0] {
		if b != 0 {
			t.Fatal("stub audio should be silent")
		}
	}
}

func TestStubEngine_emptyText(t *testing.T) {
	eng := NewStubEngine(nil, nil, nil)
	if err := eng.Speak(context.Background(), Utterance{}); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestStubEngine_setVoicesSignals(t *testing.T) {
	eng := NewStubEngine([]models.Voice{{ID: "a"}}, nil, nil)
	if len(eng.Voices()) != 1 {
		t.Fatalf("voices = %v", eng.Voices())
	}
	eng.SetVoices([]models.Voice{{ID: "a"}, {ID: "b"}})
	select {
	case <-eng.VoicesChanged():
	default:
		t.Fatal("SetVoices should signal a change")
	}
	if len(eng.Voices()) != 2 {
		t.Errorf("voices = %v", eng.Voices())
	}
}

func TestDiscardPlayer_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (DiscardPlayer{}).Play(ctx, strings.NewReader("x")); err == nil {
		t.Error("expected context error")
	}
}

func TestNewCommandPlayer_empty(t *testing.T) {
	if _, err := NewCommandPlayer(nil, nil); err == nil {
		t.Error("expected error for empty command")
	}
}

func TestCommandPlayer(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	ok, err := NewCommandPlayer([]string{"sh", "-c", "cat > /dev/null"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ok.Play(context.Background(), strings.NewReader("pcm")); err != nil {
		t.Errorf("Play: %v", err)
	}

	failing, _ := NewCommandPlayer([]string{"sh", "-c", "echo device busy >&2; exit 3"}, nil)
	err = failing.Play(context.Background(), strings.NewReader("pcm"))
	if err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Errorf("err = %v", err)
	}
}
