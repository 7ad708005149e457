package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hyperjump/storybook/internal/config"
	"github.com/hyperjump/storybook/internal/export"
	"github.com/hyperjump/storybook/internal/session"
	"github.com/hyperjump/storybook/internal/speech"
	"github.com/hyperjump/storybook/internal/watcher"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after file are moved first",
			args:     []string{"story.pdf", "-voice", "2"},
			expected: []string{"-voice", "2", "story.pdf"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-voice", "2", "story.pdf"},
			expected: []string{"-voice", "2", "story.pdf"},
		},
		{
			name:     "file only returns unchanged",
			args:     []string{"story.pdf"},
			expected: []string{"story.pdf"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
speech:
  provider: none
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug || cfg.Speech.Provider != config.ProviderNone {
		t.Errorf("unexpected config from cwd config.yaml: %+v", cfg)
	}
}

func TestLoadConfig_defaultsWhenNoFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("a system config exists")
	}
	chdir(t, t.TempDir())
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty for built-in defaults", resolved)
	}
	if cfg.Speech.Provider != config.ProviderStub {
		t.Errorf("provider = %q", cfg.Speech.Provider)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestBuildEngine(t *testing.T) {
	logger := zap.NewNop()
	base := config.Config{}
	config.ApplyDefaults(&base)

	none := base.Speech
	none.Provider = config.ProviderNone
	if eng, _, err := buildEngine(&none, logger); err != nil || eng != nil {
		t.Errorf("none: engine=%v err=%v", eng, err)
	}

	stub := base.Speech
	eng, _, err := buildEngine(&stub, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := eng.(*speech.StubEngine); !ok {
		t.Errorf("stub: got %T", eng)
	}

	eleven := base.Speech
	eleven.Provider = config.ProviderElevenLabs
	eleven.APIKey = "k"
	eleven.CacheDir = t.TempDir()
	eleven.CacheMaxMB = 1
	eng, audioCache, err := buildEngine(&eleven, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := eng.(*speech.ElevenLabsEngine); !ok {
		t.Errorf("elevenlabs: got %T", eng)
	}
	if audioCache == nil {
		t.Error("cache should be built when cache_dir is set")
	}

	bad := base.Speech
	bad.PlayerCommand = []string{""}
	if _, _, err := buildEngine(&bad, logger); err == nil {
		t.Error("expected error for empty player command")
	}
}

func TestExportFile(t *testing.T) {
	cfg := &config.Config{Speech: config.SpeechConfig{Provider: config.ProviderNone}}
	config.ApplyDefaults(cfg)
	components, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "story.txt")
	if err := os.WriteFile(src, []byte("The end."), 0644); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	path, err := exportFile(context.Background(), components.Session, src, out)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(out, export.FileName) {
		t.Errorf("path = %s", path)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "The end." {
		t.Errorf("exported %q", got)
	}

	_, err = exportFile(context.Background(), components.Session, filepath.Join(t.TempDir(), "story.docx"), out)
	if err == nil {
		t.Error("expected error for missing file")
	}
	odd := filepath.Join(t.TempDir(), "story.docx")
	_ = os.WriteFile(odd, []byte("x"), 0644)
	_, err = exportFile(context.Background(), components.Session, odd, out)
	if !errors.Is(err, session.ErrUnsupportedType) {
		t.Errorf("err = %v, want unsupported type", err)
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := writeDefaultConfig(path, false); err != nil {
		t.Fatal(err)
	}
	if err := writeDefaultConfig(path, false); err == nil {
		t.Error("expected error when file exists without -force")
	}
	if err := writeDefaultConfig(path, true); err != nil {
		t.Errorf("force overwrite: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 || cfg.Speech.Provider != config.ProviderStub {
		t.Errorf("loaded defaults: %+v", cfg)
	}
}

func TestInbox_selectsDroppedFile(t *testing.T) {
	cfg := &config.Config{Inbox: config.InboxConfig{Directory: t.TempDir()}}
	config.ApplyDefaults(cfg)
	components, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components.Dispatcher.Start(ctx)

	inbox := newInbox(ctx, &cfg.Inbox, components.Session, zap.NewNop(), watcher.WithDebounce(20*time.Millisecond))
	if err := inbox.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer inbox.Stop()

	if err := os.WriteFile(filepath.Join(cfg.Inbox.Directory, "bedtime.txt"), []byte("Goodnight moon"), 0644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for components.Session.Text() != "Goodnight moon" {
		if time.Now().After(deadline) {
			t.Fatalf("inbox file never selected; view = %+v", components.Session.View())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if v := components.Session.View(); v.FileName != "bedtime.txt" || !v.ContentVisible {
		t.Errorf("view = %+v", v)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(old) })
}
