// Package main is the Storybook CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/storybook/internal/cache"
	"github.com/hyperjump/storybook/internal/cli"
	"github.com/hyperjump/storybook/internal/config"
	"github.com/hyperjump/storybook/internal/extract"
	"github.com/hyperjump/storybook/internal/models"
	"github.com/hyperjump/storybook/internal/server"
	"github.com/hyperjump/storybook/internal/session"
	"github.com/hyperjump/storybook/internal/speech"
	"github.com/hyperjump/storybook/internal/watcher"
	"github.com/hyperjump/storybook/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/storybook/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if neither exists the
// built-in defaults are used. Returns the config and the path that was actually
// loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// argsReorder moves any flags (and their values) that appear after the file
// argument to the front so that flag.Parse() sees them.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "read":
		runRead()
	case "export":
		runExport()
	case "voices":
		runVoices()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("storybook version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds the wired session and its collaborators.
type Components struct {
	Session    *session.Session
	Dispatcher *speech.Dispatcher
	Cache      *cache.Cache
}

// initializeComponents builds the speech engine, dispatcher and session from cfg.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	engine, audioCache, err := buildEngine(&cfg.Speech, logger)
	if err != nil {
		return nil, err
	}
	dispatcher := speech.NewDispatcher(engine, speech.WithLogger(logger.Named("speech")))
	sess := session.New(
		extract.NewExtractor(),
		dispatcher,
		session.WithLogger(logger.Named("session")),
		session.WithClearTextOnFailure(cfg.Session.ClearTextOnFailure),
	)
	return &Components{Session: sess, Dispatcher: dispatcher, Cache: audioCache}, nil
}

// buildEngine returns the configured speech engine, or nil for the none provider.
func buildEngine(cfg *config.SpeechConfig, logger *zap.Logger) (speech.Engine, *cache.Cache, error) {
	var player speech.Player = speech.DiscardPlayer{}
	if len(cfg.PlayerCommand) > 0 {
		p, err := speech.NewCommandPlayer(cfg.PlayerCommand, logger.Named("player"))
		if err != nil {
			return nil, nil, err
		}
		player = p
	}

	switch cfg.Provider {
	case config.ProviderNone:
		return nil, nil, nil
	case config.ProviderElevenLabs:
		opts := []speech.ElevenLabsOption{speech.WithEngineLogger(logger.Named("elevenlabs"))}
		var audioCache *cache.Cache
		if cfg.CacheDir != "" {
			c, err := cache.New(cfg.CacheDir, int64(cfg.CacheMaxMB)<<20, logger.Named("cache"))
			if err != nil {
				return nil, nil, fmt.Errorf("audio cache: %w", err)
			}
			audioCache = c
			opts = append(opts, speech.WithCache(c))
		}
		client := speech.NewClient(cfg.APIKey, cfg.BaseURL, speech.WithRateLimit(cfg.RequestsPerSecond, 2))
		return speech.NewElevenLabsEngine(client, cfg.Model, cfg.DefaultVoiceID, player, opts...), audioCache, nil
	default:
		return speech.NewStubEngine(cfg.StubVoices, player, logger.Named("stub")), nil, nil
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file events, extraction, speech)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("speech_provider", cfg.Speech.Provider),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components.Dispatcher.Start(ctx)

	if cfg.Inbox.Directory != "" {
		inbox := newInbox(ctx, &cfg.Inbox, components.Session, logger)
		if err := inbox.Start(ctx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		defer inbox.Stop()
		logger.Info("inbox enabled", zap.String("dir", inbox.Dir()))
	}

	srv := server.NewServer(components.Session, &cfg.Server, logger.Named("http"))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Server failed", zap.Error(err))
	}
	components.Session.Wait()
	if c := components.Cache; c != nil {
		logger.Info("audio cache", zap.Int("entries", c.Len()), zap.Int64("bytes", c.Size()))
	}
}

// newInbox returns a watcher that selects every file dropped into the inbox
// directory into sess.
func newInbox(ctx context.Context, cfg *config.InboxConfig, sess *session.Session, logger *zap.Logger, opts ...watcher.WatcherOption) *watcher.Watcher {
	opts = append([]watcher.WatcherOption{watcher.WithLogger(logger.Named("inbox"))}, opts...)
	return watcher.NewWatcher(cfg.Directory, cfg.Extensions, func(path string) {
		err := sess.SelectFile(ctx, session.LocalFile(path))
		if err != nil && !errors.Is(err, session.ErrSuperseded) {
			logger.Warn("inbox file rejected", zap.String("path", path), zap.Error(err))
		}
	}, opts...)
}

// newCLIComponents loads config and wires components for a one-shot command.
func newCLIComponents(configPath string, debug bool) (*Components, *zap.Logger, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewCLILogger(cfg.Debug || debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return components, logger, nil
}

// waitForVoices returns once the dispatcher has at least one voice or timeout passes.
func waitForVoices(d *speech.Dispatcher, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		if voices, _ := d.Voices(); len(voices) > 0 || time.Now().After(deadline) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// selectLocalFile checks that path exists and selects it into sess.
func selectLocalFile(ctx context.Context, sess *session.Session, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return sess.SelectFile(ctx, session.LocalFile(path))
}

func runRead() {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	voice := fs.Int("voice", -1, "voice index (see 'storybook voices'); -1 keeps the default")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: storybook read [flags] <file.pdf|file.txt>")
		os.Exit(1)
	}

	components, logger, err := newCLIComponents(*configPath, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components.Dispatcher.Start(ctx)
	sess := components.Session

	if err := selectLocalFile(ctx, sess, fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if *voice >= 0 {
		waitForVoices(components.Dispatcher, 5*time.Second)
		if err := sess.SelectVoice(*voice); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
	_ = cli.WriteView(os.Stdout, sess.View(), cli.OutputText)

	if err := sess.Convert(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	sess.Wait()
	if msg := sess.View().Error; msg != "" {
		fmt.Fprintf(os.Stderr, "%s\n", msg)
		os.Exit(1)
	}
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outDir := fs.String("out", ".", "directory to write storybook_text.txt into")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: storybook export [flags] <file.pdf|file.txt>")
		os.Exit(1)
	}

	components, logger, err := newCLIComponents(*configPath, *debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	path, err := exportFile(context.Background(), components.Session, fs.Arg(0), *outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Println(path)
}

// exportFile extracts src and writes the download into outDir.
func exportFile(ctx context.Context, sess *session.Session, src, outDir string) (string, error) {
	if err := selectLocalFile(ctx, sess, src); err != nil {
		return "", err
	}
	d, err := sess.Download()
	if err != nil {
		return "", err
	}
	return d.SaveDir(outDir)
}

func runVoices() {
	fs := flag.NewFlagSet("voices", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for the voice list")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	components, logger, err := newCLIComponents(*configPath, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components.Dispatcher.Start(ctx)
	waitForVoices(components.Dispatcher, *timeout)
	if err := cli.WriteVoices(os.Stdout, components.Session.Voices(), format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	view, err := statusViaHTTP(*serverURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteView(os.Stdout, *view, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*models.SessionView, error) {
	resp, err := http.Get(strings.TrimRight(serverURL, "/") + "/api/v1/session")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var v models.SessionView
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &v, nil
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if err := writeDefaultConfig(*configPath, *force); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *configPath)
}

// writeDefaultConfig saves the built-in defaults to path.
func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -force to overwrite)", path)
		}
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return config.Save(path, cfg)
}

func printUsage() {
	fmt.Println(`storybook - Read PDF and text stories aloud

Usage:
  storybook server [flags]           Start the page server
  storybook read [flags] <file>      Extract a PDF/TXT file and speak it
  storybook export [flags] <file>    Extract a PDF/TXT file to storybook_text.txt
  storybook voices [flags]           List available voices
  storybook status [flags]           Show a running server's session
  storybook init [flags]             Write a default config file
  storybook version                  Show version
  storybook help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/storybook/config.yaml, falls back to ./config.yaml)
  --debug            Enable debug logging

Read Flags:
  --config string    Config file path
  --voice int        Voice index from 'storybook voices' (default: keep the engine default)

Export Flags:
  --config string    Config file path
  --out string       Output directory (default: .)

Voices Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)
  --timeout duration How long to wait for the voice list (default: 5s)

Status Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Environment:
  STORYBOOK_ELEVENLABS_API_KEY, STORYBOOK_SPEECH_PROVIDER, STORYBOOK_SERVER_PORT,
  STORYBOOK_INBOX_DIR (also read from a .env file next to the config)

Examples:
  storybook server
  storybook read -voice 1 ~/stories/three-bears.pdf
  storybook export -out ~/Desktop bedtime.txt
  STORYBOOK_SPEECH_PROVIDER=elevenlabs storybook voices -output json`)
}
