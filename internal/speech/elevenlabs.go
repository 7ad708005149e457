package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/storybook/internal/cache"
	"github.com/hyperjump/storybook/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the ElevenLabs API base URL.
	DefaultBaseURL = "https://api.elevenlabs.io/v1"
	// DefaultTimeout bounds one HTTP request.
	DefaultTimeout = 60 * time.Second
)

// Client calls the ElevenLabs HTTP API.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRateLimit caps outgoing requests at perSecond, allowing bursts of burst.
// A non-positive perSecond leaves requests unlimited.
func WithRateLimit(perSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient returns a client for the given API key. An empty baseURL selects
// DefaultBaseURL.
func NewClient(apiKey, baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("elevenlabs: rate limit: %w", err)
		}
	}
	req.Header.Set("xi-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	return resp, nil
}

type voicesResponse struct {
	Voices []struct {
		VoiceID string            `json:"voice_id"`
		Name    string            `json:"name"`
		Labels  map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices available to the account.
func (c *Client) ListVoices(ctx context.Context) ([]models.Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: API error (status %d): %s", resp.StatusCode, string(body))
	}
	var out voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode voices: %w", err)
	}
	voices := make([]models.Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		voices = append(voices, models.Voice{ID: v.VoiceID, Name: v.Name, Language: v.Labels["language"]})
	}
	return voices, nil
}

// SynthesizeRequest is the body of a text-to-speech request.
type SynthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// SynthesizeStream requests speech for req and returns the PCM stream
// (16-bit signed little-endian mono, 16 kHz). The caller closes the reader.
func (c *Client) SynthesizeStream(ctx context.Context, voiceID string, req SynthesizeRequest) (io.ReadCloser, error) {
	if voiceID == "" {
		return nil, fmt.Errorf("elevenlabs: voice_id is required")
	}
	if req.Text == "" {
		return nil, fmt.Errorf("elevenlabs: text is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/text-to-speech/%s/stream?output_format=pcm_16000", c.baseURL, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("elevenlabs: API error (status %d): %s", resp.StatusCode, string(errBody))
	}
	return resp.Body, nil
}

// ElevenLabsEngine speaks through the ElevenLabs API. Its voice list starts
// empty and is filled in the background once Start is called.
type ElevenLabsEngine struct {
	client       *Client
	model        string
	defaultVoice string
	player       Player
	cache        *cache.Cache
	logger       *zap.Logger

	mu      sync.Mutex
	voices  []models.Voice
	changed chan struct{}
}

// ElevenLabsOption configures an ElevenLabsEngine.
type ElevenLabsOption func(*ElevenLabsEngine)

// WithCache stores synthesized audio in c.
func WithCache(c *cache.Cache) ElevenLabsOption {
	return func(e *ElevenLabsEngine) { e.cache = c }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l *zap.Logger) ElevenLabsOption {
	return func(e *ElevenLabsEngine) { e.logger = l }
}

// NewElevenLabsEngine returns an engine using model and defaultVoice for
// utterances that carry no voice.
func NewElevenLabsEngine(client *Client, model, defaultVoice string, player Player, opts ...ElevenLabsOption) *ElevenLabsEngine {
	e := &ElevenLabsEngine{
		client:       client,
		model:        model,
		defaultVoice: defaultVoice,
		player:       player,
		logger:       zap.NewNop(),
		changed:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start loads the voice list in the background.
func (e *ElevenLabsEngine) Start(ctx context.Context) {
	go func() {
		voices, err := e.client.ListVoices(ctx)
		if err != nil {
			e.logger.Warn("loading voices failed", zap.Error(err))
			return
		}
		e.mu.Lock()
		e.voices = voices
		e.mu.Unlock()
		e.logger.Info("voices loaded", zap.Int("count", len(voices)))
		select {
		case e.changed <- struct{}{}:
		default:
		}
	}()
}

// Voices implements Engine.
func (e *ElevenLabsEngine) Voices() []models.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Voice(nil), e.voices...)
}

// VoicesChanged implements Engine.
func (e *ElevenLabsEngine) VoicesChanged() <-chan struct{} {
	return e.changed
}

// Speak implements Engine. The whole text goes out as one request.
func (e *ElevenLabsEngine) Speak(ctx context.Context, u Utterance) error {
	voiceID := e.defaultVoice
	if u.Voice != nil && u.Voice.ID != "" {
		voiceID = u.Voice.ID
	}
	var key string
	if e.cache != nil {
		key = cache.Key(u.Text, e.model, voiceID)
		if pcm, ok := e.cache.Get(key); ok {
			e.logger.Debug("cache hit", zap.String("utterance", u.ID))
			return e.player.Play(ctx, bytes.NewReader(pcm))
		}
	}
	rc, err := e.client.SynthesizeStream(ctx, voiceID, SynthesizeRequest{Text: u.Text, ModelID: e.model})
	if err != nil {
		return err
	}
	defer rc.Close()
	if e.cache == nil {
		return e.player.Play(ctx, rc)
	}
	pcm, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	if err := e.cache.Put(key, pcm); err != nil {
		e.logger.Warn("caching audio failed", zap.Error(err))
	}
	return e.player.Play(ctx, bytes.NewReader(pcm))
}
