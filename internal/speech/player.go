package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// DiscardPlayer drains audio without playing it.
type DiscardPlayer struct{}

// Play implements Player.
func (DiscardPlayer) Play(ctx context.Context, pcm io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := io.Copy(io.Discard, pcm)
	return err
}

// CommandPlayer pipes audio into an external program such as aplay or sox.
type CommandPlayer struct {
	name   string
	args   []string
	logger *zap.Logger
}

// NewCommandPlayer returns a player running command (program plus arguments)
// with the PCM stream on stdin.
func NewCommandPlayer(command []string, logger *zap.Logger) (*CommandPlayer, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("speech: player command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandPlayer{name: command[0], args: command[1:], logger: logger}, nil
}

// Play implements Player. It returns once the program exits.
func (p *CommandPlayer) Play(ctx context.Context, pcm io.Reader) error {
	cmd := exec.CommandContext(ctx, p.name, p.args...)
	cmd.Stdin = pcm
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	p.logger.Debug("starting audio player", zap.String("command", p.name), zap.Strings("args", p.args))
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("audio playback failed: %w: %s", err, msg)
		}
		return fmt.Errorf("audio playback failed: %w", err)
	}
	return nil
}
