// Package playback plays audio clips by writing them to disk and handing
// them to an external player command.
package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

// CommandPlayer writes each clip to dir and runs command with the file path
// appended, e.g. ["ffplay", "-nodisp", "-autoexit"]. Without a command the
// clip is only saved and playback completes immediately.
type CommandPlayer struct {
	dir     string
	command []string
	logger  *zap.Logger

	mu      sync.Mutex
	current *exec.Cmd
}

var _ repositories.AudioPlayer = (*CommandPlayer)(nil)

// NewCommandPlayer creates a player saving clips under dir
func NewCommandPlayer(dir string, command []string, logger *zap.Logger) (*CommandPlayer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create playback directory: %w", err)
	}
	return &CommandPlayer{dir: dir, command: command, logger: logger}, nil
}

// Play implements repositories.AudioPlayer
func (p *CommandPlayer) Play(ctx context.Context, clip repositories.AudioClip, done func(error)) error {
	ext := clip.Format
	if ext == "" {
		ext = "bin"
	}
	file, err := os.CreateTemp(p.dir, "clip-*."+ext)
	if err != nil {
		return fmt.Errorf("failed to create clip file: %w", err)
	}
	if _, err := file.Write(clip.Data); err != nil {
		file.Close()
		return fmt.Errorf("failed to write clip: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write clip: %w", err)
	}

	if len(p.command) == 0 {
		p.logger.Info("Clip saved", zap.String("path", file.Name()), zap.Int("bytes", len(clip.Data)))
		go done(nil)
		return nil
	}

	args := append(append([]string(nil), p.command[1:]...), file.Name())
	cmd := exec.Command(p.command[0], args...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		return errors.New("a clip is already playing")
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start player: %w", err)
	}
	p.current = cmd

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		if p.current == cmd {
			p.current = nil
		}
		p.mu.Unlock()
		done(err)
	}()
	return nil
}

// Stop implements repositories.AudioPlayer. The done callback of the
// stopped clip still fires once the process exits.
func (p *CommandPlayer) Stop() error {
	p.mu.Lock()
	cmd := p.current
	p.current = nil
	p.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to stop player: %w", err)
	}
	return nil
}
