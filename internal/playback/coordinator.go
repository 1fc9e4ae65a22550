// Package playback owns the audio output of a session. At most one speech or
// audio clip plays at a time.
package playback

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

type output int

const (
	outputNone output = iota
	outputSpeech
	outputClip
)

// Coordinator arbitrates between the speech synthesizer and the audio player
type Coordinator struct {
	synth  repositories.SpeechSynthesizer
	player repositories.AudioPlayer
	format string
	logger *zap.Logger

	// op serializes start and stop requests
	op sync.Mutex

	mu       sync.Mutex
	current  output
	activeID string
	run      uint64
}

// NewCoordinator creates a coordinator. format labels server clips for the
// player.
func NewCoordinator(synth repositories.SpeechSynthesizer, player repositories.AudioPlayer, format string, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		synth:  synth,
		player: player,
		format: format,
		logger: logger,
	}
}

// ActiveID returns the id of what is playing, or "" when idle
func (c *Coordinator) ActiveID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// Playing reports whether any output is active
func (c *Coordinator) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != outputNone
}

// Speak synthesizes text. Asking again for the id that is already speaking
// stops it instead.
func (c *Coordinator) Speak(ctx context.Context, text, language, id string) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	toggle := c.current != outputNone && id != "" && c.activeID == id
	c.mu.Unlock()

	if err := c.stop(); err != nil {
		c.logger.Warn("Failed to stop previous output", zap.Error(err))
	}
	if toggle {
		c.logger.Debug("Speech toggled off", zap.String("id", id))
		return nil
	}

	run := c.begin(outputSpeech, id)
	if err := c.synth.Speak(ctx, text, language, func(err error) { c.finish(run, err) }); err != nil {
		c.finish(run, err)
		return fmt.Errorf("start speech: %w", err)
	}
	return nil
}

// PlayPayload decodes and plays a base64 clip sent by the service
func (c *Coordinator) PlayPayload(ctx context.Context, base64Audio string) error {
	data, err := base64.StdEncoding.DecodeString(base64Audio)
	if err != nil {
		return fmt.Errorf("decode audio payload: %w", err)
	}
	return c.PlayAudio(ctx, "", data)
}

// PlayAudio plays a decoded clip under id, replacing anything playing
func (c *Coordinator) PlayAudio(ctx context.Context, id string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("play audio: empty clip")
	}

	c.op.Lock()
	defer c.op.Unlock()

	if err := c.stop(); err != nil {
		c.logger.Warn("Failed to stop previous output", zap.Error(err))
	}

	run := c.begin(outputClip, id)
	clip := repositories.AudioClip{Data: data, Format: c.format}
	if err := c.player.Play(ctx, clip, func(err error) { c.finish(run, err) }); err != nil {
		c.finish(run, err)
		return fmt.Errorf("start playback: %w", err)
	}
	return nil
}

// Stop silences any output
func (c *Coordinator) Stop() error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.stop()
}

// stop ends the current output. Its done callback becomes stale first so
// it cannot clear a newer run.
func (c *Coordinator) stop() error {
	c.mu.Lock()
	current := c.current
	c.current = outputNone
	c.activeID = ""
	c.run++
	c.mu.Unlock()

	switch current {
	case outputSpeech:
		return c.synth.Stop()
	case outputClip:
		return c.player.Stop()
	}
	return nil
}

func (c *Coordinator) begin(out output, id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.run++
	c.current = out
	c.activeID = id
	return c.run
}

// finish clears the active output if run is still the current one
func (c *Coordinator) finish(run uint64, err error) {
	c.mu.Lock()
	if c.run != run {
		c.mu.Unlock()
		return
	}
	c.current = outputNone
	c.activeID = ""
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Playback ended with error", zap.Error(err))
	}
}
