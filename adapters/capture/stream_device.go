// Package capture provides file-backed capture devices and segment storage.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain/repositories"
)

const readChunkSize = 4096

var (
	// ErrRecordingActive is returned when a second recording is started
	ErrRecordingActive = errors.New("a recording is already active")
	// ErrSourceClosed is returned once the audio source is exhausted
	ErrSourceClosed = errors.New("audio source closed")
)

// StreamDevice records a continuous audio stream, such as the output of
// arecord or a file, into one temporary file per segment. Audio arriving
// while no recording is active is discarded.
type StreamDevice struct {
	dir    string
	ext    string
	logger *zap.Logger

	mu      sync.Mutex
	current *recording
	err     error
}

type recording struct {
	handle repositories.CaptureHandle
	file   *os.File
	bytes  int64
}

var _ repositories.AudioCaptureDevice = (*StreamDevice)(nil)

// NewStreamDevice starts reading source in the background. Segments are
// written to dir with the ext file extension.
func NewStreamDevice(source io.Reader, dir, ext string, logger *zap.Logger) (*StreamDevice, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}

	d := &StreamDevice{dir: dir, ext: ext, logger: logger}
	go d.pump(source)
	return d, nil
}

// StartSegment implements repositories.AudioCaptureDevice
func (d *StreamDevice) StartSegment(ctx context.Context) (repositories.CaptureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return repositories.CaptureHandle{}, d.err
	}
	if d.current != nil {
		return repositories.CaptureHandle{}, ErrRecordingActive
	}

	file, err := os.CreateTemp(d.dir, "segment-*."+d.ext)
	if err != nil {
		return repositories.CaptureHandle{}, fmt.Errorf("failed to create segment file: %w", err)
	}

	handle := repositories.CaptureHandle{ID: uuid.NewString(), StartedAt: time.Now()}
	d.current = &recording{handle: handle, file: file}
	return handle, nil
}

// StopSegment implements repositories.AudioCaptureDevice
func (d *StreamDevice) StopSegment(ctx context.Context, handle repositories.CaptureHandle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := d.current
	if rec == nil || rec.handle.ID != handle.ID {
		return "", fmt.Errorf("recording %s is not active", handle.ID)
	}
	d.current = nil

	path := rec.file.Name()
	if err := rec.file.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to finalize segment: %w", err)
	}

	d.logger.Debug("Segment recorded",
		zap.String("path", path),
		zap.Int64("bytes", rec.bytes),
		zap.Duration("duration", time.Since(rec.handle.StartedAt)))
	return path, nil
}

func (d *StreamDevice) pump(source io.Reader) {
	buffer := make([]byte, readChunkSize)
	for {
		n, err := source.Read(buffer)
		if n > 0 {
			d.write(buffer[:n])
		}
		if err != nil {
			d.mu.Lock()
			if err == io.EOF {
				d.err = ErrSourceClosed
			} else {
				d.err = fmt.Errorf("failed to read audio source: %w", err)
			}
			d.mu.Unlock()
			d.logger.Info("Audio source ended", zap.Error(err))
			return
		}
	}
}

func (d *StreamDevice) write(chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return
	}
	n, err := d.current.file.Write(chunk)
	d.current.bytes += int64(n)
	if err != nil {
		d.logger.Error("Failed to write segment", zap.Error(err))
	}
}
