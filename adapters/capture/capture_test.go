package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestStreamDeviceRecordsBetweenStartAndStop(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	dir := t.TempDir()
	device, err := NewStreamDevice(reader, dir, "wav", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewStreamDevice failed: %v", err)
	}
	ctx := context.Background()

	// an empty pipe write returns only after the pump has handled the
	// previous chunk
	feed := func(chunk string) {
		writer.Write([]byte(chunk))
		writer.Write(nil)
	}

	// nothing records before a segment starts
	feed("dropped")

	handle, err := device.StartSegment(ctx)
	if err != nil {
		t.Fatalf("StartSegment failed: %v", err)
	}
	if _, err := device.StartSegment(ctx); !errors.Is(err, ErrRecordingActive) {
		t.Errorf("Expected ErrRecordingActive, got %v", err)
	}

	feed("hello ")
	feed("world")

	path, err := device.StopSegment(ctx, handle)
	if err != nil {
		t.Fatalf("StopSegment failed: %v", err)
	}
	if filepath.Dir(path) != dir || filepath.Ext(path) != ".wav" {
		t.Errorf("Unexpected segment path %s", path)
	}

	data, err := FileStore{}.Read(ctx, "file://"+path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("Expected recorded audio, got %q", data)
	}

	if _, err := device.StopSegment(ctx, handle); err == nil {
		t.Error("Stopping twice should fail")
	}
}

func TestStreamDeviceSourceClosed(t *testing.T) {
	reader, writer := io.Pipe()
	device, err := NewStreamDevice(reader, t.TempDir(), "aac", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewStreamDevice failed: %v", err)
	}
	writer.Close()

	ctx := context.Background()
	// the pump notices EOF asynchronously; a recording may still open first
	deadline := time.Now().Add(2 * time.Second)
	for {
		handle, err := device.StartSegment(ctx)
		if errors.Is(err, ErrSourceClosed) {
			return
		}
		if err == nil {
			if _, err := device.StopSegment(ctx, handle); err != nil {
				t.Fatalf("StopSegment failed: %v", err)
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected ErrSourceClosed, got %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.aac")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	store := FileStore{}
	ctx := context.Background()
	if err := store.Delete(ctx, path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed")
	}
	if err := store.Delete(ctx, path); err != nil {
		t.Errorf("Deleting a missing file should succeed, got %v", err)
	}
	if _, err := store.Read(ctx, path); err == nil {
		t.Error("Expected read error for missing file")
	}
}
