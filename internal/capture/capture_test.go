package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/arunika/interpreter/domain"
	"github.com/satriahrh/arunika/interpreter/domain/entities"
	"github.com/satriahrh/arunika/interpreter/domain/repositories"
	"github.com/satriahrh/arunika/interpreter/internal/protocol"
)

// fakeDevice stores the handle ID as the file content on every stop
type fakeDevice struct {
	mu       sync.Mutex
	store    *fakeStore
	open     int
	maxOpen  int
	starts   int
	failFrom int
}

func (d *fakeDevice) StartSegment(ctx context.Context) (repositories.CaptureHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.starts++
	if d.failFrom > 0 && d.starts >= d.failFrom {
		return repositories.CaptureHandle{}, errors.New("microphone permission denied")
	}
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	return repositories.CaptureHandle{ID: fmt.Sprintf("rec-%d", d.starts)}, nil
}

func (d *fakeDevice) StopSegment(ctx context.Context, handle repositories.CaptureHandle) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.open--
	uri := "file:///tmp/" + handle.ID + ".aac"
	d.store.put(uri, []byte(handle.ID))
	return uri, nil
}

func (d *fakeDevice) stats() (starts, open, maxOpen int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.open, d.maxOpen
}

type fakeStore struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: make(map[string][]byte)}
}

func (s *fakeStore) put(uri string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[uri] = data
}

func (s *fakeStore) Read(ctx context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[uri]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

func (s *fakeStore) Delete(ctx context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, uri)
	s.deleted = append(s.deleted, uri)
	return nil
}

func (s *fakeStore) remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// fakeSender records frames and can hold every send until released
type fakeSender struct {
	mu         sync.Mutex
	state      entities.ConnectionState
	caps       entities.ServiceCapabilities
	hold       chan struct{}
	sent       []string
	sending    int
	maxSending int
	started    chan string
	// refuse simulates the connection dropping after the state check
	refuse error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		state:   entities.ConnectionStateConnected,
		started: make(chan string, 16),
	}
}

func (f *fakeSender) State() entities.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) Capabilities() entities.ServiceCapabilities {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.caps
}

func (f *fakeSender) SendNow(ctx context.Context, frame any) error {
	audio := frame.(protocol.AudioFrame)
	data, _ := audio.DecodeAudio()

	f.mu.Lock()
	if f.refuse != nil {
		f.mu.Unlock()
		return f.refuse
	}
	f.sending++
	if f.sending > f.maxSending {
		f.maxSending = f.sending
	}
	hold := f.hold
	f.mu.Unlock()

	f.started <- string(data)
	if hold != nil {
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sending--
	f.sent = append(f.sent, string(data))
	return nil
}

func (f *fakeSender) sentFrames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type fixedLanguages entities.LanguageSettings

func (l fixedLanguages) Active() entities.LanguageSettings { return entities.LanguageSettings(l) }

var english = fixedLanguages{Language1: "en", Language2: "es"}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Segment 1 is still uploading while segment 2 records and flushes. The
// uploads still go out in capture order, one at a time.
func TestRollingCaptureKeepsOrderUnderSlowUpload(t *testing.T) {
	mock := clock.NewMock()
	store := newFakeStore()
	device := &fakeDevice{store: store}
	sender := newFakeSender()
	sender.hold = make(chan struct{})

	var settledMu sync.Mutex
	var settled []entities.AudioSegment
	submitter := NewSubmitter(sender, english, store, SubmitterHooks{
		OnSettled: func(s entities.AudioSegment) {
			settledMu.Lock()
			defer settledMu.Unlock()
			settled = append(settled, s)
		},
	}, zap.NewNop())
	submitter.Start()

	segmenter := NewSegmenter(device, submitter, mock, SegmenterConfig{SegmentDuration: 5 * time.Second}, zap.NewNop())
	if err := segmenter.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mock.Add(5 * time.Second)
	select {
	case got := <-sender.started:
		if got != "rec-1" {
			t.Fatalf("Expected segment 1 to be sent first, got %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Segment 1 was not submitted")
	}
	waitFor(t, "segment 2 to record during upload", func() bool {
		starts, _, _ := device.stats()
		return starts == 2 && segmenter.State() == StateRecording
	})

	// segment 2 flushes while segment 1 is still on the wire
	mock.Add(5 * time.Second)
	waitFor(t, "segment 2 to flush", func() bool {
		starts, _, _ := device.stats()
		return starts == 3 && submitter.Pending() == 1
	})

	close(sender.hold)
	if err := segmenter.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := submitter.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	sent := sender.sentFrames()
	want := []string{"rec-1", "rec-2", "rec-3"}
	if len(sent) != len(want) {
		t.Fatalf("Expected %d segments sent, got %v", len(want), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Errorf("Segment %d: expected %s, got %s", i, want[i], sent[i])
		}
	}

	if sender.maxSending != 1 {
		t.Errorf("Expected at most one segment sending, got %d", sender.maxSending)
	}
	if _, open, maxOpen := device.stats(); open != 0 || maxOpen != 1 {
		t.Errorf("Expected at most one open recording and none left, got open=%d max=%d", open, maxOpen)
	}
	if store.remaining() != 0 {
		t.Errorf("Expected every segment file to be deleted, %d left", store.remaining())
	}
	for i, s := range settled {
		if s.SendState != entities.SendStateSent || s.Sequence != i+1 {
			t.Errorf("Unexpected settled segment %+v", s)
		}
	}
	if segmenter.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", segmenter.State())
	}
}

func TestSegmenterStopTwice(t *testing.T) {
	mock := clock.NewMock()
	store := newFakeStore()
	device := &fakeDevice{store: store}
	submitter := NewSubmitter(newFakeSender(), english, store, SubmitterHooks{}, zap.NewNop())

	segmenter := NewSegmenter(device, submitter, mock, SegmenterConfig{}, zap.NewNop())
	if err := segmenter.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := segmenter.Start(context.Background()); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if starts, _, _ := device.stats(); starts != 1 {
		t.Errorf("Start while recording should not open a second recording, got %d", starts)
	}

	if err := segmenter.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := segmenter.Stop(context.Background()); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
	if submitter.Pending() != 1 {
		t.Errorf("Expected the final segment to be queued once, got %d", submitter.Pending())
	}

	mock.Add(DefaultSegmentDuration)
	time.Sleep(10 * time.Millisecond)
	if starts, _, _ := device.stats(); starts != 1 {
		t.Errorf("Cancelled boundary must not start a new recording, got %d starts", starts)
	}
}

func TestSegmenterCaptureFailureIsFatal(t *testing.T) {
	mock := clock.NewMock()
	store := newFakeStore()
	device := &fakeDevice{store: store, failFrom: 2}
	submitter := NewSubmitter(newFakeSender(), english, store, SubmitterHooks{}, zap.NewNop())
	segmenter := NewSegmenter(device, submitter, mock, SegmenterConfig{}, zap.NewNop())

	fatal := make(chan error, 1)
	segmenter.OnFatal(func(err error) { fatal <- err })

	if err := segmenter.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	mock.Add(DefaultSegmentDuration)

	select {
	case err := <-fatal:
		if !errors.Is(err, domain.ErrCapture) {
			t.Errorf("Expected capture error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected fatal capture error")
	}

	waitFor(t, "loop to stop", func() bool { return segmenter.State() == StateIdle })
	if submitter.Pending() != 1 {
		t.Errorf("Segment finished before the failure should still be queued, got %d", submitter.Pending())
	}

	denied := &fakeDevice{store: store, failFrom: 1}
	err := NewSegmenter(denied, submitter, mock, SegmenterConfig{}, zap.NewNop()).Start(context.Background())
	if !errors.Is(err, domain.ErrCapture) {
		t.Errorf("Expected capture error from Start, got %v", err)
	}
}

func TestSubmitterGate(t *testing.T) {
	store := newFakeStore()
	sender := newFakeSender()

	var errs []error
	var mu sync.Mutex
	submitter := NewSubmitter(sender, fixedLanguages{Language1: "en"}, store, SubmitterHooks{
		OnError: func(err error) {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, err)
		},
	}, zap.NewNop())
	submitter.Start()

	for i := 1; i <= 3; i++ {
		uri := fmt.Sprintf("file:///tmp/%d.aac", i)
		store.put(uri, []byte("audio"))
		submitter.Enqueue(entities.NewAudioSegment(i, uri, "aac", time.Now(), time.Second))
	}
	if err := submitter.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(sender.sentFrames()) != 0 {
		t.Error("Nothing should be sent without a complete language pair")
	}
	if len(errs) != 1 || !errors.Is(errs[0], domain.ErrNegotiation) {
		t.Errorf("Expected a single negotiation error, got %v", errs)
	}
	if store.remaining() != 0 {
		t.Errorf("Rejected segment files must be deleted, %d left", store.remaining())
	}
}

func TestSubmitterSkipsOversizeAndDisconnected(t *testing.T) {
	store := newFakeStore()
	sender := newFakeSender()
	sender.caps.MaxAudioSize = 4

	var settled []entities.AudioSegment
	submitter := NewSubmitter(sender, english, store, SubmitterHooks{
		OnSettled: func(s entities.AudioSegment) { settled = append(settled, s) },
	}, zap.NewNop())
	submitter.Start()

	store.put("big", []byte("too large"))
	submitter.Enqueue(entities.NewAudioSegment(1, "big", "aac", time.Now(), time.Second))
	store.put("small", []byte("ok"))
	submitter.Enqueue(entities.NewAudioSegment(2, "small", "aac", time.Now(), time.Second))
	if err := submitter.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(settled) != 2 || settled[0].SendState != entities.SendStateFailed || settled[1].SendState != entities.SendStateSent {
		t.Fatalf("Unexpected outcomes %+v", settled)
	}

	offline := newFakeSender()
	offline.state = entities.ConnectionStateDisconnected
	submitter = NewSubmitter(offline, english, store, SubmitterHooks{}, zap.NewNop())
	submitter.Start()
	store.put("later", []byte("ok"))
	submitter.Enqueue(entities.NewAudioSegment(3, "later", "aac", time.Now(), time.Second))
	submitter.Close(context.Background())

	if len(offline.sentFrames()) != 0 || store.remaining() != 0 {
		t.Error("Segments captured while disconnected are dropped and deleted")
	}
}

// The connection drops between the state check and the write: the segment
// fails instead of waiting in the outbound queue for the next connection.
func TestSubmitterConnectionLostDuringSend(t *testing.T) {
	store := newFakeStore()
	sender := newFakeSender()
	sender.refuse = fmt.Errorf("%w: not connected", domain.ErrSend)

	var settled []entities.AudioSegment
	var sent int
	submitter := NewSubmitter(sender, english, store, SubmitterHooks{
		OnSent:    func(entities.AudioSegment) { sent++ },
		OnSettled: func(s entities.AudioSegment) { settled = append(settled, s) },
	}, zap.NewNop())
	submitter.Start()

	store.put("dropped", []byte("audio"))
	submitter.Enqueue(entities.NewAudioSegment(1, "dropped", "aac", time.Now(), time.Second))
	if err := submitter.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(settled) != 1 || settled[0].SendState != entities.SendStateFailed {
		t.Fatalf("Expected the segment to fail, got %+v", settled)
	}
	if sent != 0 {
		t.Error("A refused segment must not mark the conversation as awaiting")
	}
	if store.remaining() != 0 {
		t.Error("Refused segment file must be deleted")
	}
}
