package capture

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeDevice serves a fixed byte stream through an in-memory pipe.
type fakeDevice struct {
	mu     sync.Mutex
	writer *io.PipeWriter
	starts int
	err    error
}

func (d *fakeDevice) Start(sampleRate int) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	r, w := io.Pipe()
	d.writer = w
	d.starts++
	return r, nil
}

func (d *fakeDevice) feed(t *testing.T, b []byte) {
	t.Helper()
	d.mu.Lock()
	w := d.writer
	d.mu.Unlock()
	if _, err := w.Write(b); err != nil {
		t.Fatalf("feed: %v", err)
	}
}

type chunkRecorder struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (r *chunkRecorder) sink(pcm []byte) {
	r.mu.Lock()
	r.chunks = append(r.chunks, pcm)
	r.mu.Unlock()
}

func (r *chunkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func TestSessionForwardsFixedSizeChunks(t *testing.T) {
	dev := &fakeDevice{}
	rec := &chunkRecorder{}
	// 1000 samples/s * 100 ms * 2 bytes = 200-byte chunks.
	s := NewSession(dev, 1000, 100)

	if err := s.Start(rec.sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	dev.feed(t, make([]byte, 450))

	deadline := time.Now().Add(time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.chunks) != 2 {
		t.Fatalf("chunks = %d, want 2 full chunks (remainder still buffered)", len(rec.chunks))
	}
	for i, c := range rec.chunks {
		if len(c) != 200 {
			t.Fatalf("chunk %d size = %d, want 200", i, len(c))
		}
	}
}

func TestSessionFlushesRemainderOnClose(t *testing.T) {
	dev := &fakeDevice{}
	rec := &chunkRecorder{}
	s := NewSession(dev, 1000, 100)

	if err := s.Start(rec.sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	dev.feed(t, make([]byte, 50))
	s.Stop()

	if got := rec.count(); got != 1 {
		t.Fatalf("chunks = %d, want 1 partial chunk flushed on close", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.chunks[0]) != 50 {
		t.Fatalf("partial chunk size = %d, want 50", len(rec.chunks[0]))
	}
}

func TestSessionRejectsSecondStart(t *testing.T) {
	dev := &fakeDevice{}
	s := NewSession(dev, 1000, 100)
	if err := s.Start(func([]byte) {}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if err := s.Start(func([]byte) {}); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyActive", err)
	}
	if dev.starts != 1 {
		t.Fatalf("device starts = %d, want 1", dev.starts)
	}
}

func TestSessionStartSurfacesDeviceError(t *testing.T) {
	dev := &fakeDevice{err: errors.New("mic busy")}
	s := NewSession(dev, 1000, 100)
	if err := s.Start(func([]byte) {}); err == nil {
		t.Fatalf("expected device error")
	}
	if s.Active() {
		t.Fatalf("session should not be active after failed start")
	}
}

func TestStopIsIdempotentAndEndsForwarding(t *testing.T) {
	dev := &fakeDevice{}
	rec := &chunkRecorder{}
	s := NewSession(dev, 1000, 100)

	if err := s.Start(rec.sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Stop()
	s.Stop()

	if s.Active() {
		t.Fatalf("session still active after Stop")
	}
	before := rec.count()
	time.Sleep(30 * time.Millisecond)
	if rec.count() != before {
		t.Fatalf("chunks still arriving after Stop")
	}
}
