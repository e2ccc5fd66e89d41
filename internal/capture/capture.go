// Package capture owns the microphone side of the audio coordinator: one
// active binding between an input device and a chunk sink, framed as raw
// little-endian PCM16 mono.
package capture

import (
	"errors"
	"io"
	"io/fs"
	"log"
	"sync"
)

// Sink receives each captured PCM16LE chunk in capture order.
type Sink func(pcm []byte)

// Device provides a raw PCM16LE mono stream at the requested sample rate.
// Closing the returned stream releases the underlying input device.
type Device interface {
	Start(sampleRate int) (io.ReadCloser, error)
}

var ErrAlreadyActive = errors.New("capture session already active")

// Session binds a device to a sink. At most one capture runs at a time;
// starting a second one fails instead of silently replacing the first.
type Session struct {
	device     Device
	sampleRate int
	chunkMS    int

	mu     sync.Mutex
	stream io.ReadCloser
	done   chan struct{}
}

func NewSession(device Device, sampleRate, chunkMS int) *Session {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if chunkMS <= 0 {
		chunkMS = 250
	}
	return &Session{device: device, sampleRate: sampleRate, chunkMS: chunkMS}
}

// Start acquires the input device and forwards fixed-size chunks to sink
// until Stop is called or the device stream ends. Device failures (missing
// binary, busy device, denied permission) come back as an error; the
// session stays inactive.
func (s *Session) Start(sink Sink) error {
	s.mu.Lock()
	if s.stream != nil {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	stream, err := s.device.Start(s.sampleRate)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	done := make(chan struct{})
	s.stream = stream
	s.done = done
	s.mu.Unlock()

	chunkBytes := s.sampleRate * s.chunkMS / 1000 * 2
	go s.pump(stream, sink, chunkBytes, done)
	return nil
}

func (s *Session) pump(stream io.ReadCloser, sink Sink, chunkBytes int, done chan struct{}) {
	defer close(done)
	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(stream, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sink(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) &&
				!errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, fs.ErrClosed) {
				log.Printf("capture: stream ended: %v", err)
			}
			s.mu.Lock()
			if s.stream == stream {
				s.stream = nil
				s.done = nil
			}
			s.mu.Unlock()
			return
		}
	}
}

// Stop tears down the active capture and waits for the pump to drain.
// Safe to call when nothing is active.
func (s *Session) Stop() {
	s.mu.Lock()
	stream := s.stream
	done := s.done
	s.stream = nil
	s.done = nil
	s.mu.Unlock()

	if stream == nil {
		return
	}
	stream.Close()
	if done != nil {
		<-done
	}
}

// Active reports whether a capture session is currently running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}
