// Package playback renders synthesized speech segments in strict arrival
// order. Segments arrive in bursts from the socket; a single worker drains
// the queue so no two segments ever overlap.
package playback

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/rg1989/local-ai-voice-chat/internal/audio"
	"github.com/rg1989/local-ai-voice-chat/internal/observability"
)

// Player renders one WAV stream to completion. It must return early when
// ctx is cancelled; that is the only way playback is interrupted.
type Player interface {
	Play(ctx context.Context, wav []byte) error
}

type segment struct {
	pcm        []byte
	sampleRate int
}

// Queue is the FIFO of playback-ready segments plus its single worker.
type Queue struct {
	player  Player
	metrics *observability.Metrics

	mu         sync.Mutex
	segments   []segment
	running    bool
	playCancel context.CancelFunc
}

func NewQueue(player Player, metrics *observability.Metrics) *Queue {
	return &Queue{player: player, metrics: metrics}
}

// Enqueue appends a base64-encoded PCM16LE segment and starts the worker if
// it is idle. A segment that fails to decode is rejected without touching
// the queue.
func (q *Queue) Enqueue(encoded string, sampleRate int) error {
	pcm, err := audio.DecodeSegment(encoded)
	if err != nil {
		return fmt.Errorf("decode segment: %w", err)
	}
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	q.mu.Lock()
	q.segments = append(q.segments, segment{pcm: pcm, sampleRate: sampleRate})
	depth := len(q.segments)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.PlaybackSegments.WithLabelValues("enqueued").Inc()
		q.metrics.PlaybackQueueSize.Set(float64(depth))
	}
	if start {
		go q.worker()
	}
	return nil
}

// worker pops and plays until the queue is empty, then exits. The next
// Enqueue restarts it. Popping and arming the cancel happen under one lock
// acquisition so Clear always reaches the in-flight segment.
func (q *Queue) worker() {
	for {
		q.mu.Lock()
		if len(q.segments) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		seg := q.segments[0]
		q.segments = q.segments[1:]
		depth := len(q.segments)
		ctx, cancel := context.WithCancel(context.Background())
		q.playCancel = cancel
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.PlaybackQueueSize.Set(float64(depth))
		}

		wav, err := audio.EncodeWAVPCM16LE(seg.pcm, seg.sampleRate)
		if err == nil {
			err = q.player.Play(ctx, wav)
		}
		cancel()

		q.mu.Lock()
		q.playCancel = nil
		q.mu.Unlock()

		if q.metrics != nil {
			outcome := "played"
			if err != nil {
				outcome = "failed"
			}
			q.metrics.PlaybackSegments.WithLabelValues(outcome).Inc()
		}
		if err != nil && ctx.Err() == nil {
			log.Printf("playback: segment failed: %v", err)
		}
	}
}

// Clear discards every queued segment and halts any in-progress playback
// immediately. This is the whole-queue abort behind the user's stop; there
// is no per-segment cancel.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := len(q.segments)
	q.segments = nil
	cancel := q.playCancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if q.metrics != nil {
		q.metrics.PlaybackQueueSize.Set(0)
		for i := 0; i < dropped; i++ {
			q.metrics.PlaybackSegments.WithLabelValues("dropped").Inc()
		}
	}
}

// Depth reports how many segments are queued but not yet playing.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.segments)
}
