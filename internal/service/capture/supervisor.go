// Package capture runs the audio backend of a channel and feeds what it
// produces into the channel's ring buffer and pause gate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"transcript-channel-worker/internal/observability/metrics"
	"transcript-channel-worker/internal/service/audio"
)

// Supervisor errors.
var (
	ErrAlreadyStarted = errors.New("capture already started")
	ErrStopped        = errors.New("capture stopped")
	ErrSourceEnded    = errors.New("capture source ended unexpectedly")
)

// Source is an audio backend. Run writes raw 16-bit mono PCM to w until ctx
// is cancelled, then returns nil. Any other return is a backend failure.
type Source interface {
	Name() string
	Run(ctx context.Context, w io.Writer) error
}

// Options configures a Supervisor.
type Options struct {
	ChannelIndex int
	Source       Source
	Ring         *audio.Ring
	Gate         *audio.Gate
	// OnFatal is called once if the backend fails.
	OnFatal func(channel int, err error)
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Supervisor owns the lifecycle of one capture backend.
type Supervisor struct {
	opts Options

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
	failed  atomic.Bool
}

// NewSupervisor creates a supervisor. Nothing runs until Start.
func NewSupervisor(opts Options) *Supervisor {
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Supervisor{opts: opts}
}

// Start launches the backend in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	sink := &sink{
		channel: s.opts.ChannelIndex,
		ring:    s.opts.Ring,
		gate:    s.opts.Gate,
		metrics: s.opts.Metrics,
	}
	go s.run(runCtx, sink)

	s.opts.Logger.Info().
		Str("driver", s.opts.Source.Name()).
		Msg("Capture started")
	return nil
}

func (s *Supervisor) run(ctx context.Context, w *sink) {
	defer close(s.done)

	err := s.opts.Source.Run(ctx, w)
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrSourceEnded
	}
	s.failed.Store(true)
	s.opts.Metrics.RecordCaptureFailure(s.opts.ChannelIndex, s.opts.Source.Name())
	s.opts.Logger.Error().
		Err(err).
		Str("driver", s.opts.Source.Name()).
		Msg("Capture backend failed")
	if s.opts.OnFatal != nil {
		s.opts.OnFatal(s.opts.ChannelIndex, fmt.Errorf("channel %d capture: %w", s.opts.ChannelIndex, err))
	}
}

// Stop terminates the backend, waits for it to exit and drops the
// supervisor's references to the ring and gate. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	s.mu.Lock()
	s.opts.Ring = nil
	s.opts.Gate = nil
	s.mu.Unlock()
}

// Failed reports whether the backend has failed.
func (s *Supervisor) Failed() bool {
	return s.failed.Load()
}

// Released reports whether Stop has dropped the ring reference.
func (s *Supervisor) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped && s.opts.Ring == nil
}

// sink receives backend output. It keeps writes sample aligned, appends to
// the ring and offers the same bytes to the gate tagged with their offset.
type sink struct {
	channel int
	ring    *audio.Ring
	gate    *audio.Gate
	metrics *metrics.Metrics

	carry    byte
	hasCarry bool
}

func (w *sink) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	var data []byte
	if w.hasCarry {
		data = make([]byte, 0, n+1)
		data = append(data, w.carry)
		data = append(data, p...)
		w.hasCarry = false
	} else {
		data = make([]byte, n)
		copy(data, p)
	}
	if len(data)%2 == 1 {
		w.carry = data[len(data)-1]
		w.hasCarry = true
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return n, nil
	}

	off := w.ring.Append(data)
	w.metrics.RecordCaptured(w.channel, len(data))
	if w.gate != nil && !w.gate.Offer(audio.Chunk{Offset: off, Data: data}) {
		reason := "overflow"
		if w.gate.Closed() {
			reason = "paused"
		}
		w.metrics.RecordGateDrop(w.channel, reason)
	}
	return n, nil
}
