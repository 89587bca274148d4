// Package session owns the streaming recognition connection of one channel.
// A Session keeps exactly one connection open at a time, reconnects with
// capped exponential backoff after failures and delivers results from a
// single goroutine so per-channel ordering is preserved.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/status"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/logging"
	"transcript-channel-worker/internal/observability/metrics"
	"transcript-channel-worker/internal/service/audio"
	"transcript-channel-worker/internal/service/stt"
)

// Default reconnect backoff bounds.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
)

// Options configures a Session.
type Options struct {
	ChannelIndex int
	Provider     stt.Provider
	// StreamConfig is called before every connection so language and model
	// changes apply on the next connect.
	StreamConfig func() stt.Config
	Input        <-chan audio.Chunk
	// Deliver receives every result, in order, from the session goroutine.
	Deliver func(ctx context.Context, rec models.ResultRecord)
	// Connected is called from the session goroutine each time a new
	// connection starts streaming. Speech in progress is forgotten then.
	Connected      func(token string)
	Tokens         *TokenGenerator
	BytesPerSecond int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Session is the transcription session of one channel.
type Session struct {
	opts      Options
	lc        *Lifecycle
	restartCh chan string
	done      chan struct{}

	// only touched by the Run goroutine
	speechStart time.Time
}

type outcome int

const (
	outcomeShutdown outcome = iota
	outcomeRestart
	outcomeEnded
	outcomeFailed
)

// New creates a session in IDLE state. Call Run to start it.
func New(opts Options) *Session {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	if opts.BytesPerSecond <= 0 {
		opts.BytesPerSecond = 32000
	}
	if opts.Tokens == nil {
		opts.Tokens = NewTokenGenerator(fmt.Sprintf("ch%d", opts.ChannelIndex))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Deliver == nil {
		opts.Deliver = func(context.Context, models.ResultRecord) {}
	}
	return &Session{
		opts:      opts,
		lc:        NewLifecycle(),
		restartCh: make(chan string, 1),
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.lc.State()
}

// Token returns the current connection token.
func (s *Session) Token() string {
	return s.lc.Token()
}

// Lifecycle exposes the state machine, mainly for observers.
func (s *Session) Lifecycle() *Lifecycle {
	return s.lc
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Restart asks the session to drop its connection and open a new one with
// the current stream config. Pending restarts coalesce. A session waiting
// out a backoff reconnects immediately.
func (s *Session) Restart(reason string) error {
	if s.lc.IsClosed() {
		return ErrSessionClosed
	}
	select {
	case s.restartCh <- reason:
	default:
	}
	return nil
}

// Run supervises the connection until ctx is cancelled. It always returns
// with the session CLOSED.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.lc.Close()

	log := s.opts.Logger
	backoff := s.opts.InitialBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}
		token := s.opts.Tokens.Next()
		if err := s.lc.Connect(token); err != nil {
			return err
		}

		started := s.opts.Now()
		out, err := s.runConnection(ctx, token)

		switch out {
		case outcomeShutdown:
			return nil
		case outcomeRestart:
			backoff = s.opts.InitialBackoff
			continue
		case outcomeEnded:
			// A provider that keeps hanging up right away is treated as failing.
			if s.opts.Now().Sub(started) >= s.opts.InitialBackoff {
				log.Info().Str("sessionToken", token).Msg("Recognition stream ended, reconnecting")
				backoff = s.opts.InitialBackoff
				continue
			}
			err = errors.New("recognition stream ended immediately")
		}

		if terr := s.lc.Transition(StateError); terr != nil {
			return terr
		}
		log.Warn().
			Err(err).
			Str("sessionToken", token).
			Dur("backoff", backoff).
			Msg("Recognition session failed, backing off")
		s.opts.Metrics.RecordBackoff(backoff.Seconds())

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case reason := <-s.restartCh:
			timer.Stop()
			s.opts.Metrics.RecordSessionRestart(s.opts.ChannelIndex, reason)
			backoff = s.opts.InitialBackoff
			continue
		case <-timer.C:
		}
		s.opts.Metrics.RecordSessionRestart(s.opts.ChannelIndex, "error")
		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

func (s *Session) runConnection(ctx context.Context, token string) (outcome, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := s.opts.StreamConfig()
	provider := s.opts.Provider.Name()
	log := logging.WithSession(s.opts.Logger, token, provider)

	adapter, err := s.opts.Provider.Open(connCtx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeShutdown, nil
		}
		s.opts.Metrics.RecordSTTError(provider, "connect")
		return outcomeFailed, fmt.Errorf("open recognition stream: %w", err)
	}
	// The previous connection is abandoned, not drained.
	defer func() { go adapter.Close() }()

	if err := s.lc.Transition(StateStreaming); err != nil {
		return outcomeShutdown, err
	}
	s.opts.Metrics.RecordSessionOpened(s.opts.ChannelIndex)
	defer s.opts.Metrics.RecordSessionClosed()
	log.Info().
		Str("languageCode", cfg.LanguageCode).
		Str("sttModel", cfg.Model).
		Msg("Recognition stream connected")

	s.speechStart = time.Time{}
	if s.opts.Connected != nil {
		s.opts.Connected(token)
	}
	tl := &timeline{}
	resCh := make(chan *stt.Result)
	errCh := make(chan error, 2)

	go s.sendLoop(connCtx, adapter, tl, errCh)
	go recvLoop(connCtx, adapter, resCh, errCh)

	for {
		select {
		case <-ctx.Done():
			return outcomeShutdown, nil
		case reason := <-s.restartCh:
			log.Info().Str("reason", reason).Msg("Restarting recognition stream")
			s.opts.Metrics.RecordSessionRestart(s.opts.ChannelIndex, reason)
			return outcomeRestart, nil
		case r := <-resCh:
			s.deliver(ctx, token, tl, r)
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return outcomeEnded, nil
			}
			s.opts.Metrics.RecordSTTError(provider, errorType(err))
			return outcomeFailed, err
		}
	}
}

func (s *Session) sendLoop(ctx context.Context, adapter stt.Adapter, tl *timeline, errCh chan<- error) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-s.opts.Input:
			if !ok {
				return
			}
			tl.add(c)
			if err := adapter.SendAudio(ctx, c.Data); err != nil {
				report(errCh, fmt.Errorf("send audio: %w", err))
				return
			}
		}
	}
}

func recvLoop(ctx context.Context, adapter stt.Adapter, resCh chan<- *stt.Result, errCh chan<- error) {
	for {
		r, err := adapter.Recv()
		if err != nil {
			report(errCh, err)
			return
		}
		select {
		case resCh <- r:
		case <-ctx.Done():
			return
		}
	}
}

func report(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}

// deliver turns a provider result into a ResultRecord and hands it on.
func (s *Session) deliver(ctx context.Context, token string, tl *timeline, r *stt.Result) {
	if len(r.Alternatives) == 0 {
		return
	}
	now := s.opts.Now()
	best := r.Alternatives[0]
	rec := models.ResultRecord{
		ChannelIndex: s.opts.ChannelIndex,
		SessionToken: token,
		Final:        r.Final,
		Text:         best.Transcript,
		ReceivedAt:   now.UnixMilli(),
	}
	for _, alt := range r.Alternatives {
		rec.Alternatives = append(rec.Alternatives, models.Alternative{
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
		})
	}
	for _, w := range best.Words {
		rec.Words = append(rec.Words, models.WordTiming{
			Word:  w.Text,
			Start: w.Start.Seconds(),
			End:   w.End.Seconds(),
		})
	}

	if r.Final {
		if !s.speechStart.IsZero() {
			rec.SpeechStartedAt = s.speechStart.UnixMilli()
		}
		s.speechStart = time.Time{}
		if n := len(best.Words); n > 0 {
			rec.TotalDurationSeconds = (best.Words[n-1].End - best.Words[0].Start).Seconds()
		}
		s.opts.Metrics.RecordFinalTranscript(s.opts.ChannelIndex, rec.TotalDurationSeconds)
	} else {
		if s.speechStart.IsZero() {
			s.speechStart = now
		}
		rec.SpeechStartedAt = s.speechStart.UnixMilli()
		s.opts.Metrics.RecordInterimTranscript(s.opts.ChannelIndex)
	}

	if n := len(best.Words); n > 0 {
		rec.WordOffsets = make([]int64, n)
		for i, w := range best.Words {
			off, ok := tl.start(s.bytePos(w.Start))
			if !ok {
				off = -1
			}
			rec.WordOffsets[i] = off
		}
		end, ok := tl.end(s.bytePos(best.Words[n-1].End))
		if ok && rec.WordOffsets[0] >= 0 && end > rec.WordOffsets[0] {
			rec.AudioStart = rec.WordOffsets[0]
			rec.AudioEnd = end
			rec.HasAudio = true
		}
	}

	s.opts.Deliver(ctx, rec)
}

// bytePos converts a stream offset to a sample-aligned byte position.
func (s *Session) bytePos(d time.Duration) int64 {
	pos := int64(d) * int64(s.opts.BytesPerSecond) / int64(time.Second)
	return pos &^ 1
}

func errorType(err error) string {
	if st, ok := status.FromError(err); ok {
		return st.Code().String()
	}
	return "stream"
}
