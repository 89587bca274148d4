package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/metrics"
	"transcript-channel-worker/internal/service/audio"
	"transcript-channel-worker/internal/service/capture"
	"transcript-channel-worker/internal/service/catalog"
	"transcript-channel-worker/internal/service/session"
	"transcript-channel-worker/internal/service/stt"
	"transcript-channel-worker/internal/state"
)

// ErrShutdownTimeout is returned by Stop when sessions outlive the grace
// period.
var ErrShutdownTimeout = errors.New("channel shutdown exceeded grace period")

// ResultHandler consumes the results of every channel. Calls for one
// channel are sequential and in order.
type ResultHandler interface {
	HandleResult(ctx context.Context, ch *Channel, rec models.ResultRecord)
}

// Options configures the Manager.
type Options struct {
	Channels []Config
	Worker   *state.Worker
	Catalog  *catalog.Catalog
	Provider stt.Provider
	Handler  ResultHandler
	// Stream carries the recognition settings shared by every channel;
	// language, model and customizations are filled per channel.
	Stream         stt.Config
	BufferBytes    int
	QueueChunks    int
	ChunkBytes     int
	FFmpegBinary   string
	SocketDir      string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ShutdownGrace  time.Duration
	// NewSource builds capture backends; defaults to capture.NewSource.
	NewSource func(capture.SourceConfig) (capture.Source, error)
	Metrics   *metrics.Metrics
}

// Manager owns every channel pipeline.
type Manager struct {
	opts     Options
	channels []*Channel
	byIndex  map[int]*Channel
	fatal    chan error

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
	stopErr  error
}

// NewManager validates the channel list and builds every pipeline. Nothing
// runs until Start.
func NewManager(opts Options) (*Manager, error) {
	if opts.Worker == nil || opts.Catalog == nil {
		return nil, errors.New("channel manager requires worker state and catalog")
	}
	if opts.NewSource == nil {
		opts.NewSource = capture.NewSource
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	if opts.BufferBytes <= 0 {
		opts.BufferBytes = 10 * 2 * opts.Stream.SampleRateHz
	}
	if opts.QueueChunks <= 0 {
		opts.QueueChunks = 64
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}

	m := &Manager{
		opts:    opts,
		byIndex: make(map[int]*Channel, len(opts.Channels)),
		fatal:   make(chan error, len(opts.Channels)+1),
	}
	for _, cfg := range opts.Channels {
		if _, dup := m.byIndex[cfg.Index]; dup {
			return nil, fmt.Errorf("duplicate channel index %d", cfg.Index)
		}
		if cfg.Field == "" {
			cfg.Field = FieldFar
		}
		if cfg.Field != FieldFar && cfg.Field != FieldNear {
			return nil, fmt.Errorf("channel %d: unknown field type %q", cfg.Index, cfg.Field)
		}
		ch, err := m.build(cfg)
		if err != nil {
			return nil, err
		}
		m.channels = append(m.channels, ch)
		m.byIndex[cfg.Index] = ch
	}
	sort.Slice(m.channels, func(i, j int) bool { return m.channels[i].Index() < m.channels[j].Index() })
	return m, nil
}

func (m *Manager) build(cfg Config) (*Channel, error) {
	ch := newChannel(cfg, m.opts.Worker, m.opts.Catalog, m.opts.Stream)
	if cfg.Driver == capture.DriverNone {
		return ch, nil
	}
	if _, err := m.opts.Catalog.Resolve(cfg.Language, cfg.Model); err != nil {
		return nil, fmt.Errorf("channel %d: %w", cfg.Index, err)
	}
	if m.opts.Provider == nil {
		return nil, errors.New("channel manager requires a recognition provider")
	}

	src, err := m.opts.NewSource(capture.SourceConfig{
		Driver:       cfg.Driver,
		Device:       cfg.Device,
		ChannelIndex: cfg.Index,
		SampleRateHz: m.opts.Stream.SampleRateHz,
		ChunkBytes:   m.opts.ChunkBytes,
		FFmpegBinary: m.opts.FFmpegBinary,
		SocketDir:    m.opts.SocketDir,
		Logger:       ch.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w", cfg.Index, err)
	}

	ch.ring = audio.NewRing(m.opts.BufferBytes)
	ch.gate = audio.NewGate(&ch.paused, m.opts.Worker.SuppressFlag(), cfg.Field == FieldFar, m.opts.QueueChunks)
	ch.capture = capture.NewSupervisor(capture.Options{
		ChannelIndex: cfg.Index,
		Source:       src,
		Ring:         ch.ring,
		Gate:         ch.gate,
		OnFatal:      m.reportFatal,
		Logger:       ch.logger,
		Metrics:      m.opts.Metrics,
	})
	ch.session = session.New(session.Options{
		ChannelIndex: cfg.Index,
		Provider:     m.opts.Provider,
		StreamConfig: ch.StreamConfig,
		Input:        ch.gate.Output(),
		Deliver: func(ctx context.Context, rec models.ResultRecord) {
			if m.opts.Handler != nil {
				m.opts.Handler.HandleResult(ctx, ch, rec)
			}
		},
		Connected:      func(string) { ch.ClearSpeechStart() },
		Tokens:         session.NewTokenGenerator(fmt.Sprintf("%s-ch%d", m.opts.Worker.ID(), cfg.Index)),
		BytesPerSecond: 2 * m.opts.Stream.SampleRateHz,
		InitialBackoff: m.opts.InitialBackoff,
		MaxBackoff:     m.opts.MaxBackoff,
		Logger:         ch.logger,
		Metrics:        m.opts.Metrics,
	})
	return ch, nil
}

func (m *Manager) reportFatal(_ int, err error) {
	select {
	case m.fatal <- err:
	default:
	}
}

// Start runs every enabled channel: sessions first, then capture.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("channel manager already started")
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, ch := range m.channels {
		if !ch.Enabled() {
			log.Info().Int("channel", ch.Index()).Msg("Channel disabled, skipping")
			continue
		}
		go ch.session.Run(runCtx)
		if err := ch.capture.Start(runCtx); err != nil {
			return fmt.Errorf("channel %d: %w", ch.Index(), err)
		}
		m.opts.Metrics.ChannelsActive.Inc()
		cfg := ch.Config()
		chLog := ch.Logger()
		chLog.Info().
			Str("driver", cfg.Driver).
			Str("device", cfg.Device).
			Str("field", cfg.Field).
			Msg("Channel started")
	}
	return nil
}

// Fatal delivers capture failures. The worker must exit non-zero after
// receiving one.
func (m *Manager) Fatal() <-chan error {
	return m.fatal
}

// Stop halts every capture backend, closes every session and releases the
// ring buffers. It waits at most the shutdown grace period. Idempotent.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		for _, ch := range m.channels {
			if ch.capture != nil {
				ch.capture.Stop()
			}
		}

		m.mu.Lock()
		cancel := m.cancel
		started := m.started
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if started {
			grace := time.NewTimer(m.opts.ShutdownGrace)
			defer grace.Stop()
			for _, ch := range m.channels {
				if ch.session == nil {
					continue
				}
				select {
				case <-ch.session.Done():
				case <-grace.C:
					m.stopErr = ErrShutdownTimeout
					log.Warn().Dur("grace", m.opts.ShutdownGrace).Msg("Sessions did not stop within grace period")
				}
				if m.stopErr != nil {
					break
				}
			}
		}

		for _, ch := range m.channels {
			if ch.Enabled() {
				ch.release()
				if started {
					m.opts.Metrics.ChannelsActive.Dec()
				}
			}
		}
	})
	return m.stopErr
}

// Get returns the channel with the given index.
func (m *Manager) Get(index int) (*Channel, error) {
	ch, ok := m.byIndex[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, index)
	}
	return ch, nil
}

// All returns every channel ordered by index.
func (m *Manager) All() []*Channel {
	out := make([]*Channel, len(m.channels))
	copy(out, m.channels)
	return out
}

// Snapshots returns a snapshot of every channel ordered by index.
func (m *Manager) Snapshots() []models.ChannelSnapshot {
	out := make([]models.ChannelSnapshot, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.Snapshot())
	}
	return out
}
