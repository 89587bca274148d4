package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"transcript-channel-worker/internal/config"
	"transcript-channel-worker/internal/events"
	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/logging"
	"transcript-channel-worker/internal/service/catalog"
	"transcript-channel-worker/internal/service/channel"
	"transcript-channel-worker/internal/service/command"
	"transcript-channel-worker/internal/service/results"
	"transcript-channel-worker/internal/service/stt"
	"transcript-channel-worker/internal/service/stt/google"
	"transcript-channel-worker/internal/service/stt/mock"
	"transcript-channel-worker/internal/service/stt/wsstream"
	"transcript-channel-worker/internal/state"
)

// Application holds process-wide state for the worker and wires the
// channel pipelines to their collaborators.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Worker     *state.Worker
	Catalog    *catalog.Catalog
	Manager    *channel.Manager
	Dispatcher *command.Dispatcher
	Results    *results.Publisher
	Hub        *events.Hub
	Publisher  *events.Publisher
	Consumer   *events.CommandConsumer

	providerClose func() error
	ready         atomic.Bool
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// New constructs the Application from the provided configuration. Nothing
// runs until Start.
func New(ctx context.Context, cfg *config.Configuration) (*Application, error) {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	a.Catalog = catalog.Default()
	if len(cfg.Catalog.Languages) > 0 {
		a.Catalog = catalog.New(cfg.Catalog.Languages, cfg.Catalog.LanguageModels, cfg.Catalog.AcousticModels)
	}
	if _, err := a.Catalog.LanguageModel(cfg.Catalog.LanguageModel); err != nil {
		return nil, fmt.Errorf("initial language model: %w", err)
	}
	if _, err := a.Catalog.AcousticModel(cfg.Catalog.AcousticModel); err != nil {
		return nil, fmt.Errorf("initial acoustic model: %w", err)
	}

	a.Worker = state.NewWorker(cfg.Service.WorkerID, cfg.Catalog.LanguageModel, cfg.Catalog.AcousticModel)
	a.Worker.SetPublishing(cfg.Publish.Enabled)

	provider, closeFn, err := newProvider(ctx, cfg.STT)
	if err != nil {
		return nil, err
	}
	a.providerClose = closeFn

	a.Publisher = events.New(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicInterim: cfg.Kafka.TopicInterim,
		TopicFinal:   cfg.Kafka.TopicFinal,
		TopicState:   cfg.Kafka.TopicState,
		TopicAudio:   cfg.Kafka.TopicAudio,
		Principal:    cfg.Kafka.Principal,
	})
	a.Hub = events.NewHub(cfg.Publish.SubscriberQueue)
	sink := events.Fanout{a.Publisher, a.Hub}

	a.Results = results.New(results.Options{
		Worker:             a.Worker,
		Sink:               sink,
		SpeakerTTL:         cfg.Publish.SpeakerTTL,
		PublishInterim:     cfg.Publish.Interim,
		ExtractStripPrefix: cfg.Publish.ExtractStripPrefix,
		SampleRateHz:       cfg.STT.SampleRateHz,
		SweepInterval:      cfg.Publish.SweepInterval,
	})

	a.Manager, err = channel.NewManager(channel.Options{
		Channels: cfg.Channels,
		Worker:   a.Worker,
		Catalog:  a.Catalog,
		Provider: provider,
		Handler:  a.Results,
		Stream: stt.Config{
			LanguageCode:      cfg.STT.LanguageCode,
			SampleRateHz:      cfg.STT.SampleRateHz,
			AudioEncoding:     cfg.STT.AudioEncoding,
			InterimResults:    cfg.STT.InterimResults,
			MaxAlternatives:   cfg.STT.MaxAlternatives,
			KeywordsThreshold: cfg.STT.KeywordsThreshold,
		},
		BufferBytes:    cfg.Capture.BufferSeconds * 2 * cfg.STT.SampleRateHz,
		QueueChunks:    cfg.Capture.QueueChunks,
		ChunkBytes:     cfg.Capture.ChunkBytes,
		FFmpegBinary:   cfg.Capture.FFmpegBinary,
		SocketDir:      cfg.Capture.SocketDir,
		InitialBackoff: cfg.Session.InitialBackoff,
		MaxBackoff:     cfg.Session.MaxBackoff,
		ShutdownGrace:  cfg.Service.ShutdownGrace,
	})
	if err != nil {
		a.closeProvider()
		return nil, fmt.Errorf("build channels: %w", err)
	}

	a.Dispatcher = command.New(command.Options{
		Channels:   a.Manager,
		Worker:     a.Worker,
		Catalog:    a.Catalog,
		Sink:       sink,
		SpeakerTTL: cfg.Publish.SpeakerTTL,
	})
	a.Consumer = events.NewCommandConsumer(events.ConsumerConfig{
		Enabled: cfg.Kafka.Enabled,
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.TopicCommands,
		GroupID: cfg.Kafka.GroupID,
	}, a.Dispatcher.Dispatch)

	appLogger.Info().
		Str("workerId", a.Worker.ID()).
		Str("sttProvider", provider.Name()).
		Int("channels", len(cfg.Channels)).
		Msg("Transcript worker application created")
	return a, nil
}

func newProvider(ctx context.Context, cfg config.STTConfig) (stt.Provider, func() error, error) {
	switch cfg.Provider {
	case "mock", "":
		return mock.New(cfg.MockFramesPerStep), nil, nil
	case "google":
		p, err := google.New(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("google speech client: %w", err)
		}
		return p, p.Close, nil
	case "wsstream":
		return wsstream.New(wsstream.Options{
			URL:               cfg.WSURL,
			InactivityTimeout: cfg.WSInactivity,
			SmartFormatting:   cfg.WSSmartFormatting,
		}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// setupLogger configures zerolog for the worker.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     a.Cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})
	a.Logger = logging.WithWorker(a.Cfg.Service.WorkerID).With().
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", a.Cfg.Observability.LogLevel).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// Start runs every channel, the speaker sweep and the command consumer.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.Manager.Start(runCtx); err != nil {
		cancel()
		return err
	}

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Results.Run(runCtx, a.Manager.All())
	}()
	go func() {
		defer a.wg.Done()
		if err := a.Consumer.Run(runCtx); err != nil {
			startLogger.Error().Err(err).Msg("Command consumer stopped")
		}
	}()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Transcript worker started")
	return nil
}

// Ready reports whether Start completed and Shutdown has not begun.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Fatal delivers capture failures; the process must exit non-zero.
func (a *Application) Fatal() <-chan error {
	return a.Manager.Fatal()
}

// Dispatch applies a command.
func (a *Application) Dispatch(ctx context.Context, cmd models.Command) (models.CommandResult, error) {
	return a.Dispatcher.Dispatch(ctx, cmd)
}

// Snapshots returns every channel's current state.
func (a *Application) Snapshots() []models.ChannelSnapshot {
	return a.Manager.Snapshots()
}

// Shutdown stops every channel within the grace period and closes the
// outbound transports.
func (a *Application) Shutdown() error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Transcript worker shutting down")
	a.ready.Store(false)

	err := a.Manager.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	a.Hub.Close()
	err = errors.Join(err, a.Consumer.Close(), a.Publisher.Close(), a.closeProvider())
	if err != nil {
		shutdownLogger.Warn().Err(err).Msg("Shutdown completed with errors")
	}
	return err
}

func (a *Application) closeProvider() error {
	if a.providerClose == nil {
		return nil
	}
	return a.providerClose()
}
