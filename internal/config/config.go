// Package config loads worker configuration from the environment, an
// optional .env file and an optional YAML worker file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"transcript-channel-worker/internal/service/channel"
)

// Configuration holds all worker configuration.
type Configuration struct {
	Service       ServiceConfig
	Capture       CaptureConfig
	STT           STTConfig
	Session       SessionConfig
	Publish       PublishConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
	Channels      []channel.Config
	Catalog       CatalogConfig
}

// ServiceConfig holds process identity and listener settings.
type ServiceConfig struct {
	Principal     string
	WorkerID      string
	GRPCPort      string
	HTTPPort      string
	ShutdownGrace time.Duration
}

// CaptureConfig holds capture backend settings.
type CaptureConfig struct {
	Driver        string // default driver for generated channels
	Devices       []string
	FFmpegBinary  string
	SocketDir     string
	ChunkBytes    int
	BufferSeconds int
	QueueChunks   int
}

// STTConfig holds recognition provider settings.
type STTConfig struct {
	Provider          string
	LanguageCode      string
	ModelTier         string
	SampleRateHz      int
	InterimResults    bool
	AudioEncoding     string
	MaxAlternatives   int
	KeywordsThreshold float64
	WSURL             string
	WSInactivity      int
	WSSmartFormatting bool
	MockFramesPerStep int
}

// SessionConfig holds reconnect backoff settings.
type SessionConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// PublishConfig holds result publication policy.
type PublishConfig struct {
	Enabled            bool
	Interim            bool
	SpeakerTTL         time.Duration
	SweepInterval      time.Duration
	ExtractStripPrefix string
	SubscriberQueue    int
}

// KafkaConfig holds Kafka publisher and command consumer settings.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicInterim  string
	TopicFinal    string
	TopicState    string
	TopicAudio    string
	TopicCommands string
	GroupID       string
	Principal     string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// CatalogConfig describes the model catalog. Languages maps language code
// to tier to provider model name.
type CatalogConfig struct {
	Languages      map[string]map[string]string `yaml:"languages"`
	LanguageModels map[string]string            `yaml:"languageModels"`
	AcousticModels map[string]string            `yaml:"acousticModels"`
	LanguageModel  string                       `yaml:"defaultLanguageModel"`
	AcousticModel  string                       `yaml:"defaultAcousticModel"`
}

// WorkerFile is the YAML worker file.
type WorkerFile struct {
	WorkerID string           `yaml:"workerId"`
	Channels []channel.Config `yaml:"channels"`
	Catalog  *CatalogConfig   `yaml:"catalog"`
}

// Load reads configuration from environment variables. Invalid values fall
// back to defaults.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-transcript-worker")

	cfg := &Configuration{
		Service: ServiceConfig{
			Principal:     principal,
			WorkerID:      envOrDefault("WORKER_ID", uuid.NewString()),
			GRPCPort:      envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:      envOrDefault("HTTP_PORT", "8080"),
			ShutdownGrace: envOrDefaultDuration("SHUTDOWN_GRACE", 5*time.Second),
		},
		Capture: CaptureConfig{
			Driver:        envOrDefault("CAPTURE_DRIVER", "synthetic"),
			Devices:       envOrDefaultList("CAPTURE_DEVICES", []string{"default"}),
			FFmpegBinary:  envOrDefault("FFMPEG_BINARY", "ffmpeg"),
			SocketDir:     envOrDefault("CAPTURE_SOCKET_DIR", os.TempDir()),
			ChunkBytes:    envOrDefaultInt("CAPTURE_CHUNK_BYTES", 3200),
			BufferSeconds: envOrDefaultInt("CAPTURE_BUFFER_SECONDS", 10),
			QueueChunks:   envOrDefaultInt("CAPTURE_QUEUE_CHUNKS", 64),
		},
		STT: STTConfig{
			Provider:          envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:      envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			ModelTier:         envOrDefault("STT_MODEL_TIER", "broad"),
			SampleRateHz:      envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			InterimResults:    envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:     envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			MaxAlternatives:   envOrDefaultInt("STT_MAX_ALTERNATIVES", 3),
			KeywordsThreshold: envOrDefaultFloat("STT_KEYWORDS_THRESHOLD", 0.01),
			WSURL:             envOrDefault("STT_WS_URL", "ws://localhost:9000/v1/recognize"),
			WSInactivity:      envOrDefaultInt("STT_WS_INACTIVITY_TIMEOUT", -1),
			WSSmartFormatting: envOrDefaultBool("STT_WS_SMART_FORMATTING", true),
			MockFramesPerStep: envOrDefaultInt("STT_MOCK_FRAMES_PER_STEP", 10),
		},
		Session: SessionConfig{
			InitialBackoff: envOrDefaultDuration("SESSION_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envOrDefaultDuration("SESSION_MAX_BACKOFF", 30*time.Second),
		},
		Publish: PublishConfig{
			Enabled:            envOrDefaultBool("PUBLISH_ENABLED", true),
			Interim:            envOrDefaultBool("PUBLISH_INTERIM", false),
			SpeakerTTL:         envOrDefaultDuration("SPEAKER_TTL", 5*time.Minute),
			SweepInterval:      envOrDefaultDuration("SPEAKER_SWEEP_INTERVAL", time.Second),
			ExtractStripPrefix: envOrDefault("EXTRACT_STRIP_PREFIX", ""),
			SubscriberQueue:    envOrDefaultInt("EVENT_SUBSCRIBER_QUEUE", 256),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicInterim:  envOrDefault("KAFKA_TOPIC_INTERIM", "transcript.result.interim"),
			TopicFinal:    envOrDefault("KAFKA_TOPIC_FINAL", "transcript.result.final"),
			TopicState:    envOrDefault("KAFKA_TOPIC_STATE", "transcript.channel.state"),
			TopicAudio:    envOrDefault("KAFKA_TOPIC_AUDIO", "transcript.audio.extracted"),
			TopicCommands: envOrDefault("KAFKA_TOPIC_COMMANDS", "transcript.worker.commands"),
			GroupID:       envOrDefault("KAFKA_GROUP_ID", "transcript-worker"),
			Principal:     envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
		Catalog: CatalogConfig{
			LanguageModel: envOrDefault("STT_LANGUAGE_MODEL", ""),
			AcousticModel: envOrDefault("STT_ACOUSTIC_MODEL", ""),
		},
	}
	cfg.Channels = cfg.defaultChannels()
	return cfg
}

// defaultChannels builds one channel per configured capture device.
func (c *Configuration) defaultChannels() []channel.Config {
	out := make([]channel.Config, 0, len(c.Capture.Devices))
	for i, dev := range c.Capture.Devices {
		out = append(out, channel.Config{
			Index:    i,
			Device:   dev,
			Driver:   c.Capture.Driver,
			Field:    channel.FieldFar,
			Language: c.STT.LanguageCode,
			Model:    c.STT.ModelTier,
		})
	}
	return out
}

// LoadDotEnv loads variables from .env files without overriding the
// environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadWorkerFile parses a YAML worker file.
func LoadWorkerFile(path string) (*WorkerFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker file: %w", err)
	}
	var wf WorkerFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse worker file %s: %w", path, err)
	}
	return &wf, nil
}

// ApplyWorkerFile overlays a worker file: its channel list replaces the
// generated one and its catalog replaces the built-in one.
func (c *Configuration) ApplyWorkerFile(wf *WorkerFile) error {
	if wf == nil {
		return nil
	}
	if wf.WorkerID != "" {
		c.Service.WorkerID = wf.WorkerID
	}
	if len(wf.Channels) > 0 {
		seen := make(map[int]bool, len(wf.Channels))
		for i, ch := range wf.Channels {
			if seen[ch.Index] {
				return fmt.Errorf("worker file: duplicate channel idx %d", ch.Index)
			}
			seen[ch.Index] = true
			if ch.Driver == "" {
				wf.Channels[i].Driver = c.Capture.Driver
			}
			if ch.Language == "" {
				wf.Channels[i].Language = c.STT.LanguageCode
			}
			if ch.Model == "" {
				wf.Channels[i].Model = c.STT.ModelTier
			}
		}
		c.Channels = wf.Channels
	}
	if wf.Catalog != nil {
		if len(wf.Catalog.Languages) == 0 {
			return errors.New("worker file: catalog has no languages")
		}
		lm, am := c.Catalog.LanguageModel, c.Catalog.AcousticModel
		c.Catalog = *wf.Catalog
		if lm != "" {
			c.Catalog.LanguageModel = lm
		}
		if am != "" {
			c.Catalog.AcousticModel = am
		}
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
