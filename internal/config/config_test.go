package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"transcript-channel-worker/internal/service/channel"
)

var envVars = []string{
	"SERVICE_PRINCIPAL", "WORKER_ID", "GRPC_PORT", "HTTP_PORT", "SHUTDOWN_GRACE", "LOG_LEVEL",
	"CAPTURE_DRIVER", "CAPTURE_DEVICES", "CAPTURE_CHUNK_BYTES", "CAPTURE_BUFFER_SECONDS",
	"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_MODEL_TIER", "STT_SAMPLE_RATE_HZ",
	"STT_INTERIM_RESULTS", "STT_AUDIO_ENCODING", "STT_KEYWORDS_THRESHOLD",
	"SESSION_INITIAL_BACKOFF", "SESSION_MAX_BACKOFF",
	"PUBLISH_INTERIM", "SPEAKER_TTL", "EXTRACT_STRIP_PREFIX",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL",
	"STT_LANGUAGE_MODEL", "STT_ACOUSTIC_MODEL",
}

func clearEnv() {
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-transcript-worker" {
		t.Errorf("expected default principal 'svc-transcript-worker', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" || cfg.Service.HTTPPort != "8080" {
		t.Errorf("unexpected default ports %s/%s", cfg.Service.GRPCPort, cfg.Service.HTTPPort)
	}
	if cfg.Service.WorkerID == "" {
		t.Error("expected a generated worker id")
	}
	if cfg.Service.ShutdownGrace != 5*time.Second {
		t.Errorf("expected default grace 5s, got %v", cfg.Service.ShutdownGrace)
	}

	if cfg.STT.Provider != "mock" {
		t.Errorf("expected default STT provider 'mock', got %s", cfg.STT.Provider)
	}
	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults {
		t.Error("expected default interim results true")
	}
	if cfg.STT.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.STT.AudioEncoding)
	}

	if cfg.Session.InitialBackoff != time.Second || cfg.Session.MaxBackoff != 30*time.Second {
		t.Errorf("unexpected backoff defaults %+v", cfg.Session)
	}
	if cfg.Publish.SpeakerTTL != 5*time.Minute || cfg.Publish.Interim || !cfg.Publish.Enabled {
		t.Errorf("unexpected publish defaults %+v", cfg.Publish)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}

	if len(cfg.Channels) != 1 {
		t.Fatalf("expected one generated channel, got %d", len(cfg.Channels))
	}
	want := channel.Config{Index: 0, Device: "default", Driver: "synthetic", Field: channel.FieldFar, Language: "en-US", Model: "broad"}
	if cfg.Channels[0] != want {
		t.Errorf("expected %+v, got %+v", want, cfg.Channels[0])
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("WORKER_ID", "room-7")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CAPTURE_DRIVER", "ffmpeg")
	t.Setenv("CAPTURE_DEVICES", "hw:0, hw:1")
	t.Setenv("STT_PROVIDER", "google")
	t.Setenv("STT_LANGUAGE_CODE", "en-GB")
	t.Setenv("STT_MODEL_TIER", "narrow")
	t.Setenv("STT_SAMPLE_RATE_HZ", "8000")
	t.Setenv("STT_INTERIM_RESULTS", "false")
	t.Setenv("STT_KEYWORDS_THRESHOLD", "0.5")
	t.Setenv("SESSION_MAX_BACKOFF", "10s")
	t.Setenv("PUBLISH_INTERIM", "true")
	t.Setenv("SPEAKER_TTL", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" || cfg.Service.WorkerID != "room-7" {
		t.Errorf("unexpected service config %+v", cfg.Service)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.STT.Provider != "google" || cfg.STT.SampleRateHz != 8000 || cfg.STT.InterimResults {
		t.Errorf("unexpected STT config %+v", cfg.STT)
	}
	if cfg.STT.KeywordsThreshold != 0.5 {
		t.Errorf("expected threshold 0.5, got %v", cfg.STT.KeywordsThreshold)
	}
	if cfg.Session.MaxBackoff != 10*time.Second {
		t.Errorf("expected max backoff 10s, got %v", cfg.Session.MaxBackoff)
	}
	if !cfg.Publish.Interim || cfg.Publish.SpeakerTTL != 90*time.Second {
		t.Errorf("unexpected publish config %+v", cfg.Publish)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}

	if len(cfg.Channels) != 2 {
		t.Fatalf("expected a channel per device, got %d", len(cfg.Channels))
	}
	if ch := cfg.Channels[1]; ch.Index != 1 || ch.Device != "hw:1" || ch.Driver != "ffmpeg" || ch.Language != "en-GB" || ch.Model != "narrow" {
		t.Errorf("unexpected generated channel %+v", ch)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	t.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("STT_INTERIM_RESULTS", "invalid")
	t.Setenv("SHUTDOWN_GRACE", "soon")
	t.Setenv("STT_KEYWORDS_THRESHOLD", "high")
	t.Setenv("CAPTURE_DEVICES", " , ")

	cfg := Load()

	if cfg.STT.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.STT.SampleRateHz)
	}
	if !cfg.STT.InterimResults {
		t.Error("expected default interim results on invalid input")
	}
	if cfg.Service.ShutdownGrace != 5*time.Second {
		t.Errorf("expected default grace on invalid input, got %v", cfg.Service.ShutdownGrace)
	}
	if cfg.STT.KeywordsThreshold != 0.01 {
		t.Errorf("expected default threshold on invalid input, got %v", cfg.STT.KeywordsThreshold)
	}
	if len(cfg.Channels) != 1 {
		t.Errorf("expected default device list on empty input, got %d channels", len(cfg.Channels))
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	t.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

const workerYAML = `
workerId: boardroom-1
channels:
  - idx: 0
    device: "0"
    driver: ffmpeg
    field: far
    language: en-US
    model: broad
  - idx: 1
    device: "1"
    field: near
    language: zh-CN
catalog:
  languages:
    en-US: {broad: default, narrow: phone_call}
    zh-CN: {broad: default}
  languageModels:
    generic: ""
    finance: cust-fin-1
  acousticModels:
    generic: ""
  defaultLanguageModel: finance
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestWorkerFile(t *testing.T) {
	clearEnv()
	cfg := Load()

	wf, err := LoadWorkerFile(writeFile(t, "worker.yaml", workerYAML))
	if err != nil {
		t.Fatalf("LoadWorkerFile: %v", err)
	}
	if err := cfg.ApplyWorkerFile(wf); err != nil {
		t.Fatalf("ApplyWorkerFile: %v", err)
	}

	if cfg.Service.WorkerID != "boardroom-1" {
		t.Errorf("expected worker id from file, got %q", cfg.Service.WorkerID)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("expected two channels, got %d", len(cfg.Channels))
	}
	if ch := cfg.Channels[1]; ch.Driver != "synthetic" || ch.Model != "broad" || ch.Field != channel.FieldNear {
		t.Errorf("expected defaults filled for channel 1, got %+v", ch)
	}
	if cfg.Catalog.LanguageModels["finance"] != "cust-fin-1" || cfg.Catalog.LanguageModel != "finance" {
		t.Errorf("unexpected catalog %+v", cfg.Catalog)
	}
	if cfg.Catalog.Languages["zh-CN"]["broad"] != "default" {
		t.Errorf("unexpected languages %+v", cfg.Catalog.Languages)
	}
}

func TestWorkerFile_EnvModelWins(t *testing.T) {
	clearEnv()
	t.Setenv("STT_LANGUAGE_MODEL", "generic")
	cfg := Load()

	wf, err := LoadWorkerFile(writeFile(t, "worker.yaml", workerYAML))
	if err != nil {
		t.Fatalf("LoadWorkerFile: %v", err)
	}
	if err := cfg.ApplyWorkerFile(wf); err != nil {
		t.Fatalf("ApplyWorkerFile: %v", err)
	}
	if cfg.Catalog.LanguageModel != "generic" {
		t.Errorf("expected environment selection to win, got %q", cfg.Catalog.LanguageModel)
	}
}

func TestWorkerFile_Errors(t *testing.T) {
	clearEnv()

	if _, err := LoadWorkerFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if _, err := LoadWorkerFile(writeFile(t, "bad.yaml", "channels: [")); err == nil {
		t.Error("expected parse error")
	}

	dup := &WorkerFile{Channels: []channel.Config{{Index: 1}, {Index: 1}}}
	if err := Load().ApplyWorkerFile(dup); err == nil {
		t.Error("expected duplicate index error")
	}
	empty := &WorkerFile{Catalog: &CatalogConfig{}}
	if err := Load().ApplyWorkerFile(empty); err == nil {
		t.Error("expected error for catalog without languages")
	}
	if err := Load().ApplyWorkerFile(nil); err != nil {
		t.Errorf("nil worker file should be a no-op, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	os.Unsetenv("DOTENV_TEST_ONLY")
	os.Setenv("DOTENV_TEST_KEEP", "from-env")
	defer os.Unsetenv("DOTENV_TEST_ONLY")
	defer os.Unsetenv("DOTENV_TEST_KEEP")

	path := writeFile(t, ".env", "DOTENV_TEST_ONLY=from-file\nDOTENV_TEST_KEEP=from-file\n")
	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("DOTENV_TEST_ONLY"); got != "from-file" {
		t.Errorf("expected value from file, got %q", got)
	}
	if got := os.Getenv("DOTENV_TEST_KEEP"); got != "from-env" {
		t.Errorf("existing environment must win, got %q", got)
	}
}
