// Package stt defines the interface for streaming Speech-to-Text providers.
package stt

import (
	"context"
	"time"
)

// Config describes one recognition stream.
type Config struct {
	LanguageCode          string
	Model                 string // provider model name resolved from the catalog
	LanguageCustomization string
	AcousticCustomization string
	SampleRateHz          int
	AudioEncoding         string
	InterimResults        bool
	MaxAlternatives       int
	Keywords              []string
	KeywordsThreshold     float64
}

// DefaultConfig returns the stream settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		LanguageCode:      "en-US",
		SampleRateHz:      16000,
		AudioEncoding:     "LINEAR16",
		InterimResults:    true,
		MaxAlternatives:   3,
		KeywordsThreshold: 0.01,
	}
}

// Word is a recognized word with offsets from the start of the stream.
type Word struct {
	Text  string
	Start time.Duration
	End   time.Duration
}

// Alternative is one hypothesis for a result.
type Alternative struct {
	Transcript string
	Confidence float64
	Words      []Word
}

// Result is a single interim or final recognition result.
type Result struct {
	Final        bool
	Alternatives []Alternative
}

// Provider opens recognition streams. Implementations are safe for
// concurrent use by several channels.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Open performs the handshake and returns a stream ready for audio.
	// Cancelling ctx tears the stream down.
	Open(ctx context.Context, cfg Config) (Adapter, error)
}

// Adapter is one open bidirectional recognition stream.
type Adapter interface {
	// SendAudio sends audio bytes to the STT provider.
	SendAudio(ctx context.Context, audio []byte) error

	// Recv blocks for the next result. It returns io.EOF when the provider
	// ends the stream.
	Recv() (*Result, error)

	// Close ends the session without waiting for the provider to
	// acknowledge. Safe to call more than once.
	Close() error
}
