// Package channel ties together the per-channel pipeline: configuration,
// runtime state, ring buffer, pause gate, capture supervisor and
// transcription session.
package channel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/logging"
	"transcript-channel-worker/internal/service/audio"
	"transcript-channel-worker/internal/service/capture"
	"transcript-channel-worker/internal/service/catalog"
	"transcript-channel-worker/internal/service/session"
	"transcript-channel-worker/internal/service/stt"
	"transcript-channel-worker/internal/state"
)

// Field types. Only far-field channels are silenced by the
// competing-speaker flag.
const (
	FieldFar  = "far"
	FieldNear = "near"
)

// Errors.
var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrDisabled       = errors.New("channel capture disabled")
	ErrReleased       = errors.New("channel buffer released")
)

// Config is the configuration of one channel. Index is immutable; the rest
// is changed only through the command dispatcher.
type Config struct {
	Index    int    `yaml:"idx" json:"idx"`
	Device   string `yaml:"device" json:"device"`
	Driver   string `yaml:"driver" json:"driver"`
	Field    string `yaml:"field" json:"field"`
	Language string `yaml:"language" json:"language"`
	Model    string `yaml:"model" json:"model"`
}

// Runtime is the mutable per-channel state.
type Runtime struct {
	Speaker          string
	SpeakerExpiry    time.Time
	ExtractRequested bool
	LastMessageAt    time.Time
	SpeechStartedAt  time.Time
}

// Channel is one capture channel. Config and Runtime are guarded by mu; the
// paused flag is read lock-free by the gate on every chunk.
type Channel struct {
	mu     sync.Mutex
	cfg    Config
	rt     Runtime
	logger zerolog.Logger

	paused atomic.Bool

	worker  *state.Worker
	catalog *catalog.Catalog
	base    stt.Config

	ring     *audio.Ring
	gate     *audio.Gate
	capture  *capture.Supervisor
	session  *session.Session
	released bool
}

func newChannel(cfg Config, worker *state.Worker, cat *catalog.Catalog, base stt.Config) *Channel {
	return &Channel{
		cfg:     cfg,
		logger:  logging.WithChannel(cfg.Index, cfg.Language, cfg.Model),
		worker:  worker,
		catalog: cat,
		base:    base,
	}
}

// Index returns the immutable channel index.
func (c *Channel) Index() int {
	return c.cfg.Index
}

// Config returns a copy of the current configuration.
func (c *Channel) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Runtime returns a copy of the current runtime state.
func (c *Channel) Runtime() Runtime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rt
}

// Logger returns a logger carrying channel, language and model.
func (c *Channel) Logger() zerolog.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Enabled reports whether the channel has a pipeline.
func (c *Channel) Enabled() bool {
	return c.session != nil
}

// Session returns the transcription session, nil for disabled channels.
func (c *Channel) Session() *session.Session {
	return c.session
}

// Paused reports the manual pause flag.
func (c *Channel) Paused() bool {
	return c.paused.Load()
}

// SetPaused sets the manual pause flag and reports whether it changed. The
// recognition session is left alone.
func (c *Channel) SetPaused(paused bool) bool {
	return c.paused.Swap(paused) != paused
}

// Muted reports whether audio is currently withheld from recognition.
func (c *Channel) Muted() bool {
	if c.gate == nil {
		return true
	}
	return c.gate.Closed()
}

// SetLanguage validates language against the catalog for the channel's
// model tier and applies it. It reports whether the language changed.
func (c *Channel) SetLanguage(language string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.catalog.Resolve(language, c.cfg.Model); err != nil {
		return false, err
	}
	if c.cfg.Language == language {
		return false, nil
	}
	c.cfg.Language = language
	c.logger = logging.WithChannel(c.cfg.Index, c.cfg.Language, c.cfg.Model)
	return true, nil
}

// Restart forces a new recognition connection.
func (c *Channel) Restart(reason string) error {
	if c.session == nil {
		return ErrDisabled
	}
	return c.session.Restart(reason)
}

// TagSpeaker attaches a speaker name until expiry.
func (c *Channel) TagSpeaker(name string, expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rt.Speaker = name
	c.rt.SpeakerExpiry = expiry
}

// Speaker returns the current speaker tag.
func (c *Channel) Speaker() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rt.Speaker
}

// ExpireSpeaker clears the speaker tag once now is past its expiry. It
// reports whether a tag was cleared.
func (c *Channel) ExpireSpeaker(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rt.Speaker == "" || !now.After(c.rt.SpeakerExpiry) {
		return false
	}
	c.rt.Speaker = ""
	c.rt.SpeakerExpiry = time.Time{}
	return true
}

// RecordFinal notes a final result at now. A tagged speaker's expiry is
// pushed out to now + ttl.
func (c *Channel) RecordFinal(now time.Time, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rt.LastMessageAt = now
	c.rt.SpeechStartedAt = time.Time{}
	if c.rt.Speaker != "" && ttl > 0 {
		c.rt.SpeakerExpiry = now.Add(ttl)
	}
}

// RecordInterim notes speech in progress. The session pins the start per
// utterance, so its value replaces whatever was recorded.
func (c *Channel) RecordInterim(speechStart time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rt.SpeechStartedAt = speechStart
}

// ClearSpeechStart forgets speech in progress, as when the recognition
// connection is replaced mid-utterance.
func (c *Channel) ClearSpeechStart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rt.SpeechStartedAt = time.Time{}
}

// RequestExtraction arms phrase extraction for the next final result.
func (c *Channel) RequestExtraction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rt.ExtractRequested = true
}

// TakeExtraction reports whether extraction was armed and disarms it.
func (c *Channel) TakeExtraction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	armed := c.rt.ExtractRequested
	c.rt.ExtractRequested = false
	return armed
}

// Slice copies audio out of the channel's ring buffer.
func (c *Channel) Slice(start, end int64) ([]byte, error) {
	c.mu.Lock()
	ring := c.ring
	released := c.released
	c.mu.Unlock()
	if ring == nil {
		if released {
			return nil, ErrReleased
		}
		return nil, ErrDisabled
	}
	return ring.Slice(start, end)
}

// StreamConfig builds the recognition settings for the next connection from
// the channel config and the worker-wide model selection.
func (c *Channel) StreamConfig() stt.Config {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	sc := c.base
	sc.LanguageCode = cfg.Language
	if name, err := c.catalog.Resolve(cfg.Language, cfg.Model); err == nil {
		sc.Model = name
	}
	lm, am := c.worker.Models()
	if v, err := c.catalog.LanguageModel(lm); err == nil {
		sc.LanguageCustomization = v
	}
	if v, err := c.catalog.AcousticModel(am); err == nil {
		sc.AcousticCustomization = v
	}
	sc.Keywords = c.worker.Keywords()
	return sc
}

// Snapshot returns a copy of configuration and runtime state.
func (c *Channel) Snapshot() models.ChannelSnapshot {
	c.mu.Lock()
	cfg, rt := c.cfg, c.rt
	c.mu.Unlock()

	lm, am := c.worker.Models()
	snap := models.ChannelSnapshot{
		Index:          cfg.Index,
		Device:         cfg.Device,
		Driver:         cfg.Driver,
		Field:          cfg.Field,
		Language:       cfg.Language,
		Model:          cfg.Model,
		LanguageModel:  lm,
		AcousticModel:  am,
		Paused:         c.paused.Load(),
		Suppressed:     cfg.Field == FieldFar && c.worker.Suppressed(),
		Speaker:        rt.Speaker,
		ExtractPending: rt.ExtractRequested,
		SessionState:   "DISABLED",
	}
	if rt.Speaker != "" {
		snap.SpeakerExpiry = millis(rt.SpeakerExpiry)
	}
	snap.LastMessageAt = millis(rt.LastMessageAt)
	snap.SpeechStartedAt = millis(rt.SpeechStartedAt)
	if c.session != nil {
		snap.SessionState = c.session.State().String()
		snap.SessionToken = c.session.Token()
	}
	return snap
}

func (c *Channel) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = nil
	c.released = true
}

func millis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
