// Package results turns per-channel result records into outbound events:
// speaker tag expiry, publish gating, phrase extraction and transcript
// publication.
package results

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"transcript-channel-worker/internal/events"
	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/logging"
	"transcript-channel-worker/internal/observability/metrics"
	"transcript-channel-worker/internal/service/audio"
	"transcript-channel-worker/internal/service/channel"
	"transcript-channel-worker/internal/state"
)

// DefaultResumePhrases re-enable publishing when heard while it is stopped.
var DefaultResumePhrases = []string{"start listen", "resume listen", "begin listen"}

// Extraction outcomes.
const (
	ExtractOK          = "ok"
	ExtractStale       = "stale"
	ExtractNoAudio     = "no_audio"
	ExtractUnavailable = "unavailable"
	ExtractFailed      = "publish_failed"
)

// Options configures the Publisher.
type Options struct {
	Worker *state.Worker
	Sink   events.Sink
	// SpeakerTTL is how long a speaker tag lives without a final result.
	SpeakerTTL     time.Duration
	PublishInterim bool
	// ExtractStripPrefix is a wake word dropped from the start of extracted
	// phrases.
	ExtractStripPrefix string
	ResumePhrases      []string
	SampleRateHz       int
	SweepInterval      time.Duration
	Now                func() time.Time
	Metrics            *metrics.Metrics
}

// Publisher implements channel.ResultHandler.
type Publisher struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a Publisher.
func New(opts Options) *Publisher {
	if opts.SpeakerTTL <= 0 {
		opts.SpeakerTTL = 5 * time.Minute
	}
	if opts.ResumePhrases == nil {
		opts.ResumePhrases = DefaultResumePhrases
	}
	if opts.SampleRateHz <= 0 {
		opts.SampleRateHz = 16000
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	opts.ExtractStripPrefix = strings.ToLower(strings.TrimSpace(opts.ExtractStripPrefix))
	return &Publisher{
		opts:   opts,
		logger: logging.WithComponent("result-publisher"),
	}
}

// HandleResult processes one record. It runs on the channel's session
// goroutine, so records of one channel arrive in order.
func (p *Publisher) HandleResult(ctx context.Context, ch *channel.Channel, rec models.ResultRecord) {
	now := p.opts.Now()
	p.expire(ctx, ch, now)

	if rec.Final {
		ch.RecordFinal(now, p.opts.SpeakerTTL)
		if ch.TakeExtraction() {
			p.extract(ctx, ch, rec, now)
		}
	} else if rec.SpeechStartedAt > 0 {
		ch.RecordInterim(time.UnixMilli(rec.SpeechStartedAt))
	}

	if !p.opts.Worker.Publishing() {
		if rec.Final && p.resumeRequested(rec.Text) {
			if p.opts.Worker.SetPublishing(true) {
				chLog := ch.Logger()
				chLog.Info().Str("text", rec.Text).Msg("Publishing resumed by voice")
			}
			return
		}
		p.opts.Metrics.RecordSuppressed()
		return
	}
	if !rec.Final && !p.opts.PublishInterim {
		return
	}

	ev := models.TranscriptEvent{
		EventType:            models.EventTranscriptInterim,
		WorkerID:             p.opts.Worker.ID(),
		ChannelIndex:         rec.ChannelIndex,
		ChannelName:          ch.Config().Device,
		Final:                rec.Final,
		Text:                 rec.Text,
		Alternatives:         rec.Alternatives,
		Words:                rec.Words,
		TotalDurationSeconds: rec.TotalDurationSeconds,
		Speaker:              ch.Speaker(),
		SessionToken:         rec.SessionToken,
		Timestamp:            now.UnixMilli(),
	}
	if rec.Final {
		ev.EventType = models.EventTranscriptFinal
	}
	if len(rec.Alternatives) > 0 {
		ev.Confidence = rec.Alternatives[0].Confidence
	}
	if err := p.opts.Sink.PublishTranscript(ctx, ev); err != nil {
		chLog := ch.Logger()
		chLog.Warn().Err(err).Bool("final", rec.Final).Msg("Failed to publish transcript")
	}
}

// Sweep clears expired speaker tags on every channel.
func (p *Publisher) Sweep(ctx context.Context, channels []*channel.Channel) {
	now := p.opts.Now()
	for _, ch := range channels {
		p.expire(ctx, ch, now)
	}
}

// Run sweeps speaker tags periodically until ctx is cancelled, so tags
// expire on channels that produce no results.
func (p *Publisher) Run(ctx context.Context, channels []*channel.Channel) {
	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep(ctx, channels)
		}
	}
}

func (p *Publisher) expire(ctx context.Context, ch *channel.Channel, now time.Time) {
	if !ch.ExpireSpeaker(now) {
		return
	}
	p.opts.Metrics.RecordSpeakerExpired()
	chLog := ch.Logger()
	chLog.Info().Msg("Speaker tag expired")
	ev := events.ChannelState(p.opts.Worker.ID(), "speaker_expired", ch.Snapshot(), now)
	if err := p.opts.Sink.PublishChannelState(ctx, ev); err != nil {
		chLog.Warn().Err(err).Msg("Failed to publish channel state")
	}
}

func (p *Publisher) resumeRequested(text string) bool {
	t := strings.ToLower(text)
	for _, phrase := range p.opts.ResumePhrases {
		if strings.Contains(t, phrase) {
			return true
		}
	}
	return false
}

// extract slices the final result's audio out of the ring and publishes it.
func (p *Publisher) extract(ctx context.Context, ch *channel.Channel, rec models.ResultRecord, now time.Time) {
	logger := ch.Logger().With().Str("sessionToken", rec.SessionToken).Logger()

	start, end := rec.AudioStart, rec.AudioEnd
	words := rec.Words
	text := rec.Text
	if !rec.HasAudio {
		if len(rec.Words) == 0 {
			logger.Warn().Msg("Phrase extraction skipped: result has no word timestamps")
		} else {
			logger.Warn().Msg("Phrase extraction skipped: words not mapped to captured audio")
		}
		p.opts.Metrics.RecordExtraction(ExtractNoAudio)
		return
	}

	if p.opts.ExtractStripPrefix != "" && len(words) > 1 && normalize(words[0].Word) == p.opts.ExtractStripPrefix {
		if off := rec.WordOffsets[1]; off >= 0 && off < end {
			start = off
			words = words[1:]
			text = joinWords(words)
		}
	}

	pcm, err := ch.Slice(start, end)
	if err != nil {
		outcome := ExtractUnavailable
		if errors.Is(err, audio.ErrStaleRange) {
			outcome = ExtractStale
		}
		logger.Warn().Err(err).Int64("start", start).Int64("end", end).Msg("Phrase extraction skipped")
		p.opts.Metrics.RecordExtraction(outcome)
		return
	}

	ev := models.AudioExtractionEvent{
		EventType:    models.EventAudioExtracted,
		WorkerID:     p.opts.Worker.ID(),
		ChannelIndex: rec.ChannelIndex,
		Text:         text,
		Words:        rebase(words),
		SampleRateHz: p.opts.SampleRateHz,
		PCM:          pcm,
		Timestamp:    now.UnixMilli(),
	}
	if err := p.opts.Sink.PublishAudio(ctx, ev); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish extracted audio")
		p.opts.Metrics.RecordExtraction(ExtractFailed)
		return
	}
	logger.Info().Int("bytes", len(pcm)).Str("text", text).Msg("Phrase extracted")
	p.opts.Metrics.RecordExtraction(ExtractOK)
}

// rebase shifts word timings so the first word starts at zero.
func rebase(words []models.WordTiming) []models.WordTiming {
	if len(words) == 0 {
		return nil
	}
	origin := words[0].Start
	out := make([]models.WordTiming, len(words))
	for i, w := range words {
		out[i] = models.WordTiming{Word: w.Word, Start: w.Start - origin, End: w.End - origin}
	}
	return out
}

func joinWords(words []models.WordTiming) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Word
	}
	return strings.Join(parts, " ")
}

func normalize(word string) string {
	return strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
}
