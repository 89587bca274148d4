// Package command validates and applies reconfiguration commands to the
// channel set.
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"transcript-channel-worker/internal/events"
	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/logging"
	"transcript-channel-worker/internal/observability/metrics"
	"transcript-channel-worker/internal/schema"
	"transcript-channel-worker/internal/service/catalog"
	"transcript-channel-worker/internal/service/channel"
	"transcript-channel-worker/internal/state"
)

// ErrNothingApplied is returned when a command addressed to every channel
// was rejected by all of them.
var ErrNothingApplied = errors.New("command not applied to any channel")

// Channels is the channel set the dispatcher mutates.
type Channels interface {
	Get(index int) (*channel.Channel, error)
	All() []*channel.Channel
}

// Options configures the Dispatcher.
type Options struct {
	Channels   Channels
	Worker     *state.Worker
	Catalog    *catalog.Catalog
	Sink       events.Sink
	SpeakerTTL time.Duration
	Now        func() time.Time
	Metrics    *metrics.Metrics
}

// Dispatcher applies commands. Each operation validates before mutating;
// operations addressed to every channel apply where they can and report
// the channels they skipped.
type Dispatcher struct {
	opts      Options
	validator *schema.Validator
	logger    zerolog.Logger
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	if opts.SpeakerTTL <= 0 {
		opts.SpeakerTTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.DefaultMetrics
	}
	return &Dispatcher{
		opts:      opts,
		validator: schema.New(),
		logger:    logging.WithComponent("command-dispatcher"),
	}
}

// Dispatch validates cmd and routes it to the matching operation.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd models.Command) (models.CommandResult, error) {
	res, err := d.dispatch(ctx, cmd)
	res.Type = cmd.Type
	d.opts.Metrics.RecordCommand(cmd.Type, err)

	var ev *zerolog.Event
	if err != nil {
		ev = d.logger.Warn().Err(err)
	} else {
		ev = d.logger.Info()
	}
	ev.Str("type", cmd.Type).
		Ints("applied", res.Applied).
		Int("skipped", len(res.Skipped)).
		Msg("Command handled")
	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd models.Command) (models.CommandResult, error) {
	if err := d.validator.Validate(cmd); err != nil {
		return models.CommandResult{}, err
	}
	switch cmd.Type {
	case models.CmdSwitchLanguage:
		return d.SwitchLanguage(ctx, cmd.ChannelIdx, cmd.Language)
	case models.CmdSwitchLanguageModel:
		return d.SwitchLanguageModel(ctx, cmd.Model)
	case models.CmdSwitchAcousticModel:
		return d.SwitchAcousticModel(ctx, cmd.Model)
	case models.CmdPause:
		return d.SetPaused(ctx, cmd.ChannelIdx, true)
	case models.CmdUnpause:
		return d.SetPaused(ctx, cmd.ChannelIdx, false)
	case models.CmdTagChannel:
		return d.TagSpeaker(ctx, *cmd.ChannelIdx, cmd.Speaker)
	case models.CmdExtractPitchtone:
		return d.RequestPhraseExtraction(ctx, *cmd.ChannelIdx)
	case models.CmdStopPublish:
		return d.SetGlobalPublish(ctx, false)
	case models.CmdStartPublish:
		return d.SetGlobalPublish(ctx, true)
	case models.CmdRestartChannel:
		return d.RestartChannel(ctx, cmd.ChannelIdx)
	case models.CmdSpeakerBegin:
		return d.SetSpeakerActive(ctx, true)
	case models.CmdSpeakerEnd:
		return d.SetSpeakerActive(ctx, false)
	case models.CmdSetKeywords:
		return d.SetKeywords(ctx, cmd.Keywords)
	}
	return models.CommandResult{}, fmt.Errorf("%w: %q", schema.ErrUnknownCommand, cmd.Type)
}

// SwitchLanguage sets the language of one channel, or of every channel
// when index is nil, and restarts the affected sessions.
func (d *Dispatcher) SwitchLanguage(ctx context.Context, index *int, language string) (models.CommandResult, error) {
	return d.apply(ctx, index, "switch_language", func(ch *channel.Channel) (bool, error) {
		changed, err := ch.SetLanguage(language)
		if err != nil || !changed {
			return false, err
		}
		d.restart(ch, "language")
		return true, nil
	})
}

// SwitchLanguageModel selects the language-model customization for every
// channel and restarts every session.
func (d *Dispatcher) SwitchLanguageModel(ctx context.Context, id string) (models.CommandResult, error) {
	if _, err := d.opts.Catalog.LanguageModel(id); err != nil {
		return models.CommandResult{}, err
	}
	d.opts.Worker.SetLanguageModel(id)
	return d.restartAll(ctx, "language_model")
}

// SwitchAcousticModel selects the acoustic-model customization for every
// channel and restarts every session.
func (d *Dispatcher) SwitchAcousticModel(ctx context.Context, id string) (models.CommandResult, error) {
	if _, err := d.opts.Catalog.AcousticModel(id); err != nil {
		return models.CommandResult{}, err
	}
	d.opts.Worker.SetAcousticModel(id)
	return d.restartAll(ctx, "acoustic_model")
}

// SetKeywords replaces the recognition keyword list and restarts every
// session.
func (d *Dispatcher) SetKeywords(ctx context.Context, keywords []string) (models.CommandResult, error) {
	d.opts.Worker.SetKeywords(keywords)
	return d.restartAll(ctx, "keywords")
}

// SetPaused pauses or resumes audio delivery. The session is left open.
func (d *Dispatcher) SetPaused(ctx context.Context, index *int, paused bool) (models.CommandResult, error) {
	reason := "unpause"
	if paused {
		reason = "pause"
	}
	return d.apply(ctx, index, reason, func(ch *channel.Channel) (bool, error) {
		return ch.SetPaused(paused), nil
	})
}

// TagSpeaker labels a channel's speaker until now + TTL. An empty name
// clears the tag.
func (d *Dispatcher) TagSpeaker(ctx context.Context, index int, name string) (models.CommandResult, error) {
	expiry := d.opts.Now().Add(d.opts.SpeakerTTL)
	if name == "" {
		expiry = time.Time{}
	}
	return d.apply(ctx, &index, "tag_speaker", func(ch *channel.Channel) (bool, error) {
		ch.TagSpeaker(name, expiry)
		return true, nil
	})
}

// RequestPhraseExtraction arms extraction for the channel's next final.
func (d *Dispatcher) RequestPhraseExtraction(ctx context.Context, index int) (models.CommandResult, error) {
	return d.apply(ctx, &index, "extract_requested", func(ch *channel.Channel) (bool, error) {
		if !ch.Enabled() {
			return false, channel.ErrDisabled
		}
		ch.RequestExtraction()
		return true, nil
	})
}

// RestartChannel forces new recognition connections.
func (d *Dispatcher) RestartChannel(ctx context.Context, index *int) (models.CommandResult, error) {
	return d.apply(ctx, index, "restart", func(ch *channel.Channel) (bool, error) {
		if err := ch.Restart("command"); err != nil {
			return false, err
		}
		return true, nil
	})
}

// SetGlobalPublish turns transcript publication on or off. Channel state
// events keep flowing either way.
func (d *Dispatcher) SetGlobalPublish(ctx context.Context, enabled bool) (models.CommandResult, error) {
	reason := "stop_publish"
	if enabled {
		reason = "start_publish"
	}
	changed := d.opts.Worker.SetPublishing(enabled)
	return d.apply(ctx, nil, reason, func(*channel.Channel) (bool, error) {
		return changed, nil
	})
}

// SetSpeakerActive raises or lowers the competing-speaker flag that mutes
// far-field channels.
func (d *Dispatcher) SetSpeakerActive(ctx context.Context, active bool) (models.CommandResult, error) {
	reason := "speaker_end"
	if active {
		reason = "speaker_begin"
	}
	changed := d.opts.Worker.SetSuppressed(active)
	return d.apply(ctx, nil, reason, func(ch *channel.Channel) (bool, error) {
		return changed && ch.Config().Field == channel.FieldFar, nil
	})
}

func (d *Dispatcher) restartAll(ctx context.Context, reason string) (models.CommandResult, error) {
	return d.apply(ctx, nil, reason, func(ch *channel.Channel) (bool, error) {
		d.restart(ch, reason)
		return true, nil
	})
}

func (d *Dispatcher) restart(ch *channel.Channel, reason string) {
	if !ch.Enabled() {
		return
	}
	if err := ch.Restart(reason); err != nil {
		chLog := ch.Logger()
		chLog.Warn().Err(err).Str("reason", reason).Msg("Session restart failed")
	}
}

// apply runs fn on the addressed channels. fn reports whether it changed
// anything; each change emits one channel.state event. With a nil index a
// failing channel is skipped and the rest still apply.
func (d *Dispatcher) apply(ctx context.Context, index *int, reason string, fn func(*channel.Channel) (bool, error)) (models.CommandResult, error) {
	var res models.CommandResult

	if index != nil {
		ch, err := d.opts.Channels.Get(*index)
		if err != nil {
			return res, err
		}
		changed, err := fn(ch)
		if err != nil {
			return res, fmt.Errorf("channel %d: %w", ch.Index(), err)
		}
		res.Applied = []int{ch.Index()}
		if changed {
			d.emit(ctx, ch, reason)
		}
		return res, nil
	}

	channels := d.opts.Channels.All()
	for _, ch := range channels {
		changed, err := fn(ch)
		if err != nil {
			if res.Skipped == nil {
				res.Skipped = make(map[int]string)
			}
			res.Skipped[ch.Index()] = err.Error()
			chLog := ch.Logger()
			chLog.Warn().Err(err).Str("reason", reason).Msg("Channel skipped")
			continue
		}
		res.Applied = append(res.Applied, ch.Index())
		if changed {
			d.emit(ctx, ch, reason)
		}
	}
	if len(res.Applied) == 0 && len(res.Skipped) > 0 {
		return res, ErrNothingApplied
	}
	return res, nil
}

func (d *Dispatcher) emit(ctx context.Context, ch *channel.Channel, reason string) {
	if d.opts.Sink == nil {
		return
	}
	ev := events.ChannelState(d.opts.Worker.ID(), reason, ch.Snapshot(), d.opts.Now())
	if err := d.opts.Sink.PublishChannelState(ctx, ev); err != nil {
		chLog := ch.Logger()
		chLog.Warn().Err(err).Msg("Failed to publish channel state")
	}
}
