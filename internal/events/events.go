// Package events delivers outbound notifications to Kafka and live
// websocket subscribers, and consumes inbound commands.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transcript-channel-worker/internal/models"
)

// Sink receives every outbound event produced by the worker.
type Sink interface {
	PublishTranscript(ctx context.Context, ev models.TranscriptEvent) error
	PublishChannelState(ctx context.Context, ev models.ChannelStateEvent) error
	PublishAudio(ctx context.Context, ev models.AudioExtractionEvent) error
}

// Fanout forwards every event to each sink in order. A failing sink does
// not stop delivery to the rest.
type Fanout []Sink

func (f Fanout) PublishTranscript(ctx context.Context, ev models.TranscriptEvent) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.PublishTranscript(ctx, ev))
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishChannelState(ctx context.Context, ev models.ChannelStateEvent) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.PublishChannelState(ctx, ev))
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishAudio(ctx context.Context, ev models.AudioExtractionEvent) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.PublishAudio(ctx, ev))
	}
	return errors.Join(errs...)
}

// ChannelState builds a channel.state event for a snapshot.
func ChannelState(workerID, reason string, snap models.ChannelSnapshot, now time.Time) models.ChannelStateEvent {
	return models.ChannelStateEvent{
		EventType: models.EventChannelState,
		WorkerID:  workerID,
		Reason:    reason,
		Channel:   snap,
		Timestamp: now.UnixMilli(),
	}
}

// MessageKey keys messages by worker and channel so that one channel's
// events land on one partition in order.
func MessageKey(workerID string, channel int) string {
	return fmt.Sprintf("%s-ch%d", workerID, channel)
}
