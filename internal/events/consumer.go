package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/logging"
)

// CommandHandler applies one inbound command.
type CommandHandler func(ctx context.Context, cmd models.Command) (models.CommandResult, error)

// ConsumerConfig configures the Kafka command consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Enabled bool
}

// CommandConsumer reads commands from a Kafka topic and hands them to a
// handler one at a time.
type CommandConsumer struct {
	reader *kafka.Reader
	handle CommandHandler
	logger zerolog.Logger
}

// NewCommandConsumer creates a consumer. When disabled, Run only waits for
// cancellation.
func NewCommandConsumer(cfg ConsumerConfig, handle CommandHandler) *CommandConsumer {
	c := &CommandConsumer{
		handle: handle,
		logger: logging.WithComponent("command-consumer"),
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 || cfg.Topic == "" {
		c.logger.Info().Msg("Kafka command consumer disabled")
		return c
	}
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  500 * time.Millisecond,
	})
	c.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Str("groupId", cfg.GroupID).
		Msg("Kafka command consumer initialized")
	return c
}

// Run consumes until ctx is cancelled. Malformed or rejected commands are
// logged and committed so they are not redelivered.
func (c *CommandConsumer) Run(ctx context.Context) error {
	if c.reader == nil {
		<-ctx.Done()
		return nil
	}
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn().Err(err).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		c.process(ctx, msg.Value)

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit command offset")
		}
	}
}

func (c *CommandConsumer) process(ctx context.Context, value []byte) {
	cmd, err := DecodeCommand(value)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Discarding malformed command")
		return
	}
	res, err := c.handle(ctx, cmd)
	if err != nil {
		c.logger.Warn().Err(err).Str("type", cmd.Type).Msg("Command rejected")
		return
	}
	c.logger.Info().
		Str("type", cmd.Type).
		Ints("applied", res.Applied).
		Int("skipped", len(res.Skipped)).
		Msg("Command applied")
}

// DecodeCommand parses a JSON command.
func DecodeCommand(value []byte) (models.Command, error) {
	var cmd models.Command
	if err := json.Unmarshal(value, &cmd); err != nil {
		return models.Command{}, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type == "" {
		return models.Command{}, errors.New("decode command: missing type")
	}
	return cmd, nil
}

// Close closes the Kafka reader.
func (c *CommandConsumer) Close() error {
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
