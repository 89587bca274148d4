package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/observability/metrics"
)

// Publisher publishes worker events to separate Kafka topics.
type Publisher struct {
	writerInterim *kafka.Writer
	writerFinal   *kafka.Writer
	writerState   *kafka.Writer
	writerAudio   *kafka.Writer
	principal     string
	topicInterim  string
	topicFinal    string
	topicState    string
	topicAudio    string
	enabled       bool
	metrics       *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicInterim string
	TopicFinal   string
	TopicState   string
	TopicAudio   string
	Principal    string
	Enabled      bool
}

// New creates a Kafka event publisher. With Kafka disabled every event is
// only logged.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled: false,
			metrics: m,
		}
	}

	p := &Publisher{
		principal:    cfg.Principal,
		topicInterim: cfg.TopicInterim,
		topicFinal:   cfg.TopicFinal,
		topicState:   cfg.TopicState,
		topicAudio:   cfg.TopicAudio,
		metrics:      m,
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerInterim = newWriter(cfg.Brokers, cfg.TopicInterim, transport)
	p.writerFinal = newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.writerState = newWriter(cfg.Brokers, cfg.TopicState, transport)
	p.writerAudio = newWriter(cfg.Brokers, cfg.TopicAudio, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicInterim", cfg.TopicInterim).
		Str("topicFinal", cfg.TopicFinal).
		Str("topicState", cfg.TopicState).
		Str("topicAudio", cfg.TopicAudio).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishTranscript publishes to the interim or final topic.
func (p *Publisher) PublishTranscript(ctx context.Context, ev models.TranscriptEvent) error {
	writer, topic := p.writerInterim, p.topicInterim
	if ev.Final {
		writer, topic = p.writerFinal, p.topicFinal
	}
	msg, err := p.jsonMessage(MessageKey(ev.WorkerID, ev.ChannelIndex), ev.EventType, ev)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}
	return p.write(ctx, writer, topic, ev.EventType, msg)
}

// PublishChannelState publishes to the state topic.
func (p *Publisher) PublishChannelState(ctx context.Context, ev models.ChannelStateEvent) error {
	msg, err := p.jsonMessage(MessageKey(ev.WorkerID, ev.Channel.Index), ev.EventType, ev)
	if err != nil {
		log.Error().Err(err).Str("topic", p.topicState).Msg("Failed to marshal event")
		return err
	}
	return p.write(ctx, p.writerState, p.topicState, ev.EventType, msg)
}

// PublishAudio publishes the extracted phrase as a WAV file. The event
// without its PCM travels in the metadata header.
func (p *Publisher) PublishAudio(ctx context.Context, ev models.AudioExtractionEvent) error {
	msg, err := p.audioMessage(ev)
	if err != nil {
		log.Error().Err(err).Str("topic", p.topicAudio).Msg("Failed to encode audio event")
		return err
	}
	return p.write(ctx, p.writerAudio, p.topicAudio, ev.EventType, msg)
}

func (p *Publisher) jsonMessage(key, eventType string, event any) (kafka.Message, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	log.Debug().
		Str("principal", p.principal).
		Str("eventType", eventType).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	return kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
			{Key: "contentType", Value: []byte("application/json")},
		},
	}, nil
}

func (p *Publisher) audioMessage(ev models.AudioExtractionEvent) (kafka.Message, error) {
	wavBytes, err := EncodeWAV(ev.PCM, ev.SampleRateHz)
	if err != nil {
		return kafka.Message{}, err
	}
	meta := ev
	meta.PCM = nil
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return kafka.Message{}, err
	}
	key := MessageKey(ev.WorkerID, ev.ChannelIndex)
	log.Debug().
		Str("principal", p.principal).
		Str("key", key).
		Int("pcmBytes", len(ev.PCM)).
		Msg("Publishing extracted audio")

	return kafka.Message{
		Key:   []byte(key),
		Value: wavBytes,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.EventType)},
			{Key: "principal", Value: []byte(p.principal)},
			{Key: "contentType", Value: []byte("audio/wav")},
			{Key: "channelIndex", Value: []byte(strconv.Itoa(ev.ChannelIndex))},
			{Key: "metadata", Value: metaJSON},
		},
	}, nil
}

func (p *Publisher) write(ctx context.Context, writer *kafka.Writer, topic, eventType string, msg kafka.Message) error {
	start := time.Now()

	// Log-only mode
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", string(msg.Key)).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes every Kafka writer.
func (p *Publisher) Close() error {
	var err error
	for name, w := range map[string]*kafka.Writer{
		"interim": p.writerInterim,
		"final":   p.writerFinal,
		"state":   p.writerState,
		"audio":   p.writerAudio,
	} {
		if w == nil {
			continue
		}
		if e := w.Close(); e != nil {
			log.Error().Err(e).Str("writer", name).Msg("Error closing writer")
			err = e
		}
	}
	return err
}
