package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/schema"
)

func main() {
	typ := flag.String("type", "", "Command type: "+strings.Join(schema.Types(), ", "))
	channel := flag.Int("channel", -1, "Channel index; -1 addresses every channel")
	language := flag.String("language", "", "Language code for switch_language")
	model := flag.String("model", "", "Model id for switch_language_model and switch_acoustic_model")
	speaker := flag.String("speaker", "", "Speaker name for tag_channel")
	keywords := flag.String("keywords", "", "Comma-separated keywords for set_keywords")
	server := flag.String("server", "http://localhost:8080", "Worker HTTP address")
	brokers := flag.String("brokers", "", "Send through Kafka instead of HTTP (comma-separated brokers)")
	topic := flag.String("topic", "transcript.commands", "Kafka command topic")
	flag.Parse()

	if *typ == "" {
		log.Fatal("-type is required")
	}
	cmd := models.Command{
		Type:     *typ,
		Language: *language,
		Model:    *model,
		Speaker:  *speaker,
	}
	if *channel >= 0 {
		cmd.ChannelIdx = channel
	}
	if *keywords != "" {
		cmd.Keywords = strings.Split(*keywords, ",")
	}

	if err := schema.New().Validate(cmd); err != nil {
		log.Fatalf("Invalid command: %v", err)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		log.Fatalf("Failed to encode command: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if *brokers != "" {
		w := &kafka.Writer{
			Addr:  kafka.TCP(strings.Split(*brokers, ",")...),
			Topic: *topic,
		}
		defer w.Close()
		if err := w.WriteMessages(ctx, kafka.Message{Value: body}); err != nil {
			log.Fatalf("Failed to publish command: %v", err)
		}
		log.Printf("Published %s to %s", cmd.Type, *topic)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *server+"/v1/commands", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Failed to send command: %v", err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	log.Printf("%s: %s", resp.Status, bytes.TrimSpace(out))
}
