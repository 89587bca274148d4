// Package google provides a Google Cloud Speech-to-Text provider.
package google

import (
	"context"
	"fmt"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/status"

	"transcript-channel-worker/internal/service/stt"
)

// Provider implements stt.Provider using Google Cloud Speech-to-Text. One
// client is shared by every channel; each Open starts a new
// StreamingRecognize call.
type Provider struct {
	client *speech.Client
}

// New creates a new Google STT provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google speech client: %w", err)
	}
	return &Provider{client: c}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	return "google"
}

// Open starts a streaming recognition call and sends the initial config.
func (p *Provider) Open(ctx context.Context, cfg stt.Config) (stt.Adapter, error) {
	stream, err := p.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("streaming recognize: %w", err)
	}

	// Send streaming config as the first message
	if err := stream.Send(streamingConfig(cfg)); err != nil {
		_ = stream.CloseSend()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}

	if cfg.AcousticCustomization != "" {
		log.Debug().
			Str("acousticModel", cfg.AcousticCustomization).
			Msg("Google provider has no acoustic customization, ignoring")
	}

	return &Adapter{stream: stream}, nil
}

// Close releases the shared client.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Adapter is one Google streaming recognition call.
type Adapter struct {
	stream  speechpb.Speech_StreamingRecognizeClient
	pending []*stt.Result

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Recv returns the next result. A response carrying several results is
// delivered one result per call, in order.
func (a *Adapter) Recv() (*stt.Result, error) {
	for len(a.pending) == 0 {
		resp, err := a.stream.Recv()
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, status.ErrorProto(resp.Error)
		}
		a.pending = convertResults(resp.Results)
	}
	r := a.pending[0]
	a.pending = a.pending[1:]
	return r, nil
}

// Close half-closes the stream. The call is torn down when the context
// passed to Open is cancelled.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.sendMu.Lock()
		defer a.sendMu.Unlock()
		err = a.stream.CloseSend()
	})
	return err
}

func streamingConfig(cfg stt.Config) *speechpb.StreamingRecognizeRequest {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               cfg.LanguageCode,
		Model:                      cfg.Model,
		MaxAlternatives:            int32(cfg.MaxAlternatives),
		EnableWordTimeOffsets:      true,
		EnableAutomaticPunctuation: true,
	}
	if len(cfg.Keywords) > 0 {
		rc.SpeechContexts = []*speechpb.SpeechContext{{Phrases: cfg.Keywords}}
	}
	if cfg.LanguageCustomization != "" {
		rc.Adaptation = &speechpb.SpeechAdaptation{
			PhraseSetReferences: []string{cfg.LanguageCustomization},
		}
	}
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: cfg.InterimResults,
			},
		},
	}
}

func convertResults(results []*speechpb.StreamingRecognitionResult) []*stt.Result {
	out := make([]*stt.Result, 0, len(results))
	for _, r := range results {
		if len(r.Alternatives) == 0 {
			continue
		}
		res := &stt.Result{Final: r.IsFinal}
		for _, alt := range r.Alternatives {
			a := stt.Alternative{
				Transcript: alt.Transcript,
				Confidence: float64(alt.Confidence),
			}
			for _, w := range alt.Words {
				a.Words = append(a.Words, stt.Word{
					Text:  w.Word,
					Start: w.StartTime.AsDuration(),
					End:   w.EndTime.AsDuration(),
				})
			}
			res.Alternatives = append(res.Alternatives, a)
		}
		out = append(out, res)
	}
	return out
}

// parseAudioEncoding maps the configured encoding name to the API enum,
// falling back to LINEAR16.
func parseAudioEncoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
