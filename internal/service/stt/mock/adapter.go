// Package mock provides a simulated recognizer for running the worker without
// a speech service. It produces progressive interim results, exactly one
// final result per utterance and word offsets derived from the amount of
// audio received, so phrase extraction works end to end.
package mock

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"transcript-channel-worker/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive interim transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"let's", "let's move on", "let's move on to the"},
		Final:      "let's move on to the next agenda item",
		Confidence: 0.93,
	},
	{
		Partials:   []string{"could you", "could you share"},
		Final:      "could you share the slides again",
		Confidence: 0.9,
	},
	{
		Partials:   []string{"the numbers", "the numbers for the"},
		Final:      "the numbers for the third quarter look good",
		Confidence: 0.88,
	},
	{
		Partials:   []string{"thanks"},
		Final:      "thanks everyone",
		Confidence: 0.97,
	},
}

// Provider implements stt.Provider. Each Open starts at the next utterance
// so concurrent channels produce different text.
type Provider struct {
	// Utterances cycled through by every stream. Defaults to DefaultUtterances.
	Utterances []SimulatedUtterance
	// FramesPerStep is the number of SendAudio calls between two results.
	FramesPerStep int

	opened atomic.Uint64
}

// New creates a mock provider emitting a result every framesPerStep frames.
func New(framesPerStep int) *Provider {
	if framesPerStep <= 0 {
		framesPerStep = 1
	}
	return &Provider{Utterances: DefaultUtterances, FramesPerStep: framesPerStep}
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	return "mock"
}

// Opened reports how many streams have been opened.
func (p *Provider) Opened() int {
	return int(p.opened.Load())
}

// Open implements stt.Provider.
func (p *Provider) Open(ctx context.Context, cfg stt.Config) (stt.Adapter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	utts := p.Utterances
	if len(utts) == 0 {
		utts = DefaultUtterances
	}
	step := p.FramesPerStep
	if step <= 0 {
		step = 1
	}
	bps := cfg.SampleRateHz * 2
	if bps <= 0 {
		bps = 32000
	}

	n := p.opened.Add(1) - 1
	a := &Adapter{
		utterances:     utts,
		current:        int(n % uint64(len(utts))),
		framesPerStep:  step,
		bytesPerSecond: bps,
		results:        make(chan *stt.Result, 64),
		done:           make(chan struct{}),
	}
	go func() {
		select {
		case <-ctx.Done():
			a.Close()
		case <-a.done:
		}
	}()
	return a, nil
}

// Adapter is one simulated stream.
type Adapter struct {
	mu             sync.Mutex
	utterances     []SimulatedUtterance
	current        int
	partialIndex   int
	frames         int
	framesPerStep  int
	bytesReceived  int64
	bytesPerSecond int
	uttStart       time.Duration

	results   chan *stt.Result
	done      chan struct{}
	closeOnce sync.Once
}

// SendAudio counts audio and emits the next simulated result every
// FramesPerStep frames.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	select {
	case <-a.done:
		return io.ErrClosedPipe
	default:
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.bytesReceived += int64(len(audio))
	a.frames++
	if a.frames%a.framesPerStep != 0 {
		return nil
	}

	utt := a.utterances[a.current]
	if a.partialIndex < len(utt.Partials) {
		if a.partialIndex == 0 {
			a.uttStart = a.position(a.bytesReceived - int64(len(audio)))
		}
		text := utt.Partials[a.partialIndex]
		a.partialIndex++
		a.emit(&stt.Result{Alternatives: []stt.Alternative{{Transcript: text}}})
		return nil
	}

	start := a.uttStart
	if len(utt.Partials) == 0 {
		start = a.position(a.bytesReceived - int64(len(audio)))
	}
	a.emit(&stt.Result{
		Final: true,
		Alternatives: []stt.Alternative{{
			Transcript: utt.Final,
			Confidence: utt.Confidence,
			Words:      spreadWords(utt.Final, start, a.position(a.bytesReceived)),
		}},
	})
	a.current = (a.current + 1) % len(a.utterances)
	a.partialIndex = 0
	return nil
}

// Recv returns the next simulated result, or io.EOF once closed.
func (a *Adapter) Recv() (*stt.Result, error) {
	select {
	case r := <-a.results:
		return r, nil
	case <-a.done:
		return nil, io.EOF
	}
}

// Close ends the stream. Idempotent.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.done) })
	return nil
}

func (a *Adapter) position(bytes int64) time.Duration {
	return time.Duration(bytes) * time.Second / time.Duration(a.bytesPerSecond)
}

// emit drops the result when nobody is reading.
func (a *Adapter) emit(r *stt.Result) {
	select {
	case a.results <- r:
	default:
	}
}

// spreadWords assigns each word an equal share of [start, end).
func spreadWords(text string, start, end time.Duration) []stt.Word {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	width := (end - start) / time.Duration(len(fields))
	words := make([]stt.Word, len(fields))
	for i, f := range fields {
		ws := start + time.Duration(i)*width
		words[i] = stt.Word{Text: f, Start: ws, End: ws + width}
	}
	words[len(words)-1].End = end
	return words
}
