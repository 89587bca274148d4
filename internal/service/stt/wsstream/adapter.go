// Package wsstream is a recognizer provider for speech services speaking the
// websocket start/listening/stop protocol: the client opens with a JSON
// start action, waits for {"state":"listening"}, streams binary PCM frames
// and receives JSON result frames until it sends {"action":"stop"}.
package wsstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"transcript-channel-worker/internal/service/stt"
)

// Errors returned by the adapter.
var (
	ErrService          = errors.New("recognition service error")
	ErrUnexpectedBinary = errors.New("unexpected binary frame from recognition service")
)

const (
	stateListening = "listening"
	stateStopped   = "stopped"

	maxMessageSize = 1 << 20
)

// Options configures the provider.
type Options struct {
	URL               string
	HandshakeTimeout  time.Duration
	InactivityTimeout int // seconds, -1 disables
	SmartFormatting   bool
}

// Provider dials one websocket per recognition stream.
type Provider struct {
	opts   Options
	dialer *websocket.Dialer
}

// New creates a websocket recognition provider.
func New(opts Options) *Provider {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = opts.HandshakeTimeout
	return &Provider{opts: opts, dialer: &dialer}
}

// Name implements stt.Provider.
func (p *Provider) Name() string {
	return "wsstream"
}

// Open dials the service, sends the start action and waits until the
// service reports it is listening.
func (p *Provider) Open(ctx context.Context, cfg stt.Config) (stt.Adapter, error) {
	u, err := streamURL(p.opts.URL, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if cfg.AcousticCustomization != "" {
		headers.Set("customization-local-path", cfg.AcousticCustomization)
	}

	conn, resp, err := p.dialer.DialContext(ctx, u, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial recognition service: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial recognition service: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	if err := conn.WriteJSON(p.startMessage(cfg)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send start action: %w", err)
	}
	if err := awaitListening(conn, p.opts.HandshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	a := &Adapter{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-a.done:
		}
	}()
	return a, nil
}

func (p *Provider) startMessage(cfg stt.Config) startMessage {
	m := startMessage{
		Action:            "start",
		ContentType:       fmt.Sprintf("audio/l16; rate=%d; channels=1", cfg.SampleRateHz),
		InterimResults:    cfg.InterimResults,
		Timestamps:        true,
		WordConfidence:    true,
		MaxAlternatives:   cfg.MaxAlternatives,
		InactivityTimeout: p.opts.InactivityTimeout,
		SmartFormatting:   p.opts.SmartFormatting,
	}
	if len(cfg.Keywords) > 0 {
		m.Keywords = cfg.Keywords
		m.KeywordsThreshold = cfg.KeywordsThreshold
	}
	return m
}

func streamURL(base string, cfg stt.Config) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse recognition service url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.LanguageCustomization != "" {
		q.Set("customization_id", cfg.LanguageCustomization)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func awaitListening(conn *websocket.Conn, timeout time.Duration) error {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await listening: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("%w: %s", ErrService, msg.Error)
		}
		if msg.State == stateListening {
			return nil
		}
	}
}

// Adapter is one open websocket recognition stream.
type Adapter struct {
	conn    *websocket.Conn
	pending []*stt.Result

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// SendAudio writes one binary PCM frame.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.BinaryMessage, audio)
}

// Recv returns the next result. The service ending the session (normal
// close, a second listening state or a stopped state) is reported as io.EOF.
func (a *Adapter) Recv() (*stt.Result, error) {
	for len(a.pending) == 0 {
		mt, data, err := a.conn.ReadMessage()
		if err != nil {
			if a.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return nil, ErrUnexpectedBinary
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode recognition message: %w", err)
		}
		switch {
		case msg.Error != "":
			return nil, fmt.Errorf("%w: %s", ErrService, msg.Error)
		case msg.State == stateListening || msg.State == stateStopped:
			return nil, io.EOF
		case msg.State != "":
			log.Debug().Str("state", msg.State).Msg("Ignoring recognition service state")
		default:
			a.pending = convertResults(msg.Results)
		}
	}
	r := a.pending[0]
	a.pending = a.pending[1:]
	return r, nil
}

// Close sends the stop action and closes the socket without waiting for
// the service to drain.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.writeMu.Lock()
		a.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = a.conn.WriteJSON(stopMessage{Action: "stop"})
		a.writeMu.Unlock()
		err = a.conn.Close()
	})
	return err
}

func (a *Adapter) isClosed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

func convertResults(results []wireResult) []*stt.Result {
	out := make([]*stt.Result, 0, len(results))
	for _, r := range results {
		if len(r.Alternatives) == 0 {
			continue
		}
		res := &stt.Result{Final: r.Final}
		for _, alt := range r.Alternatives {
			a := stt.Alternative{
				Transcript: strings.TrimSpace(alt.Transcript),
				Confidence: alt.Confidence,
			}
			for _, ts := range alt.Timestamps {
				a.Words = append(a.Words, stt.Word{
					Text:  ts.Word,
					Start: seconds(ts.Start),
					End:   seconds(ts.End),
				})
			}
			res.Alternatives = append(res.Alternatives, a)
		}
		out = append(out, res)
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
