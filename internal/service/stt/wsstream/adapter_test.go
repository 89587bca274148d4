package wsstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"transcript-channel-worker/internal/service/stt"
)

var upgrader = websocket.Upgrader{}

type fakeService struct {
	starts  chan startMessage
	queries chan string
	headers chan http.Header
	audio   chan []byte
	stops   chan string
	// handshakeError is sent instead of the listening state when set.
	handshakeError string
}

func newFakeService() *fakeService {
	return &fakeService{
		starts:  make(chan startMessage, 1),
		queries: make(chan string, 1),
		headers: make(chan http.Header, 1),
		audio:   make(chan []byte, 1),
		stops:   make(chan string, 1),
	}
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.queries <- r.URL.RawQuery
	f.headers <- r.Header.Clone()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var start startMessage
	if err := conn.ReadJSON(&start); err != nil {
		return
	}
	f.starts <- start

	if f.handshakeError != "" {
		conn.WriteJSON(serverMessage{Error: f.handshakeError})
		return
	}
	conn.WriteJSON(serverMessage{State: stateListening})

	_, frame, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.audio <- frame

	conn.WriteJSON(serverMessage{Results: []wireResult{{
		Final: true,
		Alternatives: []wireAlternative{{
			Transcript: "hello there ",
			Confidence: 0.8,
			Timestamps: []wireTimestamp{{"hello", 0.5, 0.9}, {"there", 1.0, 1.25}},
		}},
	}}})

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.stops <- string(msg)
}

func wsURL(srv *httptest.Server) string {
	return "http" + strings.TrimPrefix(srv.URL, "http") + "/decode"
}

func TestProvider_StreamRoundTrip(t *testing.T) {
	svc := newFakeService()
	srv := httptest.NewServer(svc)
	defer srv.Close()

	p := New(Options{URL: wsURL(srv), InactivityTimeout: -1, SmartFormatting: true})
	cfg := stt.DefaultConfig()
	cfg.Model = "en-US_BroadbandModel"
	cfg.LanguageCustomization = "cust-1"
	cfg.AcousticCustomization = "/models/room"
	cfg.Keywords = []string{"budget"}

	a, err := p.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	start := <-svc.starts
	if start.Action != "start" || !start.Timestamps || start.MaxAlternatives != 3 {
		t.Errorf("unexpected start message %+v", start)
	}
	if start.ContentType != "audio/l16; rate=16000; channels=1" {
		t.Errorf("unexpected content type %q", start.ContentType)
	}
	if len(start.Keywords) != 1 || start.KeywordsThreshold != 0.01 {
		t.Errorf("expected keywords in start message, got %+v", start)
	}
	query := <-svc.queries
	if !strings.Contains(query, "model=en-US_BroadbandModel") || !strings.Contains(query, "customization_id=cust-1") {
		t.Errorf("unexpected query %q", query)
	}
	if h := <-svc.headers; h.Get("customization-local-path") != "/models/room" {
		t.Errorf("expected acoustic customization header, got %q", h.Get("customization-local-path"))
	}

	if err := a.SendAudio(context.Background(), []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if got := <-svc.audio; len(got) != 4 {
		t.Errorf("expected 4 audio bytes, got %d", len(got))
	}

	r, err := a.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if !r.Final {
		t.Error("expected final result")
	}
	alt := r.Alternatives[0]
	if alt.Transcript != "hello there" {
		t.Errorf("expected trimmed transcript, got %q", alt.Transcript)
	}
	if len(alt.Words) != 2 || alt.Words[1].End != 1250*time.Millisecond {
		t.Errorf("unexpected words %+v", alt.Words)
	}

	a.Close()
	select {
	case stop := <-svc.stops:
		var m stopMessage
		if err := json.Unmarshal([]byte(stop), &m); err != nil || m.Action != "stop" {
			t.Errorf("expected stop action, got %q", stop)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service never received stop action")
	}

	if _, err := a.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after close, got %v", err)
	}
}

func TestProvider_HandshakeError(t *testing.T) {
	svc := newFakeService()
	svc.handshakeError = "model not found"
	srv := httptest.NewServer(svc)
	defer srv.Close()

	_, err := New(Options{URL: wsURL(srv)}).Open(context.Background(), stt.DefaultConfig())
	if !errors.Is(err, ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
	if !strings.Contains(err.Error(), "model not found") {
		t.Errorf("expected service message in error, got %v", err)
	}
}

func TestProvider_DialFailure(t *testing.T) {
	_, err := New(Options{URL: "ws://127.0.0.1:1/decode", HandshakeTimeout: 200 * time.Millisecond}).
		Open(context.Background(), stt.DefaultConfig())
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://host/asr", "ws://host/asr?model=m"},
		{"https://host/asr", "wss://host/asr?model=m"},
		{"wss://host/asr", "wss://host/asr?model=m"},
	}
	for _, tt := range tests {
		got, err := streamURL(tt.base, stt.Config{Model: "m"})
		if err != nil {
			t.Fatalf("streamURL(%q): %v", tt.base, err)
		}
		if got != tt.want {
			t.Errorf("streamURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestWireTimestamp_Unmarshal(t *testing.T) {
	var ts wireTimestamp
	if err := json.Unmarshal([]byte(`["word", 1.5, 2]`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ts.Word != "word" || ts.Start != 1.5 || ts.End != 2 {
		t.Errorf("unexpected timestamp %+v", ts)
	}
	if err := json.Unmarshal([]byte(`["word", 1.5]`), &ts); err == nil {
		t.Error("expected error for short triple")
	}
}
