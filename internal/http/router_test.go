package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"transcript-channel-worker/internal/models"
	"transcript-channel-worker/internal/schema"
	"transcript-channel-worker/internal/service/catalog"
	"transcript-channel-worker/internal/service/channel"
	"transcript-channel-worker/internal/service/command"
)

type fakeWorker struct {
	ready bool
	err   error
	got   []models.Command
}

func (f *fakeWorker) Ready() bool { return f.ready }

func (f *fakeWorker) Snapshots() []models.ChannelSnapshot {
	return []models.ChannelSnapshot{
		{Index: 0, Language: "en-US", SessionState: "STREAMING"},
		{Index: 1, Language: "zh-CN", SessionState: "DISABLED"},
	}
}

func (f *fakeWorker) Dispatch(_ context.Context, cmd models.Command) (models.CommandResult, error) {
	f.got = append(f.got, cmd)
	if f.err != nil {
		return models.CommandResult{Type: cmd.Type}, f.err
	}
	return models.CommandResult{Type: cmd.Type, Applied: []int{0, 1}}, nil
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		ready  bool
		status int
	}{
		{"liveness", "/v1/liveness", false, http.StatusOK},
		{"ready", "/v1/readiness", true, http.StatusOK},
		{"not ready", "/v1/readiness", false, http.StatusServiceUnavailable},
		{"metrics", "/metrics", false, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&fakeWorker{ready: tt.ready}, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.status)
			}
		})
	}
}

func TestRouter_Channels(t *testing.T) {
	r := NewRouter(&fakeWorker{}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snaps []models.ChannelSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snaps) != 2 || snaps[1].Language != "zh-CN" {
		t.Errorf("snapshots = %+v", snaps)
	}
}

func TestRouter_CommandDispatched(t *testing.T) {
	w := &fakeWorker{}
	r := NewRouter(w, nil)
	rec := httptest.NewRecorder()
	body := `{"type":"switch_language","channel_idx":1,"language":"en-US"}`
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(w.got) != 1 {
		t.Fatalf("dispatched %d commands", len(w.got))
	}
	cmd := w.got[0]
	if cmd.Type != models.CmdSwitchLanguage || cmd.ChannelIdx == nil || *cmd.ChannelIdx != 1 || cmd.Language != "en-US" {
		t.Errorf("command = %+v", cmd)
	}
	var res models.CommandResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Applied) != 2 {
		t.Errorf("applied = %v", res.Applied)
	}
}

func TestRouter_CommandErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed json", `{"type":`, nil, http.StatusBadRequest},
		{"missing type", `{}`, nil, http.StatusBadRequest},
		{"invalid", `{"type":"pause"}`, fmt.Errorf("%w: language", schema.ErrMissingField), http.StatusBadRequest},
		{"unknown channel", `{"type":"pause","channel_idx":9}`, fmt.Errorf("%w: 9", channel.ErrUnknownChannel), http.StatusNotFound},
		{"unsupported language", `{"type":"switch_language","language":"xx"}`, catalog.ErrUnsupportedLanguage, http.StatusUnprocessableEntity},
		{"nothing applied", `{"type":"restart_channel"}`, command.ErrNothingApplied, http.StatusUnprocessableEntity},
		{"internal", `{"type":"restart_channel"}`, fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(&fakeWorker{err: tt.err}, nil)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/commands", strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Errorf("error body = %q", rec.Body.String())
			}
		})
	}
}

func TestRouter_EventsMounted(t *testing.T) {
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r := NewRouter(&fakeWorker{}, stream)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	r = NewRouter(&fakeWorker{}, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status without stream = %d, want 404", rec.Code)
	}
}
