package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"transcript-channel-worker/internal/service/audio"
)

// fakeSource writes its chunks, then either returns err or blocks until
// cancelled.
type fakeSource struct {
	chunks [][]byte
	err    error
	end    bool // return after writing even without err
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Run(ctx context.Context, w io.Writer) error {
	for _, c := range f.chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	if f.err != nil || f.end {
		return f.err
	}
	<-ctx.Done()
	return nil
}

type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
	ch   chan struct{}
}

func newFatalRecorder() *fatalRecorder {
	return &fatalRecorder{ch: make(chan struct{}, 4)}
}

func (r *fatalRecorder) record(_ int, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *fatalRecorder) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error reported")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[0]
}

func newTestSupervisor(src Source, ring *audio.Ring, gate *audio.Gate, onFatal func(int, error)) *Supervisor {
	return NewSupervisor(Options{
		ChannelIndex: 1,
		Source:       src,
		Ring:         ring,
		Gate:         gate,
		OnFatal:      onFatal,
		Logger:       zerolog.Nop(),
	})
}

func TestSupervisor_FeedsRingAndGate(t *testing.T) {
	ring := audio.NewRing(64)
	gate := audio.NewGate(new(atomic.Bool), new(atomic.Bool), false, 8)
	src := &fakeSource{chunks: [][]byte{{1, 2, 3, 4}, {5, 6}}}

	s := newTestSupervisor(src, ring, gate, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	c1 := <-gate.Output()
	c2 := <-gate.Output()
	if c1.Offset != 0 || !bytes.Equal(c1.Data, []byte{1, 2, 3, 4}) {
		t.Errorf("unexpected first chunk %+v", c1)
	}
	if c2.Offset != 4 || !bytes.Equal(c2.Data, []byte{5, 6}) {
		t.Errorf("unexpected second chunk %+v", c2)
	}
	got, err := ring.Slice(0, 6)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("unexpected ring contents %v", got)
	}
}

func TestSupervisor_KeepsSampleAlignment(t *testing.T) {
	ring := audio.NewRing(64)
	gate := audio.NewGate(new(atomic.Bool), new(atomic.Bool), false, 8)
	src := &fakeSource{chunks: [][]byte{{1, 2, 3}, {4, 5, 6}}}

	s := newTestSupervisor(src, ring, gate, nil)
	s.Start(context.Background())
	defer s.Stop()

	c1 := <-gate.Output()
	c2 := <-gate.Output()
	if len(c1.Data) != 2 || len(c2.Data) != 4 {
		t.Fatalf("expected chunks of 2 and 4 bytes, got %d and %d", len(c1.Data), len(c2.Data))
	}
	if !bytes.Equal(c2.Data, []byte{3, 4, 5, 6}) || c2.Offset != 2 {
		t.Errorf("expected carried byte to lead the next chunk, got %+v", c2)
	}
}

func TestSupervisor_PausedGateStillBuffers(t *testing.T) {
	paused := new(atomic.Bool)
	paused.Store(true)
	ring := audio.NewRing(64)
	gate := audio.NewGate(paused, new(atomic.Bool), false, 8)
	src := &fakeSource{chunks: [][]byte{{1, 2}}}

	s := newTestSupervisor(src, ring, gate, nil)
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for ring.Written() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ring.Written() != 2 {
		t.Fatalf("expected ring to keep buffering while paused, got %d bytes", ring.Written())
	}
	select {
	case c := <-gate.Output():
		t.Errorf("paused gate forwarded %+v", c)
	default:
	}
}

func TestSupervisor_BackendFailureIsFatal(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		want error
	}{
		{"error", &fakeSource{err: errors.New("device gone")}, nil},
		{"unexpected end", &fakeSource{end: true}, ErrSourceEnded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newFatalRecorder()
			s := newTestSupervisor(tt.src, audio.NewRing(16), nil, rec.record)
			s.Start(context.Background())
			defer s.Stop()

			err := rec.wait(t)
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if !strings.Contains(err.Error(), "channel 1") {
				t.Errorf("expected channel in error, got %v", err)
			}
			if !s.Failed() {
				t.Error("expected Failed to be true")
			}
		})
	}
}

func TestSupervisor_StopIsIdempotentAndReleases(t *testing.T) {
	rec := newFatalRecorder()
	s := newTestSupervisor(&fakeSource{}, audio.NewRing(16), nil, rec.record)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	s.Stop()
	s.Stop()

	if !s.Released() {
		t.Error("expected ring reference to be released")
	}
	if s.Failed() {
		t.Error("stopping must not count as a failure")
	}
	select {
	case <-rec.ch:
		t.Error("stop reported as fatal")
	default:
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestSupervisor_StopBeforeStart(t *testing.T) {
	s := newTestSupervisor(&fakeSource{}, audio.NewRing(16), nil, nil)
	s.Stop()
	if !s.Released() {
		t.Error("expected release without start")
	}
}

func TestFFmpeg_Args(t *testing.T) {
	tests := []struct {
		goos  string
		input []string
	}{
		{"darwin", []string{"-f", "avfoundation", "-i", "none:1"}},
		{"windows", []string{"-f", "dshow", "-i", "audio=1"}},
		{"linux", []string{"-f", "alsa", "-i", "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			f := &FFmpeg{Device: "1", ChannelIndex: 3, SampleRateHz: 16000, GOOS: tt.goos}
			args := strings.Join(f.Args(), " ")
			if !strings.Contains(args, strings.Join(tt.input, " ")) {
				t.Errorf("expected input %v in %q", tt.input, args)
			}
			for _, want := range []string{"-map_channel 0.0.3", "-ar 16000", "-f s16le", "-v error"} {
				if !strings.Contains(args, want) {
					t.Errorf("expected %q in %q", want, args)
				}
			}
		})
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestFFmpeg_StderrIsFailure(t *testing.T) {
	bin := writeScript(t, "echo 'device busy' >&2; exec sleep 5")
	f := &FFmpeg{Binary: bin, Device: "hw:0", SampleRateHz: 16000}

	err := f.Run(context.Background(), io.Discard)
	if err == nil || !strings.Contains(err.Error(), "device busy") {
		t.Errorf("expected stderr failure, got %v", err)
	}
}

func TestFFmpeg_ExitIsFailure(t *testing.T) {
	bin := writeScript(t, "printf 'abcd'")
	f := &FFmpeg{Binary: bin, Device: "hw:0", SampleRateHz: 16000}

	var buf bytes.Buffer
	err := f.Run(context.Background(), &buf)
	if !errors.Is(err, ErrSourceEnded) {
		t.Errorf("expected ErrSourceEnded, got %v", err)
	}
	if buf.String() != "abcd" {
		t.Errorf("expected stdout to be copied, got %q", buf.String())
	}
}

func TestFFmpeg_CancelIsClean(t *testing.T) {
	bin := writeScript(t, "exec sleep 5")
	f := &FFmpeg{Binary: bin, Device: "hw:0", SampleRateHz: 16000}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, io.Discard) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ffmpeg did not stop on cancel")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func dialIPC(t *testing.T, path string, data []byte) {
	t.Helper()
	var conn net.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err = net.Dial("unix", path); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write(data)
	conn.Close()
}

func TestIPC_AcceptsSequentialProducers(t *testing.T) {
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := &IPC{Dir: dir, ChannelIndex: 0, Logger: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, &out) }()

	path := SocketPath(dir, 0)
	send := func(data []byte) {
		var conn net.Conn
		var err error
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if conn, err = net.Dial("unix", path); err == nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conn.Write(data)
		conn.Close()
	}

	send([]byte{1, 2, 3, 4})
	send([]byte{5, 6})

	deadline := time.Now().Add(2 * time.Second)
	for out.Len() < 6 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if out.Len() != 6 {
		t.Errorf("expected 6 bytes from two producers, got %d", out.Len())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("IPC source did not stop")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected socket to be removed, got %v", err)
	}
}

func TestIPC_OddProducerDoesNotShiftNext(t *testing.T) {
	dir, err := os.MkdirTemp("", "ipc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	src := &IPC{Dir: dir, ChannelIndex: 1, Logger: zerolog.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var out syncBuffer
	go src.Run(ctx, &out)

	path := SocketPath(dir, 1)
	dialIPC(t, path, []byte{0xaa, 0xbb, 0xcc})
	dialIPC(t, path, []byte{0x01, 0x00, 0x02, 0x00})

	want := []byte{0xaa, 0xbb, 0x01, 0x00, 0x02, 0x00}
	deadline := time.Now().Add(2 * time.Second)
	for out.Len() < len(want) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := out.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("expected % x, got % x", want, got)
	}
}

func TestAlignedWriter_CarriesSplitSample(t *testing.T) {
	var out bytes.Buffer
	aw := &alignedWriter{w: &out}

	for _, p := range [][]byte{{1}, {2, 3}, {4, 5}} {
		n, err := aw.Write(p)
		if err != nil || n != len(p) {
			t.Fatalf("Write(% x) = %d, %v", p, n, err)
		}
	}
	if !bytes.Equal(out.Bytes(), []byte{1, 2, 3, 4}) {
		t.Errorf("expected 01 02 03 04, got % x", out.Bytes())
	}
	if !aw.hasCarry || aw.carry != 5 {
		t.Errorf("expected byte 05 held, got carry=%v %x", aw.hasCarry, aw.carry)
	}
}

func TestSynthetic_WritesFrames(t *testing.T) {
	src := &Synthetic{SampleRateHz: 16000, Interval: 10 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out syncBuffer
	if err := src.Run(ctx, &out); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Len() == 0 || out.Len()%320 != 0 {
		t.Errorf("expected whole 10ms frames, got %d bytes", out.Len())
	}
}

func TestNewSource(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		wantErr error
	}{
		{DriverFFmpeg, "ffmpeg", nil},
		{DriverIPC, "ipc", nil},
		{DriverSynthetic, "synthetic", nil},
		{DriverNone, "", ErrDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			src, err := NewSource(SourceConfig{Driver: tt.driver})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if src.Name() != tt.name {
				t.Errorf("expected %s, got %s", tt.name, src.Name())
			}
		})
	}

	if _, err := NewSource(SourceConfig{Driver: "pulse"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
