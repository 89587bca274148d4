package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// FFmpeg captures one channel of a multi-channel input device by running
// ffmpeg and reading raw s16le PCM from its stdout. Any output on stderr is
// treated as a failure.
type FFmpeg struct {
	Binary       string
	Device       string
	ChannelIndex int
	SampleRateHz int
	ChunkBytes   int
	// GOOS selects the input format; defaults to runtime.GOOS.
	GOOS string
}

func (f *FFmpeg) Name() string {
	return "ffmpeg"
}

// InputArgs returns the platform-specific input format and device.
func (f *FFmpeg) InputArgs() []string {
	goos := f.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "darwin":
		return []string{"-f", "avfoundation", "-i", "none:" + f.Device}
	case "windows":
		return []string{"-f", "dshow", "-i", "audio=" + f.Device}
	default:
		return []string{"-f", "alsa", "-i", f.Device}
	}
}

// Args returns the full ffmpeg argument list.
func (f *FFmpeg) Args() []string {
	args := []string{"-v", "error"}
	args = append(args, f.InputArgs()...)
	return append(args,
		"-map_channel", "0.0."+strconv.Itoa(f.ChannelIndex),
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(f.SampleRateHz),
		"-ac", "1",
		"-f", "s16le",
		"-",
	)
}

// Run starts ffmpeg and copies its output to w until ctx is cancelled or
// the process fails.
func (f *FFmpeg) Run(ctx context.Context, w io.Writer) error {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(runCtx, bin, f.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var (
		mu         sync.Mutex
		stderrLine string
		wg         sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			mu.Lock()
			if stderrLine == "" {
				stderrLine = line
			}
			mu.Unlock()
			cancel()
		}
	}()

	copyErr := pump(runCtx, stdout, w, f.ChunkBytes)
	wg.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	mu.Lock()
	line := stderrLine
	mu.Unlock()
	switch {
	case line != "":
		return fmt.Errorf("ffmpeg reported: %s", line)
	case waitErr != nil:
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	case copyErr != nil && !errors.Is(copyErr, io.EOF):
		return fmt.Errorf("read ffmpeg output: %w", copyErr)
	default:
		return ErrSourceEnded
	}
}

// pump copies r to w in chunks of at most chunkBytes.
func pump(ctx context.Context, r io.Reader, w io.Writer, chunkBytes int) error {
	if chunkBytes <= 0 {
		chunkBytes = 3200
	}
	buf := make([]byte, chunkBytes)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
