package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// IPC captures audio pushed by another process over a per-channel unix
// socket. Producers connect one at a time; a producer disconnecting is not
// a failure, the socket keeps accepting.
type IPC struct {
	Dir          string
	ChannelIndex int
	ChunkBytes   int
	Logger       zerolog.Logger
}

func (s *IPC) Name() string {
	return "ipc"
}

// SocketPath returns the socket a producer should connect to.
func SocketPath(dir string, channel int) string {
	return filepath.Join(dir, fmt.Sprintf("transcript-%d.sock", channel))
}

func (s *IPC) Run(ctx context.Context, w io.Writer) error {
	path := SocketPath(s.Dir, s.ChannelIndex)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("listen %s: %w", path, err)
	}
	defer os.Remove(path)

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer l.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", path, err)
		}
		s.Logger.Info().Str("socket", path).Msg("Audio producer connected")
		err = s.serve(ctx, conn, w)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.Logger.Warn().Err(err).Str("socket", path).Msg("Audio producer connection failed")
			continue
		}
		s.Logger.Info().Str("socket", path).Msg("Audio producer disconnected")
	}
}

func (s *IPC) serve(ctx context.Context, conn net.Conn, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	aw := &alignedWriter{w: w}
	err := pump(ctx, conn, aw, s.ChunkBytes)
	if aw.hasCarry {
		s.Logger.Warn().Msg("Audio producer ended mid-sample, dropping trailing byte")
	}
	return err
}

// alignedWriter forwards whole 16-bit samples of one producer's stream. A
// byte left over when the producer goes away is discarded with the writer,
// so the next producer starts on a sample boundary.
type alignedWriter struct {
	w        io.Writer
	carry    byte
	hasCarry bool
}

func (a *alignedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}
	data := p
	if a.hasCarry {
		data = make([]byte, 0, n+1)
		data = append(data, a.carry)
		data = append(data, p...)
		a.hasCarry = false
	}
	if len(data)%2 == 1 {
		a.carry = data[len(data)-1]
		a.hasCarry = true
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return n, nil
	}
	if _, err := a.w.Write(data); err != nil {
		return 0, err
	}
	return n, nil
}
