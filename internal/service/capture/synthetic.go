package capture

import (
	"context"
	"io"
	"time"
)

// Synthetic produces real-time silence. It stands in for a device when
// exercising the pipeline without audio hardware.
type Synthetic struct {
	SampleRateHz int
	Interval     time.Duration
}

func (s *Synthetic) Name() string {
	return "synthetic"
}

func (s *Synthetic) Run(ctx context.Context, w io.Writer) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	rate := s.SampleRateHz
	if rate <= 0 {
		rate = 16000
	}
	frame := make([]byte, int(int64(rate)*2*int64(interval)/int64(time.Second))&^1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
	}
}
