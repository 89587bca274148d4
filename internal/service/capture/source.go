package capture

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Driver names.
const (
	DriverFFmpeg    = "ffmpeg"
	DriverIPC       = "ipc"
	DriverSynthetic = "synthetic"
	DriverNone      = "none"
)

// ErrDisabled is returned for channels using the none driver.
var ErrDisabled = errors.New("capture disabled")

// SourceConfig holds what NewSource needs to build any driver.
type SourceConfig struct {
	Driver       string
	Device       string
	ChannelIndex int
	SampleRateHz int
	ChunkBytes   int
	FFmpegBinary string
	SocketDir    string
	Logger       zerolog.Logger
}

// NewSource builds the backend for a driver name.
func NewSource(cfg SourceConfig) (Source, error) {
	switch cfg.Driver {
	case DriverFFmpeg:
		return &FFmpeg{
			Binary:       cfg.FFmpegBinary,
			Device:       cfg.Device,
			ChannelIndex: cfg.ChannelIndex,
			SampleRateHz: cfg.SampleRateHz,
			ChunkBytes:   cfg.ChunkBytes,
		}, nil
	case DriverIPC:
		return &IPC{
			Dir:          cfg.SocketDir,
			ChannelIndex: cfg.ChannelIndex,
			ChunkBytes:   cfg.ChunkBytes,
			Logger:       cfg.Logger,
		}, nil
	case DriverSynthetic:
		return &Synthetic{SampleRateHz: cfg.SampleRateHz}, nil
	case DriverNone:
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown capture driver %q", cfg.Driver)
	}
}
