// Package audio provides the per-channel audio primitives: the circular
// buffer that keeps recent raw PCM and the pause gate that sits between
// capture and recognition.
package audio

import (
	"errors"
	"fmt"
	"sync"
)

// Errors returned by Ring.Slice.
var (
	// ErrStaleRange means part of the requested range has already been
	// overwritten by newer audio.
	ErrStaleRange = errors.New("audio range no longer held in ring buffer")
	// ErrInvalidRange means the range is malformed or reaches past the
	// most recently written byte.
	ErrInvalidRange = errors.New("invalid audio range")
)

// Ring is a fixed-capacity byte ring holding the most recent raw audio of a
// channel. Offsets passed to Slice are absolute: they come from the monotonic
// counter of bytes ever written, not from the internal cursors.
//
// Ring is safe for one writer and occasional concurrent readers.
type Ring struct {
	mu      sync.Mutex
	buf     []byte
	written int64
}

// NewRing allocates a ring of the given capacity in bytes.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		panic(fmt.Sprintf("audio: ring capacity must be positive, got %d", capacity))
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Cap returns the fixed capacity in bytes.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Written returns the absolute offset of the next byte to be written.
func (r *Ring) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Head returns the cursor position of the oldest valid byte.
func (r *Ring) Head() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.oldest() % int64(len(r.buf)))
}

// Tail returns the cursor position of the next write.
func (r *Ring) Tail() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.written % int64(len(r.buf)))
}

// Write implements io.Writer. It never fails; old data is overwritten.
func (r *Ring) Write(p []byte) (int, error) {
	r.Append(p)
	return len(p), nil
}

// Append writes p and returns the absolute offset of its first byte.
func (r *Ring) Append(p []byte) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.written
	r.written += int64(len(p))

	size := len(r.buf)
	data := p
	if len(data) > size {
		// Only the last size bytes survive; skip straight to them.
		data = data[len(data)-size:]
	}
	pos := int((r.written - int64(len(data))) % int64(size))
	n := copy(r.buf[pos:], data)
	if n < len(data) {
		copy(r.buf, data[n:])
	}
	return start
}

// Slice copies out the bytes in [start, end). The range must lie inside the
// most recent Cap() bytes written.
func (r *Ring) Slice(start, end int64) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if start < 0 || start > end || end > r.written {
		return nil, fmt.Errorf("%w: [%d, %d) with %d written", ErrInvalidRange, start, end, r.written)
	}
	if start < r.oldest() {
		return nil, fmt.Errorf("%w: [%d, %d) oldest held is %d", ErrStaleRange, start, end, r.oldest())
	}

	out := make([]byte, end-start)
	size := int64(len(r.buf))
	pos := int(start % size)
	n := copy(out, r.buf[pos:])
	if n < len(out) {
		copy(out[n:], r.buf)
	}
	return out, nil
}

func (r *Ring) oldest() int64 {
	if o := r.written - int64(len(r.buf)); o > 0 {
		return o
	}
	return 0
}
