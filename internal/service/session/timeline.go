package session

import (
	"sync"

	"transcript-channel-worker/internal/service/audio"
)

const maxSpans = 4096

// span is a run of audio sent to the recognizer whose ring offsets are
// contiguous.
type span struct {
	stream int64 // position in the recognition stream
	ring   int64 // absolute ring offset
	length int64
}

// timeline maps byte positions of one recognition connection back to ring
// offsets. Gaps from pauses and dropped chunks start a new span, so word
// offsets reported by the recognizer still land on the audio that was sent.
type timeline struct {
	mu    sync.Mutex
	spans []span
	sent  int64
}

func (t *timeline) add(c audio.Chunk) {
	n := int64(len(c.Data))
	if n == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if k := len(t.spans); k > 0 {
		last := &t.spans[k-1]
		if last.ring+last.length == c.Offset {
			last.length += n
			t.sent += n
			return
		}
	}
	t.spans = append(t.spans, span{stream: t.sent, ring: c.Offset, length: n})
	t.sent += n
	if len(t.spans) > maxSpans {
		t.spans = append(t.spans[:0], t.spans[len(t.spans)-maxSpans:]...)
	}
}

// start maps a stream position to the ring offset of the byte at that
// position.
func (t *timeline) start(pos int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.spans {
		if pos >= s.stream && pos < s.stream+s.length {
			return s.ring + pos - s.stream, true
		}
	}
	return 0, false
}

// end maps a stream position to the ring offset just past the byte before
// it.
func (t *timeline) end(pos int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.spans {
		if pos > s.stream && pos <= s.stream+s.length {
			return s.ring + pos - s.stream, true
		}
	}
	return 0, false
}
