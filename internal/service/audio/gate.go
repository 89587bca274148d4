package audio

import "sync/atomic"

// Chunk is a piece of captured audio tagged with the absolute ring offset of
// its first byte.
type Chunk struct {
	Offset int64
	Data   []byte
}

// End returns the absolute offset just past the chunk.
func (c Chunk) End() int64 {
	return c.Offset + int64(len(c.Data))
}

// GateStats counts what the gate did with the chunks offered to it.
type GateStats struct {
	Forwarded uint64
	Paused    uint64
	Overflow  uint64
}

// Gate forwards captured chunks to the recognition queue unless the channel
// is paused. A paused gate drops chunks but never closes the queue, so the
// recognition session stays connected and simply receives no audio.
type Gate struct {
	paused     *atomic.Bool
	suppress   *atomic.Bool
	honorsSupp bool
	out        chan Chunk

	forwarded atomic.Uint64
	dropped   atomic.Uint64
	overflow  atomic.Uint64
}

// NewGate builds a gate reading the channel's pause flag and, when
// honorsSuppress is set (far-field channels), the worker-wide
// competing-speaker flag. queueSize bounds the queue handed to the session.
func NewGate(paused, suppress *atomic.Bool, honorsSuppress bool, queueSize int) *Gate {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Gate{
		paused:     paused,
		suppress:   suppress,
		honorsSupp: honorsSuppress,
		out:        make(chan Chunk, queueSize),
	}
}

// Closed reports whether chunks are currently being dropped.
func (g *Gate) Closed() bool {
	if g.paused != nil && g.paused.Load() {
		return true
	}
	return g.honorsSupp && g.suppress != nil && g.suppress.Load()
}

// Offer hands a chunk to the gate. It never blocks: a paused gate drops the
// chunk, and so does a full queue. It reports whether the chunk was queued.
func (g *Gate) Offer(c Chunk) bool {
	if g.Closed() {
		g.dropped.Add(1)
		return false
	}
	select {
	case g.out <- c:
		g.forwarded.Add(1)
		return true
	default:
		g.overflow.Add(1)
		return false
	}
}

// Output is the bounded queue consumed by the transcription session.
func (g *Gate) Output() <-chan Chunk {
	return g.out
}

// Stats returns the gate counters.
func (g *Gate) Stats() GateStats {
	return GateStats{
		Forwarded: g.forwarded.Load(),
		Paused:    g.dropped.Load(),
		Overflow:  g.overflow.Load(),
	}
}
