package audio

import (
	"bytes"
	"errors"
	"sync"
	"testing"
)

func seq(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestRing_SliceWithinCapacity(t *testing.T) {
	r := NewRing(16)
	r.Write(seq(0, 10))

	got, err := r.Slice(2, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, seq(2, 5)) {
		t.Errorf("expected %v, got %v", seq(2, 5), got)
	}
}

func TestRing_WraparoundReturnsLastBytes(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		k        int
		chunk    int
	}{
		{"single wrap", 8, 3, 1},
		{"chunked writes", 10, 7, 3},
		{"many wraps", 5, 5, 2},
		{"oversized write", 4, 2, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRing(tt.capacity)
			total := tt.capacity + tt.k + 3*tt.capacity
			all := seq(0, total)
			for i := 0; i < total; i += tt.chunk {
				end := i + tt.chunk
				if end > total {
					end = total
				}
				r.Write(all[i:end])
			}

			written := r.Written()
			if written != int64(total) {
				t.Fatalf("expected %d bytes written, got %d", total, written)
			}
			got, err := r.Slice(written-int64(tt.k), written)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, all[total-tt.k:]) {
				t.Errorf("expected %v, got %v", all[total-tt.k:], got)
			}

			full, err := r.Slice(written-int64(tt.capacity), written)
			if err != nil {
				t.Fatalf("full window: unexpected error: %v", err)
			}
			if !bytes.Equal(full, all[total-tt.capacity:]) {
				t.Errorf("full window: expected %v, got %v", all[total-tt.capacity:], full)
			}
		})
	}
}

func TestRing_StaleRange(t *testing.T) {
	r := NewRing(8)
	r.Write(seq(0, 20))

	_, err := r.Slice(11, 15)
	if !errors.Is(err, ErrStaleRange) {
		t.Errorf("expected ErrStaleRange, got %v", err)
	}

	if _, err := r.Slice(12, 20); err != nil {
		t.Errorf("expected oldest held window to be readable, got %v", err)
	}
}

func TestRing_InvalidRange(t *testing.T) {
	r := NewRing(8)
	r.Write(seq(0, 4))

	tests := []struct {
		name       string
		start, end int64
	}{
		{"start after end", 3, 2},
		{"end past written", 0, 5},
		{"negative start", -1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Slice(tt.start, tt.end); !errors.Is(err, ErrInvalidRange) {
				t.Errorf("expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

func TestRing_AppendReturnsOffsets(t *testing.T) {
	r := NewRing(4)
	if off := r.Append(seq(0, 3)); off != 0 {
		t.Errorf("expected offset 0, got %d", off)
	}
	if off := r.Append(seq(3, 3)); off != 3 {
		t.Errorf("expected offset 3, got %d", off)
	}
	if r.Tail() != 2 {
		t.Errorf("expected tail 2, got %d", r.Tail())
	}
	if r.Head() != 2 {
		t.Errorf("expected head 2, got %d", r.Head())
	}
}

func TestRing_EmptySlice(t *testing.T) {
	r := NewRing(4)
	got, err := r.Slice(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty slice, got %v", got)
	}
}

func TestRing_ConcurrentWriteAndSlice(t *testing.T) {
	r := NewRing(64)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			r.Write(seq(i, 7))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			w := r.Written()
			start := w - 16
			if start < 0 {
				start = 0
			}
			_, err := r.Slice(start, w)
			if err != nil && !errors.Is(err, ErrStaleRange) {
				t.Errorf("unexpected error: %v", err)
				return
			}
		}
	}()

	wg.Wait()
}
