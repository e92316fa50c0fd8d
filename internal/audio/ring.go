// Package audio implements the audio pipeline: a bounded decode queue
// feeding an off-goroutine Opus decoder, a playback ring buffer, and a
// PCM sink. Queue overflow drops chunks and a low watermark discards
// excess decoded audio, so latency and memory stay bounded at the cost of
// continuity.
package audio

import "sync"

// Ring is the consumer-side playback buffer: a fixed-capacity FIFO of
// decoded PCM segments. Its fill level is the authoritative "audio buffer
// size" surfaced to callers. Read never blocks: an empty ring yields
// silence so the playback device stays fed.
type Ring struct {
	mu   sync.Mutex
	segs [][]byte
	off  int // read offset into segs[0]
	max  int
}

// NewRing creates a ring holding at most max segments.
func NewRing(max int) *Ring {
	return &Ring{max: max}
}

// Fill returns the number of queued segments.
func (r *Ring) Fill() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.segs)
}

// Push appends a PCM segment. A full ring rejects the segment.
func (r *Ring) Push(seg []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.segs) >= r.max {
		return false
	}
	r.segs = append(r.segs, seg)
	return true
}

// Reset discards all queued audio.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segs = nil
	r.off = 0
}

// Read implements io.Reader for the playback device, zero-filling when no
// decoded audio is queued.
func (r *Ring) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) && len(r.segs) > 0 {
		seg := r.segs[0][r.off:]
		c := copy(p[n:], seg)
		n += c
		r.off += c
		if r.off == len(r.segs[0]) {
			r.segs = r.segs[1:]
			r.off = 0
		}
	}
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}
