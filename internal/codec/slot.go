package codec

import (
	"log/slog"
	"sync"
)

// SlotState is the lifecycle state of a Slot.
type SlotState int

// Slot lifecycle. Transitions only move forward; Closed is terminal.
const (
	SlotUnconfigured SlotState = iota
	SlotConfiguring
	SlotConfigured
	SlotClosed
)

func (s SlotState) String() string {
	switch s {
	case SlotUnconfigured:
		return "unconfigured"
	case SlotConfiguring:
		return "configuring"
	case SlotConfigured:
		return "configured"
	case SlotClosed:
		return "closed"
	}
	return "invalid"
}

// Slot wraps one decoder handle and its pending-chunk queue. Chunks
// submitted while the decoder is still configuring are queued and drained
// in FIFO order once configuration succeeds, so a chunk is never decoded
// against an unready decoder and never dropped by the configuration race.
//
// Submit and BeginConfigure are called from the session's control
// goroutine; decoder completion callbacks may arrive from any goroutine.
type Slot struct {
	mu      sync.Mutex
	state   SlotState
	dec     Decoder
	pending []Chunk

	onFrame func(Frame)
	onDead  func(error)
	log     *slog.Logger
}

// State returns the slot's current lifecycle state.
func (s *Slot) State() SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PendingDepth returns the number of queued not-yet-decoded chunks.
func (s *Slot) PendingDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// BeginConfigure starts asynchronous decoder configuration. The outcome
// arrives via the decoder's OnConfigured callback. Calling it on a slot
// that already left Unconfigured is a no-op.
func (s *Slot) BeginConfigure(cfg Config) {
	s.mu.Lock()
	if s.state != SlotUnconfigured {
		s.mu.Unlock()
		return
	}
	s.state = SlotConfiguring
	dec := s.dec
	s.mu.Unlock()

	dec.Configure(cfg)
}

// Submit routes a chunk to the slot. Before the decoder is configured the
// chunk is queued; on a Configured slot it goes straight to the decoder;
// on a Closed slot it is dropped.
func (s *Slot) Submit(c Chunk) {
	s.mu.Lock()
	switch s.state {
	case SlotClosed:
		s.mu.Unlock()
		return
	case SlotUnconfigured, SlotConfiguring:
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	dec := s.dec
	s.mu.Unlock()

	if err := dec.Decode(c); err != nil {
		s.log.Warn("decode submit failed", "frame", c.FrameID, "error", err)
	}
}

// Close tears the slot down, discarding any pending chunks. Idempotent:
// closing a Closed slot is a no-op.
func (s *Slot) Close() {
	s.mu.Lock()
	if s.state == SlotClosed {
		s.mu.Unlock()
		return
	}
	s.state = SlotClosed
	s.pending = nil
	dec := s.dec
	s.mu.Unlock()

	if err := dec.Close(); err != nil {
		s.log.Debug("decoder close", "error", err)
	}
}

// handleConfigured is the decoder's OnConfigured callback. On success it
// drains the pending queue in FIFO order before the slot starts accepting
// live submissions; on failure the slot closes and the owner is notified.
func (s *Slot) handleConfigured(err error) {
	s.mu.Lock()
	if s.state != SlotConfiguring {
		// Stale completion: the slot was closed while configuring.
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.state = SlotClosed
		s.pending = nil
		dec := s.dec
		s.mu.Unlock()

		s.log.Warn("decoder configuration failed", "error", err)
		if cerr := dec.Close(); cerr != nil {
			s.log.Debug("decoder close", "error", cerr)
		}
		if s.onDead != nil {
			s.onDead(err)
		}
		return
	}

	// Drain under alternating lock so a concurrent Close mid-drain is
	// honored. New Submit calls keep queueing while state is Configuring,
	// preserving arrival order behind the chunks drained here.
	for {
		if len(s.pending) == 0 {
			s.state = SlotConfigured
			s.mu.Unlock()
			return
		}
		c := s.pending[0]
		s.pending = s.pending[1:]
		dec := s.dec
		s.mu.Unlock()

		if derr := dec.Decode(c); derr != nil {
			s.log.Warn("decode of queued chunk failed", "frame", c.FrameID, "error", derr)
		}

		s.mu.Lock()
		if s.state != SlotConfiguring {
			s.mu.Unlock()
			return
		}
	}
}

// handleFrame is the decoder's OnFrame callback. Frames arriving after the
// slot closed are released and dropped, never painted.
func (s *Slot) handleFrame(f Frame) {
	s.mu.Lock()
	closed := s.state == SlotClosed
	s.mu.Unlock()

	if closed {
		f.Free()
		return
	}
	if s.onFrame != nil {
		s.onFrame(f)
	}
}

// handleFatal is the decoder's OnFatal callback. The slot closes and the
// owner is told to recreate it; a fatal on an already-Closed slot is a
// stale completion and is ignored.
func (s *Slot) handleFatal(err error) {
	s.mu.Lock()
	if s.state == SlotClosed {
		s.mu.Unlock()
		return
	}
	s.state = SlotClosed
	s.pending = nil
	dec := s.dec
	s.mu.Unlock()

	s.log.Warn("decoder fatal", "error", err)
	if cerr := dec.Close(); cerr != nil {
		s.log.Debug("decoder close", "error", cerr)
	}
	if s.onDead != nil {
		s.onDead(err)
	}
}
