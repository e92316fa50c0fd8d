// Package video implements the full-frame decode pipeline: one decoder
// slot, an ordered frame buffer, and a paced paint step.
package video

import (
	"log/slog"
	"sync"

	"github.com/skipperro/mosaic/internal/codec"
	"github.com/skipperro/mosaic/internal/render"
	"github.com/skipperro/mosaic/media"
)

// State is the pipeline lifecycle state.
type State int

// Pipeline lifecycle. Reconfiguring is entered on a resolution change and
// returns to Active once the fresh slot is configuring.
const (
	Uninitialized State = iota
	Configuring
	Active
	Reconfiguring
	Closed
)

// maxBacklog bounds the frame buffer above the paced depth. The paint
// step pops at most one frame per tick, so a stalled render loop would
// otherwise let decoded frames pile up without limit.
const maxBacklog = 60

// Pipeline is the full-frame video pipeline.
type Pipeline struct {
	mu         sync.Mutex
	log        *slog.Logger
	mgr        *codec.Manager
	slot       *codec.Slot
	state      State
	dead       bool // slot fataled; recreate on next submit
	buf        []codec.Frame
	bufferSize int
	width      int
	height     int

	// shared marks the always-render variant: frames keep buffering while
	// the surface is hidden so audio stays in sync.
	shared    bool
	visible   func() bool
	onPainted func(frameID uint16)
}

// New creates an Uninitialized pipeline. visible reports surface
// visibility at decode-completion time; onPainted fires for every painted
// frame (used for server acks). Either may be nil.
func New(mgr *codec.Manager, visible func() bool, onPainted func(uint16), log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "video"),
		mgr:       mgr,
		visible:   visible,
		onPainted: onPainted,
	}
}

// SetShared marks the pipeline as the shared/always-render variant.
func (p *Pipeline) SetShared(shared bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shared = shared
}

// SetBufferDepth sets the paced buffer depth. Zero means paint on the next
// tick after a frame arrives.
func (p *Pipeline) SetBufferDepth(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bufferSize = n
}

// BufferDepth returns the current number of decoded frames awaiting paint.
func (p *Pipeline) BufferDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// State returns the pipeline lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Activate sizes the decoder to the given geometry and begins asynchronous
// configuration. No-op unless the pipeline is Uninitialized.
func (p *Pipeline) Activate(width, height int) error {
	p.mu.Lock()
	if p.state != Uninitialized {
		p.mu.Unlock()
		return nil
	}
	p.state = Configuring
	p.width, p.height = width, height
	p.mu.Unlock()

	if err := p.createSlot(width, height); err != nil {
		p.mu.Lock()
		p.state = Uninitialized
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.state = Active
	p.mu.Unlock()
	return nil
}

// createSlot builds and begins configuring a fresh decoder slot.
func (p *Pipeline) createSlot(width, height int) error {
	slot, err := p.mgr.CreateSlot(p.handleFrame, p.handleDead)
	if err != nil {
		return err
	}
	slot.BeginConfigure(codec.Config{Width: width, Height: height})

	p.mu.Lock()
	p.slot = slot
	p.dead = false
	p.mu.Unlock()
	return nil
}

// Submit routes one coded full-frame chunk to the decoder slot. A dead
// slot is replaced with a fresh one first; the triggering chunk then
// queues behind the new slot's configuration.
func (p *Pipeline) Submit(h media.FrameHeader, payload []byte) {
	p.mu.Lock()
	if p.state != Active && p.state != Reconfiguring {
		p.mu.Unlock()
		return
	}
	slot, dead := p.slot, p.dead
	width, height := p.width, p.height
	p.mu.Unlock()

	if dead || slot == nil {
		if err := p.createSlot(width, height); err != nil {
			p.log.Warn("slot recreate failed", "error", err)
			return
		}
		p.mu.Lock()
		slot = p.slot
		p.mu.Unlock()
	}

	slot.Submit(codec.Chunk{Data: payload, FrameID: h.FrameID, IsKey: h.IsKey})
}

// Paint is the render loop's per-tick step. It pops and draws the oldest
// buffered frame only while the buffer exceeds the configured depth; a
// buffer at or below the depth waits, trading latency for smoothness.
func (p *Pipeline) Paint(s render.Surface) {
	p.mu.Lock()
	if len(p.buf) <= p.bufferSize {
		p.mu.Unlock()
		return
	}
	f := p.buf[0]
	p.buf = p.buf[1:]
	onPainted := p.onPainted
	p.mu.Unlock()

	s.Draw(f.Image, 0, 0)
	if onPainted != nil {
		onPainted(f.FrameID)
	}
	f.Free()
}

// Reconfigure tears down the current slot and starts a fresh one at the
// new geometry, draining every buffered frame from the old configuration.
func (p *Pipeline) Reconfigure(width, height int) error {
	p.mu.Lock()
	if p.state != Active {
		p.mu.Unlock()
		return nil
	}
	p.state = Reconfiguring
	p.width, p.height = width, height
	slot := p.slot
	p.slot = nil
	drained := p.buf
	p.buf = nil
	p.mu.Unlock()

	if slot != nil {
		slot.Close()
	}
	for _, f := range drained {
		f.Free()
	}

	err := p.createSlot(width, height)

	p.mu.Lock()
	p.state = Active
	p.mu.Unlock()
	return err
}

// Deactivate tears down decoder and buffers but leaves the pipeline
// reusable: a later Activate starts it fresh. Used on mode switch and
// reconnect, where full-frame video may become authoritative again.
func (p *Pipeline) Deactivate() {
	p.mu.Lock()
	if p.state == Closed || p.state == Uninitialized {
		p.mu.Unlock()
		return
	}
	p.state = Uninitialized
	slot := p.slot
	p.slot = nil
	drained := p.buf
	p.buf = nil
	p.mu.Unlock()

	if slot != nil {
		slot.Close()
	}
	for _, f := range drained {
		f.Free()
	}
}

// Close tears the pipeline down: decoder closed, every buffered frame
// released. Terminal and idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		return
	}
	p.state = Closed
	slot := p.slot
	p.slot = nil
	drained := p.buf
	p.buf = nil
	p.mu.Unlock()

	if slot != nil {
		slot.Close()
	}
	for _, f := range drained {
		f.Free()
	}
}

// handleFrame receives decoded frames from the slot. Hidden surfaces
// discard instead of buffering, except for the shared variant.
func (p *Pipeline) handleFrame(f codec.Frame) {
	p.mu.Lock()
	if p.state == Closed {
		p.mu.Unlock()
		f.Free()
		return
	}
	if !p.shared && p.visible != nil && !p.visible() {
		p.mu.Unlock()
		f.Free()
		return
	}
	if len(p.buf) >= p.bufferSize+maxBacklog {
		old := p.buf[0]
		p.buf = p.buf[1:]
		old.Free()
	}
	p.buf = append(p.buf, f)
	p.mu.Unlock()
}

// handleDead marks the slot for lazy recreation on the next submit.
func (p *Pipeline) handleDead(err error) {
	p.mu.Lock()
	p.dead = true
	p.mu.Unlock()
	p.log.Warn("video decoder slot died", "error", err)
}
