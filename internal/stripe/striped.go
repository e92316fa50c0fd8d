// Package stripe implements the two band-oriented decode pipelines: the
// striped video pipeline, which keeps one decoder slot per vertical band,
// and the JPEG stripe pipeline, which decodes each stripe independently
// with no persistent decoder state. Both composite decoded bands onto the
// shared surface at their vertical offset.
package stripe

import (
	"log/slog"
	"sync"

	"github.com/skipperro/mosaic/internal/codec"
	"github.com/skipperro/mosaic/internal/render"
	"github.com/skipperro/mosaic/media"
)

// stripeFrame is one decoded band queued for compositing.
type stripeFrame struct {
	y     uint16
	frame codec.Frame
}

// Pipeline is the striped video pipeline. Bands arrive and update
// independently, so each band identity gets its own decoder slot; a
// shared decoder would serialize unrelated screen regions.
type Pipeline struct {
	mu        sync.Mutex
	log       *slog.Logger
	mgr       *codec.Manager
	table     map[uint16]*codec.Slot
	composite []stripeFrame
	closed    bool

	// gen advances on every Clear. Slot callbacks carry the generation
	// they were created under, so a decoded band still in flight when the
	// table resets cannot land in the fresh composite.
	gen uint64
}

// New creates a striped video pipeline. If log is nil, slog.Default() is
// used.
func New(mgr *codec.Manager, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:   log.With("component", "striped-video"),
		mgr:   mgr,
		table: make(map[uint16]*codec.Slot),
	}
}

// Submit routes one coded band chunk. First sight of a band identity
// creates its slot and begins configuration sized to the band's geometry;
// the triggering chunk queues behind the configuration like any other.
func (p *Pipeline) Submit(h media.FrameHeader, payload []byte) {
	chunk := codec.Chunk{Data: payload, FrameID: h.FrameID, IsKey: h.IsKey}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	slot, ok := p.table[h.StripeY]
	gen := p.gen
	p.mu.Unlock()

	if ok {
		slot.Submit(chunk)
		return
	}

	y := h.StripeY
	var created *codec.Slot
	created, err := p.mgr.CreateSlot(
		func(f codec.Frame) { p.pushComposite(gen, y, f) },
		func(err error) { p.dropSlot(y, created, err) },
	)
	if err != nil {
		p.log.Warn("band slot create failed", "y", y, "error", err)
		return
	}

	p.mu.Lock()
	if p.closed || p.gen != gen {
		// A Clear ran while the slot was being built.
		p.mu.Unlock()
		created.Close()
		return
	}
	if racing, ok := p.table[y]; ok {
		// Another submit created this band first; route to the winner.
		p.mu.Unlock()
		created.Close()
		racing.Submit(chunk)
		return
	}
	p.table[y] = created
	p.mu.Unlock()

	created.BeginConfigure(codec.Config{Width: int(h.StripeWidth), Height: int(h.StripeHeight)})
	created.Submit(chunk)
}

// Paint drains the composite queue, drawing each decoded band at its
// vertical offset and releasing it.
func (p *Pipeline) Paint(s render.Surface) {
	p.mu.Lock()
	q := p.composite
	p.composite = nil
	p.mu.Unlock()

	for _, sf := range q {
		s.Draw(sf.frame.Image, 0, int(sf.y))
		sf.frame.Free()
	}
}

// Clear atomically resets the decoder table: every slot is closed, all
// queued output is released, and the table is emptied before any new band
// identity can be accepted. Called on mode switch, resolution change, and
// disconnect so stale-geometry decoders cannot corrupt the composite.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	p.gen++
	slots := p.table
	p.table = make(map[uint16]*codec.Slot)
	q := p.composite
	p.composite = nil
	p.mu.Unlock()

	for _, s := range slots {
		s.Close()
	}
	for _, sf := range q {
		sf.frame.Free()
	}
}

// Close clears the pipeline and rejects further submissions. Idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Clear()
}

// BufferDepth returns the number of decoded bands awaiting paint.
func (p *Pipeline) BufferDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.composite)
}

// BandCount returns the number of live band decoders.
func (p *Pipeline) BandCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.table)
}

// pushComposite queues one decoded band for the next paint tick. A frame
// from a previous generation was decoded under geometry a Clear has since
// torn down; it is released, never queued.
func (p *Pipeline) pushComposite(gen uint64, y uint16, f codec.Frame) {
	p.mu.Lock()
	if p.closed || p.gen != gen {
		p.mu.Unlock()
		f.Free()
		return
	}
	p.composite = append(p.composite, stripeFrame{y: y, frame: f})
	p.mu.Unlock()
}

// dropSlot removes a dead band slot so the next chunk for that identity
// recreates it fresh. The slot pointer guards against removing a
// successor created after a Clear.
func (p *Pipeline) dropSlot(y uint16, s *codec.Slot, err error) {
	p.mu.Lock()
	if p.table[y] == s {
		delete(p.table, y)
	}
	p.mu.Unlock()
	p.log.Warn("band decoder died, will recreate on next chunk", "y", y, "error", err)
}
