package stripe

import (
	"bytes"
	"image/jpeg"
	"log/slog"
	"sync"

	"github.com/skipperro/mosaic/internal/codec"
	"github.com/skipperro/mosaic/internal/render"
	"github.com/skipperro/mosaic/media"
)

// jpegQueueCap bounds undecoded stripes; submissions past it are dropped.
const jpegQueueCap = 32

type jpegJob struct {
	y       uint16
	frameID uint16
	data    []byte
}

// JPEG is the JPEG stripe pipeline. Every stripe is an independently
// coded still image, so there is no decoder slot state: a single worker
// decodes submissions in order (which keeps any one band serial) and
// queues the bitmaps for compositing.
type JPEG struct {
	log  *slog.Logger
	jobs chan jpegJob
	done chan struct{}

	mu        sync.Mutex
	composite []stripeFrame
	closed    bool
}

// NewJPEG creates the pipeline and starts its decode worker.
func NewJPEG(log *slog.Logger) *JPEG {
	if log == nil {
		log = slog.Default()
	}
	p := &JPEG{
		log:  log.With("component", "jpeg-stripe"),
		jobs: make(chan jpegJob, jpegQueueCap),
		done: make(chan struct{}),
	}
	go p.decodeLoop()
	return p
}

// Submit queues one stripe for decode. The payload is copied, since the
// channel outlives the caller's message buffer. A full queue drops the
// stripe; the band repaints on its next update.
func (p *JPEG) Submit(h media.FrameHeader, payload []byte) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	job := jpegJob{y: h.StripeY, frameID: h.FrameID, data: bytes.Clone(payload)}
	select {
	case p.jobs <- job:
	default:
		p.log.Debug("jpeg queue full, dropping stripe", "y", h.StripeY)
	}
	p.mu.Unlock()
}

// Paint drains the composite queue identically to the striped video
// pipeline.
func (p *JPEG) Paint(s render.Surface) {
	p.mu.Lock()
	q := p.composite
	p.composite = nil
	p.mu.Unlock()

	for _, sf := range q {
		s.Draw(sf.frame.Image, 0, int(sf.y))
		sf.frame.Free()
	}
}

// Clear discards all queued output. There is no decoder state to tear
// down.
func (p *JPEG) Clear() {
	p.mu.Lock()
	q := p.composite
	p.composite = nil
	p.mu.Unlock()

	for _, sf := range q {
		sf.frame.Free()
	}

	// Flush not-yet-decoded stripes from the outgoing configuration.
	for {
		select {
		case _, ok := <-p.jobs:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close stops the decode worker and discards all state. Idempotent.
func (p *JPEG) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	<-p.done
	p.Clear()
}

// BufferDepth returns the number of decoded stripes awaiting paint.
func (p *JPEG) BufferDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.composite)
}

// decodeLoop decodes queued stripes until the jobs channel closes. A
// stripe that fails to decode is logged and dropped without disturbing
// other bands.
func (p *JPEG) decodeLoop() {
	defer close(p.done)
	for job := range p.jobs {
		img, err := jpeg.Decode(bytes.NewReader(job.data))
		if err != nil {
			p.log.Warn("jpeg decode failed", "y", job.y, "error", err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			continue
		}
		p.composite = append(p.composite, stripeFrame{
			y:     job.y,
			frame: codec.Frame{Image: img, FrameID: job.frameID},
		})
		p.mu.Unlock()
	}
}
