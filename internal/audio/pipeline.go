package audio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/skipperro/mosaic/media"
)

// Decoder decodes one coded audio chunk to a PCM segment.
type Decoder interface {
	Decode(in []byte) ([]byte, error)
}

// DecoderFactory creates a fresh decoder, used at worker start and when a
// codec-fatal error forces an in-place replacement.
type DecoderFactory func() (Decoder, error)

// Sink plays PCM pulled from an io.Reader. The zero sink (nil) is valid:
// decode proceeds and the ring fills, there is just no audible output.
type Sink interface {
	Start(src *Ring) error
	Close() error
}

var errClosed = errors.New("audio pipeline closed")

type chunk struct {
	data      []byte
	timestamp int64
}

// Pipeline is the audio pipeline. Decode runs on a dedicated worker
// goroutine; the control path only enqueues.
type Pipeline struct {
	log        *slog.Logger
	newDecoder DecoderFactory
	ring       *Ring
	sink       Sink

	in      chan chunk
	stopped chan struct{}

	active atomic.Bool
	reinit atomic.Bool

	mu          sync.Mutex
	initialized bool
	closed      bool
}

// NewPipeline creates an uninitialized pipeline. sink may be nil.
func NewPipeline(newDecoder DecoderFactory, sink Sink, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		log:        log.With("component", "audio"),
		newDecoder: newDecoder,
		sink:       sink,
		ring:       NewRing(media.AudioLowWatermark * 2),
		in:         make(chan chunk, media.AudioDecodeQueueCap),
		stopped:    make(chan struct{}),
	}
	p.active.Store(true)
	return p
}

// Initialize starts the decode worker and the playback sink. A sink
// failure is returned but leaves the pipeline functional: decode and
// buffering continue without a device, and the video pipelines are
// unaffected.
func (p *Pipeline) Initialize() error {
	p.mu.Lock()
	if p.initialized || p.closed {
		p.mu.Unlock()
		return nil
	}
	p.initialized = true
	in, stopped := p.in, p.stopped
	p.mu.Unlock()

	go p.run(in, stopped)

	if p.sink != nil {
		if err := p.sink.Start(p.ring); err != nil {
			p.log.Warn("audio sink unavailable, decoding without playback", "error", err)
			return err
		}
	}
	return nil
}

// Submit enqueues one coded chunk. A full queue drops the chunk.
func (p *Pipeline) Submit(data []byte, timestamp int64) error {
	p.mu.Lock()
	if p.closed || !p.initialized {
		p.mu.Unlock()
		return errClosed
	}
	select {
	case p.in <- chunk{data: data, timestamp: timestamp}:
	default:
		p.log.Debug("audio decode queue full, dropping chunk")
	}
	p.mu.Unlock()
	return nil
}

// UpdateActivity soft-pauses or resumes decode without touching the
// worker or its decoder. Pausing also discards buffered playback so
// resume starts fresh.
func (p *Pipeline) UpdateActivity(active bool) {
	p.active.Store(active)
	if !active {
		p.ring.Reset()
	}
}

// Reinitialize replaces the decoder inside the running worker, used after
// a codec-fatal error. The worker itself keeps running.
func (p *Pipeline) Reinitialize() {
	p.reinit.Store(true)
}

// Stop terminates the worker and discards in-flight audio, but keeps the
// pipeline reusable: a later Initialize starts a fresh worker. Used on
// disconnect, where the session reconnects with pipelines intact.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed || !p.initialized {
		p.mu.Unlock()
		return
	}
	p.initialized = false
	in := p.in
	stopped := p.stopped
	p.in = make(chan chunk, media.AudioDecodeQueueCap)
	p.stopped = make(chan struct{})
	p.mu.Unlock()

	close(in)
	<-stopped
	p.ring.Reset()
}

// Close terminates the worker and the sink, discarding in-flight audio.
// Terminal and idempotent.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	initialized := p.initialized
	in := p.in
	stopped := p.stopped
	p.mu.Unlock()

	close(in)
	if initialized {
		<-stopped
	}
	p.ring.Reset()
	if p.sink != nil {
		p.sink.Close()
	}
}

// BufferSegments returns the playback ring fill level.
func (p *Pipeline) BufferSegments() int {
	return p.ring.Fill()
}

// QueueDepth returns the number of chunks awaiting decode.
func (p *Pipeline) QueueDepth() int {
	return len(p.in)
}

// run is the decode worker. Decoded PCM is pushed to the ring only while
// the fill level is below the low watermark; above it, decoded audio is
// discarded rather than queued, so playback latency cannot build up.
func (p *Pipeline) run(in chan chunk, stopped chan struct{}) {
	defer close(stopped)

	dec, err := p.newDecoder()
	if err != nil {
		p.log.Warn("audio decoder unavailable at start", "error", err)
	}

	for c := range in {
		if !p.active.Load() {
			continue
		}

		if p.reinit.Swap(false) || dec == nil {
			dec, err = p.newDecoder()
			if err != nil {
				p.log.Warn("audio decoder replacement failed", "error", err)
				dec = nil
				continue
			}
			p.log.Info("audio decoder replaced")
		}

		pcm, err := dec.Decode(c.data)
		if err != nil {
			p.log.Warn("audio decode failed, scheduling decoder replacement", "error", err)
			dec = nil
			continue
		}

		if p.ring.Fill() < media.AudioLowWatermark {
			p.ring.Push(pcm)
		}
	}
}
