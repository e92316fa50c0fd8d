package audio

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skipperro/mosaic/media"
)

// stubDecoder produces a fixed PCM segment per chunk, optionally blocking
// on a gate so tests can hold the worker mid-decode.
type stubDecoder struct {
	gate    chan struct{}
	fail    *atomic.Bool
	decodes *atomic.Int64
}

func (d *stubDecoder) Decode(in []byte) ([]byte, error) {
	if d.gate != nil {
		<-d.gate
	}
	if d.fail != nil && d.fail.Load() {
		return nil, errors.New("bad frame")
	}
	d.decodes.Add(1)
	return make([]byte, 64), nil
}

type stubFactory struct {
	gate    chan struct{}
	fail    atomic.Bool
	created atomic.Int64
	decodes atomic.Int64
}

func (f *stubFactory) new() (Decoder, error) {
	f.created.Add(1)
	return &stubDecoder{gate: f.gate, fail: &f.fail, decodes: &f.decodes}, nil
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRing_ReadOrderAndSilence(t *testing.T) {
	t.Parallel()
	r := NewRing(4)
	r.Push([]byte{1, 2, 3})
	r.Push([]byte{4, 5})

	buf := make([]byte, 8)
	n, err := r.Read(buf)
	if err != nil || n != 8 {
		t.Fatalf("Read = (%d, %v), want (8, nil)", n, err)
	}
	want := []byte{1, 2, 3, 4, 5, 0, 0, 0}
	if !bytes.Equal(buf, want) {
		t.Errorf("Read = %v, want %v", buf, want)
	}
	if got := r.Fill(); got != 0 {
		t.Errorf("fill after drain = %d, want 0", got)
	}
}

func TestRing_PartialSegmentReads(t *testing.T) {
	t.Parallel()
	r := NewRing(4)
	r.Push([]byte{1, 2, 3, 4})

	buf := make([]byte, 2)
	r.Read(buf)
	if !bytes.Equal(buf, []byte{1, 2}) {
		t.Fatalf("first read = %v", buf)
	}
	r.Read(buf)
	if !bytes.Equal(buf, []byte{3, 4}) {
		t.Fatalf("second read = %v", buf)
	}
}

func TestRing_CapacityRejects(t *testing.T) {
	t.Parallel()
	r := NewRing(2)
	if !r.Push([]byte{1}) || !r.Push([]byte{2}) {
		t.Fatal("pushes under capacity rejected")
	}
	if r.Push([]byte{3}) {
		t.Error("push over capacity accepted")
	}
	if got := r.Fill(); got != 2 {
		t.Errorf("fill = %d, want 2", got)
	}
}

func TestPipeline_QueueFullDropsChunks(t *testing.T) {
	t.Parallel()
	sf := &stubFactory{gate: make(chan struct{})}
	p := NewPipeline(sf.new, nil, nil)
	defer p.Close()
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// The worker takes one chunk and blocks inside Decode.
	p.Submit([]byte{0x01}, 0)
	waitFor(t, "worker pickup", func() bool { return p.QueueDepth() == 0 })

	for i := 0; i < media.AudioDecodeQueueCap; i++ {
		p.Submit([]byte{0x02}, 0)
	}
	if got := p.QueueDepth(); got != media.AudioDecodeQueueCap {
		t.Fatalf("queue depth = %d, want %d", got, media.AudioDecodeQueueCap)
	}

	// Past capacity, submissions drop rather than queue or block.
	for i := 0; i < 5; i++ {
		p.Submit([]byte{0x03}, 0)
	}
	if got := p.QueueDepth(); got != media.AudioDecodeQueueCap {
		t.Fatalf("queue depth after overflow = %d, want %d", got, media.AudioDecodeQueueCap)
	}

	close(sf.gate)
	waitFor(t, "queue drain", func() bool { return p.QueueDepth() == 0 })
	waitFor(t, "decode settle", func() bool {
		return sf.decodes.Load() == int64(1+media.AudioDecodeQueueCap)
	})
}

func TestPipeline_LowWatermarkBoundsRing(t *testing.T) {
	t.Parallel()
	sf := &stubFactory{}
	p := NewPipeline(sf.new, nil, nil)
	defer p.Close()
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for i := 0; i < media.AudioLowWatermark+8; i++ {
		p.Submit([]byte{0x01}, 0)
		waitFor(t, "chunk decoded", func() bool {
			return sf.decodes.Load() == int64(i+1)
		})
	}

	if got := p.BufferSegments(); got != media.AudioLowWatermark {
		t.Errorf("ring fill = %d, want %d (excess decoded audio discarded)", got, media.AudioLowWatermark)
	}
}

func TestPipeline_ActivityPauseSkipsDecode(t *testing.T) {
	t.Parallel()
	sf := &stubFactory{}
	p := NewPipeline(sf.new, nil, nil)
	defer p.Close()
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	p.UpdateActivity(false)
	for i := 0; i < 5; i++ {
		p.Submit([]byte{0x01}, 0)
	}
	waitFor(t, "queue drain", func() bool { return p.QueueDepth() == 0 })
	if got := sf.decodes.Load(); got != 0 {
		t.Errorf("decoded %d chunks while paused, want 0", got)
	}
	if got := p.BufferSegments(); got != 0 {
		t.Errorf("ring fill while paused = %d, want 0", got)
	}

	p.UpdateActivity(true)
	p.Submit([]byte{0x01}, 0)
	waitFor(t, "resume decode", func() bool { return sf.decodes.Load() == 1 })
}

func TestPipeline_DecodeErrorReplacesDecoder(t *testing.T) {
	t.Parallel()
	sf := &stubFactory{}
	p := NewPipeline(sf.new, nil, nil)
	defer p.Close()
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	sf.fail.Store(true)
	p.Submit([]byte{0x01}, 0)
	waitFor(t, "failed chunk consumed", func() bool { return p.QueueDepth() == 0 })

	sf.fail.Store(false)
	p.Submit([]byte{0x02}, 0)
	waitFor(t, "decode after replacement", func() bool { return sf.decodes.Load() == 1 })
	if got := sf.created.Load(); got != 2 {
		t.Errorf("decoders created = %d, want 2", got)
	}
}

func TestPipeline_ReinitializeSwapsDecoderInPlace(t *testing.T) {
	t.Parallel()
	sf := &stubFactory{}
	p := NewPipeline(sf.new, nil, nil)
	defer p.Close()
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	p.Submit([]byte{0x01}, 0)
	waitFor(t, "first decode", func() bool { return sf.decodes.Load() == 1 })

	p.Reinitialize()
	p.Submit([]byte{0x02}, 0)
	waitFor(t, "second decode", func() bool { return sf.decodes.Load() == 2 })
	if got := sf.created.Load(); got != 2 {
		t.Errorf("decoders created = %d, want 2", got)
	}
}

func TestPipeline_StopAllowsRestart(t *testing.T) {
	t.Parallel()
	sf := &stubFactory{}
	p := NewPipeline(sf.new, nil, nil)
	defer p.Close()
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	p.Submit([]byte{0x01}, 0)
	waitFor(t, "first decode", func() bool { return sf.decodes.Load() == 1 })

	p.Stop()
	if got := p.BufferSegments(); got != 0 {
		t.Errorf("ring fill after stop = %d, want 0", got)
	}
	if err := p.Submit([]byte{0x02}, 0); err == nil {
		t.Error("Submit on stopped pipeline succeeded")
	}

	if err := p.Initialize(); err != nil {
		t.Fatalf("re-Initialize: %v", err)
	}
	p.Submit([]byte{0x03}, 0)
	waitFor(t, "decode after restart", func() bool { return sf.decodes.Load() == 2 })
}

func TestPipeline_CloseIdempotent(t *testing.T) {
	t.Parallel()
	sf := &stubFactory{}
	p := NewPipeline(sf.new, nil, nil)
	if err := p.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p.Close()
	p.Close()
	if err := p.Submit([]byte{0x01}, 0); err == nil {
		t.Error("Submit on closed pipeline succeeded")
	}
}
