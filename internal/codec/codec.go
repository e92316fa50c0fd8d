// Package codec manages decoder handles and their lifecycle. A Slot wraps
// one opaque decoder resource and absorbs the race between chunk arrival
// and asynchronous decoder configuration: chunks submitted before the
// decoder is ready are queued in arrival order and drained exactly once on
// configuration success.
package codec

import "image"

// Config describes the geometry a decoder is configured for.
type Config struct {
	Width  int
	Height int
}

// Chunk is one coded payload awaiting decode.
type Chunk struct {
	Data    []byte
	FrameID uint16
	IsKey   bool
}

// Frame is one decoded picture delivered by a decoder. Release returns the
// backing memory to the decoder's pool; it may be nil for unpooled
// implementations.
type Frame struct {
	Image   image.Image
	FrameID uint16
	Release func()
}

// Free releases the frame's backing memory, if pooled.
func (f Frame) Free() {
	if f.Release != nil {
		f.Release()
	}
}

// Events carries a decoder's completion callbacks. Implementations may
// invoke them from any goroutine; they must not be invoked after Close
// returns.
type Events struct {
	// OnConfigured reports the outcome of a Configure call, exactly once
	// per call. A nil error means the decoder accepts chunks.
	OnConfigured func(err error)

	// OnFrame delivers one decoded picture.
	OnFrame func(Frame)

	// OnFatal reports an unrecoverable decoder error. The handle is dead;
	// the owner must create a fresh one.
	OnFatal func(err error)
}

// Decoder is one opaque codec handle. Configure and Decode return
// immediately; completion arrives through Events. Decode is only valid
// after OnConfigured reports success.
type Decoder interface {
	Configure(cfg Config)
	Decode(c Chunk) error
	Close() error
}

// Factory creates decoder handles wired to the given event callbacks.
type Factory func(ev Events) (Decoder, error)
