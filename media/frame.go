// Package media defines the shared types that flow through the Mosaic
// client: inbound frame classification, encoder modes, and resolution state.
package media

import "fmt"

// Queue bounds shared by producers and consumers. The audio decode queue
// drops new chunks when full (continuity over completeness); the playback
// ring stops accepting decoded PCM above the low watermark so latency
// cannot build up silently.
const (
	AudioDecodeQueueCap = 20
	AudioLowWatermark   = 10
)

// Fallback geometry used when neither a manual resolution nor a measured
// viewport size is available.
const (
	FallbackWidth  = 1024
	FallbackHeight = 768
)

// FrameKind is the type tag carried in the first byte of every inbound
// binary message.
type FrameKind byte

// Wire values for FrameKind. Tag 2 is unused by the protocol.
const (
	KindFullVideo    FrameKind = 0
	KindAudio        FrameKind = 1
	KindJPEGStripe   FrameKind = 3
	KindStripedVideo FrameKind = 4
)

func (k FrameKind) String() string {
	switch k {
	case KindFullVideo:
		return "full-video"
	case KindAudio:
		return "audio"
	case KindJPEGStripe:
		return "jpeg-stripe"
	case KindStripedVideo:
		return "striped-video"
	}
	return fmt.Sprintf("unknown(%d)", byte(k))
}

// FrameHeader is the parsed fixed-size header of an inbound binary message.
// Only the fields defined for the message's Kind are meaningful; the rest
// are zero.
type FrameHeader struct {
	Kind         FrameKind
	IsKey        bool   // full/striped video only
	FrameID      uint16 // monotonic server counter, wraps at 65535
	StripeY      uint16 // vertical band identity (JPEG and striped video)
	StripeWidth  uint16 // striped video only
	StripeHeight uint16 // striped video only
}

// EncoderMode selects which decode pipeline is authoritative. Exactly one
// mode is active at a time.
type EncoderMode int

// Supported encoder modes.
const (
	ModeFullFrameVideo EncoderMode = iota
	ModeStripedVideo
	ModeStripedJPEG
)

func (m EncoderMode) String() string {
	switch m {
	case ModeFullFrameVideo:
		return "x264enc"
	case ModeStripedVideo:
		return "x264enc-striped"
	case ModeStripedJPEG:
		return "jpeg"
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// ParseEncoderMode maps a server-side encoder name to an EncoderMode.
func ParseEncoderMode(name string) (EncoderMode, error) {
	switch name {
	case "x264enc":
		return ModeFullFrameVideo, nil
	case "x264enc-striped":
		return ModeStripedVideo, nil
	case "jpeg":
		return ModeStripedJPEG, nil
	}
	return 0, fmt.Errorf("unknown encoder mode %q", name)
}

// ResolutionMode says whether dimensions were set by the user or measured.
type ResolutionMode int

// Resolution modes.
const (
	ResolutionAuto ResolutionMode = iota
	ResolutionManual
)

// Resolution is the coordinator-owned target geometry. Width and Height are
// always even (encoders reject odd dimensions).
type Resolution struct {
	Mode   ResolutionMode
	Width  int
	Height int
}

// EvenDimensions rounds both dimensions down to the nearest even integer.
// Non-positive inputs fall back to the default geometry.
func EvenDimensions(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return FallbackWidth, FallbackHeight
	}
	return w &^ 1, h &^ 1
}
