// Package protocol parses the binary frame headers and builds the text
// control messages of the Mosaic stream protocol. Inbound binary messages
// start with a one-byte kind tag followed by kind-dependent big-endian
// fields; control traffic in both directions is plain text on the same
// channel.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/skipperro/mosaic/media"
)

// Header sizes per kind, including the tag byte.
const (
	headerSizeFullVideo    = 4  // tag, frameType, frameId
	headerSizeAudio        = 1  // tag only
	headerSizeJPEGStripe   = 5  // tag, frameId, stripeY
	headerSizeStripedVideo = 10 // tag, frameType, frameId, stripeY, stripeW, stripeH
)

// Parse errors. Callers log and drop; a malformed message never changes
// dispatcher state.
var (
	ErrEmptyMessage = errors.New("empty message")
	ErrShortMessage = errors.New("message shorter than header")
	ErrUnknownKind  = errors.New("unknown frame kind")
)

// frameTypeKey is the frameType wire value for a keyframe; any other value
// is a delta frame.
const frameTypeKey = 0

// ParseHeader classifies a raw binary message and splits it into a typed
// header and the remaining payload. It does not copy: the returned payload
// aliases msg.
func ParseHeader(msg []byte) (media.FrameHeader, []byte, error) {
	var h media.FrameHeader
	if len(msg) == 0 {
		return h, nil, ErrEmptyMessage
	}

	h.Kind = media.FrameKind(msg[0])
	switch h.Kind {
	case media.KindFullVideo:
		if len(msg) < headerSizeFullVideo {
			return h, nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortMessage, h.Kind, headerSizeFullVideo, len(msg))
		}
		h.IsKey = msg[1] == frameTypeKey
		h.FrameID = binary.BigEndian.Uint16(msg[2:4])
		return h, msg[headerSizeFullVideo:], nil

	case media.KindAudio:
		return h, msg[headerSizeAudio:], nil

	case media.KindJPEGStripe:
		if len(msg) < headerSizeJPEGStripe {
			return h, nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortMessage, h.Kind, headerSizeJPEGStripe, len(msg))
		}
		h.FrameID = binary.BigEndian.Uint16(msg[1:3])
		h.StripeY = binary.BigEndian.Uint16(msg[3:5])
		return h, msg[headerSizeJPEGStripe:], nil

	case media.KindStripedVideo:
		if len(msg) < headerSizeStripedVideo {
			return h, nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortMessage, h.Kind, headerSizeStripedVideo, len(msg))
		}
		h.IsKey = msg[1] == frameTypeKey
		h.FrameID = binary.BigEndian.Uint16(msg[2:4])
		h.StripeY = binary.BigEndian.Uint16(msg[4:6])
		h.StripeWidth = binary.BigEndian.Uint16(msg[6:8])
		h.StripeHeight = binary.BigEndian.Uint16(msg[8:10])
		return h, msg[headerSizeStripedVideo:], nil
	}

	return h, nil, fmt.Errorf("%w: tag %d", ErrUnknownKind, msg[0])
}
