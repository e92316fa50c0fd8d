package protocol

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/skipperro/mosaic/media"
)

// buildFullVideo constructs a full-video message with the given fields.
func buildFullVideo(frameType byte, frameID uint16, payload []byte) []byte {
	msg := []byte{0, frameType, 0, 0}
	binary.BigEndian.PutUint16(msg[2:4], frameID)
	return append(msg, payload...)
}

// buildStripedVideo constructs a striped-video message.
func buildStripedVideo(frameType byte, frameID, y, w, h uint16, payload []byte) []byte {
	msg := make([]byte, 10)
	msg[0] = 4
	msg[1] = frameType
	binary.BigEndian.PutUint16(msg[2:4], frameID)
	binary.BigEndian.PutUint16(msg[4:6], y)
	binary.BigEndian.PutUint16(msg[6:8], w)
	binary.BigEndian.PutUint16(msg[8:10], h)
	return append(msg, payload...)
}

// buildJPEGStripe constructs a JPEG-stripe message.
func buildJPEGStripe(frameID, y uint16, payload []byte) []byte {
	msg := make([]byte, 5)
	msg[0] = 3
	binary.BigEndian.PutUint16(msg[1:3], frameID)
	binary.BigEndian.PutUint16(msg[3:5], y)
	return append(msg, payload...)
}

func TestParseHeader_FullVideo(t *testing.T) {
	t.Parallel()
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	h, rest, err := ParseHeader(buildFullVideo(0, 1234, payload))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Kind != media.KindFullVideo {
		t.Errorf("kind = %v, want full-video", h.Kind)
	}
	if !h.IsKey {
		t.Error("frameType 0 should be a keyframe")
	}
	if h.FrameID != 1234 {
		t.Errorf("frameID = %d, want 1234", h.FrameID)
	}
	if string(rest) != string(payload) {
		t.Errorf("payload = %x, want %x", rest, payload)
	}

	h, _, err = ParseHeader(buildFullVideo(1, 1, nil))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.IsKey {
		t.Error("frameType 1 should be a delta frame")
	}
}

func TestParseHeader_Audio(t *testing.T) {
	t.Parallel()
	opus := []byte{0x01, 0x02, 0x03}
	h, rest, err := ParseHeader(append([]byte{1}, opus...))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Kind != media.KindAudio {
		t.Errorf("kind = %v, want audio", h.Kind)
	}
	if string(rest) != string(opus) {
		t.Errorf("payload = %x, want %x", rest, opus)
	}
}

func TestParseHeader_JPEGStripe(t *testing.T) {
	t.Parallel()
	h, rest, err := ParseHeader(buildJPEGStripe(7, 480, []byte{0xff, 0xd8}))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.Kind != media.KindJPEGStripe || h.FrameID != 7 || h.StripeY != 480 {
		t.Errorf("header = %+v", h)
	}
	if len(rest) != 2 {
		t.Errorf("payload length = %d, want 2", len(rest))
	}
}

func TestParseHeader_StripedVideo(t *testing.T) {
	t.Parallel()
	h, rest, err := ParseHeader(buildStripedVideo(0, 99, 120, 1280, 40, []byte{0xaa}))
	if err != nil {
		t.Fatalf("ParseHeader failed: %v", err)
	}
	if h.FrameID != 99 || h.StripeY != 120 || h.StripeWidth != 1280 || h.StripeHeight != 40 {
		t.Errorf("header = %+v", h)
	}
	if !h.IsKey {
		t.Error("expected keyframe")
	}
	if len(rest) != 1 {
		t.Errorf("payload length = %d, want 1", len(rest))
	}
}

func TestParseHeader_Malformed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  []byte
		want error
	}{
		{"empty", nil, ErrEmptyMessage},
		{"unknown tag", []byte{9, 0, 0}, ErrUnknownKind},
		{"unused tag 2", []byte{2, 0, 0}, ErrUnknownKind},
		{"short full video", []byte{0, 0, 1}, ErrShortMessage},
		{"short jpeg stripe", []byte{3, 0, 1, 0}, ErrShortMessage},
		{"short striped video", buildStripedVideo(0, 1, 0, 0, 0, nil)[:9], ErrShortMessage},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := ParseHeader(tt.msg)
			if !errors.Is(err, tt.want) {
				t.Errorf("ParseHeader(%x) error = %v, want %v", tt.msg, err, tt.want)
			}
		})
	}
}
