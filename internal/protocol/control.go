package protocol

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/skipperro/mosaic/media"
)

// Outbound control message builders. The server parses these as plain
// strings, so the formats are fixed by the protocol.

// ResolutionUpdate reports the client's target geometry.
func ResolutionUpdate(width, height int) string {
	return fmt.Sprintf("r,%dx%d", width, height)
}

// PixelRatioReport reports the display's device pixel ratio.
func PixelRatioReport(ratio float64) string {
	return fmt.Sprintf("s,%.2f", ratio)
}

// FrameAck acknowledges a painted full-video frame for server-side
// backpressure accounting.
func FrameAck(frameID uint16) string {
	return fmt.Sprintf("CLIENT_FRAME_ACK %d", frameID)
}

// FPSReport is the periodic measured-paint-rate report.
func FPSReport(fps float64) string {
	return fmt.Sprintf("_f %.1f", fps)
}

// Pipeline start/stop controls.
const (
	StartVideo = "START_VIDEO"
	StopVideo  = "STOP_VIDEO"
	StartAudio = "START_AUDIO"
	StopAudio  = "STOP_AUDIO"
)

// ClipboardRequest asks the server for any held clipboard content.
const ClipboardRequest = "cr"

// ServerMessage is a parsed inbound text control message.
type ServerMessage struct {
	Kind      ServerMessageKind
	Mode      media.EncoderMode // MsgMode
	Width     int               // MsgResolution
	Height    int               // MsgResolution
	Clipboard []byte            // MsgClipboard, decoded
}

// ServerMessageKind classifies inbound text control messages.
type ServerMessageKind int

// Inbound control message kinds.
const (
	MsgMode ServerMessageKind = iota
	MsgResolution
	MsgClipboard
)

// ParseServerMessage parses an inbound text control message. Unknown
// messages return an error; the session logs and ignores them.
func ParseServerMessage(s string) (ServerMessage, error) {
	var m ServerMessage

	key, rest, ok := strings.Cut(s, ",")
	if !ok {
		return m, fmt.Errorf("unrecognized control message %q", s)
	}

	switch key {
	case "mode":
		mode, err := media.ParseEncoderMode(rest)
		if err != nil {
			return m, fmt.Errorf("mode message: %w", err)
		}
		m.Kind = MsgMode
		m.Mode = mode
		return m, nil

	case "res":
		w, h, err := parseDimensions(rest)
		if err != nil {
			return m, fmt.Errorf("res message: %w", err)
		}
		m.Kind = MsgResolution
		m.Width, m.Height = w, h
		return m, nil

	case "clipboard":
		data, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return m, fmt.Errorf("clipboard message: %w", err)
		}
		m.Kind = MsgClipboard
		m.Clipboard = data
		return m, nil
	}

	return m, fmt.Errorf("unrecognized control message %q", s)
}

// parseDimensions parses "{width}x{height}".
func parseDimensions(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("malformed dimensions %q", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed width %q", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed height %q", hs)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("non-positive dimensions %dx%d", w, h)
	}
	return w, h, nil
}
