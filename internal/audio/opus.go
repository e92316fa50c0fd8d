package audio

import (
	"fmt"

	"github.com/pion/opus"
)

// Playback format constants. The server encodes 20 ms Opus frames at
// 48 kHz; decoded segments are S16LE.
const (
	SampleRate   = 48000
	Channels     = 2
	bytesPerSamp = 2
	frameSamples = SampleRate / 50 // 20 ms
	segmentBytes = frameSamples * Channels * bytesPerSamp
)

// opusDecoder adapts the pure-Go pion Opus decoder to the pipeline's
// Decoder interface.
type opusDecoder struct {
	dec opus.Decoder
}

// NewOpusDecoder returns a DecoderFactory-compatible constructor for the
// pion Opus decoder.
func NewOpusDecoder() (Decoder, error) {
	return &opusDecoder{dec: opus.NewDecoder()}, nil
}

// Decode decodes one Opus frame into a fresh PCM segment. Mono output is
// duplicated across both channels.
func (d *opusDecoder) Decode(in []byte) ([]byte, error) {
	mono := make([]byte, frameSamples*bytesPerSamp)
	if _, _, err := d.dec.Decode(in, mono); err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}

	out := make([]byte, segmentBytes)
	for i := 0; i < frameSamples; i++ {
		lo, hi := mono[2*i], mono[2*i+1]
		out[4*i] = lo
		out[4*i+1] = hi
		out[4*i+2] = lo
		out[4*i+3] = hi
	}
	return out, nil
}
