// Package stats collects the client-side metrics surfaced to the UI
// layer: paint rate, buffer depths, and connection state.
package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/skipperro/mosaic/media"
)

// Client accumulates paint counts and derives a frames-per-second rate
// over a sliding one-second window.
type Client struct {
	paints atomic.Int64

	mu         sync.Mutex
	lastPaints int64
	lastSample time.Time
	fps        float64
}

// NewClient creates a stats collector.
func NewClient() *Client {
	return &Client{lastSample: time.Now()}
}

// RecordPaint counts one painted video frame.
func (c *Client) RecordPaint() {
	c.paints.Add(1)
}

// FPS returns the paint rate, resampled at most once per second.
func (c *Client) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(c.lastSample)
	if elapsed >= time.Second {
		total := c.paints.Load()
		c.fps = float64(total-c.lastPaints) / elapsed.Seconds()
		c.lastPaints = total
		c.lastSample = now
	}
	return c.fps
}

// TotalPaints returns the lifetime painted-frame count.
func (c *Client) TotalPaints() int64 {
	return c.paints.Load()
}

// Snapshot is the point-in-time stats payload served on the local API and
// read by the settings UI.
type Snapshot struct {
	Timestamp           int64                  `json:"ts"`
	State               string                 `json:"state"`
	EncoderMode         string                 `json:"encoderMode"`
	Width               int                    `json:"width"`
	Height              int                    `json:"height"`
	FPS                 float64                `json:"fps"`
	VideoBufferDepth    int                    `json:"videoBufferDepth"`
	AudioBufferSegments int                    `json:"audioBufferSegments"`
	Activity            media.PipelineActivity `json:"activity"`
}
