package session

import (
	"log/slog"
	"sync"

	"github.com/skipperro/mosaic/internal/protocol"
	"github.com/skipperro/mosaic/media"
)

// fullFramePipeline is the subset of the video pipeline the coordinator
// commands.
type fullFramePipeline interface {
	Activate(width, height int) error
	Reconfigure(width, height int) error
	Deactivate()
}

// bandPipeline is the subset of the stripe pipelines the coordinator
// commands. Clearing a band pipeline atomically tears down its decoder
// table and queued output.
type bandPipeline interface {
	Clear()
}

// Coordinator owns the target resolution and the active encoder mode.
// Every mutation updates the owned state first, then synchronously tears
// down the outgoing configuration's decoder state, then initializes the
// incoming one; initializing before teardown would let two pipelines race
// onto the same surface. Mutations arrive from two goroutines (the server
// control channel and the local HTTP API), so the lock is held across the
// whole update-then-fan-out sequence; the pipeline calls underneath it
// never block.
type Coordinator struct {
	mu   sync.Mutex
	res  media.Resolution
	mode media.EncoderMode

	video   fullFramePipeline
	striped bandPipeline
	jpeg    bandPipeline
	send    func(string) // outbound control channel; may be nil before connect
	log     *slog.Logger
}

// NewCoordinator creates a coordinator in auto-resolution fallback
// geometry with the given initial mode.
func NewCoordinator(mode media.EncoderMode, video fullFramePipeline, striped, jpeg bandPipeline, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		res:     media.Resolution{Mode: media.ResolutionAuto, Width: media.FallbackWidth, Height: media.FallbackHeight},
		mode:    mode,
		video:   video,
		striped: striped,
		jpeg:    jpeg,
		log:     log.With("component", "coordinator"),
	}
}

// SetSender installs the outbound control-message sender.
func (c *Coordinator) SetSender(send func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send = send
}

// Resolution returns the current resolution state.
func (c *Coordinator) Resolution() media.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

// Geometry returns the current target dimensions.
func (c *Coordinator) Geometry() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res.Width, c.res.Height
}

// Mode returns the active encoder mode.
func (c *Coordinator) Mode() media.EncoderMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetManualResolution sets user-chosen dimensions, rounded down to even.
func (c *Coordinator) SetManualResolution(width, height int) {
	w, h := media.EvenDimensions(width, height)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyResolution(media.Resolution{Mode: media.ResolutionManual, Width: w, Height: h})
}

// ResetToAuto returns to measured dimensions, rounded down to even.
func (c *Coordinator) ResetToAuto(measuredWidth, measuredHeight int) {
	w, h := media.EvenDimensions(measuredWidth, measuredHeight)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyResolution(media.Resolution{Mode: media.ResolutionAuto, Width: w, Height: h})
}

// ApplyServerResolution applies a server-pushed geometry without changing
// the manual/auto mode.
func (c *Coordinator) ApplyServerResolution(width, height int) {
	w, h := media.EvenDimensions(width, height)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyResolution(media.Resolution{Mode: c.res.Mode, Width: w, Height: h})
}

// applyResolution commits new dimensions and fans the change out: the
// full-frame decoder reconfigures and the band tables clear, depending on
// which mode owns decoder state right now. Caller holds c.mu.
func (c *Coordinator) applyResolution(res media.Resolution) {
	if c.res == res {
		return
	}
	c.res = res

	c.log.Info("resolution changed", "width", res.Width, "height", res.Height, "manual", res.Mode == media.ResolutionManual)

	switch c.mode {
	case media.ModeFullFrameVideo:
		if err := c.video.Reconfigure(res.Width, res.Height); err != nil {
			c.log.Warn("video reconfigure failed", "error", err)
		}
	case media.ModeStripedVideo:
		c.striped.Clear()
	case media.ModeStripedJPEG:
		c.jpeg.Clear()
	}

	if c.send != nil {
		c.send(protocol.ResolutionUpdate(res.Width, res.Height))
	}
}

// SetEncoderMode switches the active decode pipeline. Switching to the
// current mode is a no-op: no teardown, no reinit. The lock stays held
// through teardown and activation so concurrent switches cannot
// interleave and strand the incoming mode without a pipeline.
func (c *Coordinator) SetEncoderMode(mode media.EncoderMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == mode {
		return
	}
	prev := c.mode
	c.mode = mode

	c.log.Info("encoder mode switch", "from", prev, "to", mode)

	// Outgoing mode's decoder state goes first.
	switch prev {
	case media.ModeFullFrameVideo:
		c.video.Deactivate()
	case media.ModeStripedVideo:
		c.striped.Clear()
	case media.ModeStripedJPEG:
		c.jpeg.Clear()
	}

	// Band pipelines lazily create decoders on first chunk; only the
	// full-frame pipeline needs explicit activation.
	if mode == media.ModeFullFrameVideo {
		if err := c.video.Activate(c.res.Width, c.res.Height); err != nil {
			c.log.Warn("video activate failed", "error", err)
		}
	}
}

// ActivateCurrent initializes the active mode's pipeline at the current
// geometry, used on session activation.
func (c *Coordinator) ActivateCurrent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == media.ModeFullFrameVideo {
		if err := c.video.Activate(c.res.Width, c.res.Height); err != nil {
			c.log.Warn("video activate failed", "error", err)
		}
	}
}
