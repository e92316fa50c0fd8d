// Package session manages the connection lifecycle of a Mosaic client:
// dialing the stream channel, dispatching inbound messages to the decode
// pipelines, fanning control changes out through the coordinator, and
// recovering from disconnects with a full teardown and soft reconnect.
package session

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skipperro/mosaic/internal/audio"
	"github.com/skipperro/mosaic/internal/codec"
	"github.com/skipperro/mosaic/internal/protocol"
	"github.com/skipperro/mosaic/internal/render"
	"github.com/skipperro/mosaic/internal/stats"
	"github.com/skipperro/mosaic/internal/stripe"
	"github.com/skipperro/mosaic/internal/video"
	"github.com/skipperro/mosaic/media"
)

// ConnState is the connection lifecycle state.
type ConnState int32

// Connection lifecycle. Erroring and Closed both lead back to Connecting
// via the reconnect loop.
const (
	StateConnecting ConnState = iota
	StateHandshakeWait
	StateActive
	StateClosed
	StateErroring
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakeWait:
		return "handshake"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateErroring:
		return "erroring"
	}
	return "invalid"
}

// Reconnect backoff bounds.
const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Config holds session parameters.
type Config struct {
	ServerURL   string
	Mode        media.EncoderMode
	BufferDepth int     // paced video frame buffer depth
	PixelRatio  float64 // reported at handshake
	Shared      bool    // always-render surface variant
}

// Client is one remote session: the pipelines, their coordinator, and the
// reconnect loop that owns the channel.
type Client struct {
	cfg     Config
	log     *slog.Logger
	surface *render.Canvas

	video   *video.Pipeline
	striped *stripe.Pipeline
	jpeg    *stripe.JPEG
	audio   *audio.Pipeline

	coord    *Coordinator
	activity *ActivityTracker
	stats    *stats.Client
	state    atomic.Int32

	onClipboard func([]byte)

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewClient wires the pipelines together. audioPipe may be nil-sinked but
// must be non-nil; mgr supplies video decoder slots.
func NewClient(cfg Config, mgr *codec.Manager, audioPipe *audio.Pipeline, surface *render.Canvas, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		cfg:      cfg,
		log:      log.With("component", "session"),
		surface:  surface,
		audio:    audioPipe,
		activity: NewActivityTracker(),
		stats:    stats.NewClient(),
	}

	c.video = video.New(mgr, surface.Visible, c.ackFrame, log)
	c.video.SetShared(cfg.Shared)
	c.video.SetBufferDepth(cfg.BufferDepth)
	c.striped = stripe.New(mgr, log)
	c.jpeg = stripe.NewJPEG(log)

	c.coord = NewCoordinator(cfg.Mode, c.video, c.striped, c.jpeg, log)
	c.coord.SetSender(c.sendControl)
	return c
}

// Coordinator exposes the resolution/mode coordinator for UI commands.
func (c *Client) Coordinator() *Coordinator { return c.coord }

// Activity exposes the pipeline-activity tracker.
func (c *Client) Activity() *ActivityTracker { return c.activity }

// State returns the connection lifecycle state.
func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// SetClipboardHandler installs the receiver for server-pushed clipboard
// content.
func (c *Client) SetClipboardHandler(fn func([]byte)) { c.onClipboard = fn }

// Painters returns the per-mode paint steps for the render loop.
func (c *Client) Painters() map[media.EncoderMode]render.Painter {
	return map[media.EncoderMode]render.Painter{
		media.ModeFullFrameVideo: c.video,
		media.ModeStripedVideo:   c.striped,
		media.ModeStripedJPEG:    c.jpeg,
	}
}

// SetBufferDepth adjusts the paced video buffer depth at runtime.
func (c *Client) SetBufferDepth(n int) { c.video.SetBufferDepth(n) }

// SetVideoActive enables or disables the video pipelines, notifying the
// server.
func (c *Client) SetVideoActive(active bool) {
	c.activity.Update(func(a *media.PipelineActivity) { a.Video = active })
	if active {
		c.sendControl(protocol.StartVideo)
	} else {
		c.sendControl(protocol.StopVideo)
	}
}

// SetAudioActive soft-pauses or resumes audio, notifying the server.
func (c *Client) SetAudioActive(active bool) {
	c.activity.Update(func(a *media.PipelineActivity) { a.Audio = active })
	c.audio.UpdateActivity(active)
	if active {
		c.sendControl(protocol.StartAudio)
	} else {
		c.sendControl(protocol.StopAudio)
	}
}

// Snapshot returns the stats payload served to the UI layer.
func (c *Client) Snapshot() stats.Snapshot {
	res := c.coord.Resolution()
	return stats.Snapshot{
		Timestamp:           time.Now().UnixMilli(),
		State:               c.State().String(),
		EncoderMode:         c.coord.Mode().String(),
		Width:               res.Width,
		Height:              res.Height,
		FPS:                 c.stats.FPS(),
		VideoBufferDepth:    c.video.BufferDepth(),
		AudioBufferSegments: c.audio.BufferSegments(),
		Activity:            c.activity.Snapshot(),
	}
}

// Run dials the server and services the connection, reconnecting with
// capped exponential backoff after every disconnect. Each reconnect is a
// full teardown: no decoder state crosses connections. Returns when the
// context is cancelled.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		c.state.Store(int32(StateConnecting))
		c.log.Info("connecting", "url", c.cfg.ServerURL)

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, c.cfg.ServerURL, nil)
		if err == nil {
			backoff = reconnectBase
			err = c.runConn(ctx, conn)
			c.teardown()
		}

		if ctx.Err() != nil {
			c.state.Store(int32(StateClosed))
			return ctx.Err()
		}

		c.state.Store(int32(StateErroring))
		c.log.Warn("session ended, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			c.state.Store(int32(StateClosed))
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

// runConn services one connection until it fails or the context ends.
func (c *Client) runConn(ctx context.Context, conn *websocket.Conn) error {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	defer func() {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.state.Store(int32(StateHandshakeWait))
	c.handshake()
	c.state.Store(int32(StateActive))

	go c.reportLoop(ctx)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.dispatch(data)
		case websocket.TextMessage:
			c.handleControl(string(data))
		}
	}
}

// handshake negotiates the session: geometry and pixel ratio reports,
// server-held clipboard request, and default-active pipelines.
func (c *Client) handshake() {
	w, h := c.coord.Geometry()
	c.sendControl(protocol.ResolutionUpdate(w, h))
	c.sendControl(protocol.PixelRatioReport(c.cfg.PixelRatio))
	c.sendControl(protocol.ClipboardRequest)

	if err := c.audio.Initialize(); err != nil {
		c.log.Warn("audio initialize", "error", err)
	}
	c.coord.ActivateCurrent()

	c.activity.Update(func(a *media.PipelineActivity) {
		a.Video = true
		a.Audio = true
	})
	c.audio.UpdateActivity(true)
	c.sendControl(protocol.StartVideo)
	c.sendControl(protocol.StartAudio)
}

// dispatch routes one inbound binary message to its pipeline. Malformed
// or unknown messages are dropped without touching dispatcher state.
// Video chunks are gated on the active encoder mode as well as the
// activity flag: a late in-flight chunk from the outgoing mode must not
// recreate decoder state the switch just tore down.
func (c *Client) dispatch(msg []byte) {
	h, payload, err := protocol.ParseHeader(msg)
	if err != nil {
		c.log.Debug("dropping message", "error", err)
		return
	}

	act := c.activity.Snapshot()
	mode := c.coord.Mode()
	switch h.Kind {
	case media.KindFullVideo:
		if act.Video && mode == media.ModeFullFrameVideo {
			c.video.Submit(h, payload)
		}
	case media.KindStripedVideo:
		if act.Video && mode == media.ModeStripedVideo {
			c.striped.Submit(h, payload)
		}
	case media.KindJPEGStripe:
		if act.Video && mode == media.ModeStripedJPEG {
			c.jpeg.Submit(h, payload)
		}
	case media.KindAudio:
		if act.Audio {
			c.audio.Submit(bytes.Clone(payload), time.Now().UnixMilli())
		}
	}
}

// handleControl applies one inbound text control message.
func (c *Client) handleControl(s string) {
	m, err := protocol.ParseServerMessage(s)
	if err != nil {
		c.log.Debug("ignoring control message", "error", err)
		return
	}

	switch m.Kind {
	case protocol.MsgMode:
		c.coord.SetEncoderMode(m.Mode)
	case protocol.MsgResolution:
		c.coord.ApplyServerResolution(m.Width, m.Height)
	case protocol.MsgClipboard:
		if c.onClipboard != nil {
			c.onClipboard(m.Clipboard)
		}
	}
}

// teardown closes out a connection: every decoder slot closed, every
// buffer discarded, audio worker stopped, all activity flags false.
func (c *Client) teardown() {
	c.video.Deactivate()
	c.striped.Clear()
	c.jpeg.Clear()
	c.audio.Stop()
	c.activity.Update(func(a *media.PipelineActivity) {
		*a = media.PipelineActivity{}
	})
}

// ackFrame reports a painted full-video frame back to the server.
func (c *Client) ackFrame(frameID uint16) {
	c.stats.RecordPaint()
	c.sendControl(protocol.FrameAck(frameID))
}

// reportLoop sends the periodic fps report while the connection lives.
func (c *Client) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.connMu.Lock()
			connected := c.conn != nil
			c.connMu.Unlock()
			if !connected {
				return
			}
			c.sendControl(protocol.FPSReport(c.stats.FPS()))
		}
	}
}

// sendControl writes one outbound text control message. Writes are
// serialized; a write failure is logged and surfaces later through the
// read loop.
func (c *Client) sendControl(msg string) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug("control send failed", "error", err)
	}
}
