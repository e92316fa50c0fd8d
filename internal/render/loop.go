package render

import (
	"context"
	"log/slog"
	"time"

	"github.com/skipperro/mosaic/media"
)

// Painter is one pipeline's paint step. Paint draws at most a bounded
// amount of ready output onto the surface and returns; it never blocks on
// decode.
type Painter interface {
	Paint(s Surface)
}

// DefaultTickInterval approximates a 60 Hz display refresh.
const DefaultTickInterval = 16 * time.Millisecond

// Loop is the single continuously-rescheduled paint callback. Each tick it
// re-syncs surface geometry with the coordinator's target resolution, then
// dispatches to exactly one pipeline's paint step. It ticks even when
// there is nothing to paint: the geometry self-correction lives here and
// nowhere else.
type Loop struct {
	surface  Surface
	painters map[media.EncoderMode]Painter
	mode     func() media.EncoderMode
	geometry func() (int, int)
	interval time.Duration
	log      *slog.Logger
}

// NewLoop creates a render loop. mode and geometry are read fresh every
// tick from the coordinator. If log is nil, slog.Default() is used.
func NewLoop(s Surface, painters map[media.EncoderMode]Painter, mode func() media.EncoderMode, geometry func() (int, int), log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		surface:  s,
		painters: painters,
		mode:     mode,
		geometry: geometry,
		interval: DefaultTickInterval,
		log:      log.With("component", "render"),
	}
}

// Run ticks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick runs one paint pass: geometry correction, then exactly one
// pipeline's paint step.
func (l *Loop) Tick() {
	tw, th := l.geometry()
	if w, h := l.surface.Size(); w != tw || h != th {
		l.log.Debug("resizing surface", "from_w", w, "from_h", h, "to_w", tw, "to_h", th)
		l.surface.Resize(tw, th)
	}

	if p, ok := l.painters[l.mode()]; ok {
		p.Paint(l.surface)
	}
}
