// Package render owns the composite surface and the paint loop. The loop
// is the only component that draws: pipelines expose a Paint step and the
// loop invokes exactly one of them per tick, selected by the active
// encoder mode.
package render

import (
	"image"
	"image/draw"
	"sync"
)

// Surface is the shared display target. It is resized by the render loop
// and drawn onto only from pipeline Paint steps.
type Surface interface {
	// Resize sets the surface geometry, discarding current contents.
	Resize(width, height int)
	// Size returns the current geometry.
	Size() (int, int)
	// Draw composites img with its top-left corner at (x, y).
	Draw(img image.Image, x, y int)
	// Visible reports whether the surface is currently presented. Hidden
	// surfaces let pipelines discard frames instead of buffering them.
	Visible() bool
}

// Canvas is an in-memory RGBA Surface. Safe for concurrent use; the Frame
// accessor lets an embedder present or encode the current composite.
type Canvas struct {
	mu      sync.Mutex
	img     *image.RGBA
	visible bool
}

// NewCanvas creates a visible canvas with the given geometry.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		img:     image.NewRGBA(image.Rect(0, 0, width, height)),
		visible: true,
	}
}

// Resize reallocates the backing image. Contents are not preserved.
func (c *Canvas) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Size returns the canvas geometry.
func (c *Canvas) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Draw composites img at (x, y), clipped to the canvas.
func (c *Canvas) Draw(img image.Image, x, y int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := img.Bounds().Sub(img.Bounds().Min).Add(image.Pt(x, y))
	draw.Draw(c.img, r.Intersect(c.img.Bounds()), img, img.Bounds().Min, draw.Src)
}

// Visible reports the presented state.
func (c *Canvas) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// SetVisible flips the presented state, mirroring tab visibility changes.
func (c *Canvas) SetVisible(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = v
}

// Frame returns a copy of the current composite.
func (c *Canvas) Frame() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.img.Bounds())
	copy(out.Pix, c.img.Pix)
	return out
}
