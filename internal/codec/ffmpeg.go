package codec

import (
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
)

// FFmpegFactory returns a Factory that decodes H.264 elementary streams by
// piping them through an ffmpeg subprocess emitting raw RGBA frames on
// stdout. One subprocess per slot, so independent stripes decode
// independently. path is the ffmpeg binary; empty means "ffmpeg" on PATH.
func FFmpegFactory(path string) Factory {
	if path == "" {
		path = "ffmpeg"
	}
	return func(ev Events) (Decoder, error) {
		return &ffmpegDecoder{path: path, ev: ev}, nil
	}
}

var errDecoderClosed = errors.New("decoder closed")

type ffmpegDecoder struct {
	path string
	ev   Events

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool

	width  int
	height int
	pool   sync.Pool

	// The ID queue pairs decoded frames with submitted chunk IDs. ffmpeg
	// preserves submission order on a single pipe, and H.264 band streams
	// here carry no B-frames, so output order equals input order even when
	// decode latency spans several submissions.
	idMu sync.Mutex
	ids  []uint16
	last uint16
}

// Configure starts the subprocess asynchronously and reports the outcome
// through OnConfigured.
func (d *ffmpegDecoder) Configure(cfg Config) {
	go func() {
		cmd := exec.Command(d.path,
			"-hide_banner", "-loglevel", "error",
			"-f", "h264", "-i", "pipe:0",
			"-f", "rawvideo", "-pix_fmt", "rgba", "pipe:1",
		)

		stdin, err := cmd.StdinPipe()
		if err != nil {
			d.ev.OnConfigured(fmt.Errorf("ffmpeg stdin: %w", err))
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			d.ev.OnConfigured(fmt.Errorf("ffmpeg stdout: %w", err))
			return
		}
		if err := cmd.Start(); err != nil {
			d.ev.OnConfigured(fmt.Errorf("start ffmpeg: %w", err))
			return
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			stdin.Close()
			cmd.Process.Kill()
			cmd.Wait()
			return
		}
		d.cmd = cmd
		d.stdin = stdin
		d.width, d.height = cfg.Width, cfg.Height
		frameBytes := cfg.Width * cfg.Height * 4
		d.pool.New = func() any { return make([]byte, frameBytes) }
		d.mu.Unlock()

		go d.readFrames(stdout, cfg.Width, cfg.Height)
		d.ev.OnConfigured(nil)
	}()
}

// Decode writes one coded chunk to the subprocess.
func (d *ffmpegDecoder) Decode(c Chunk) error {
	d.mu.Lock()
	if d.closed || d.stdin == nil {
		d.mu.Unlock()
		return errDecoderClosed
	}
	stdin := d.stdin
	d.mu.Unlock()

	d.pushID(c.FrameID)
	if _, err := stdin.Write(c.Data); err != nil {
		return fmt.Errorf("write to ffmpeg: %w", err)
	}
	return nil
}

// Close terminates the subprocess. Idempotent.
func (d *ffmpegDecoder) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	cmd, stdin := d.cmd, d.stdin
	d.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	return nil
}

// readFrames slices the subprocess's raw RGBA output into fixed-size
// frames and delivers them through OnFrame. Exits on pipe close; an
// unexpected exit while the decoder is open is a fatal.
func (d *ffmpegDecoder) readFrames(r io.Reader, w, h int) {
	for {
		buf := d.pool.Get().([]byte)
		if _, err := io.ReadFull(r, buf); err != nil {
			d.pool.Put(buf)

			d.mu.Lock()
			closed := d.closed
			d.mu.Unlock()
			if !closed {
				d.ev.OnFatal(fmt.Errorf("ffmpeg output ended: %w", err))
			}
			return
		}

		img := &image.RGBA{
			Pix:    buf,
			Stride: 4 * w,
			Rect:   image.Rect(0, 0, w, h),
		}
		d.ev.OnFrame(Frame{
			Image:   img,
			FrameID: d.nextID(),
			Release: func() { d.pool.Put(buf) },
		})
	}
}

func (d *ffmpegDecoder) pushID(id uint16) {
	d.idMu.Lock()
	d.ids = append(d.ids, id)
	d.idMu.Unlock()
}

// nextID pops the oldest submitted chunk ID. ffmpeg can emit more than
// one frame per submitted chunk; an empty queue repeats the newest
// consumed ID.
func (d *ffmpegDecoder) nextID() uint16 {
	d.idMu.Lock()
	defer d.idMu.Unlock()
	if len(d.ids) > 0 {
		d.last = d.ids[0]
		d.ids = d.ids[1:]
	}
	return d.last
}
