package session

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skipperro/mosaic/internal/audio"
	"github.com/skipperro/mosaic/internal/codec"
	"github.com/skipperro/mosaic/internal/render"
	"github.com/skipperro/mosaic/media"
)

// fakeServer is a one-connection websocket endpoint that records inbound
// text messages and lets the test push frames and controls.
type fakeServer struct {
	*httptest.Server

	mu       sync.Mutex
	received []string
	conn     *websocket.Conn
	ready    chan struct{}
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{ready: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		first := fs.conn == nil
		fs.conn = conn
		fs.mu.Unlock()
		if first {
			close(fs.ready)
		}
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.TextMessage {
				fs.mu.Lock()
				fs.received = append(fs.received, string(data))
				fs.mu.Unlock()
			}
		}
	}))
	t.Cleanup(fs.Server.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.Server.URL, "http")
}

// messages returns received text messages, minus the periodic fps report.
func (fs *fakeServer) messages() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []string
	for _, m := range fs.received {
		if strings.HasPrefix(m, "_f ") {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (fs *fakeServer) send(t *testing.T, msgType int, data []byte) {
	t.Helper()
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	if err := conn.WriteMessage(msgType, data); err != nil {
		t.Fatalf("server send: %v", err)
	}
}

// sessionDecoder queues chunks like an asynchronous codec handle.
type sessionDecoder struct {
	ev codec.Events

	mu      sync.Mutex
	decoded int
}

func (d *sessionDecoder) Configure(codec.Config) {}

func (d *sessionDecoder) Decode(codec.Chunk) error {
	d.mu.Lock()
	d.decoded++
	d.mu.Unlock()
	return nil
}

func (d *sessionDecoder) Close() error { return nil }

type sessionCodecFactory struct {
	mu    sync.Mutex
	fakes []*sessionDecoder
}

func (f *sessionCodecFactory) factory(ev codec.Events) (codec.Decoder, error) {
	d := &sessionDecoder{ev: ev}
	f.mu.Lock()
	f.fakes = append(f.fakes, d)
	f.mu.Unlock()
	return d, nil
}

func (f *sessionCodecFactory) decoded() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.fakes {
		d.mu.Lock()
		n += d.decoded
		d.mu.Unlock()
	}
	return n
}

// passthroughAudio counts decodes.
type passthroughAudio struct {
	decodes atomic.Int64
}

func (a *passthroughAudio) Decode([]byte) ([]byte, error) {
	a.decodes.Add(1)
	return make([]byte, 16), nil
}

func newTestClient(t *testing.T, url string, cf *sessionCodecFactory, ad *passthroughAudio) *Client {
	t.Helper()
	cfg := Config{ServerURL: url, Mode: media.ModeFullFrameVideo, PixelRatio: 1.0}
	mgr := codec.NewManager(cf.factory, nil)
	audioPipe := audio.NewPipeline(func() (audio.Decoder, error) { return ad, nil }, nil, nil)
	c := NewClient(cfg, mgr, audioPipe, render.NewCanvas(640, 480), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("client did not shut down")
		}
		audioPipe.Close()
	})
	return c
}

func pollUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClient_HandshakeSequence(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url(), &sessionCodecFactory{}, &passthroughAudio{})

	<-fs.ready
	pollUntil(t, "handshake messages", func() bool { return len(fs.messages()) >= 5 })
	pollUntil(t, "active state", func() bool { return c.State() == StateActive })

	want := []string{"r,1024x768", "s,1.00", "cr", "START_VIDEO", "START_AUDIO"}
	got := fs.messages()[:5]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("handshake = %v, want %v", got, want)
		}
	}

	act := c.Activity().Snapshot()
	if !act.Video || !act.Audio {
		t.Errorf("activity after handshake = %+v, want video+audio", act)
	}
}

func TestClient_ServerControlsApply(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url(), &sessionCodecFactory{}, &passthroughAudio{})

	<-fs.ready
	pollUntil(t, "active state", func() bool { return c.State() == StateActive })

	var clipMu sync.Mutex
	var clip []byte
	c.SetClipboardHandler(func(b []byte) {
		clipMu.Lock()
		clip = b
		clipMu.Unlock()
	})

	fs.send(t, websocket.TextMessage, []byte("mode,jpeg"))
	pollUntil(t, "mode switch", func() bool { return c.Coordinator().Mode() == media.ModeStripedJPEG })

	// Odd server dimensions round down to even.
	fs.send(t, websocket.TextMessage, []byte("res,1281x721"))
	pollUntil(t, "resolution", func() bool {
		w, h := c.Coordinator().Geometry()
		return w == 1280 && h == 720
	})

	fs.send(t, websocket.TextMessage, []byte("clipboard,"+base64.StdEncoding.EncodeToString([]byte("hello"))))
	pollUntil(t, "clipboard", func() bool {
		clipMu.Lock()
		defer clipMu.Unlock()
		return string(clip) == "hello"
	})

	// Garbage control messages are ignored without killing the session.
	fs.send(t, websocket.TextMessage, []byte("bogus"))
	fs.send(t, websocket.TextMessage, []byte("mode,unknown-encoder"))
	time.Sleep(20 * time.Millisecond)
	if c.State() != StateActive {
		t.Errorf("state after garbage controls = %v, want active", c.State())
	}
}

func TestClient_DispatchRoutesFrames(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	cf := &sessionCodecFactory{}
	ad := &passthroughAudio{}
	c := newTestClient(t, fs.url(), cf, ad)

	<-fs.ready
	pollUntil(t, "active state", func() bool { return c.State() == StateActive })

	// Full-video keyframe 7: tag, frameType, frameId big-endian.
	fs.send(t, websocket.BinaryMessage, append([]byte{0, 0, 0, 7}, 0xAA, 0xBB))
	pollUntil(t, "video slot created", func() bool {
		cf.mu.Lock()
		defer cf.mu.Unlock()
		return len(cf.fakes) >= 1
	})
	cf.mu.Lock()
	dec := cf.fakes[0]
	cf.mu.Unlock()
	dec.ev.OnConfigured(nil)
	pollUntil(t, "video chunk decoded", func() bool { return cf.decoded() == 1 })

	// Audio chunk: tag only, opaque payload.
	fs.send(t, websocket.BinaryMessage, append([]byte{1}, 0x01, 0x02, 0x03))
	pollUntil(t, "audio chunk decoded", func() bool { return ad.decodes.Load() == 1 })

	// Disabling video gates full-video dispatch.
	c.SetVideoActive(false)
	fs.send(t, websocket.BinaryMessage, append([]byte{0, 1, 0, 8}, 0xCC))
	time.Sleep(20 * time.Millisecond)
	if got := cf.decoded(); got != 1 {
		t.Errorf("decoded = %d after disabling video, want 1", got)
	}
}

func TestClient_StragglerChunkAfterModeSwitchDropped(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	cf := &sessionCodecFactory{}
	c := newTestClient(t, fs.url(), cf, &passthroughAudio{})

	<-fs.ready
	pollUntil(t, "active state", func() bool { return c.State() == StateActive })
	pollUntil(t, "full-frame slot", func() bool {
		cf.mu.Lock()
		defer cf.mu.Unlock()
		return len(cf.fakes) == 1
	})

	fs.send(t, websocket.TextMessage, []byte("mode,jpeg"))
	pollUntil(t, "mode switch", func() bool { return c.Coordinator().Mode() == media.ModeStripedJPEG })

	// Chunks from the torn-down modes can still be in flight on the wire.
	// Neither a striped band nor a full-video chunk may recreate decoder
	// state while JPEG is authoritative.
	fs.send(t, websocket.BinaryMessage, append([]byte{4, 0, 0, 9, 0, 40, 2, 128, 0, 40}, 0xAA))
	fs.send(t, websocket.BinaryMessage, append([]byte{0, 0, 0, 10}, 0xBB))
	time.Sleep(20 * time.Millisecond)

	cf.mu.Lock()
	slots := len(cf.fakes)
	cf.mu.Unlock()
	if slots != 1 {
		t.Errorf("decoder slots = %d after mode switch, want 1 (stragglers dropped)", slots)
	}
}

func TestClient_DisconnectTearsDownAndReconnects(t *testing.T) {
	t.Parallel()
	fs := newFakeServer(t)
	c := newTestClient(t, fs.url(), &sessionCodecFactory{}, &passthroughAudio{})

	<-fs.ready
	pollUntil(t, "active state", func() bool { return c.State() == StateActive })

	fs.mu.Lock()
	fs.conn.Close()
	fs.mu.Unlock()

	pollUntil(t, "teardown", func() bool {
		act := c.Activity().Snapshot()
		return !act.Video && !act.Audio
	})

	// The reconnect loop dials again after backoff and re-runs the
	// handshake on the new connection.
	pollUntil(t, "reconnect", func() bool { return c.State() == StateActive })
	act := c.Activity().Snapshot()
	if !act.Video || !act.Audio {
		t.Errorf("activity after reconnect = %+v, want video+audio", act)
	}
}
