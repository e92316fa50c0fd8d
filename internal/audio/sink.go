package audio

import (
	"fmt"
	"sync"

	"github.com/hajimehoshi/oto/v2"
)

// OtoSink plays PCM through the system audio device via oto. Construction
// is cheap; the device is opened on Start so a machine without audio
// degrades to silent decode instead of failing pipeline setup.
type OtoSink struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player oto.Player
}

// NewOtoSink creates an unstarted sink.
func NewOtoSink() *OtoSink {
	return &OtoSink{}
}

// Start opens the audio device and begins pulling from the ring. The oto
// context is process-wide and created at most once; restarts after a
// Close reuse it with a fresh player.
func (s *OtoSink) Start(src *Ring) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		ctx, ready, err := oto.NewContext(SampleRate, Channels, bytesPerSamp)
		if err != nil {
			return fmt.Errorf("open audio device: %w", err)
		}
		<-ready
		s.ctx = ctx
	}

	if s.player == nil {
		s.player = s.ctx.NewPlayer(src)
		s.player.Play()
	}
	return nil
}

// Close stops playback. Idempotent.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	err := s.player.Close()
	s.player = nil
	return err
}
