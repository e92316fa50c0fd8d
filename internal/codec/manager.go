package codec

import (
	"fmt"
	"log/slog"
)

// Manager creates decoder slots from a shared Factory. Pipelines own the
// slots they create; the manager only binds slot callbacks to fresh
// decoder handles.
type Manager struct {
	factory Factory
	log     *slog.Logger
}

// NewManager creates a Manager. If log is nil, slog.Default() is used.
func NewManager(factory Factory, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		factory: factory,
		log:     log.With("component", "codec"),
	}
}

// CreateSlot creates a new Unconfigured slot. onFrame receives decoded
// pictures in decode order; onDead fires once if the slot dies from a
// configuration or decode-fatal error, signaling the owner to recreate it.
// Either callback may be nil.
func (m *Manager) CreateSlot(onFrame func(Frame), onDead func(error)) (*Slot, error) {
	s := &Slot{
		state:   SlotUnconfigured,
		onFrame: onFrame,
		onDead:  onDead,
		log:     m.log,
	}

	dec, err := m.factory(Events{
		OnConfigured: s.handleConfigured,
		OnFrame:      s.handleFrame,
		OnFatal:      s.handleFatal,
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	s.dec = dec
	return s, nil
}
