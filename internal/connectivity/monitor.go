package connectivity

import (
	"sync"
	"sync/atomic"
	"time"

	"taller/internal/events"
	"taller/internal/logging"
	"taller/internal/metrics"
	"taller/internal/models"

	"github.com/rs/zerolog"
)

// Monitor holds the last known network state and notifies listeners on transitions.
// It starts online: the absence of a signal is not treated as offline.
type Monitor struct {
	bus    *events.EventBus
	online atomic.Bool
	logger *zerolog.Logger
}

func NewMonitor(bus *events.EventBus, logger *zerolog.Logger) *Monitor {
	if bus == nil {
		bus = events.NewEventBus()
	}
	l := logging.Component(logger, "connectivity")
	m := &Monitor{bus: bus, logger: l}
	m.online.Store(true)
	metrics.SetOnline(true)
	return m
}

func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline feeds a new signal. Listeners run only when the state actually changes.
// It reports whether a transition happened.
func (m *Monitor) SetOnline(online bool) bool {
	if m.online.Swap(online) == online {
		return false
	}

	metrics.SetOnline(online)
	m.logger.Info().Str("state", models.ConnectivityState(online)).Msg("Connectivity changed")

	if err := m.bus.PublishJSON(events.EventConnectivityChanged, events.ConnectivityPayload{
		Online: online,
		At:     time.Now(),
	}); err != nil {
		m.logger.Error().Err(err).Msg("Failed to publish connectivity event")
	}
	return true
}

// OnOnlineChange registers cb for every transition. The returned function removes it;
// calling it more than once is safe and cb is not invoked once it has returned.
func (m *Monitor) OnOnlineChange(cb func(online bool)) (unsubscribe func()) {
	var active atomic.Bool
	active.Store(true)

	unsub := m.bus.Subscribe(events.EventConnectivityChanged, func(ev *events.Event) error {
		if !active.Load() {
			return nil
		}
		var p events.ConnectivityPayload
		if err := ev.Decode(&p); err != nil {
			return err
		}
		cb(p.Online)
		return nil
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			active.Store(false)
			unsub()
		})
	}
}
