package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	now func() time.Time
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		now: time.Now,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus
func (m *Manager) Bus() *Bus {
	return m.bus
}

// EmitTyped publishes an event with typed data and logs it. Trial events are
// logged at trace level since a run emits one per trial.
func (m *Manager) EmitTyped(module string, data EventData) {
	event := Event{
		Type:      data.EventType(),
		Timestamp: m.now(),
		Module:    module,
		Data:      data,
	}

	delivered := m.bus.Publish(event)

	logEvent := m.log.Info()
	if event.Type == TrialCompleted {
		logEvent = m.log.Trace()
	}
	if logEvent.Enabled() {
		eventJSON, _ := json.Marshal(event)
		logEvent.
			Str("event_type", string(event.Type)).
			Str("module", module).
			Int("subscribers", delivered).
			RawJSON("event", eventJSON).
			Msg("Event emitted")
	}
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.EmitTyped(module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}
