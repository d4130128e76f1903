package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("component", "events").Logger(),
	}
}

// Emit emits an untyped event
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}
	m.publish(event)
}

// EmitTyped emits an event carrying a typed payload
func (m *Manager) EmitTyped(module string, data EventData) {
	raw := map[string]interface{}{}
	if b, err := json.Marshal(data); err == nil {
		_ = json.Unmarshal(b, &raw)
	}

	event := &Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      raw,
		typed:     data,
	}
	m.publish(event)
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{
		"error": err.Error(),
	}
	for k, v := range context {
		data[k] = v
	}
	m.Emit(ErrorOccurred, module, data)
}

func (m *Manager) publish(event *Event) {
	eventJSON, _ := json.Marshal(event)
	m.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", event.Module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")

	m.bus.Publish(event)
}
