package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	event := Event{Type: RunStarted, Module: "test", Data: &RunStartedData{Strategy: "gmvp"}}
	assert.Equal(t, 2, bus.Publish(event))
	assert.Equal(t, RunStarted, (<-a).Type)
	assert.Equal(t, RunStarted, (<-b).Type)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, bus.Subscribers())
}

func TestBus_FullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	assert.Equal(t, 1, bus.Publish(Event{Type: TrialCompleted}))
	assert.Equal(t, 0, bus.Publish(Event{Type: TrialCompleted}))
	assert.Equal(t, int64(1), bus.Dropped())
	assert.Len(t, ch, 1)
}

func TestManager_EmitTyped(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(2)
	defer unsub()

	m := NewManager(bus, zerolog.Nop())
	now := time.Date(2023, 8, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.EmitTyped("optimizer", &RunCompletedData{RunID: "r1", Strategy: "risk_parity", Converged: 10})
	m.EmitError("scheduler", errors.New("boom"), map[string]interface{}{"job": "allocate_universe"})

	first := <-ch
	assert.Equal(t, RunCompleted, first.Type)
	assert.Equal(t, now, first.Timestamp)
	assert.Equal(t, "optimizer", first.Module)

	second := <-ch
	require.IsType(t, &ErrorEventData{}, second.Data)
	assert.Equal(t, "boom", second.Data.(*ErrorEventData).Error)
}

func TestEvent_JSONRoundTrip(t *testing.T) {
	event := Event{
		Type:      TrialCompleted,
		Timestamp: time.Date(2023, 8, 10, 12, 0, 0, 0, time.UTC),
		Module:    "optimizer",
		Data:      &TrialCompletedData{Strategy: "gmvp", Trial: 3, Converged: true, Value: 0.01, Status: "FunctionConvergence"},
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, event, decoded)
}

func TestEvent_UnmarshalUnknownType(t *testing.T) {
	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(`{"type":"CUSTOM","module":"x","data":{"a":1}}`), &decoded))
	generic, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, EventType("CUSTOM"), generic.EventType())
	assert.Equal(t, 1.0, generic.Data["a"])
}

func TestJobStatusData_EventType(t *testing.T) {
	assert.Equal(t, JobStarted, (&JobStatusData{Status: "started"}).EventType())
	assert.Equal(t, JobCompleted, (&JobStatusData{Status: "completed"}).EventType())
	assert.Equal(t, JobFailed, (&JobStatusData{Status: "failed"}).EventType())
}
