package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer      = 256
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 5 * time.Second
)

// EventsStreamHandler streams bus events to clients over Server-Sent Events
// or a WebSocket. Both accept ?types=RUN_STARTED,RUN_COMPLETED to filter.
type EventsStreamHandler struct {
	eventBus  *events.Bus
	heartbeat time.Duration
	log       zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(eventBus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus:  eventBus,
		heartbeat: heartbeatInterval,
		log:       log.With().Str("component", "events_stream").Logger(),
	}
}

// typeFilter returns nil when every type is allowed
func typeFilter(r *http.Request) map[events.EventType]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	allowed := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			allowed[events.EventType(t)] = true
		}
	}
	return allowed
}

func statusMessage(kind string) map[string]interface{} {
	return map[string]interface{}{
		"type":      kind,
		"timestamp": time.Now().Format(time.RFC3339),
	}
}

// ServeSSE handles GET /api/events/stream
func (h *EventsStreamHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	allowed := typeFilter(r)
	eventChan, unsubscribe := h.eventBus.Subscribe(streamBuffer)
	defer unsubscribe()

	h.log.Info().Str("types_filter", r.URL.Query().Get("types")).Msg("Client connected to event stream")

	send := func(v interface{}) {
		fmt.Fprintf(w, "data: %s\n\n", h.encode(v))
		flusher.Flush()
	}
	send(statusMessage("connected"))

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if allowed != nil && !allowed[event.Type] {
				continue
			}
			send(event)

		case <-heartbeat.C:
			send(statusMessage("heartbeat"))
		}
	}
}

// ServeWebSocket handles GET /api/events/ws. Client messages are ignored.
func (h *EventsStreamHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Matches the permissive CORS policy of the API
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	allowed := typeFilter(r)
	eventChan, unsubscribe := h.eventBus.Subscribe(streamBuffer)
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())

	h.log.Info().Str("types_filter", r.URL.Query().Get("types")).Msg("WebSocket client connected")

	if err := h.writeWS(ctx, conn, statusMessage("connected")); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("WebSocket client disconnected")
			return

		case event, ok := <-eventChan:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "event bus closed")
				return
			}
			if allowed != nil && !allowed[event.Type] {
				continue
			}
			if err := h.writeWS(ctx, conn, event); err != nil {
				h.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}

		case <-heartbeat.C:
			if err := h.writeWS(ctx, conn, statusMessage("heartbeat")); err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) writeWS(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

// encode encodes a message to a JSON string.
func (h *EventsStreamHandler) encode(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}
