package fanout

import (
	"context"
	"encoding/json"
	"net/http"

	"planter-cloud/internal/auth"
)

// DeviceLister resolves which devices a user may observe.
type DeviceLister interface {
	DeviceIDsByUser(ctx context.Context, userID string) ([]string, error)
}

// StreamHandler serves the SSE event stream. A client subscribes to all of
// its own devices, or to a subset via repeated deviceId query parameters.
type StreamHandler struct {
	hub     *Hub
	devices DeviceLister
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(hub *Hub, devices DeviceLister) *StreamHandler {
	return &StreamHandler{hub: hub, devices: devices}
}

// ServeHTTP handles GET /api/v1/events/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.hub == nil || h.devices == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	owned, err := h.devices.DeviceIDsByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	deviceIDs := owned
	if requested := r.URL.Query()["deviceId"]; len(requested) > 0 {
		ownedSet := make(map[string]struct{}, len(owned))
		for _, id := range owned {
			ownedSet[id] = struct{}{}
		}
		deviceIDs = deviceIDs[:0]
		for _, id := range requested {
			if _, ok := ownedSet[id]; ok {
				deviceIDs = append(deviceIDs, id)
			}
		}
	}
	if len(deviceIDs) == 0 {
		http.Error(w, "no devices to watch", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.hub.Subscribe(deviceIDs...)
	defer h.hub.Unsubscribe(sub)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: "))
			_, _ = w.Write([]byte(event.Kind))
			_, _ = w.Write([]byte("\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
