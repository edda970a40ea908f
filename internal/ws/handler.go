package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"planter-cloud/internal/auth"
	commandsapp "planter-cloud/internal/commands/application"
	"planter-cloud/internal/fanout"
	"planter-cloud/internal/observability/metrics"
	"planter-cloud/internal/presence"
	telemetryapp "planter-cloud/internal/telemetry/application"
)

const opTimeout = 10 * time.Second

// DeviceDirectory resolves devices for socket classification.
type DeviceDirectory interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
	DeviceIDsByUser(ctx context.Context, userID string) ([]string, error)
}

// Handler upgrades socket connections. A deviceId query parameter marks a
// device connection; anything else must present a user JWT and becomes an
// observer receiving fan-out events for its devices.
type Handler struct {
	tracker   *presence.Tracker
	store     *commandsapp.Store
	telemetry *telemetryapp.Service
	hub       *fanout.Hub
	devices   DeviceDirectory
	secret    []byte
	logger    *log.Logger
	upgrader  websocket.Upgrader
}

// NewHandler constructs a socket handler. An empty allowedOrigin accepts any
// origin.
func NewHandler(tracker *presence.Tracker, store *commandsapp.Store, telemetry *telemetryapp.Service, hub *fanout.Hub, devices DeviceDirectory, secret []byte, allowedOrigin string, logger *log.Logger) (*Handler, error) {
	if tracker == nil {
		return nil, errors.New("ws handler: nil tracker")
	}
	if store == nil {
		return nil, errors.New("ws handler: nil store")
	}
	if telemetry == nil {
		return nil, errors.New("ws handler: nil telemetry service")
	}
	if hub == nil {
		return nil, errors.New("ws handler: nil hub")
	}
	if devices == nil {
		return nil, errors.New("ws handler: nil device directory")
	}
	if len(secret) == 0 {
		return nil, errors.New("ws handler: empty secret")
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		tracker:   tracker,
		store:     store,
		telemetry: telemetry,
		hub:       hub,
		devices:   devices,
		secret:    secret,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}
	return h, nil
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("deviceId")
	if deviceID != "" {
		h.serveDevice(w, r, deviceID)
		return
	}
	h.serveObserver(w, r)
}

func (h *Handler) serveDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	exists, err := h.devices.Exists(r.Context(), deviceID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ds := &deviceSession{session: newSession(conn), deviceID: deviceID}
	token := h.tracker.MarkOnline(r.Context(), deviceID, ds)
	metrics.AddSocketConnection("device", 1)
	h.logger.Printf("ws: device %s connected", deviceID)

	go ds.writePump()
	h.pushBacklog(r.Context(), ds)

	ds.readPump(func(msg Message) { h.deviceMessage(deviceID, msg) })

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	h.tracker.MarkOffline(ctx, deviceID, token)
	ds.close()
	metrics.AddSocketConnection("device", -1)
	h.logger.Printf("ws: device %s disconnected", deviceID)
}

// pushBacklog delivers commands that queued up while the device was away.
// Each stays pending until the device reports its outcome.
func (h *Handler) pushBacklog(ctx context.Context, ds *deviceSession) {
	pending, err := h.store.ListPending(ctx, ds.deviceID)
	if err != nil {
		h.logger.Printf("ws: backlog for %s: %v", ds.deviceID, err)
		return
	}
	for _, cmd := range pending {
		if err := ds.Push(cmd); err != nil {
			metrics.IncPushAttempt(false)
			h.logger.Printf("ws: backlog push %s to %s: %v", cmd.ID, ds.deviceID, err)
			return
		}
		metrics.IncPushAttempt(true)
	}
}

func (h *Handler) deviceMessage(deviceID string, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch msg.Type {
	case "sensor_data":
		var req telemetryapp.IngestRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		req.DeviceID = deviceID
		if _, err := h.telemetry.Ingest(ctx, req); err != nil {
			h.logger.Printf("ws: ingest from %s: %v", deviceID, err)
		}
	case "command_result":
		var result struct {
			CommandID string `json:"commandId"`
			Outcome   string `json:"outcome"`
		}
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			return
		}
		if err := h.store.ReportDeviceOutcome(ctx, deviceID, result.CommandID, result.Outcome); err != nil {
			h.logger.Printf("ws: outcome %s from %s: %v", result.CommandID, deviceID, err)
		}
	}
}

func (h *Handler) serveObserver(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.ExtractBearer(r)
	}
	claims, err := auth.ParseJWT(token, h.secret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	owned, err := h.devices.DeviceIDsByUser(r.Context(), claims.UserID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	deviceIDs := owned
	if requested := r.URL.Query()["watch"]; len(requested) > 0 {
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

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := newSession(conn)
	sub := h.hub.Subscribe(deviceIDs...)
	metrics.AddSocketConnection("observer", 1)

	go sess.writePump()
	go func() {
		for event := range sub.C {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			frame, err := json.Marshal(Message{Type: event.Kind, Payload: payload})
			if err != nil {
				continue
			}
			_ = sess.enqueue(frame)
		}
	}()

	sess.readPump(func(msg Message) { h.observerMessage(claims.UserID, sess, msg) })

	h.hub.Unsubscribe(sub)
	sess.close()
	metrics.AddSocketConnection("observer", -1)
}

// observerMessage handles inbound frames from a user socket. send_command
// enqueues through the normal command path with the socket's user as owner;
// get_sensor_data answers with a plant's latest reading.
func (h *Handler) observerMessage(userID string, sess *session, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch msg.Type {
	case "send_command":
		var req struct {
			DeviceID     string `json:"deviceId"`
			CommandType  string `json:"commandType"`
			CommandValue string `json:"commandValue"`
		}
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			h.sendError(sess, "invalid send_command payload")
			return
		}
		cmd, err := h.store.Enqueue(ctx, userID, req.DeviceID, req.CommandType, req.CommandValue)
		if err != nil {
			h.logger.Printf("ws: send_command from %s: %v", userID, err)
			h.sendError(sess, "command rejected")
			return
		}
		h.reply(sess, "command_sent", map[string]string{
			"commandId": cmd.ID,
			"deviceId":  cmd.DeviceID,
			"status":    cmd.Status,
		})
	case "get_sensor_data":
		var req struct {
			PlantID string `json:"plantId"`
		}
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			h.sendError(sess, "invalid get_sensor_data payload")
			return
		}
		reading, err := h.telemetry.Latest(ctx, userID, req.PlantID)
		if err != nil {
			h.sendError(sess, "unknown plant")
			return
		}
		h.reply(sess, "sensor_data", map[string]any{"plantId": req.PlantID, "reading": reading})
	}
}

func (h *Handler) reply(sess *session, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame, err := json.Marshal(Message{Type: kind, Payload: data})
	if err != nil {
		return
	}
	_ = sess.enqueue(frame)
}

func (h *Handler) sendError(sess *session, message string) {
	h.reply(sess, "error", map[string]string{"message": message})
}
