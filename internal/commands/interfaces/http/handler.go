package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"planter-cloud/internal/audit"
	"planter-cloud/internal/auth"
	commandsapp "planter-cloud/internal/commands/application"
	commands "planter-cloud/internal/commands/domain"
)

// Toucher refreshes device last-seen on every device-facing call, so
// poll-only devices still show recent activity.
type Toucher interface {
	Touch(ctx context.Context, deviceID string)
}

// Handler provides command HTTP endpoints for both sides: clients submit
// and read history, devices poll pending commands and report outcomes.
type Handler struct {
	store       *commandsapp.Store
	presence    Toucher
	auditLogger audit.Logger
}

// NewHandler constructs a handler. presence and auditLogger may be nil.
func NewHandler(store *commandsapp.Store, presence Toucher, auditLogger audit.Logger) (*Handler, error) {
	if store == nil {
		return nil, errors.New("commands handler: nil store")
	}
	return &Handler{store: store, presence: presence, auditLogger: auditLogger}, nil
}

type commandResponse struct {
	ID           string `json:"id"`
	DeviceID     string `json:"deviceId"`
	CommandType  string `json:"commandType"`
	CommandValue string `json:"commandValue"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
	ExecutedAt   string `json:"executedAt,omitempty"`
}

func toResponse(cmd commands.Command) commandResponse {
	resp := commandResponse{
		ID:           cmd.ID,
		DeviceID:     cmd.DeviceID,
		CommandType:  cmd.Type,
		CommandValue: cmd.Value,
		Status:       cmd.Status,
		CreatedAt:    cmd.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !cmd.ExecutedAt.IsZero() {
		resp.ExecutedAt = cmd.ExecutedAt.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

// Submit handles POST /api/v1/devices/{deviceID}/commands.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	userID := auth.UserIDFromContext(r.Context())

	var req struct {
		CommandType  string `json:"commandType"`
		CommandValue string `json:"commandValue"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cmd, err := h.store.Enqueue(r.Context(), userID, deviceID, req.CommandType, req.CommandValue)
	if err != nil {
		respondError(w, err)
		return
	}

	if h.auditLogger != nil {
		metadata, _ := json.Marshal(map[string]string{"commandType": cmd.Type, "commandValue": cmd.Value})
		_ = h.auditLogger.Log(r.Context(), audit.Entry{
			Actor:        userID,
			Action:       "command.submit",
			ResourceType: "command",
			ResourceID:   cmd.ID,
			DeviceID:     deviceID,
			Metadata:     metadata,
			IP:           r.RemoteAddr,
			UserAgent:    r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toResponse(*cmd))
}

// History handles GET /api/v1/devices/{deviceID}/commands.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	userID := auth.UserIDFromContext(r.Context())

	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	list, err := h.store.History(r.Context(), userID, deviceID, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondCommands(w, list)
}

// ListPending handles GET /api/v1/device/{deviceID}/commands, the device
// poll. Listing has no side effect beyond a presence touch.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	list, err := h.store.ListPending(r.Context(), deviceID)
	if err != nil {
		respondError(w, err)
		return
	}
	// Touch only after the device is confirmed to exist; these endpoints
	// are unauthenticated and must not record junk ids.
	if h.presence != nil {
		h.presence.Touch(r.Context(), deviceID)
	}
	respondCommands(w, list)
}

// ReportOutcome handles POST /api/v1/device/commands/{commandID}/outcome.
// Duplicate reports are not errors: delivery is at-least-once by design.
func (h *Handler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "commandID")

	var req struct {
		DeviceID string `json:"deviceId"`
		Outcome  string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	// When the reporter names itself, the command must belong to it; a
	// mismatch reads as not found rather than confirming the command exists.
	var err error
	if req.DeviceID != "" {
		err = h.store.ReportDeviceOutcome(r.Context(), req.DeviceID, commandID, req.Outcome)
	} else {
		err = h.store.ReportOutcome(r.Context(), commandID, req.Outcome)
	}
	if err != nil {
		respondError(w, err)
		return
	}

	if h.presence != nil && req.DeviceID != "" {
		h.presence.Touch(r.Context(), req.DeviceID)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func respondCommands(w http.ResponseWriter, list []commands.Command) {
	responses := make([]commandResponse, 0, len(list))
	for _, cmd := range list {
		responses = append(responses, toResponse(cmd))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"commands": responses})
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commandsapp.ErrDeviceNotFound), errors.Is(err, commandsapp.ErrCommandNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, commandsapp.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, commands.ErrInvalidCommand), errors.Is(err, commandsapp.ErrInvalidOutcome):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
