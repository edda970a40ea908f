package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"planter-cloud/internal/audit"
	"planter-cloud/internal/auth"
	registry "planter-cloud/internal/registry/domain"
)

// DeviceRepository is the device registry persistence surface used by the
// HTTP layer.
type DeviceRepository interface {
	Create(ctx context.Context, device *registry.Device) error
	GetByDeviceID(ctx context.Context, deviceID string) (*registry.Device, error)
	ListByUser(ctx context.Context, userID string) ([]registry.Device, error)
	Rename(ctx context.Context, userID, deviceID, name string) (bool, error)
	Delete(ctx context.Context, userID, deviceID string) (bool, error)
}

// CommandPurger removes a deleted device's command backlog.
type CommandPurger interface {
	PurgeForDevice(ctx context.Context, deviceID string) error
}

// DeviceHandler serves device registration and management endpoints.
type DeviceHandler struct {
	repo        DeviceRepository
	purger      CommandPurger
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewDeviceHandler constructs a handler. purger and auditLogger may be nil.
func NewDeviceHandler(repo DeviceRepository, purger CommandPurger, auditLogger audit.Logger, logger *log.Logger) (*DeviceHandler, error) {
	if repo == nil {
		return nil, errors.New("device handler: nil repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DeviceHandler{repo: repo, purger: purger, auditLogger: auditLogger, logger: logger}, nil
}

type deviceResponse struct {
	DeviceID  string `json:"deviceId"`
	Name      string `json:"name"`
	Online    bool   `json:"online"`
	LastSeen  string `json:"lastSeen,omitempty"`
	CreatedAt string `json:"createdAt"`
}

func toDeviceResponse(device registry.Device) deviceResponse {
	resp := deviceResponse{
		DeviceID:  device.DeviceID,
		Name:      device.Name,
		Online:    device.Online,
		CreatedAt: device.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !device.LastSeen.IsZero() {
		resp.LastSeen = device.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

// Register handles POST /api/v1/devices.
func (h *DeviceHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req struct {
		DeviceID string `json:"deviceId"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.DeviceID = strings.TrimSpace(req.DeviceID)
	if req.DeviceID == "" {
		http.Error(w, "deviceId is required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.DeviceID
	}

	existing, err := h.repo.GetByDeviceID(r.Context(), req.DeviceID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "device already registered", http.StatusConflict)
		return
	}

	device := &registry.Device{
		Key:       uuid.NewString(),
		DeviceID:  req.DeviceID,
		UserID:    userID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.Create(r.Context(), device); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toDeviceResponse(*device))
}

// List handles GET /api/v1/devices.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	devices, err := h.repo.ListByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	responses := make([]deviceResponse, 0, len(devices))
	for _, device := range devices {
		responses = append(responses, toDeviceResponse(device))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"devices": responses})
}

// Get handles GET /api/v1/devices/{deviceID}.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	device, err := h.repo.GetByDeviceID(r.Context(), deviceID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if device == nil || device.UserID != userID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toDeviceResponse(*device))
}

// Rename handles PUT /api/v1/devices/{deviceID}.
func (h *DeviceHandler) Rename(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	renamed, err := h.repo.Rename(r.Context(), userID, deviceID, req.Name)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !renamed {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Delete handles DELETE /api/v1/devices/{deviceID}. The device's command
// backlog is purged first so nothing can be delivered after removal.
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	deviceID := chi.URLParam(r, "deviceID")

	device, err := h.repo.GetByDeviceID(r.Context(), deviceID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if device == nil || device.UserID != userID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if h.purger != nil {
		if err := h.purger.PurgeForDevice(r.Context(), deviceID); err != nil {
			h.logger.Printf("registry: purge commands for %s: %v", deviceID, err)
		}
	}

	deleted, err := h.repo.Delete(r.Context(), userID, deviceID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if h.auditLogger != nil {
		_ = h.auditLogger.Log(r.Context(), audit.Entry{
			Actor:        userID,
			Action:       "device.delete",
			ResourceType: "device",
			ResourceID:   deviceID,
			DeviceID:     deviceID,
			IP:           r.RemoteAddr,
			UserAgent:    r.UserAgent(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
