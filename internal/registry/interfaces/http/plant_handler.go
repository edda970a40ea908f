package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"planter-cloud/internal/auth"
	commandsapp "planter-cloud/internal/commands/application"
	commands "planter-cloud/internal/commands/domain"
	registry "planter-cloud/internal/registry/domain"
)

const (
	defaultWaterSeconds = 5
	maxWaterSeconds     = 60
)

// PlantRepository is the plant registry persistence surface used by the
// HTTP layer.
type PlantRepository interface {
	Create(ctx context.Context, plant *registry.Plant) error
	ListByUser(ctx context.Context, userID string) ([]registry.Plant, error)
	GetForUser(ctx context.Context, userID, plantID string) (*registry.Plant, error)
	Update(ctx context.Context, plant *registry.Plant) (bool, error)
	Delete(ctx context.Context, userID, plantID string) (bool, error)
}

// DeviceResolver maps opaque device identifiers for plant linking.
type DeviceResolver interface {
	GetByDeviceID(ctx context.Context, deviceID string) (*registry.Device, error)
}

// PlantHandler serves plant CRUD plus the watering shortcut, which enqueues
// a pump command on the plant's linked device.
type PlantHandler struct {
	repo    PlantRepository
	devices DeviceResolver
	store   *commandsapp.Store
}

// NewPlantHandler constructs a handler. store may be nil, disabling watering.
func NewPlantHandler(repo PlantRepository, devices DeviceResolver, store *commandsapp.Store) (*PlantHandler, error) {
	if repo == nil {
		return nil, errors.New("plant handler: nil repository")
	}
	if devices == nil {
		return nil, errors.New("plant handler: nil device resolver")
	}
	return &PlantHandler{repo: repo, devices: devices, store: store}, nil
}

type plantResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Species        string `json:"species,omitempty"`
	DeviceID       string `json:"deviceId,omitempty"`
	DeviceOnline   bool   `json:"deviceOnline"`
	DeviceLastSeen string `json:"deviceLastSeen,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func toPlantResponse(plant registry.Plant) plantResponse {
	resp := plantResponse{
		ID:           plant.ID,
		Name:         plant.Name,
		Species:      plant.Species,
		DeviceID:     plant.DeviceID,
		DeviceOnline: plant.DeviceOnline,
		CreatedAt:    plant.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !plant.DeviceLastSeen.IsZero() {
		resp.DeviceLastSeen = plant.DeviceLastSeen.UTC().Format(time.RFC3339Nano)
	}
	return resp
}

// resolveDeviceKey maps an opaque device id to the internal key, enforcing
// ownership. Empty input means an unlinked plant.
func (h *PlantHandler) resolveDeviceKey(ctx context.Context, userID, deviceID string) (string, error) {
	if deviceID == "" {
		return "", nil
	}
	device, err := h.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if device == nil || device.UserID != userID {
		return "", errors.New("unknown device")
	}
	return device.Key, nil
}

// Create handles POST /api/v1/plants.
func (h *PlantHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req struct {
		Name     string `json:"name"`
		Species  string `json:"species"`
		DeviceID string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	deviceKey, err := h.resolveDeviceKey(r.Context(), userID, strings.TrimSpace(req.DeviceID))
	if err != nil {
		http.Error(w, "unknown device", http.StatusBadRequest)
		return
	}

	plant := &registry.Plant{
		ID:        uuid.NewString(),
		UserID:    userID,
		DeviceKey: deviceKey,
		Name:      req.Name,
		Species:   req.Species,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.Create(r.Context(), plant); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	plant.DeviceID = req.DeviceID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toPlantResponse(*plant))
}

// List handles GET /api/v1/plants.
func (h *PlantHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	plants, err := h.repo.ListByUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	responses := make([]plantResponse, 0, len(plants))
	for _, plant := range plants {
		responses = append(responses, toPlantResponse(plant))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"plants": responses})
}

// Get handles GET /api/v1/plants/{plantID}.
func (h *PlantHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	plantID := chi.URLParam(r, "plantID")

	plant, err := h.repo.GetForUser(r.Context(), userID, plantID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if plant == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toPlantResponse(*plant))
}

// Update handles PUT /api/v1/plants/{plantID}.
func (h *PlantHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	plantID := chi.URLParam(r, "plantID")

	current, err := h.repo.GetForUser(r.Context(), userID, plantID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if current == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var req struct {
		Name     *string `json:"name"`
		Species  *string `json:"species"`
		DeviceID *string `json:"deviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			http.Error(w, "name must not be empty", http.StatusBadRequest)
			return
		}
		current.Name = *req.Name
	}
	if req.Species != nil {
		current.Species = *req.Species
	}
	if req.DeviceID != nil {
		deviceKey, err := h.resolveDeviceKey(r.Context(), userID, strings.TrimSpace(*req.DeviceID))
		if err != nil {
			http.Error(w, "unknown device", http.StatusBadRequest)
			return
		}
		current.DeviceKey = deviceKey
		current.DeviceID = strings.TrimSpace(*req.DeviceID)
	}

	updated, err := h.repo.Update(r.Context(), current)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !updated {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toPlantResponse(*current))
}

// Delete handles DELETE /api/v1/plants/{plantID}.
func (h *PlantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	plantID := chi.URLParam(r, "plantID")

	deleted, err := h.repo.Delete(r.Context(), userID, plantID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Water handles POST /api/v1/plants/{plantID}/water. It enqueues a pump
// command on the linked device; delivery follows the usual command path.
func (h *PlantHandler) Water(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	plantID := chi.URLParam(r, "plantID")

	if h.store == nil {
		http.Error(w, "watering unavailable", http.StatusServiceUnavailable)
		return
	}

	plant, err := h.repo.GetForUser(r.Context(), userID, plantID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if plant == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if plant.DeviceID == "" {
		http.Error(w, "plant has no linked device", http.StatusConflict)
		return
	}

	seconds := defaultWaterSeconds
	var req struct {
		DurationSeconds int `json:"durationSeconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.DurationSeconds > 0 {
		seconds = req.DurationSeconds
	}
	if seconds > maxWaterSeconds {
		seconds = maxWaterSeconds
	}

	cmd, err := h.store.Enqueue(r.Context(), userID, plant.DeviceID, "water_pump", strconv.Itoa(seconds))
	if err != nil {
		respondWaterError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"commandId": cmd.ID,
		"deviceId":  cmd.DeviceID,
		"status":    cmd.Status,
	})
}

func respondWaterError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commandsapp.ErrDeviceNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, commandsapp.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, commands.ErrInvalidCommand):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
