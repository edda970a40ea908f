package http

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"planter-cloud/internal/auth"
	commandsapp "planter-cloud/internal/commands/application"
	commands "planter-cloud/internal/commands/domain"
	registry "planter-cloud/internal/registry/domain"
)

type memoryDevices struct {
	mu      sync.Mutex
	devices map[string]*registry.Device
}

func newMemoryDevices() *memoryDevices {
	return &memoryDevices{devices: make(map[string]*registry.Device)}
}

func (r *memoryDevices) Create(_ context.Context, device *registry.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *device
	r.devices[device.DeviceID] = &clone
	return nil
}

func (r *memoryDevices) GetByDeviceID(_ context.Context, deviceID string) (*registry.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return nil, nil
	}
	clone := *device
	return &clone, nil
}

func (r *memoryDevices) ListByUser(_ context.Context, userID string) ([]registry.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []registry.Device
	for _, device := range r.devices {
		if device.UserID == userID {
			out = append(out, *device)
		}
	}
	return out, nil
}

func (r *memoryDevices) Rename(_ context.Context, userID, deviceID, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok || device.UserID != userID {
		return false, nil
	}
	device.Name = name
	return true, nil
}

func (r *memoryDevices) Delete(_ context.Context, userID, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok || device.UserID != userID {
		return false, nil
	}
	delete(r.devices, deviceID)
	return true, nil
}

type recordingPurger struct {
	mu     sync.Mutex
	purged []string
}

func (p *recordingPurger) PurgeForDevice(_ context.Context, deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purged = append(p.purged, deviceID)
	return nil
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithUserID(req.Context(), userID))
}

func deviceRouter(t *testing.T, repo DeviceRepository, purger CommandPurger) chi.Router {
	t.Helper()
	handler, err := NewDeviceHandler(repo, purger, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new device handler: %v", err)
	}
	r := chi.NewRouter()
	r.Post("/api/v1/devices", handler.Register)
	r.Get("/api/v1/devices", handler.List)
	r.Get("/api/v1/devices/{deviceID}", handler.Get)
	r.Put("/api/v1/devices/{deviceID}", handler.Rename)
	r.Delete("/api/v1/devices/{deviceID}", handler.Delete)
	return r
}

func TestDeviceRegister(t *testing.T) {
	repo := newMemoryDevices()
	router := deviceRouter(t, repo, nil)

	body := `{"deviceId":"planter-001","name":"Balcony"}`
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(body)), "user-1"))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	device, _ := repo.GetByDeviceID(context.Background(), "planter-001")
	if device == nil || device.UserID != "user-1" {
		t.Fatalf("expected stored device for user-1, got %+v", device)
	}
	if device.Key == "" {
		t.Fatal("expected an internal key to be assigned")
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(body)), "user-2"))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", resp.Code)
	}
}

func TestDeviceDeletePurgesBacklog(t *testing.T) {
	repo := newMemoryDevices()
	purger := &recordingPurger{}
	router := deviceRouter(t, repo, purger)

	_ = repo.Create(context.Background(), &registry.Device{Key: "k1", DeviceID: "planter-001", UserID: "user-1", Name: "Balcony", CreatedAt: time.Now()})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/devices/planter-001", nil), "user-1"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if len(purger.purged) != 1 || purger.purged[0] != "planter-001" {
		t.Fatalf("expected backlog purge for planter-001, got %v", purger.purged)
	}
	if device, _ := repo.GetByDeviceID(context.Background(), "planter-001"); device != nil {
		t.Fatal("expected device to be gone")
	}
}

func TestDeviceDeleteByStrangerDoesNotPurge(t *testing.T) {
	repo := newMemoryDevices()
	purger := &recordingPurger{}
	router := deviceRouter(t, repo, purger)

	_ = repo.Create(context.Background(), &registry.Device{Key: "k1", DeviceID: "planter-001", UserID: "user-1", CreatedAt: time.Now()})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodDelete, "/api/v1/devices/planter-001", nil), "user-2"))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if len(purger.purged) != 0 {
		t.Fatalf("expected no purge, got %v", purger.purged)
	}
	if device, _ := repo.GetByDeviceID(context.Background(), "planter-001"); device == nil {
		t.Fatal("expected device to survive")
	}
}

type memoryPlants struct {
	mu     sync.Mutex
	plants map[string]*registry.Plant
}

func newMemoryPlants() *memoryPlants {
	return &memoryPlants{plants: make(map[string]*registry.Plant)}
}

func (r *memoryPlants) Create(_ context.Context, plant *registry.Plant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *plant
	r.plants[plant.ID] = &clone
	return nil
}

func (r *memoryPlants) ListByUser(_ context.Context, userID string) ([]registry.Plant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []registry.Plant
	for _, plant := range r.plants {
		if plant.UserID == userID {
			out = append(out, *plant)
		}
	}
	return out, nil
}

func (r *memoryPlants) GetForUser(_ context.Context, userID, plantID string) (*registry.Plant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plant, ok := r.plants[plantID]
	if !ok || plant.UserID != userID {
		return nil, nil
	}
	clone := *plant
	return &clone, nil
}

func (r *memoryPlants) Update(_ context.Context, plant *registry.Plant) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plants[plant.ID]; !ok {
		return false, nil
	}
	clone := *plant
	r.plants[plant.ID] = &clone
	return true, nil
}

func (r *memoryPlants) Delete(_ context.Context, userID, plantID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	plant, ok := r.plants[plantID]
	if !ok || plant.UserID != userID {
		return false, nil
	}
	delete(r.plants, plantID)
	return true, nil
}

type memoryCommands struct {
	mu   sync.Mutex
	cmds []commands.Command
}

func (r *memoryCommands) Create(_ context.Context, cmd *commands.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, *cmd)
	return nil
}

func (r *memoryCommands) GetByID(_ context.Context, id string) (*commands.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.cmds {
		if r.cmds[i].ID == id {
			clone := r.cmds[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (r *memoryCommands) ListPending(_ context.Context, deviceID string) ([]commands.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []commands.Command
	for _, cmd := range r.cmds {
		if cmd.DeviceID == deviceID && cmd.Status == commands.StatusPending {
			out = append(out, cmd)
		}
	}
	return out, nil
}

func (r *memoryCommands) MarkOutcome(_ context.Context, id, status string, executedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.cmds {
		if r.cmds[i].ID == id && r.cmds[i].Status == commands.StatusPending {
			r.cmds[i].Status = status
			r.cmds[i].ExecutedAt = executedAt
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryCommands) ListHistory(_ context.Context, deviceID string, limit int) ([]commands.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []commands.Command
	for _, cmd := range r.cmds {
		if cmd.DeviceID == deviceID {
			out = append(out, cmd)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryCommands) DeleteByDevice(_ context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.cmds[:0]
	for _, cmd := range r.cmds {
		if cmd.DeviceID != deviceID {
			kept = append(kept, cmd)
		}
	}
	r.cmds = kept
	return nil
}

type ownerDirectory struct {
	owners map[string]string
}

func (d ownerDirectory) Exists(_ context.Context, deviceID string) (bool, error) {
	_, ok := d.owners[deviceID]
	return ok, nil
}

func (d ownerDirectory) Owns(_ context.Context, userID, deviceID string) (bool, error) {
	return d.owners[deviceID] == userID, nil
}

func plantRouter(t *testing.T, plants PlantRepository, devices DeviceResolver, store *commandsapp.Store) chi.Router {
	t.Helper()
	handler, err := NewPlantHandler(plants, devices, store)
	if err != nil {
		t.Fatalf("new plant handler: %v", err)
	}
	r := chi.NewRouter()
	r.Post("/api/v1/plants", handler.Create)
	r.Post("/api/v1/plants/{plantID}/water", handler.Water)
	return r
}

func TestPlantWater(t *testing.T) {
	plants := newMemoryPlants()
	devices := newMemoryDevices()
	cmdRepo := &memoryCommands{}
	store, err := commandsapp.NewStore(cmdRepo, ownerDirectory{owners: map[string]string{"planter-001": "user-1"}}, nil, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	router := plantRouter(t, plants, devices, store)

	_ = plants.Create(context.Background(), &registry.Plant{
		ID: "plant-1", UserID: "user-1", DeviceKey: "k1", DeviceID: "planter-001",
		Name: "Basil", CreatedAt: time.Now(),
	})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/plants/plant-1/water", strings.NewReader(`{"durationSeconds":120}`)), "user-1"))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var watered struct {
		CommandID string `json:"commandId"`
		DeviceID  string `json:"deviceId"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &watered); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if watered.DeviceID != "planter-001" || watered.Status != commands.StatusPending {
		t.Fatalf("unexpected response: %+v", watered)
	}

	pending, _ := cmdRepo.ListPending(context.Background(), "planter-001")
	if len(pending) != 1 {
		t.Fatalf("expected one pending command, got %d", len(pending))
	}
	if pending[0].Type != "water_pump" {
		t.Fatalf("expected water_pump, got %q", pending[0].Type)
	}
	if pending[0].Value != "60" {
		t.Fatalf("expected duration clamped to 60, got %q", pending[0].Value)
	}
}

func TestPlantWaterNoLinkedDevice(t *testing.T) {
	plants := newMemoryPlants()
	devices := newMemoryDevices()
	store, err := commandsapp.NewStore(&memoryCommands{}, ownerDirectory{owners: map[string]string{}}, nil, nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	router := plantRouter(t, plants, devices, store)

	_ = plants.Create(context.Background(), &registry.Plant{ID: "plant-1", UserID: "user-1", Name: "Basil", CreatedAt: time.Now()})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/plants/plant-1/water", strings.NewReader(`{}`)), "user-1"))
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestPlantCreateRejectsUnownedDevice(t *testing.T) {
	plants := newMemoryPlants()
	devices := newMemoryDevices()
	_ = devices.Create(context.Background(), &registry.Device{Key: "k1", DeviceID: "planter-001", UserID: "user-2", CreatedAt: time.Now()})
	router := plantRouter(t, plants, devices, nil)

	body := `{"name":"Basil","deviceId":"planter-001"}`
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/plants", strings.NewReader(body)), "user-1"))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
