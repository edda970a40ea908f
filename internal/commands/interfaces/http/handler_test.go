package http

import (
	"context"
	"encoding/json"
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
)

type memoryRepo struct {
	mu    sync.Mutex
	byID  map[string]*commands.Command
	order []string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: make(map[string]*commands.Command)}
}

func (r *memoryRepo) Create(_ context.Context, cmd *commands.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *cmd
	r.byID[cmd.ID] = &clone
	r.order = append(r.order, cmd.ID)
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*commands.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	clone := *cmd
	return &clone, nil
}

func (r *memoryRepo) ListPending(_ context.Context, deviceID string) ([]commands.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []commands.Command
	for _, id := range r.order {
		cmd := r.byID[id]
		if cmd.DeviceID == deviceID && cmd.Status == commands.StatusPending {
			list = append(list, *cmd)
		}
	}
	return list, nil
}

func (r *memoryRepo) MarkOutcome(_ context.Context, id, status string, executedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.byID[id]
	if !ok || cmd.Status != commands.StatusPending {
		return false, nil
	}
	cmd.Status = status
	cmd.ExecutedAt = executedAt
	return true, nil
}

func (r *memoryRepo) ListHistory(_ context.Context, deviceID string, limit int) ([]commands.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []commands.Command
	for i := len(r.order) - 1; i >= 0 && len(list) < limit; i-- {
		cmd := r.byID[r.order[i]]
		if cmd.DeviceID == deviceID {
			list = append(list, *cmd)
		}
	}
	return list, nil
}

func (r *memoryRepo) DeleteByDevice(_ context.Context, _ string) error { return nil }

type memoryDirectory struct {
	devices map[string]string
}

func (d *memoryDirectory) Exists(_ context.Context, deviceID string) (bool, error) {
	_, ok := d.devices[deviceID]
	return ok, nil
}

func (d *memoryDirectory) Owns(_ context.Context, userID, deviceID string) (bool, error) {
	owner, ok := d.devices[deviceID]
	return ok && owner == userID, nil
}

type countingToucher struct {
	mu      sync.Mutex
	touched []string
}

func (c *countingToucher) Touch(_ context.Context, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = append(c.touched, deviceID)
}

func newTestRouter(t *testing.T) (chi.Router, *memoryRepo, *countingToucher) {
	t.Helper()
	repo := newMemoryRepo()
	dir := &memoryDirectory{devices: map[string]string{"dev-1": "user-1"}}
	store, err := commandsapp.NewStore(repo, dir, nil, nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	toucher := &countingToucher{}
	handler, err := NewHandler(store, toucher, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	r := chi.NewRouter()
	r.Post("/api/v1/devices/{deviceID}/commands", handler.Submit)
	r.Get("/api/v1/devices/{deviceID}/commands", handler.History)
	r.Get("/api/v1/device/{deviceID}/commands", handler.ListPending)
	r.Post("/api/v1/device/commands/{commandID}/outcome", handler.ReportOutcome)
	return r, repo, toucher
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithUserID(req.Context(), userID))
}

func TestSubmitCommand(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := strings.NewReader(`{"commandType":"water_pump","commandValue":"5"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/dev-1/commands", body), "user-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var got commandResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != commands.StatusPending || got.CommandType != "water_pump" {
		t.Fatalf("unexpected response %+v", got)
	}
}

func TestSubmitCommandForeignDevice(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := strings.NewReader(`{"commandType":"restart"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/dev-1/commands", body), "user-2")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestSubmitCommandUnknownDevice(t *testing.T) {
	router, _, _ := newTestRouter(t)

	body := strings.NewReader(`{"commandType":"restart"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/ghost/commands", body), "user-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPollTouchesPresenceAndKeepsPending(t *testing.T) {
	router, _, toucher := newTestRouter(t)

	body := strings.NewReader(`{"commandType":"restart"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/dev-1/commands", body), "user-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	for i := 0; i < 2; i++ {
		pollReq := httptest.NewRequest(http.MethodGet, "/api/v1/device/dev-1/commands", nil)
		pollResp := httptest.NewRecorder()
		router.ServeHTTP(pollResp, pollReq)
		if pollResp.Code != http.StatusOK {
			t.Fatalf("poll %d: expected 200, got %d", i, pollResp.Code)
		}
		var got struct {
			Commands []commandResponse `json:"commands"`
		}
		if err := json.Unmarshal(pollResp.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(got.Commands) != 1 {
			t.Fatalf("poll %d: expected 1 pending command, got %d", i, len(got.Commands))
		}
	}
	if len(toucher.touched) != 2 {
		t.Fatalf("expected 2 presence touches, got %d", len(toucher.touched))
	}
}

func TestReportOutcomeAndDuplicate(t *testing.T) {
	router, repo, _ := newTestRouter(t)

	body := strings.NewReader(`{"commandType":"restart"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/dev-1/commands", body), "user-1")
	created := httptest.NewRecorder()
	router.ServeHTTP(created, req)
	var cmd commandResponse
	if err := json.Unmarshal(created.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}

	outcome := `{"deviceId":"dev-1","outcome":"executed"}`
	for i := 0; i < 2; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost,
			"/api/v1/device/commands/"+cmd.ID+"/outcome", strings.NewReader(outcome)))
		if resp.Code != http.StatusOK {
			t.Fatalf("report %d: expected 200, got %d", i, resp.Code)
		}
	}

	stored, _ := repo.GetByID(context.Background(), cmd.ID)
	if stored.Status != commands.StatusExecuted {
		t.Fatalf("expected executed, got %s", stored.Status)
	}
}

func TestReportOutcomeWrongDevice(t *testing.T) {
	router, repo, _ := newTestRouter(t)

	body := strings.NewReader(`{"commandType":"restart"}`)
	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/dev-1/commands", body), "user-1")
	created := httptest.NewRecorder()
	router.ServeHTTP(created, req)
	var cmd commandResponse
	if err := json.Unmarshal(created.Body.Bytes(), &cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost,
		"/api/v1/device/commands/"+cmd.ID+"/outcome",
		strings.NewReader(`{"deviceId":"dev-2","outcome":"executed"}`)))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a foreign device, got %d", resp.Code)
	}
	stored, _ := repo.GetByID(context.Background(), cmd.ID)
	if stored.Status != commands.StatusPending {
		t.Fatalf("foreign report must not resolve the command, got %s", stored.Status)
	}
}

func TestPollUnknownDeviceDoesNotTouchPresence(t *testing.T) {
	router, _, toucher := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/device/ghost/commands", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if len(toucher.touched) != 0 {
		t.Fatalf("unknown device poll must not touch presence, got %v", toucher.touched)
	}
}

func TestReportOutcomeUnknownCommand(t *testing.T) {
	router, _, _ := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost,
		"/api/v1/device/commands/ghost/outcome", strings.NewReader(`{"outcome":"executed"}`)))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestReportOutcomeInvalidValue(t *testing.T) {
	router, _, _ := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost,
		"/api/v1/device/commands/any/outcome", strings.NewReader(`{"outcome":"done"}`)))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHistory(t *testing.T) {
	router, _, _ := newTestRouter(t)

	for _, cmdType := range []string{"restart", "water_pump"} {
		body := strings.NewReader(`{"commandType":"` + cmdType + `"}`)
		req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/devices/dev-1/commands", body), "user-1")
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/devices/dev-1/commands", nil), "user-1")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got struct {
		Commands []commandResponse `json:"commands"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(got.Commands))
	}
	if got.Commands[0].CommandType != "water_pump" {
		t.Fatalf("expected newest first, got %+v", got.Commands)
	}
}
