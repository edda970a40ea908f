package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"planter-cloud/internal/auth"
	"planter-cloud/internal/telemetry/application"
	telemetry "planter-cloud/internal/telemetry/domain"
)

// Handler serves sensor reading endpoints: device-side ingest plus
// client-side latest, history and history export.
type Handler struct {
	service *application.Service
}

// NewHandler constructs a telemetry handler.
func NewHandler(service *application.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("telemetry handler: nil service")
	}
	return &Handler{service: service}, nil
}

// Ingest handles POST /api/v1/device/telemetry.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req application.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	reading, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(reading)
}

// Latest handles GET /api/v1/plants/{plantID}/readings/latest.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	plantID := chi.URLParam(r, "plantID")
	userID := auth.UserIDFromContext(r.Context())

	reading, err := h.service.Latest(r.Context(), userID, plantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if reading == nil {
		_ = json.NewEncoder(w).Encode(map[string]any{"reading": nil})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"reading": reading})
}

// History handles GET /api/v1/plants/{plantID}/readings.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	plantID := chi.URLParam(r, "plantID")
	userID := auth.UserIDFromContext(r.Context())

	from, to, limit, err := historyQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := h.service.History(r.Context(), userID, plantID, from, to, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if readings == nil {
		readings = []telemetry.Reading{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"readings": readings})
}

// Export handles GET /api/v1/plants/{plantID}/readings/export?format=xlsx|pdf.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	plantID := chi.URLParam(r, "plantID")
	userID := auth.UserIDFromContext(r.Context())

	from, to, limit, err := historyQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	readings, err := h.service.History(r.Context(), userID, plantID, from, to, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "pdf":
		data, err := BuildReadingsPDF(plantID, from, to, readings)
		if err != nil {
			http.Error(w, "export pdf error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case "", "xlsx":
		data, err := BuildReadingsXLSX(plantID, from, to, readings)
		if err != nil {
			http.Error(w, "export xlsx error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		http.Error(w, "format must be xlsx or pdf", http.StatusBadRequest)
	}
}

func historyQuery(r *http.Request) (from, to time.Time, limit int, err error) {
	query := r.URL.Query()
	if value := query.Get("from"); value != "" {
		from, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return from, to, 0, errors.New("from must be RFC3339")
		}
	}
	if value := query.Get("to"); value != "" {
		to, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return from, to, 0, errors.New("to must be RFC3339")
		}
	}
	if value := query.Get("limit"); value != "" {
		limit, err = strconv.Atoi(value)
		if err != nil || limit < 0 {
			return from, to, 0, errors.New("limit must be a non-negative integer")
		}
	}
	return from, to, limit, nil
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrDeviceNotFound), errors.Is(err, application.ErrPlantNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, telemetry.ErrEmptyReading):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}
