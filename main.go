package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"planter-cloud/internal/audit"
	"planter-cloud/internal/auth"
	commandsapp "planter-cloud/internal/commands/application"
	commandsrepo "planter-cloud/internal/commands/infrastructure/postgres"
	commandshttp "planter-cloud/internal/commands/interfaces/http"
	"planter-cloud/internal/config"
	"planter-cloud/internal/dispatch"
	"planter-cloud/internal/fanout"
	"planter-cloud/internal/observability/metrics"
	"planter-cloud/internal/presence"
	registryrepo "planter-cloud/internal/registry/infrastructure/postgres"
	registryhttp "planter-cloud/internal/registry/interfaces/http"
	telemetryapp "planter-cloud/internal/telemetry/application"
	telemetryrepo "planter-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "planter-cloud/internal/telemetry/interfaces/http"
	usersrepo "planter-cloud/internal/users/infrastructure/postgres"
	usershttp "planter-cloud/internal/users/interfaces/http"
	"planter-cloud/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	deviceRepo := registryrepo.NewDeviceRepository(db)
	plantRepo := registryrepo.NewPlantRepository(db)
	userRepo := usersrepo.NewUserRepository(db)
	commandRepo := commandsrepo.NewCommandRepository(db)
	readingRepo := telemetryrepo.NewReadingRepository(db)

	hub := fanout.NewHub(cfg.FanoutBuffer)
	tracker := presence.NewTracker(deviceRepo, hub, logger)
	router := dispatch.NewRouter(tracker, logger)

	commandStore, err := commandsapp.NewStore(commandRepo, deviceRepo, router, hub, logger)
	if err != nil {
		logger.Fatalf("command store error: %v", err)
	}
	telemetryService, err := telemetryapp.NewService(readingRepo, deviceRepo, plantRepo, tracker, hub, logger)
	if err != nil {
		logger.Fatalf("telemetry service error: %v", err)
	}

	commandHandler, err := commandshttp.NewHandler(commandStore, tracker, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}
	telemetryHandler, err := telemetryhttp.NewHandler(telemetryService)
	if err != nil {
		logger.Fatalf("telemetry handler error: %v", err)
	}
	deviceHandler, err := registryhttp.NewDeviceHandler(deviceRepo, commandStore, auditRepo, logger)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}
	plantHandler, err := registryhttp.NewPlantHandler(plantRepo, deviceRepo, commandStore)
	if err != nil {
		logger.Fatalf("plant handler error: %v", err)
	}
	userHandler, err := usershttp.NewHandler(userRepo, []byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		logger.Fatalf("user handler error: %v", err)
	}
	streamHandler := fanout.NewStreamHandler(hub, deviceRepo)
	socketHandler, err := ws.NewHandler(tracker, commandStore, telemetryService, hub, deviceRepo, []byte(cfg.JWTSecret), cfg.AllowedOrigin, logger)
	if err != nil {
		logger.Fatalf("ws handler error: %v", err)
	}

	policy := auth.NewPolicy(
		[]string{"/healthz", "/metrics", "/ws", "/api/v1/auth/register", "/api/v1/auth/login"},
		[]string{"/api/v1/device/"},
	)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(loggingMiddleware(logger))
	r.Use(authMiddleware.Wrap)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", userHandler.Register)
		r.Post("/auth/login", userHandler.Login)
		r.Get("/auth/profile", userHandler.Profile)
		r.Put("/auth/profile", userHandler.UpdateProfile)

		r.Get("/devices", deviceHandler.List)
		r.Post("/devices", deviceHandler.Register)
		r.Get("/devices/{deviceID}", deviceHandler.Get)
		r.Put("/devices/{deviceID}", deviceHandler.Rename)
		r.Delete("/devices/{deviceID}", deviceHandler.Delete)
		r.Post("/devices/{deviceID}/commands", commandHandler.Submit)
		r.Get("/devices/{deviceID}/commands", commandHandler.History)

		r.Get("/plants", plantHandler.List)
		r.Post("/plants", plantHandler.Create)
		r.Get("/plants/{plantID}", plantHandler.Get)
		r.Put("/plants/{plantID}", plantHandler.Update)
		r.Delete("/plants/{plantID}", plantHandler.Delete)
		r.Post("/plants/{plantID}/water", plantHandler.Water)
		r.Get("/plants/{plantID}/readings", telemetryHandler.History)
		r.Get("/plants/{plantID}/readings/latest", telemetryHandler.Latest)
		r.Get("/plants/{plantID}/readings/export", telemetryHandler.Export)

		r.Get("/events/stream", streamHandler.ServeHTTP)

		// Device-facing surface: no bearer auth, exempted by policy prefix.
		r.Get("/device/{deviceID}/commands", commandHandler.ListPending)
		r.Post("/device/commands/{commandID}/outcome", commandHandler.ReportOutcome)
		r.Post("/device/telemetry", telemetryHandler.Ingest)
	})

	r.Handle("/ws", socketHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("http shutdown error: %v", err)
	}
}

func loggingMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(resp, r)
			logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE streaming working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps websocket upgrades working through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return hj.Hijack()
}
