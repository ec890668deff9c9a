package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/KuaidiBox/config"
	shipmentsapi "github.com/BearBump/KuaidiBox/internal/api/shipments_api"
	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/services/poller"
	"github.com/BearBump/KuaidiBox/internal/services/projection"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type shipmentRegistry interface {
	Register(ctx context.Context, q models.TrackingQuery) (string, error)
	Unregister(id string) error
	Sensor(id string) (projection.Sensor, bool)
	Sensors() []projection.Sensor
	Trigger(id string) error
	Stats() poller.Stats
}

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	registry      shipmentRegistry
	cfg           *config.Config
	ready         func() bool
	defaultAPIKey string
}

type registerRequest struct {
	TrackingNumber    string `json:"tracking_number"`
	DisplayName       string `json:"display_name"`
	PollIntervalHours int    `json:"poll_interval_hours"`
	APIKey            string `json:"api_key"`
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8081"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{
		Handler:           newWorkerRouter(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("worker HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newWorkerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		shipmentsapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.ready != nil && !opts.ready() {
			shipmentsapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
			return
		}
		shipmentsapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		shipmentsapi.WriteJSON(w, http.StatusOK, opts.registry.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			shipmentsapi.WriteError(w, http.StatusServiceUnavailable, "config not wired")
			return
		}
		// ключи API наружу не отдаём
		shipmentsapi.WriteJSON(w, http.StatusOK, map[string]any{
			"tianapiBaseUrl":              opts.cfg.Tianapi.BaseURL,
			"tianapiMode":                 opts.cfg.Tianapi.Mode,
			"tianapiTimeoutSeconds":       opts.cfg.Tianapi.TimeoutSeconds,
			"rateLimitPerMinute":          opts.cfg.Tianapi.RateLimitPerMinute,
			"topic":                       opts.cfg.Kafka.ShipmentUpdatedTopicName,
			"configuredShipments":         len(opts.cfg.Shipments),
			"pollIntervalOverrideSeconds": opts.cfg.KuaidiBox.PollIntervalOverrideSeconds,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if err := opts.registry.Trigger(r.URL.Query().Get("id")); err != nil {
			writeRegistryError(w, err)
			return
		}
		shipmentsapi.WriteJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	r.Get("/shipments", func(w http.ResponseWriter, r *http.Request) {
		shipmentsapi.WriteJSON(w, http.StatusOK, map[string]any{"shipments": opts.registry.Sensors()})
	})

	r.Post("/shipments", func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			shipmentsapi.WriteError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if req.APIKey == "" {
			req.APIKey = opts.defaultAPIKey
		}
		id, err := opts.registry.Register(r.Context(), models.TrackingQuery{
			APIKey:            req.APIKey,
			TrackingNumber:    req.TrackingNumber,
			DisplayName:       req.DisplayName,
			PollIntervalHours: req.PollIntervalHours,
		})
		if err != nil {
			writeRegistryError(w, err)
			return
		}
		sensor, _ := opts.registry.Sensor(id)
		shipmentsapi.WriteJSON(w, http.StatusCreated, sensor)
	})

	r.Get("/shipments/{id}", func(w http.ResponseWriter, r *http.Request) {
		sensor, ok := opts.registry.Sensor(chi.URLParam(r, "id"))
		if !ok {
			writeRegistryError(w, models.ErrNotFound)
			return
		}
		shipmentsapi.WriteJSON(w, http.StatusOK, sensor)
	})

	r.Delete("/shipments/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := opts.registry.Unregister(chi.URLParam(r, "id")); err != nil {
			writeRegistryError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrAlreadyConfigured):
		shipmentsapi.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidQuery):
		shipmentsapi.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		shipmentsapi.WriteError(w, http.StatusNotFound, "shipment not found")
	default:
		shipmentsapi.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
