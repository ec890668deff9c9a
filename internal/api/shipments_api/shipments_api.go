package shipments_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/services/projection"
	"github.com/go-chi/chi/v5"
)

type ShipmentReader interface {
	GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error)
	ListShipments(ctx context.Context, limit, offset int) ([]*models.Shipment, error)
}

// ShipmentView is a rendered sensor plus the read model's polling health.
type ShipmentView struct {
	projection.Sensor
	LastCheckedAt  time.Time `json:"last_checked_at"`
	CheckFailCount int32     `json:"check_fail_count"`
	LastError      string    `json:"last_error,omitempty"`
}

type ShipmentsAPI struct {
	svc ShipmentReader
}

func New(svc ShipmentReader) *ShipmentsAPI {
	return &ShipmentsAPI{svc: svc}
}

func (a *ShipmentsAPI) Routes(r chi.Router) {
	r.Get("/shipments", a.listShipments)
	r.Get("/shipments/{id}", a.getShipment)
}

func (a *ShipmentsAPI) listShipments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		out []*models.Shipment
		err error
	)
	if raw := q.Get("ids"); raw != "" {
		out, err = a.svc.GetShipmentsByIDs(r.Context(), splitIDs(raw))
	} else {
		limit, lerr := intParam(q.Get("limit"), 100)
		offset, oerr := intParam(q.Get("offset"), 0)
		if lerr != nil || oerr != nil {
			WriteError(w, http.StatusBadRequest, "limit and offset must be integers")
			return
		}
		out, err = a.svc.ListShipments(r.Context(), limit, offset)
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]ShipmentView, 0, len(out))
	for _, sh := range out {
		views = append(views, View(sh))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"shipments": views})
}

func (a *ShipmentsAPI) getShipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := a.svc.GetShipmentsByIDs(r.Context(), []string{id})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(out) == 0 {
		WriteError(w, http.StatusNotFound, "shipment not found")
		return
	}
	WriteJSON(w, http.StatusOK, View(out[0]))
}

func View(sh *models.Shipment) ShipmentView {
	v := ShipmentView{
		Sensor:         projection.Render(sh.ID, sh.Query(), sh.State()),
		LastCheckedAt:  sh.LastCheckedAt,
		CheckFailCount: sh.CheckFailCount,
	}
	if sh.LastError != nil {
		v.LastError = *sh.LastError
	}
	return v
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
