package shipments_api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/services/trackings"
	"github.com/BearBump/KuaidiBox/internal/storage/pgtracking"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type repo struct {
	shipments []*models.Shipment
	err       error

	gotIDs           []string
	gotLimit, gotOff int
}

func (r *repo) ApplyShipmentUpdate(ctx context.Context, upd pgtracking.ShipmentUpdate) error {
	return nil
}

func (r *repo) GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error) {
	r.gotIDs = ids
	if r.err != nil {
		return nil, r.err
	}
	out := []*models.Shipment{}
	for _, sh := range r.shipments {
		for _, id := range ids {
			if sh.ID == id {
				out = append(out, sh)
			}
		}
	}
	return out, nil
}

func (r *repo) ListShipments(ctx context.Context, limit, offset int) ([]*models.Shipment, error) {
	r.gotLimit, r.gotOff = limit, offset
	return r.shipments, r.err
}

func (r *repo) DeleteShipment(ctx context.Context, shipmentID string, removedAt time.Time) error {
	return nil
}

func newServer(t *testing.T, r *repo) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	New(trackings.New(r, nil, 0)).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func fixture() *repo {
	now := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	code := 4
	failed := "network error: http 500"
	return &repo{shipments: []*models.Shipment{
		{
			ID:             "a",
			TrackingNumber: "SF1",
			DisplayName:    "Books",
			StatusCode:     &code,
			Label:          "已签收",
			Delivered:      true,
			Snapshot: &models.TrackingSnapshot{
				StatusCode:  4,
				CarrierName: "顺丰速运",
				Events: []models.TrackingEvent{
					{Time: "2025-05-01 07:00:00", Location: "北京", Content: "【如有问题请拨打速递官方客服956160，高效响应，快速解决】已签收"},
				},
			},
			LastFetchedAt: &now,
			LastCheckedAt: now,
		},
		{
			ID:             "b",
			TrackingNumber: "YT2",
			LastCheckedAt:  now,
			CheckFailCount: 2,
			LastError:      &failed,
		},
	}}
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestShipmentsAPI_Get(t *testing.T) {
	srv := newServer(t, fixture())

	var v ShipmentView
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/shipments/a", &v))
	require.Equal(t, "已签收", v.State)
	require.Equal(t, "Books", v.Name)
	require.Equal(t, "a_SF1", v.UniqueID)
	require.True(t, v.Available)
	require.NotNil(t, v.Attributes)
	require.True(t, v.Attributes.Delivered)
	require.Equal(t, "已签收", v.Attributes.LatestEvent)
	require.Equal(t, 1, v.Attributes.EventCount)

	var failed ShipmentView
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/shipments/b", &failed))
	require.Equal(t, "未知", failed.State)
	require.Nil(t, failed.Attributes)
	require.Equal(t, int32(2), failed.CheckFailCount)
	require.Equal(t, "network error: http 500", failed.LastError)

	var e map[string]string
	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/shipments/missing", &e))
	require.Equal(t, "shipment not found", e["error"])
}

func TestShipmentsAPI_List(t *testing.T) {
	r := fixture()
	srv := newServer(t, r)

	var out struct {
		Shipments []ShipmentView `json:"shipments"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/shipments?limit=5&offset=1", &out))
	require.Len(t, out.Shipments, 2)
	require.Equal(t, 5, r.gotLimit)
	require.Equal(t, 1, r.gotOff)

	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/shipments?ids=b,%20a,", &out))
	require.Equal(t, []string{"b", "a"}, r.gotIDs)
	require.Len(t, out.Shipments, 2)
	require.Equal(t, "b", out.Shipments[0].ID)

	var e map[string]string
	require.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/shipments?limit=x", &e))
}

func TestShipmentsAPI_RepoError(t *testing.T) {
	r := fixture()
	r.err = errors.New("pg down")
	srv := newServer(t, r)

	var e map[string]string
	require.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/shipments", &e))
	require.Equal(t, "pg down", e["error"])
	require.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/shipments/a", &e))
}
