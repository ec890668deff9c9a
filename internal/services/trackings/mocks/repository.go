package mocks

import (
	"context"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/storage/pgtracking"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of trackings.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ApplyShipmentUpdate(ctx context.Context, upd pgtracking.ShipmentUpdate) error {
	args := m.Called(ctx, upd)
	return args.Error(0)
}

func (m *MockRepository) GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error) {
	args := m.Called(ctx, ids)
	var out []*models.Shipment
	if v := args.Get(0); v != nil {
		out = v.([]*models.Shipment)
	}
	return out, args.Error(1)
}

func (m *MockRepository) ListShipments(ctx context.Context, limit, offset int) ([]*models.Shipment, error) {
	args := m.Called(ctx, limit, offset)
	var out []*models.Shipment
	if v := args.Get(0); v != nil {
		out = v.([]*models.Shipment)
	}
	return out, args.Error(1)
}

func (m *MockRepository) DeleteShipment(ctx context.Context, shipmentID string, removedAt time.Time) error {
	args := m.Called(ctx, shipmentID, removedAt)
	return args.Error(0)
}
