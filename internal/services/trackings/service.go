package trackings

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/KuaidiBox/internal/broker/messages"
	"github.com/BearBump/KuaidiBox/internal/cache"
	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/storage/pgtracking"
	"github.com/pkg/errors"
)

const maxIDsPerRequest = 1000

// ErrInvalidUpdate marks a message that can never be applied.
var ErrInvalidUpdate = errors.New("invalid shipment update")

type Repository interface {
	ApplyShipmentUpdate(ctx context.Context, upd pgtracking.ShipmentUpdate) error
	GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error)
	ListShipments(ctx context.Context, limit, offset int) ([]*models.Shipment, error)
	DeleteShipment(ctx context.Context, shipmentID string, removedAt time.Time) error
}

// Service is the read side: it folds worker updates into the read model and
// serves shipments with a best-effort cache in front of Postgres.
type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
	now        func() time.Time
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL, now: time.Now}
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.currentTTL > 0
}

func (s *Service) GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}
	if len(ids) > maxIDsPerRequest {
		return nil, errors.Errorf("too many ids (max %d)", maxIDsPerRequest)
	}

	got := make(map[string]*models.Shipment, len(ids))
	miss := make([]string, 0, len(ids))

	if s.cacheEnabled() {
		for _, id := range ids {
			b, ok, err := s.cache.Get(ctx, currentKey(id))
			if err != nil || !ok {
				miss = append(miss, id)
				continue
			}
			var sh models.Shipment
			if json.Unmarshal(b, &sh) != nil {
				miss = append(miss, id)
				continue
			}
			got[id] = &sh
		}
	} else {
		miss = ids
	}

	if len(miss) > 0 {
		fromDB, err := s.repo.GetShipmentsByIDs(ctx, miss)
		if err != nil {
			return nil, err
		}
		for _, sh := range fromDB {
			got[sh.ID] = sh
			s.store(ctx, sh)
		}
	}

	// Собираем ответ в том же порядке, что ids; неизвестные id пропускаем.
	out := make([]*models.Shipment, 0, len(ids))
	for _, id := range ids {
		if sh, ok := got[id]; ok {
			out = append(out, sh)
		}
	}
	return out, nil
}

func (s *Service) ListShipments(ctx context.Context, limit, offset int) ([]*models.Shipment, error) {
	return s.repo.ListShipments(ctx, limit, offset)
}

// ApplyUpdate folds one worker message into the read model and refreshes the
// cached copy of the shipment.
func (s *Service) ApplyUpdate(ctx context.Context, msg messages.ShipmentUpdated) error {
	if msg.ShipmentID == "" {
		return errors.Wrap(ErrInvalidUpdate, "shipment_id is required")
	}
	if msg.TrackingNumber == "" {
		return errors.Wrap(ErrInvalidUpdate, "tracking_number is required")
	}
	if msg.CheckedAt.IsZero() {
		msg.CheckedAt = s.now().UTC()
	}
	if msg.Removed {
		return s.remove(ctx, msg)
	}
	failed := msg.Error != nil && *msg.Error != ""
	if !failed && msg.Snapshot == nil {
		return errors.Wrap(ErrInvalidUpdate, "snapshot is required when error is empty")
	}
	if msg.PollIntervalHours == 0 {
		msg.PollIntervalHours = models.DefaultPollIntervalHours
	}
	if msg.DisplayName == "" {
		msg.DisplayName = msg.TrackingNumber
	}

	err := s.repo.ApplyShipmentUpdate(ctx, pgtracking.ShipmentUpdate{
		ShipmentID:        msg.ShipmentID,
		TrackingNumber:    msg.TrackingNumber,
		DisplayName:       msg.DisplayName,
		PollIntervalHours: msg.PollIntervalHours,
		CheckedAt:         msg.CheckedAt,
		Label:             msg.Label,
		Delivered:         msg.Delivered,
		Snapshot:          msg.Snapshot,
		Error:             msg.Error,
	})
	if err != nil {
		return err
	}

	if s.cacheEnabled() {
		ts, err := s.repo.GetShipmentsByIDs(ctx, []string{msg.ShipmentID})
		if err != nil || len(ts) != 1 {
			_ = s.cache.Del(ctx, currentKey(msg.ShipmentID))
			return nil
		}
		s.store(ctx, ts[0])
	}
	return nil
}

func (s *Service) remove(ctx context.Context, msg messages.ShipmentUpdated) error {
	if err := s.repo.DeleteShipment(ctx, msg.ShipmentID, msg.CheckedAt); err != nil {
		return err
	}
	if s.cacheEnabled() {
		_ = s.cache.Del(ctx, currentKey(msg.ShipmentID))
	}
	return nil
}

func (s *Service) store(ctx context.Context, sh *models.Shipment) {
	if !s.cacheEnabled() {
		return
	}
	b, err := json.Marshal(sh)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(sh.ID), b, s.currentTTL)
}

func currentKey(id string) string {
	return "shipment:" + id + ":current"
}
