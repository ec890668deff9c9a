package pgtracking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type ShipmentUpdate struct {
	ShipmentID        string
	TrackingNumber    string
	DisplayName       string
	PollIntervalHours int

	CheckedAt time.Time

	Label     string
	Delivered bool
	Snapshot  *models.TrackingSnapshot

	Error *string
}

const shipmentColumns = `
  id, tracking_number, display_name, poll_interval_hours,
  status_code, label, delivered, snapshot,
  last_fetched_at, last_checked_at,
  check_fail_count, last_error,
  created_at, updated_at`

// ApplyShipmentUpdate upserts the row for upd.ShipmentID. A failed check only
// touches the error columns. Updates older than the stored check are ignored,
// and delivered never goes back to false.
func (s *Storage) ApplyShipmentUpdate(ctx context.Context, upd ShipmentUpdate) error {
	checkedAt := upd.CheckedAt.UTC()

	if upd.Error != nil && *upd.Error != "" {
		_, err := s.db.Exec(ctx, `
INSERT INTO shipments (
  id, tracking_number, display_name, poll_interval_hours,
  delivered, last_checked_at, check_fail_count, last_error, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,1,$7,now(),now())
ON CONFLICT (id) DO UPDATE SET
  display_name = EXCLUDED.display_name,
  poll_interval_hours = EXCLUDED.poll_interval_hours,
  last_checked_at = EXCLUDED.last_checked_at,
  check_fail_count = shipments.check_fail_count + 1,
  last_error = EXCLUDED.last_error,
  updated_at = now()
WHERE shipments.last_checked_at <= EXCLUDED.last_checked_at
`, upd.ShipmentID, upd.TrackingNumber, upd.DisplayName, upd.PollIntervalHours,
			upd.Delivered, checkedAt, *upd.Error)
		if err != nil {
			return errors.Wrap(err, "upsert shipment (error)")
		}
		return nil
	}

	if upd.Snapshot == nil {
		return errors.New("snapshot is required for a successful update")
	}
	b, err := json.Marshal(upd.Snapshot)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO shipments (
  id, tracking_number, display_name, poll_interval_hours,
  status_code, label, delivered, snapshot,
  last_fetched_at, last_checked_at, check_fail_count, last_error,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9,0,NULL,now(),now())
ON CONFLICT (id) DO UPDATE SET
  display_name = EXCLUDED.display_name,
  poll_interval_hours = EXCLUDED.poll_interval_hours,
  status_code = EXCLUDED.status_code,
  label = EXCLUDED.label,
  delivered = shipments.delivered OR EXCLUDED.delivered,
  snapshot = EXCLUDED.snapshot,
  last_fetched_at = EXCLUDED.last_fetched_at,
  last_checked_at = EXCLUDED.last_checked_at,
  check_fail_count = 0,
  last_error = NULL,
  updated_at = now()
WHERE shipments.last_checked_at <= EXCLUDED.last_checked_at
`, upd.ShipmentID, upd.TrackingNumber, upd.DisplayName, upd.PollIntervalHours,
		upd.Snapshot.StatusCode, upd.Label, upd.Delivered, string(b), checkedAt)
	if err != nil {
		return errors.Wrap(err, "upsert shipment (ok)")
	}
	return nil
}

// DeleteShipment удаляет строку, если она не новее removedAt: старое
// сообщение об удалении не должно стереть повторно добавленный трек.
func (s *Storage) DeleteShipment(ctx context.Context, shipmentID string, removedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
DELETE FROM shipments
WHERE id = $1 AND last_checked_at <= $2
`, shipmentID, removedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "delete shipment")
	}
	return nil
}

func (s *Storage) GetShipmentsByIDs(ctx context.Context, ids []string) ([]*models.Shipment, error) {
	if len(ids) == 0 {
		return []*models.Shipment{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT`+shipmentColumns+`
FROM shipments
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "select shipments")
	}
	return collectShipments(rows)
}

func (s *Storage) ListShipments(ctx context.Context, limit, offset int) ([]*models.Shipment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `SELECT`+shipmentColumns+`
FROM shipments
ORDER BY display_name, id
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list shipments")
	}
	return collectShipments(rows)
}

// LoadState returns the coordinator state persisted for shipmentID, if any.
func (s *Storage) LoadState(ctx context.Context, shipmentID string) (models.CoordinatorState, bool, error) {
	ts, err := s.GetShipmentsByIDs(ctx, []string{shipmentID})
	if err != nil {
		return models.CoordinatorState{}, false, err
	}
	if len(ts) == 0 {
		return models.CoordinatorState{}, false, nil
	}
	return ts[0].State(), true, nil
}

func collectShipments(rows pgx.Rows) ([]*models.Shipment, error) {
	defer rows.Close()

	out := []*models.Shipment{}
	for rows.Next() {
		var sh models.Shipment
		var snapshot []byte
		if err := rows.Scan(
			&sh.ID, &sh.TrackingNumber, &sh.DisplayName, &sh.PollIntervalHours,
			&sh.StatusCode, &sh.Label, &sh.Delivered, &snapshot,
			&sh.LastFetchedAt, &sh.LastCheckedAt,
			&sh.CheckFailCount, &sh.LastError,
			&sh.CreatedAt, &sh.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan shipment")
		}
		if len(snapshot) > 0 {
			var snap models.TrackingSnapshot
			if err := json.Unmarshal(snapshot, &snap); err != nil {
				return nil, errors.Wrap(err, "decode snapshot")
			}
			sh.Snapshot = &snap
		}
		out = append(out, &sh)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
