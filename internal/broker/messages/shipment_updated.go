package messages

import (
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
)

// ShipmentUpdated is published by the worker after every poll cycle that
// was not skipped. Error is set for failed cycles; Snapshot is then nil and
// consumers must keep their previous snapshot. Removed marks the last
// message of an unregistered shipment; consumers drop it from the read model.
type ShipmentUpdated struct {
	ShipmentID        string    `json:"shipment_id"`
	TrackingNumber    string    `json:"tracking_number"`
	DisplayName       string    `json:"display_name"`
	PollIntervalHours int       `json:"poll_interval_hours"`
	CheckedAt         time.Time `json:"checked_at"`

	Label     string                   `json:"label,omitempty"`
	Delivered bool                     `json:"delivered"`
	Snapshot  *models.TrackingSnapshot `json:"snapshot,omitempty"`

	Error *string `json:"error,omitempty"`

	Removed bool `json:"removed,omitempty"`
}
