package projection

import (
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
)

// Sensor is the record handed to whatever displays a shipment.
type Sensor struct {
	ID         string      `json:"id"`
	UniqueID   string      `json:"unique_id"`
	Name       string      `json:"name"`
	State      string      `json:"state"`
	Icon       string      `json:"icon"`
	Available  bool        `json:"available"`
	Attributes *Attributes `json:"attributes,omitempty"`
}

type Attributes struct {
	TrackingNumber   string                 `json:"tracking_number"`
	CarrierName      string                 `json:"carrier_name"`
	CarrierNameEn    string                 `json:"carrier_name_en"`
	StatusCode       int                    `json:"status_code"`
	LastVendorUpdate string                 `json:"last_vendor_update"`
	Phone            string                 `json:"phone"`
	Events           []models.TrackingEvent `json:"events"`
	QueriedAt        *time.Time             `json:"queried_at,omitempty"`
	EventCount       int                    `json:"event_count"`
	LatestEvent      string                 `json:"latest_event"`
	Delivered        bool                   `json:"delivered"`

	LatestEventTime     string `json:"latest_event_time,omitempty"`
	LatestEventContent  string `json:"latest_event_content,omitempty"`
	LatestEventLocation string `json:"latest_event_location,omitempty"`
}

// Render projects a coordinator state into a Sensor. Without a snapshot the
// state is UnknownLabel and there are no attributes.
func Render(id string, q models.TrackingQuery, st models.CoordinatorState) Sensor {
	s := Sensor{
		ID:        id,
		UniqueID:  id + "_" + q.TrackingNumber,
		Name:      q.Name(),
		State:     UnknownLabel,
		Icon:      IconDefault,
		Available: true,
	}
	if st.Snapshot == nil {
		return s
	}

	snap := st.Snapshot
	s.State = Project(*snap).Label
	s.Icon = Icon(snap.StatusCode)

	events := snap.Events
	if events == nil {
		events = []models.TrackingEvent{}
	}
	attrs := &Attributes{
		TrackingNumber:   q.TrackingNumber,
		CarrierName:      snap.CarrierName,
		CarrierNameEn:    snap.CarrierNameEn,
		StatusCode:       snap.StatusCode,
		LastVendorUpdate: snap.LastVendorUpdate,
		Phone:            snap.Phone,
		Events:           events,
		QueriedAt:        st.LastFetchedAt,
		EventCount:       len(events),
		Delivered:        st.Delivered(),
	}
	if latest, ok := snap.Latest(); ok {
		attrs.LatestEvent = Clean(latest.Content)
		attrs.LatestEventTime = latest.Time
		attrs.LatestEventContent = attrs.LatestEvent
		attrs.LatestEventLocation = latest.Location
	}
	s.Attributes = attrs
	return s
}
