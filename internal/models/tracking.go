package models

import "time"

const (
	DefaultPollIntervalHours = 12
	MinPollIntervalHours     = 1
	MaxPollIntervalHours     = 24

	// StatusDelivered is the vendor code for a signed-for shipment.
	StatusDelivered = 4
)

// TrackingQuery describes one tracked shipment. It is built once at
// registration and never mutated.
type TrackingQuery struct {
	APIKey            string `json:"-" validate:"required"`
	TrackingNumber    string `json:"tracking_number" validate:"required"`
	DisplayName       string `json:"display_name,omitempty"`
	PollIntervalHours int    `json:"poll_interval_hours" validate:"omitempty,min=1,max=24"`
}

func (q TrackingQuery) Name() string {
	if q.DisplayName != "" {
		return q.DisplayName
	}
	return q.TrackingNumber
}

func (q TrackingQuery) PollInterval() time.Duration {
	h := q.PollIntervalHours
	if h <= 0 {
		h = DefaultPollIntervalHours
	}
	return time.Duration(h) * time.Hour
}

// WithDefaults fills the optional fields the way registration expects them.
func (q TrackingQuery) WithDefaults() TrackingQuery {
	if q.DisplayName == "" {
		q.DisplayName = q.TrackingNumber
	}
	if q.PollIntervalHours == 0 {
		q.PollIntervalHours = DefaultPollIntervalHours
	}
	return q
}

type TrackingEvent struct {
	Time     string `json:"time"`
	Location string `json:"location"`
	Content  string `json:"content"`
}

// TrackingSnapshot is the result of one successful fetch. Events are in
// vendor order, index 0 being the latest.
type TrackingSnapshot struct {
	StatusCode       int             `json:"status_code"`
	CarrierName      string          `json:"carrier_name"`
	CarrierNameEn    string          `json:"carrier_name_en"`
	Phone            string          `json:"phone"`
	LastVendorUpdate string          `json:"last_vendor_update"`
	Events           []TrackingEvent `json:"events"`
}

func (s TrackingSnapshot) Latest() (TrackingEvent, bool) {
	if len(s.Events) == 0 {
		return TrackingEvent{}, false
	}
	return s.Events[0], true
}

// Phase is the coordinator lifecycle. The only transition is
// PhaseActive -> PhaseDelivered.
type Phase int

const (
	PhaseActive Phase = iota
	PhaseDelivered
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "ACTIVE"
	case PhaseDelivered:
		return "DELIVERED"
	default:
		return "UNKNOWN"
	}
}

type CoordinatorState struct {
	Phase         Phase             `json:"phase"`
	LastFetchedAt *time.Time        `json:"last_fetched_at,omitempty"`
	Snapshot      *TrackingSnapshot `json:"snapshot,omitempty"`
}

func (s CoordinatorState) Delivered() bool {
	return s.Phase == PhaseDelivered
}

// Clone returns a copy that shares nothing mutable with s.
func (s CoordinatorState) Clone() CoordinatorState {
	out := CoordinatorState{Phase: s.Phase}
	if s.LastFetchedAt != nil {
		t := *s.LastFetchedAt
		out.LastFetchedAt = &t
	}
	if s.Snapshot != nil {
		snap := *s.Snapshot
		snap.Events = append([]TrackingEvent(nil), s.Snapshot.Events...)
		out.Snapshot = &snap
	}
	return out
}

// Shipment is the persisted read model of one tracked shipment. It never
// holds the api key.
type Shipment struct {
	ID                string
	TrackingNumber    string
	DisplayName       string
	PollIntervalHours int
	StatusCode        *int
	Label             string
	Delivered         bool
	Snapshot          *TrackingSnapshot
	LastFetchedAt     *time.Time
	LastCheckedAt     time.Time
	CheckFailCount    int32
	LastError         *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s Shipment) Query() TrackingQuery {
	return TrackingQuery{
		TrackingNumber:    s.TrackingNumber,
		DisplayName:       s.DisplayName,
		PollIntervalHours: s.PollIntervalHours,
	}
}

func (s Shipment) State() CoordinatorState {
	st := CoordinatorState{Phase: PhaseActive, LastFetchedAt: s.LastFetchedAt, Snapshot: s.Snapshot}
	if s.Delivered {
		st.Phase = PhaseDelivered
	}
	return st
}
