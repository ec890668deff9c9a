package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/KuaidiBox/internal/broker/messages"
	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/services/projection"
	"github.com/pkg/errors"
)

type Fetcher interface {
	Fetch(ctx context.Context, q models.TrackingQuery) (models.TrackingSnapshot, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Outcome int

const (
	OutcomeUpdated Outcome = iota
	OutcomeSkipped
	OutcomeFailed
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Coordinator polls one shipment. Once a fetch reports the delivered status
// the coordinator stays in PhaseDelivered and every later tick is a no-op.
type Coordinator struct {
	id       string
	query    models.TrackingQuery
	fetcher  Fetcher
	interval time.Duration
	now      func() time.Time

	producer        Producer
	topic           string
	publishAttempts int

	rl                 RateLimiter
	rateLimitPerMinute int64

	// refreshMu: в полёте не больше одного запроса; mu защищает state.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	state     models.CoordinatorState

	triggerCh chan struct{}

	lastTickUnixNano atomic.Int64
	fetchCalls       atomic.Int64
	failures         atomic.Int64
	lastErrorMu      sync.Mutex
	lastError        string
}

func NewCoordinator(id string, q models.TrackingQuery, f Fetcher) *Coordinator {
	return &Coordinator{
		id:              id,
		query:           q,
		fetcher:         f,
		interval:        q.PollInterval(),
		now:             time.Now,
		publishAttempts: 3,
		triggerCh:       make(chan struct{}, 1),
	}
}

// WithState seeds the coordinator with a previously persisted state.
func (c *Coordinator) WithState(st models.CoordinatorState) *Coordinator {
	c.mu.Lock()
	c.state = st.Clone()
	c.mu.Unlock()
	return c
}

func (c *Coordinator) WithPublisher(p Producer, topic string) *Coordinator {
	c.producer = p
	c.topic = topic
	return c
}

func (c *Coordinator) WithRateLimiter(rl RateLimiter, perMinute int64) *Coordinator {
	c.rl = rl
	c.rateLimitPerMinute = perMinute
	return c
}

func (c *Coordinator) WithInterval(d time.Duration) *Coordinator {
	if d > 0 {
		c.interval = d
	}
	return c
}

func (c *Coordinator) ID() string                  { return c.id }
func (c *Coordinator) Query() models.TrackingQuery { return c.query }

func (c *Coordinator) State() models.CoordinatorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

func (c *Coordinator) Delivered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Delivered()
}

func (c *Coordinator) Sensor() projection.Sensor {
	return projection.Render(c.id, c.query, c.State())
}

// Trigger просит Run сделать внеочередной тик. Не блокирует.
func (c *Coordinator) Trigger() {
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

// Refresh runs one poll cycle. Fetch failures come back as
// *models.UpdateFailedError with the state left as it was.
func (c *Coordinator) Refresh(ctx context.Context) (Outcome, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	now := c.now().UTC()
	c.lastTickUnixNano.Store(now.UnixNano())

	if c.Delivered() {
		return OutcomeSkipped, nil
	}

	if err := c.checkQuota(ctx, now); err != nil {
		return c.fail(ctx, now, err)
	}

	c.fetchCalls.Add(1)
	snap, err := c.fetcher.Fetch(ctx, c.query)
	if ctx.Err() != nil {
		// шипмент сняли с учёта, пока шёл запрос: результат не применяем
		return OutcomeAbandoned, ctx.Err()
	}
	if err != nil {
		return c.fail(ctx, now, err)
	}

	proj := projection.Project(snap)

	c.mu.Lock()
	c.state.Snapshot = &snap
	c.state.LastFetchedAt = &now
	if proj.Delivered {
		c.state.Phase = models.PhaseDelivered
	}
	c.mu.Unlock()

	if proj.Delivered {
		slog.Info("shipment delivered, polling stopped", "shipment_id", c.id, "tracking_number", c.query.TrackingNumber)
	}

	c.publish(ctx, messages.ShipmentUpdated{
		ShipmentID:        c.id,
		TrackingNumber:    c.query.TrackingNumber,
		DisplayName:       c.query.Name(),
		PollIntervalHours: c.query.PollIntervalHours,
		CheckedAt:         now,
		Label:             proj.Label,
		Delivered:         proj.Delivered,
		Snapshot:          &snap,
	})
	return OutcomeUpdated, nil
}

func (c *Coordinator) fail(ctx context.Context, now time.Time, cause error) (Outcome, error) {
	c.failures.Add(1)
	c.lastErrorMu.Lock()
	c.lastError = cause.Error()
	c.lastErrorMu.Unlock()

	e := cause.Error()
	c.publish(ctx, messages.ShipmentUpdated{
		ShipmentID:        c.id,
		TrackingNumber:    c.query.TrackingNumber,
		DisplayName:       c.query.Name(),
		PollIntervalHours: c.query.PollIntervalHours,
		CheckedAt:         now,
		Delivered:         c.Delivered(),
		Error:             &e,
	})
	return OutcomeFailed, &models.UpdateFailedError{TrackingNumber: c.query.TrackingNumber, Err: cause}
}

// PublishRemoved tells consumers the shipment is no longer tracked.
func (c *Coordinator) PublishRemoved(ctx context.Context) {
	c.publish(ctx, messages.ShipmentUpdated{
		ShipmentID:        c.id,
		TrackingNumber:    c.query.TrackingNumber,
		DisplayName:       c.query.Name(),
		PollIntervalHours: c.query.PollIntervalHours,
		CheckedAt:         c.now().UTC(),
		Delivered:         c.Delivered(),
		Removed:           true,
	})
}

func (c *Coordinator) checkQuota(ctx context.Context, now time.Time) error {
	if c.rl == nil || c.rateLimitPerMinute <= 0 {
		return nil
	}
	key := fmt.Sprintf("rl:tianapi:%s:%s", accountKey(c.query.APIKey), now.Format("200601021504"))
	allowed, n, err := c.rl.Allow(ctx, key, c.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		return err
	}
	if !allowed {
		slog.Warn("vendor quota exceeded", "shipment_id", c.id, "count", n)
		return models.ErrRateLimited
	}
	return nil
}

func (c *Coordinator) publish(ctx context.Context, msg messages.ShipmentUpdated) {
	if c.producer == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal shipment update", "shipment_id", c.id, "error", err.Error())
		return
	}

	var pubErr error
	for i := 0; i < c.publishAttempts; i++ {
		if pubErr = c.producer.Publish(ctx, c.topic, []byte(c.id), b); pubErr == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	slog.Error("publish shipment update", "shipment_id", c.id, "error", errors.Wrap(pubErr, "publish").Error())
}

// Run ticks at the poll interval until ctx is cancelled. The first tick
// happens immediately unless Refresh already ran.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.lastTickUnixNano.Load() == 0 {
		c.tick(ctx)
	}

	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.tick(ctx)
		case <-c.triggerCh:
			c.tick(ctx)
		}
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	out, err := c.Refresh(ctx)
	if err != nil && out == OutcomeFailed {
		slog.Error("refresh shipment", "shipment_id", c.id, "tracking_number", c.query.TrackingNumber, "error", err.Error())
	}
}

type CoordinatorStats struct {
	ShipmentID     string     `json:"shipmentId"`
	TrackingNumber string     `json:"trackingNumber"`
	Phase          string     `json:"phase"`
	LastTickAt     *time.Time `json:"lastTickAt,omitempty"`
	LastFetchedAt  *time.Time `json:"lastFetchedAt,omitempty"`
	FetchCalls     int64      `json:"fetchCalls"`
	Failures       int64      `json:"failures"`
	LastError      string     `json:"lastError,omitempty"`
}

func (c *Coordinator) Stats() CoordinatorStats {
	st := c.State()
	out := CoordinatorStats{
		ShipmentID:     c.id,
		TrackingNumber: c.query.TrackingNumber,
		Phase:          st.Phase.String(),
		LastFetchedAt:  st.LastFetchedAt,
		FetchCalls:     c.fetchCalls.Load(),
		Failures:       c.failures.Load(),
	}
	if n := c.lastTickUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		out.LastTickAt = &t
	}
	c.lastErrorMu.Lock()
	out.LastError = c.lastError
	c.lastErrorMu.Unlock()
	return out
}

// accountKey: сам ключ API в имена ключей redis не попадает.
func accountKey(apiKey string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(apiKey))
	return fmt.Sprintf("%016x", h.Sum64())
}
