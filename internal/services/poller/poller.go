package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/services/projection"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type StateRepository interface {
	LoadState(ctx context.Context, shipmentID string) (models.CoordinatorState, bool, error)
}

var shipmentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://apis.tianapi.com/kuaidi/index"))

// ShipmentID is stable for an (api key, tracking number) pair, so persisted
// state can be found again after a restart.
func ShipmentID(apiKey, trackingNumber string) string {
	return uuid.NewSHA1(shipmentNamespace, []byte(apiKey+"\x00"+trackingNumber)).String()
}

type shipment struct {
	coord  *Coordinator
	cancel context.CancelFunc
}

// Poller owns the coordinators of all registered shipments. Each shipment
// runs in its own goroutine; nothing is shared between them.
type Poller struct {
	fetcher  Fetcher
	producer Producer
	topic    string

	rl                 RateLimiter
	rateLimitPerMinute int64

	repo     StateRepository
	validate *validator.Validate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	shipments map[string]*shipment
	byAccount map[string]map[string]string
	// removed хранит id, снятые с учёта в этом процессе: при повторной
	// регистрации состояние из read-модели не восстанавливаем.
	removed map[string]struct{}

	startedAt time.Time
	interval  time.Duration
}

func New(fetcher Fetcher, producer Producer, topic string) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher:   fetcher,
		producer:  producer,
		topic:     topic,
		validate:  validator.New(),
		ctx:       ctx,
		cancel:    cancel,
		shipments: make(map[string]*shipment),
		byAccount: make(map[string]map[string]string),
		removed:   make(map[string]struct{}),
		startedAt: time.Now().UTC(),
	}
}

func (p *Poller) WithRateLimiter(rl RateLimiter, perMinute int64) *Poller {
	p.rl = rl
	p.rateLimitPerMinute = perMinute
	return p
}

func (p *Poller) WithStateRepository(repo StateRepository) *Poller {
	p.repo = repo
	return p
}

// WithInterval подменяет интервал опроса всех треков. Для тестов и демо,
// в проде используется интервал из самого трека.
func (p *Poller) WithInterval(d time.Duration) *Poller {
	p.interval = d
	return p
}

// Register validates q, rejects a tracking number already registered under
// the same api key, runs the first refresh and starts the schedule.
// A failed first refresh is logged; the shipment is still registered.
// The first refresh is abandoned if the shipment is unregistered or the
// poller is closed while it runs.
func (p *Poller) Register(ctx context.Context, q models.TrackingQuery) (string, error) {
	q = q.WithDefaults()
	if err := p.validate.Struct(q); err != nil {
		return "", &models.ConfigurationError{
			TrackingNumber: q.TrackingNumber,
			Err:            errors.Wrap(models.ErrInvalidQuery, err.Error()),
		}
	}

	id := ShipmentID(q.APIKey, q.TrackingNumber)
	coord := NewCoordinator(id, q, p.fetcher).
		WithPublisher(p.producer, p.topic).
		WithRateLimiter(p.rl, p.rateLimitPerMinute).
		WithInterval(p.interval)

	p.mu.RLock()
	_, wasRemoved := p.removed[id]
	p.mu.RUnlock()

	if p.repo != nil && !wasRemoved {
		st, ok, err := p.repo.LoadState(ctx, id)
		if err != nil {
			slog.Warn("load shipment state", "shipment_id", id, "error", err.Error())
		} else if ok {
			coord.WithState(st)
		}
	}

	p.mu.Lock()
	if p.ctx.Err() != nil {
		p.mu.Unlock()
		return "", errors.New("poller is closed")
	}
	numbers := p.byAccount[q.APIKey]
	if _, dup := numbers[q.TrackingNumber]; dup {
		p.mu.Unlock()
		return "", &models.ConfigurationError{TrackingNumber: q.TrackingNumber, Err: models.ErrAlreadyConfigured}
	}
	if numbers == nil {
		numbers = make(map[string]string)
		p.byAccount[q.APIKey] = numbers
	}
	numbers[q.TrackingNumber] = id
	delete(p.removed, id)
	runCtx, cancel := context.WithCancel(p.ctx)
	p.shipments[id] = &shipment{coord: coord, cancel: cancel}
	p.wg.Add(1)
	p.mu.Unlock()

	firstCtx, cancelFirst := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, cancelFirst)
	out, err := coord.Refresh(firstCtx)
	stop()
	cancelFirst()

	go func() {
		defer p.wg.Done()
		_ = coord.Run(runCtx)
	}()

	if out == OutcomeAbandoned && runCtx.Err() != nil {
		slog.Info("first refresh abandoned", "shipment_id", id, "tracking_number", q.TrackingNumber)
		return id, nil
	}
	if err != nil {
		slog.Warn("first refresh failed", "shipment_id", id, "tracking_number", q.TrackingNumber, "error", err.Error())
	}

	slog.Info("shipment registered", "shipment_id", id, "tracking_number", q.TrackingNumber, "interval", coord.interval.String())
	return id, nil
}

// Unregister stops a shipment's schedule. It does not wait for an in-flight
// fetch; that fetch sees its context cancelled.
func (p *Poller) Unregister(id string) error {
	p.mu.Lock()
	sh, ok := p.shipments[id]
	if !ok {
		p.mu.Unlock()
		return models.ErrNotFound
	}
	delete(p.shipments, id)
	p.removed[id] = struct{}{}
	q := sh.coord.Query()
	if numbers := p.byAccount[q.APIKey]; numbers != nil {
		delete(numbers, q.TrackingNumber)
		if len(numbers) == 0 {
			delete(p.byAccount, q.APIKey)
		}
	}
	p.mu.Unlock()

	sh.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sh.coord.PublishRemoved(ctx)

	slog.Info("shipment unregistered", "shipment_id", id)
	return nil
}

func (p *Poller) Coordinator(id string) (*Coordinator, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sh, ok := p.shipments[id]
	if !ok {
		return nil, false
	}
	return sh.coord, true
}

func (p *Poller) Sensor(id string) (projection.Sensor, bool) {
	c, ok := p.Coordinator(id)
	if !ok {
		return projection.Sensor{}, false
	}
	return c.Sensor(), true
}

func (p *Poller) Sensors() []projection.Sensor {
	coords := p.coordinators()
	out := make([]projection.Sensor, 0, len(coords))
	for _, c := range coords {
		out = append(out, c.Sensor())
	}
	return out
}

// Trigger forces an immediate tick for one shipment, or for all of them when
// id is empty.
func (p *Poller) Trigger(id string) error {
	if id == "" {
		for _, c := range p.coordinators() {
			c.Trigger()
		}
		return nil
	}
	c, ok := p.Coordinator(id)
	if !ok {
		return models.ErrNotFound
	}
	c.Trigger()
	return nil
}

type Stats struct {
	StartedAt       time.Time          `json:"startedAt"`
	Shipments       int                `json:"shipments"`
	Delivered       int                `json:"delivered"`
	TotalFetchCalls int64              `json:"totalFetchCalls"`
	TotalFailures   int64              `json:"totalFailures"`
	Items           []CoordinatorStats `json:"items"`
}

func (p *Poller) Stats() Stats {
	st := Stats{StartedAt: p.startedAt, Items: []CoordinatorStats{}}
	for _, c := range p.coordinators() {
		cs := c.Stats()
		st.Shipments++
		if cs.Phase == models.PhaseDelivered.String() {
			st.Delivered++
		}
		st.TotalFetchCalls += cs.FetchCalls
		st.TotalFailures += cs.Failures
		st.Items = append(st.Items, cs)
	}
	return st
}

// Close останавливает все расписания и ждёт выхода горутин.
func (p *Poller) Close() {
	// под mu, чтобы wg.Add в Register не гонялся с wg.Wait
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) coordinators() []*Coordinator {
	p.mu.RLock()
	out := make([]*Coordinator, 0, len(p.shipments))
	for _, sh := range p.shipments {
		out = append(out, sh.coord)
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Query().Name() < out[j].Query().Name()
	})
	return out
}
