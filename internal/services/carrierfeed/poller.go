package carrierfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/packlane/packlane/internal/broker/messages"
	"github.com/packlane/packlane/internal/integrations/carrier"
	"github.com/packlane/packlane/internal/models"
)

type Repository interface {
	ClaimDueCarrierShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error)
	RecordPollSuccess(ctx context.Context, shipmentID uuid.UUID, polledAt, nextPollAt time.Time) error
	RecordPollFailure(ctx context.Context, shipmentID uuid.UUID, nextPollAt time.Time, pollErr string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Poller drives the carrier feed: claim due shipments, ask the carrier for
// the latest events, publish anything new into the tracking topic. The
// consumer side applies those messages exactly like manual updates.
type Poller struct {
	repo     Repository
	carrier  carrier.Client
	producer Producer
	rl       RateLimiter

	topic string

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, c carrier.Client, producer Producer, rl RateLimiter, topic string) *Poller {
	return &Poller{
		repo: repo, carrier: c, producer: producer, rl: rl, topic: topic,
		planner:            NewPlanner(DefaultPlannerConfig(), nil),
		pollInterval:       2 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (p *Poller) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Poller {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if concurrency > 0 {
		p.concurrency = concurrency
	}
	if lease > 0 {
		p.lease = lease
	}
	if rlPerMin > 0 {
		p.rateLimitPerMinute = rlPerMin
	}
	return p
}

func (p *Poller) WithPlanner(cfg PlannerConfig) *Poller {
	p.planner = NewPlanner(cfg, nil)
	return p
}

// Trigger forces an immediate poll cycle (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalClaimed:   p.totalClaimed.Load(),
		TotalProcessed: p.totalProcessed.Load(),
		TotalErrors:    p.totalErrors.Load(),
		InFlight:       p.inFlight.Load(),
	}
	if n := p.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	p.lastCycleUnixNano.Store(now.UnixNano())

	claimed, err := p.repo.ClaimDueCarrierShipments(ctx, now, p.batchSize, p.lease)
	if err != nil {
		slog.Error("claim due shipments", "error", err.Error())
		p.recordError(err)
		return
	}
	p.totalClaimed.Add(int64(len(claimed)))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, sh := range claimed {
		sem <- struct{}{}
		wg.Add(1)
		shCopy := sh
		p.inFlight.Add(1)
		go func() {
			defer func() {
				p.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := p.processOne(ctx, shCopy); err != nil {
				p.totalErrors.Add(1)
				p.recordError(err)
				slog.Error("poll shipment", "shipment_id", shCopy.ID, "error", err.Error())
			}
			p.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (p *Poller) processOne(ctx context.Context, sh *models.Shipment) error {
	if sh.CarrierCode == nil || sh.CarrierRef == nil {
		return nil
	}
	now := time.Now().UTC()

	if p.rl != nil && p.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:carrier:%s:%s", *sh.CarrierCode, now.Format("200601021504"))
		allowed, n, err := p.rl.Allow(ctx, minuteKey, p.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// The upstream is already saturated this minute, ease off a bit.
			slog.Warn("carrier rate limit exceeded", "carrier", *sh.CarrierCode, "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	res, err := p.carrier.GetTracking(ctx, *sh.CarrierCode, *sh.CarrierRef)
	if err != nil {
		retryAt := now.Add(p.planner.BackoffDelay(sh.PollFailCount + 1))
		if recErr := p.repo.RecordPollFailure(ctx, sh.ID, retryAt, err.Error()); recErr != nil {
			return recErr
		}
		return err
	}

	for _, ev := range fresh(res.Events, sh.LastPollAt) {
		if err := p.publishEvent(ctx, sh, ev); err != nil {
			// Leave the watermark untouched: the event goes out on the
			// next cycle instead.
			retryAt := now.Add(p.planner.BackoffDelay(sh.PollFailCount + 1))
			if recErr := p.repo.RecordPollFailure(ctx, sh.ID, retryAt, err.Error()); recErr != nil {
				return recErr
			}
			return err
		}
	}

	nextAt := now.Add(p.planner.NextPollDelay(res.Status))
	return p.repo.RecordPollSuccess(ctx, sh.ID, now, nextAt)
}

// fresh drops events at or before the last poll watermark, so every cycle
// publishes only what the carrier added since.
func fresh(events []carrier.Event, lastPollAt *time.Time) []carrier.Event {
	if lastPollAt == nil {
		return events
	}
	out := events[:0:0]
	for _, ev := range events {
		if ev.Timestamp.After(*lastPollAt) {
			out = append(out, ev)
		}
	}
	return out
}

func (p *Poller) publishEvent(ctx context.Context, sh *models.Shipment, ev carrier.Event) error {
	msg := messages.TrackingUpdate{
		ShipmentID: sh.ID,
		Status:     ev.Status,
		Message:    ev.Message,
		Lat:        ev.Lat,
		Lng:        ev.Lng,
		Timestamp:  ev.Timestamp,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal tracking update")
	}

	key := []byte(sh.ID.String())
	// Kafka may not be up right after compose start, retry briefly.
	var pubErr error
	for i := 0; i < 10; i++ {
		if pubErr = p.producer.Publish(ctx, p.topic, key, b); pubErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	return pubErr
}

func (p *Poller) recordError(err error) {
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
