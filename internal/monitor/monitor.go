// Package monitor runs the recurring review sweep.
//
// One cron tick walks every subscription, detects new reviews,
// persists them and hands them to the deliverer, then retries
// reviews whose delivery has failed so far, including ones that
// failed earlier in the same tick. A tick that would overlap a
// still-running one is skipped.
package monitor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"reviewbot/internal/deliver"
	"reviewbot/internal/detect"
	"reviewbot/internal/source"
	"reviewbot/internal/storage"
	"reviewbot/internal/translate"
	"reviewbot/pkg/logx"
)

type Config struct {
	Enabled bool
	// Interval between sweep ticks.
	Interval time.Duration
	// SubscriptionDelay spaces out fetches within one sweep.
	SubscriptionDelay time.Duration
	// DeliveryDelay spaces out sends within the retry pass.
	DeliveryDelay time.Duration
	// MaxRetries caps delivery attempts per review.
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.SubscriptionDelay <= 0 {
		c.SubscriptionDelay = 2 * time.Second
	}
	if c.DeliveryDelay <= 0 {
		c.DeliveryDelay = time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

type Monitor struct {
	cfg        Config
	store      storage.Store
	adapters   map[source.Source]source.Adapter
	decider    *detect.Decider
	translator *translate.Translator
	deliverer  *deliver.Deliverer
	log        logx.Logger

	cron *cron.Cron
	busy atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store storage.Store, adapters []source.Adapter,
	translator *translate.Translator, deliverer *deliver.Deliverer, log logx.Logger) *Monitor {

	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	bySource := make(map[source.Source]source.Adapter, len(adapters))
	for _, a := range adapters {
		bySource[a.Source()] = a
	}
	return &Monitor{
		cfg:        cfg,
		store:      store,
		adapters:   bySource,
		decider:    detect.New(store),
		translator: translator,
		deliverer:  deliverer,
		log:        log,
	}
}

func (m *Monitor) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Info("review monitor disabled")
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))

	m.cron = cron.New()
	spec := fmt.Sprintf("@every %s", m.cfg.Interval)
	if _, err := m.cron.AddFunc(spec, func() { m.RunTick(m.ctx) }); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}
	m.cron.Start()
	m.log.Info("review monitor started",
		logx.Duration("interval", m.cfg.Interval),
		logx.Int("max_retries", m.cfg.MaxRetries))
	return nil
}

func (m *Monitor) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	done := m.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunTick performs one full sweep. It is safe to call directly, and a
// call that overlaps a running tick returns immediately.
func (m *Monitor) RunTick(ctx context.Context) {
	if !m.busy.CompareAndSwap(false, true) {
		m.log.Debug("sweep still running, tick skipped")
		return
	}
	defer m.busy.Store(false)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("sweep panicked", logx.Any("panic", r))
		}
	}()

	started := time.Now()
	subs, err := m.store.Subscriptions(ctx)
	if err != nil {
		m.log.Error("subscription list failed", logx.Err(err))
		return
	}

	m.sweepSubscriptions(ctx, subs)
	m.retryUndelivered(ctx, subs)

	m.log.Debug("sweep finished",
		logx.Int("subscriptions", len(subs)),
		logx.Duration("took", time.Since(started)))
}

func (m *Monitor) sweepSubscriptions(ctx context.Context, subs []storage.Subscription) {
	limiter := rate.NewLimiter(rate.Every(m.cfg.SubscriptionDelay), 1)
	for _, sub := range subs {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		m.checkSubscription(ctx, sub)
	}
}

// checkSubscription isolates one subscription's fetch and delivery.
// An error or panic here never touches the other subscriptions.
func (m *Monitor) checkSubscription(ctx context.Context, sub storage.Subscription) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("subscription check panicked",
				logx.Int64("subscription_id", sub.ID),
				logx.Any("panic", r))
		}
	}()

	log := m.log.With(
		logx.Int64("subscription_id", sub.ID),
		logx.String("source", sub.Source),
		logx.String("user", sub.SourceUserID))

	adapter, ok := m.adapters[source.Source(sub.Source)]
	if !ok {
		log.Warn("no adapter for source")
		return
	}

	drafts, err := adapter.FetchLatest(ctx, sub.SourceUserID, true)
	if err != nil {
		log.Warn("fetch failed", logx.Err(err))
		return
	}

	for _, draft := range drafts {
		isNew, err := m.decider.IsNew(ctx, sub.ID, draft)
		if err != nil {
			log.Error("detection failed", logx.Err(err))
			continue
		}
		if !isNew {
			continue
		}

		content := draft.Content
		if m.translator != nil {
			content = m.translator.Normalize(ctx, content)
		}

		review, err := m.store.UpsertReview(ctx, storage.Review{
			SubscriptionID: sub.ID,
			Source:         sub.Source,
			CanonicalID:    draft.CanonicalID,
			SubjectID:      draft.SubjectID,
			Title:          draft.Title,
			Content:        content,
			Rating:         draft.Rating,
			CoverImage:     draft.CoverImage,
			OccurredAt:     draft.OccurredAt,
		})
		if err != nil {
			log.Error("review persist failed", logx.Err(err))
			continue
		}

		log.Info("new review detected", logx.String("title", review.Title))
		m.deliverer.Attempt(ctx, sub, review)
	}
}

func (m *Monitor) retryUndelivered(ctx context.Context, subs []storage.Subscription) {
	pending, err := m.store.Undelivered(ctx, m.cfg.MaxRetries)
	if err != nil {
		m.log.Error("undelivered scan failed", logx.Err(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	bySub := make(map[int64]storage.Subscription, len(subs))
	for _, s := range subs {
		bySub[s.ID] = s
	}

	m.log.Info("retrying undelivered reviews", logx.Int("count", len(pending)))
	limiter := rate.NewLimiter(rate.Every(m.cfg.DeliveryDelay), 1)
	for _, r := range pending {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		sub, ok := bySub[r.SubscriptionID]
		if !ok {
			m.log.Warn("undelivered review without subscription",
				logx.Int64("review_id", r.ID))
			continue
		}
		m.deliverer.Attempt(ctx, sub, r)
	}
}
