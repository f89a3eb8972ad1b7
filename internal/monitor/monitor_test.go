package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reviewbot/internal/deliver"
	"reviewbot/internal/source"
	"reviewbot/internal/storage"
	"reviewbot/internal/transport"
	"reviewbot/pkg/logx"
)

type fakeAdapter struct {
	src     source.Source
	mu      sync.Mutex
	drafts  []source.Draft
	err     error
	panics  bool
	calls   int
	blockCh chan struct{}
}

func (f *fakeAdapter) Source() source.Source { return f.src }

func (f *fakeAdapter) FetchLatest(context.Context, string, bool) ([]source.Draft, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.blockCh != nil {
		<-f.blockCh
	}
	if f.panics {
		panic("adapter exploded")
	}
	return f.drafts, f.err
}

func (f *fakeAdapter) ValidateUser(context.Context, string) (bool, error) { return true, nil }

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	err    error
	panics bool
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("sender exploded")
	}
	if f.err != nil {
		return transport.MessageRef{}, f.err
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Stop(context.Context) error { return nil }

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type harness struct {
	store   storage.Store
	sender  *fakeSender
	monitor *Monitor
}

func newHarness(t *testing.T, adapters ...source.Adapter) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "m.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sender := &fakeSender{}
	del := deliver.New(st, sender, transport.ChatTarget{ChatID: 1}, logx.Nop())
	cfg := Config{
		Enabled:           true,
		Interval:          time.Minute,
		SubscriptionDelay: time.Millisecond,
		DeliveryDelay:     time.Millisecond,
		MaxRetries:        3,
	}
	return &harness{
		store:   st,
		sender:  sender,
		monitor: New(cfg, st, adapters, nil, del, logx.Nop()),
	}
}

func (h *harness) subscribe(t *testing.T, src, user string) storage.Subscription {
	t.Helper()
	sub, err := h.store.AddSubscription(context.Background(), storage.Subscription{
		OwnerID: 1, Source: src, SourceUserID: user,
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return sub
}

func TestTickDeliversNewReviewOnce(t *testing.T) {
	ad := &fakeAdapter{src: source.Letterboxd, drafts: []source.Draft{{
		CanonicalID: "https://letterboxd.com/u/film/heat/",
		Title:       "Heat (1995)",
		Content:     "Superbe",
	}}}
	h := newHarness(t, ad)
	sub := h.subscribe(t, "letterboxd", "u")
	ctx := context.Background()

	h.monitor.RunTick(ctx)
	if h.sender.sentCount() != 1 {
		t.Fatalf("sent %d messages, want 1", h.sender.sentCount())
	}

	// The same review on the next tick is not new.
	h.monitor.RunTick(ctx)
	if h.sender.sentCount() != 1 {
		t.Fatalf("duplicate delivery: sent %d messages", h.sender.sentCount())
	}

	latest, err := h.store.LatestReview(ctx, sub.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.Posted {
		t.Fatal("delivered review not marked posted")
	}
}

func TestTickRetriesFailedDeliveryThenGivesUp(t *testing.T) {
	ad := &fakeAdapter{src: source.Steam, drafts: []source.Draft{{
		CanonicalID: "https://steamcommunity.com/profiles/1/recommended/100",
		Title:       "Hades",
	}}}
	h := newHarness(t, ad)
	sub := h.subscribe(t, "steam", "1")
	ctx := context.Background()

	h.sender.err = errors.New("telegram down")

	// Tick 1 detects, fails the first attempt and fails the same-tick
	// retry; tick 2 burns the last retry.
	for i := 0; i < 2; i++ {
		h.monitor.RunTick(ctx)
	}
	latest, err := h.store.LatestReview(ctx, sub.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Posted {
		t.Fatal("failed review marked posted")
	}
	if latest.RetryCount != 3 {
		t.Fatalf("retry count = %d, want 3", latest.RetryCount)
	}

	// Exhausted reviews are excluded from further retry passes but
	// stay in the store.
	h.sender.err = nil
	h.monitor.RunTick(ctx)
	if h.sender.sentCount() != 0 {
		t.Fatalf("exhausted review was retried: sent %d", h.sender.sentCount())
	}
	if _, err := h.store.LatestReview(ctx, sub.ID); err != nil {
		t.Fatalf("exhausted review vanished: %v", err)
	}
}

func TestTickRecoversAfterTransientFailure(t *testing.T) {
	ad := &fakeAdapter{src: source.Steam, drafts: []source.Draft{{
		CanonicalID: "https://steamcommunity.com/profiles/1/recommended/100",
		Title:       "Hades",
	}}}
	h := newHarness(t, ad)
	sub := h.subscribe(t, "steam", "1")
	ctx := context.Background()

	h.sender.err = errors.New("telegram down")
	h.monitor.RunTick(ctx)

	h.sender.err = nil
	h.monitor.RunTick(ctx)

	latest, err := h.store.LatestReview(ctx, sub.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.Posted {
		t.Fatal("review not delivered after sender recovered")
	}
	// Tick 1 burned the immediate attempt and the same-tick retry.
	if latest.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", latest.RetryCount)
	}
}

func TestFailedDeliveryIsRetriedWithinTheSameTick(t *testing.T) {
	ad := &fakeAdapter{src: source.Steam, drafts: []source.Draft{{
		CanonicalID: "https://steamcommunity.com/profiles/1/recommended/100",
		Title:       "Hades",
	}}}
	h := newHarness(t, ad)
	sub := h.subscribe(t, "steam", "1")
	ctx := context.Background()

	h.sender.err = errors.New("telegram down")
	h.monitor.RunTick(ctx)

	latest, err := h.store.LatestReview(ctx, sub.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	// The retry pass runs after the sweep, so a review that fails its
	// immediate delivery is attempted once more before the tick ends.
	if latest.RetryCount != 2 {
		t.Fatalf("retry count = %d after one tick, want 2", latest.RetryCount)
	}
}

func TestTickSurvivesSenderPanic(t *testing.T) {
	h := newHarness(t)
	sub := h.subscribe(t, "steam", "1")
	ctx := context.Background()

	if _, err := h.store.UpsertReview(ctx, storage.Review{
		SubscriptionID: sub.ID,
		Source:         sub.Source,
		CanonicalID:    "https://steamcommunity.com/profiles/1/recommended/100",
		Title:          "Hades",
	}); err != nil {
		t.Fatalf("seed review: %v", err)
	}

	h.sender.panics = true
	h.monitor.RunTick(ctx)

	// The panic must not poison the monitor: the next tick still runs
	// and delivers the pending review.
	h.sender.panics = false
	h.monitor.RunTick(ctx)
	if h.sender.sentCount() != 1 {
		t.Fatalf("sent %d messages after recovery, want 1", h.sender.sentCount())
	}
	latest, err := h.store.LatestReview(ctx, sub.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.Posted {
		t.Fatal("pending review not delivered after panic recovery")
	}
}

func TestTickIsolatesSubscriptionFailures(t *testing.T) {
	broken := &fakeAdapter{src: source.Steam, panics: true}
	healthy := &fakeAdapter{src: source.Letterboxd, drafts: []source.Draft{{
		CanonicalID: "https://letterboxd.com/u/film/heat/",
		Title:       "Heat (1995)",
	}}}
	h := newHarness(t, broken, healthy)
	h.subscribe(t, "steam", "gamer")
	h.subscribe(t, "letterboxd", "u")

	h.monitor.RunTick(context.Background())

	if h.sender.sentCount() != 1 {
		t.Fatalf("healthy subscription not delivered: sent %d", h.sender.sentCount())
	}
	if !strings.Contains(h.sender.sent[0], "Heat (1995)") {
		t.Fatalf("unexpected message: %s", h.sender.sent[0])
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	ad := &fakeAdapter{src: source.Steam, blockCh: make(chan struct{})}
	h := newHarness(t, ad)
	h.subscribe(t, "steam", "1")
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		h.monitor.RunTick(ctx)
		close(done)
	}()

	// Wait for the first tick to reach the blocking adapter.
	deadline := time.After(2 * time.Second)
	for ad.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first tick never reached the adapter")
		case <-time.After(time.Millisecond):
		}
	}

	// A second tick while the first is busy must not fetch again.
	h.monitor.RunTick(ctx)
	if got := ad.callCount(); got != 1 {
		t.Fatalf("overlapping tick ran the sweep: %d fetches", got)
	}

	close(ad.blockCh)
	<-done
}

func TestSubscriptionWithoutAdapterIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.subscribe(t, "senscritique", "u")
	h.monitor.RunTick(context.Background())
	if h.sender.sentCount() != 0 {
		t.Fatalf("sent %d messages without an adapter", h.sender.sentCount())
	}
}
