package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/reconcile"
	"github.com/Ramsey-B/pricewise/pkg/repositories"
	"github.com/Ramsey-B/pricewise/pkg/search"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// titleSearcher answers each title with a single listing for that product.
type titleSearcher struct {
	prices map[string]string
	fail   map[string]error
}

func (s *titleSearcher) Search(_ context.Context, query string) ([]models.CandidateListing, error) {
	if err := s.fail[query]; err != nil {
		return nil, err
	}
	price, ok := s.prices[query]
	if !ok {
		return nil, nil
	}
	return []models.CandidateListing{{ProductID: "id-" + query, Title: query, Price: price, PriceAvailable: true}}, nil
}

// blockingReconciler holds every product until released.
type blockingReconciler struct {
	started  chan struct{}
	release  chan struct{}
	inFlight int32
	maxSeen  int32
	calls    int32
}

func newBlockingReconciler() *blockingReconciler {
	return &blockingReconciler{started: make(chan struct{}, 100), release: make(chan struct{})}
}

func (b *blockingReconciler) Reconcile(ctx context.Context, p models.TrackedProduct) models.Outcome {
	atomic.AddInt32(&b.calls, 1)
	n := atomic.AddInt32(&b.inFlight, 1)
	defer atomic.AddInt32(&b.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&b.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&b.maxSeen, seen, n) {
			break
		}
	}
	b.started <- struct{}{}

	select {
	case <-b.release:
		return models.Unchanged(&p)
	case <-ctx.Done():
		return models.SearchFailed(&p, ctx.Err())
	}
}

type failingListStore struct {
	inner  Store
	failAt int
	calls  int
}

func (f *failingListStore) ListTracked(ctx context.Context, after uuid.UUID, limit int) ([]models.TrackedProduct, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, &repositories.StoreError{Op: "list_tracked", Err: errors.New("connection refused")}
	}
	return f.inner.ListTracked(ctx, after, limit)
}

func (f *failingListStore) CountTracked(ctx context.Context, after uuid.UUID) (int, error) {
	return f.inner.CountTracked(ctx, after)
}

type fakeLocker struct {
	held      bool
	err       error
	extendErr error
	released  int
	extends   atomic.Int32
}

func (l *fakeLocker) TryLock(context.Context, time.Duration) (PassLease, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return &fakeLease{locker: l}, true, nil
}

type fakeLease struct {
	locker *fakeLocker
}

func (f *fakeLease) Extend(context.Context, time.Duration) error {
	f.locker.extends.Add(1)
	return f.locker.extendErr
}

func (f *fakeLease) Release(context.Context) error {
	f.locker.held = false
	f.locker.released++
	return nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	summaries []models.PassSummary
}

func (p *recordingPublisher) PublishPassSummary(_ context.Context, s models.PassSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.summaries = append(p.summaries, s)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.summaries)
}

func seedProducts(t *testing.T, repo *repositories.MemoryTrackedProductRepository, n int, price string) []models.TrackedProduct {
	t.Helper()
	products := make([]models.TrackedProduct, 0, n)
	for i := 0; i < n; i++ {
		title := fmt.Sprintf("item-%d", i)
		p := models.NewTrackedProduct(models.CandidateListing{ProductID: "id-" + title, Title: title, Price: price}, time.Now().UTC().Add(-time.Hour))
		_, err := repo.InsertTracked(context.Background(), p)
		require.NoError(t, err)
		products = append(products, *p)
	}
	return products
}

func waitStarted(t *testing.T, b *blockingReconciler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-b.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d products started", i, n)
		}
	}
}

func TestRunPass_PerItemIsolation(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 6, "$45")

	searcher := &titleSearcher{
		prices: map[string]string{"item-0": "$50", "item-1": "$45", "item-2": "$50", "item-4": "$45.00", "item-5": "$60"},
		fail: map[string]error{
			"item-2": &search.GatewayError{Kind: search.KindTransient, StatusCode: 503, Err: errors.New("unavailable")},
		},
	}
	// item-3 has no listing at all
	rec := reconcile.NewReconciler(searcher, repo, testLogger())
	s := NewScheduler(repo, rec, Config{Workers: 3, PageSize: 4}, testLogger())

	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, 1, summary.NoMatch)
	assert.Equal(t, 1, summary.SearchFailed)
	assert.Zero(t, summary.StoreFailed)
	assert.Zero(t, summary.Skipped)
	assert.NotEmpty(t, summary.PassID)
	assert.False(t, summary.FinishedAt.Before(summary.StartedAt))

	for title, want := range map[string]string{"item-0": "$50", "item-2": "$45", "item-5": "$60"} {
		p, err := repo.FindByProviderID(context.Background(), "id-"+title)
		require.NoError(t, err)
		assert.Equal(t, want, p.Price, title)
	}

	last, ok := s.LastSummary()
	require.True(t, ok)
	assert.Equal(t, summary, last)
	assert.Equal(t, StateIdle, s.State())
}

func TestRunPass_BoundedConcurrency(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 10, "$1")

	b := newBlockingReconciler()
	close(b.release)
	s := NewScheduler(repo, b, Config{Workers: 2, PageSize: 100}, testLogger())

	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Unchanged)
	assert.LessOrEqual(t, atomic.LoadInt32(&b.maxSeen), int32(2))
}

func TestRunPass_OverlappingPassIsSkipped(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 2, "$1")

	b := newBlockingReconciler()
	s := NewScheduler(repo, b, Config{Workers: 2}, testLogger())

	done := make(chan models.PassSummary)
	go func() {
		summary, err := s.RunPass(context.Background())
		assert.NoError(t, err)
		done <- summary
	}()
	waitStarted(t, b, 2)
	assert.Equal(t, StateRunning, s.State())

	_, err := s.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.ErrorIs(t, s.Trigger(context.Background()), ErrPassInProgress)

	close(b.release)
	summary := <-done
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, int32(2), atomic.LoadInt32(&b.calls), "skipped passes never touch products")
	assert.Equal(t, StateIdle, s.State())
}

func TestRunPass_ConcurrentTriggersWriteOnce(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 3, "$45")
	searcher := &titleSearcher{prices: map[string]string{"item-0": "$50", "item-1": "$50", "item-2": "$50"}}
	rec := reconcile.NewReconciler(searcher, repo, testLogger())
	s := NewScheduler(repo, rec, Config{Workers: 1}, testLogger())

	var wg sync.WaitGroup
	var ran, skipped int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RunPass(context.Background()); errors.Is(err, ErrPassInProgress) {
				atomic.AddInt32(&skipped, 1)
				return
			}
			atomic.AddInt32(&ran, 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(8), ran+skipped)

	// However the passes interleaved, each product got exactly one append.
	for i := 0; i < 3; i++ {
		p, err := repo.FindByProviderID(context.Background(), fmt.Sprintf("id-item-%d", i))
		require.NoError(t, err)
		assert.Len(t, p.History, 2)
	}
}

func TestRunPass_Paging(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 7, "$1")

	b := newBlockingReconciler()
	close(b.release)
	s := NewScheduler(repo, b, Config{PageSize: 3}, testLogger())

	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, summary.Total)
}

func TestRunPass_ListFailureEndsPassWithPartialSummary(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 5, "$1")

	b := newBlockingReconciler()
	close(b.release)
	store := &failingListStore{inner: repo, failAt: 2}
	publisher := &recordingPublisher{}
	s := NewScheduler(store, b, Config{PageSize: 2}, testLogger(), WithSummaryPublisher(publisher))

	summary, err := s.RunPass(context.Background())
	var storeErr *repositories.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, publisher.count())
}

func TestRunPass_Cancellation(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 6, "$1")

	b := newBlockingReconciler()
	s := NewScheduler(repo, b, Config{Workers: 2}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		summary models.PassSummary
		err     error
	}
	done := make(chan result)
	go func() {
		summary, err := s.RunPass(ctx)
		done <- result{summary, err}
	}()

	waitStarted(t, b, 2)
	cancel()

	var r result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not stop after cancellation")
	}
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, 2, r.summary.SearchFailed, "in-flight items are abandoned")
	assert.Equal(t, 6, r.summary.Total+r.summary.Skipped)
	assert.Equal(t, int32(2), atomic.LoadInt32(&b.calls))
}

func TestRunPass_CancellationCountsUnlistedPages(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 7, "$1")

	b := newBlockingReconciler()
	s := NewScheduler(repo, b, Config{Workers: 3, PageSize: 3}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.PassSummary)
	go func() {
		summary, err := s.RunPass(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		done <- summary
	}()

	waitStarted(t, b, 3)
	cancel()

	var summary models.PassSummary
	select {
	case summary = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pass did not stop after cancellation")
	}
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 4, summary.Skipped, "products on the two unlisted pages")
	assert.Equal(t, 7, summary.Total+summary.Skipped)
}

func TestRunPass_DistributedLock(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 1, "$1")
	b := newBlockingReconciler()
	close(b.release)

	t.Run("held elsewhere", func(t *testing.T) {
		locker := &fakeLocker{held: true}
		s := NewScheduler(repo, b, Config{}, testLogger(), WithPassLocker(locker))
		_, err := s.RunPass(context.Background())
		assert.ErrorIs(t, err, ErrPassInProgress)
		assert.Zero(t, atomic.LoadInt32(&b.calls))
	})

	t.Run("acquired and released", func(t *testing.T) {
		locker := &fakeLocker{}
		s := NewScheduler(repo, b, Config{}, testLogger(), WithPassLocker(locker))
		summary, err := s.RunPass(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
		assert.Equal(t, 1, locker.released)
		assert.False(t, locker.held)
	})

	t.Run("renewed while running", func(t *testing.T) {
		blocked := newBlockingReconciler()
		locker := &fakeLocker{}
		s := NewScheduler(repo, blocked, Config{LockTTL: time.Minute, LockRenewInterval: 10 * time.Millisecond}, testLogger(), WithPassLocker(locker))

		done := make(chan error)
		go func() {
			_, err := s.RunPass(context.Background())
			done <- err
		}()
		waitStarted(t, blocked, 1)
		assert.Eventually(t, func() bool { return locker.extends.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

		close(blocked.release)
		require.NoError(t, <-done)
		assert.Equal(t, 1, locker.released)
	})

	t.Run("renewal failures end the pass", func(t *testing.T) {
		blocked := newBlockingReconciler()
		locker := &fakeLocker{extendErr: errors.New("lock not held")}
		publisher := &recordingPublisher{}
		s := NewScheduler(repo, blocked, Config{LockTTL: time.Minute, LockRenewInterval: 10 * time.Millisecond}, testLogger(),
			WithPassLocker(locker), WithSummaryPublisher(publisher))

		summary, err := s.RunPass(context.Background())
		assert.ErrorIs(t, err, ErrPassLockLost)
		assert.Equal(t, 1, summary.SearchFailed)
		assert.GreaterOrEqual(t, locker.extends.Load(), int32(maxRenewFailures))
		assert.Equal(t, 1, locker.released)
		assert.Equal(t, 1, publisher.count())
	})

	t.Run("lock backend error", func(t *testing.T) {
		locker := &fakeLocker{err: errors.New("redis unavailable")}
		s := NewScheduler(repo, b, Config{}, testLogger(), WithPassLocker(locker))
		_, err := s.RunPass(context.Background())
		assert.ErrorContains(t, err, "redis unavailable")
	})
}

type panickingReconciler struct{}

func (panickingReconciler) Reconcile(_ context.Context, p models.TrackedProduct) models.Outcome {
	if p.Title == "item-1" {
		panic("boom")
	}
	return models.Unchanged(&p)
}

func TestRunPass_RecoversPanics(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 3, "$1")
	s := NewScheduler(repo, panickingReconciler{}, Config{}, testLogger())

	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Unchanged)
	assert.Equal(t, 1, summary.SearchFailed)
}

func TestScheduler_StartStop(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 2, "$1")
	b := newBlockingReconciler()
	close(b.release)
	publisher := &recordingPublisher{}

	s := NewScheduler(repo, b, Config{Interval: time.Hour, RunOnStart: true}, testLogger(), WithSummaryPublisher(publisher))
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return publisher.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_TriggerAndStop(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 3, "$1")
	b := newBlockingReconciler()

	s := NewScheduler(repo, b, Config{Interval: time.Hour, Workers: 1}, testLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Trigger(context.Background()))
	waitStarted(t, b, 1)

	// Stop cancels the triggered pass instead of waiting for every product
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	last, ok := s.LastSummary()
	require.True(t, ok)
	assert.Equal(t, 3, last.Total+last.Skipped)
}

func TestScheduler_StopCancelsTriggeredPassWithoutStart(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 3, "$1")
	b := newBlockingReconciler()

	s := NewScheduler(repo, b, Config{Interval: time.Hour, Workers: 1}, testLogger())
	require.NoError(t, s.Trigger(context.Background()))
	waitStarted(t, b, 1)
	assert.False(t, s.IsRunning())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, StateIdle, s.State())
	last, ok := s.LastSummary()
	require.True(t, ok)
	assert.Equal(t, 1, last.SearchFailed)
	assert.Equal(t, 3, last.Total+last.Skipped)

	// The scheduler is usable again after Stop
	close(b.release)
	summary, err := s.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Unchanged)
}

func TestScheduler_Restart(t *testing.T) {
	repo := repositories.NewMemoryTrackedProductRepository()
	seedProducts(t, repo, 2, "$1")
	b := newBlockingReconciler()
	close(b.release)
	publisher := &recordingPublisher{}

	s := NewScheduler(repo, b, Config{Interval: time.Hour, RunOnStart: true}, testLogger(), WithSummaryPublisher(publisher))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Start(context.Background()))
		assert.True(t, s.IsRunning())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, s.Stop(ctx))
		cancel()
		assert.False(t, s.IsRunning())
	}
	// Stop waits for the loop, so both RunOnStart passes have finished
	assert.Equal(t, 2, publisher.count())
}

func TestNextDelay(t *testing.T) {
	s := NewScheduler(nil, nil, Config{Interval: time.Hour, Jitter: time.Minute}, testLogger())
	for i := 0; i < 50; i++ {
		d := s.nextDelay()
		assert.GreaterOrEqual(t, d, time.Hour)
		assert.Less(t, d, time.Hour+time.Minute)
	}

	s = NewScheduler(nil, nil, Config{}, testLogger())
	assert.Equal(t, DefaultInterval, s.nextDelay())
}
