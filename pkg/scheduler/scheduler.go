package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	appctx "github.com/Ramsey-B/pricewise/pkg/context"
	"github.com/Ramsey-B/pricewise/pkg/metrics"
	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/tracing"
)

var (
	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

	// ErrPassInProgress is returned when a pass is requested while another holds the pass lock
	ErrPassInProgress = errors.New("reconciliation pass already in progress")

	// ErrPassLockLost ends a pass whose cross-process lock could not be renewed
	ErrPassLockLost = errors.New("pass lock lost")
)

const (
	DefaultInterval    = 6 * time.Hour
	DefaultWorkers     = 4
	DefaultPageSize    = 100
	DefaultItemTimeout = time.Minute
	DefaultLockTTL     = 2 * time.Hour

	// Consecutive renewal failures before a pass gives up its lock
	maxRenewFailures = 2
	countTimeout     = 5 * time.Second
)

// State is the pass state: Idle between passes, Running during one.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Store enumerates tracked products in pages ordered by id
type Store interface {
	ListTracked(ctx context.Context, after uuid.UUID, limit int) ([]models.TrackedProduct, error)
	CountTracked(ctx context.Context, after uuid.UUID) (int, error)
}

// Reconciler turns one product into one outcome
type Reconciler interface {
	Reconcile(ctx context.Context, product models.TrackedProduct) models.Outcome
}

// PassLocker guards passes across processes. ok is false when another
// process holds the lock.
type PassLocker interface {
	TryLock(ctx context.Context, ttl time.Duration) (lease PassLease, ok bool, err error)
}

// PassLease is a held pass lock. The pass renews it until it finishes.
type PassLease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// SummaryPublisher receives the summary of every finished pass
type SummaryPublisher interface {
	PublishPassSummary(ctx context.Context, summary models.PassSummary) error
}

// Config holds configuration for the scheduler
type Config struct {
	// Interval between the end of one scheduled pass and the start of the next
	Interval time.Duration

	// Jitter is the maximum random delay added to each interval
	Jitter time.Duration

	// RunOnStart runs a pass as soon as the scheduler starts
	RunOnStart bool

	// Workers bounds concurrent products within a pass
	Workers int

	// PageSize is the number of products loaded per store read
	PageSize int

	// ItemTimeout bounds one product's search and write
	ItemTimeout time.Duration

	// LockTTL is how long the cross-process pass lock lives if never released
	LockTTL time.Duration

	// LockRenewInterval is how often a running pass extends its lock.
	// Defaults to a third of LockTTL.
	LockRenewInterval time.Duration
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Interval:    DefaultInterval,
		Workers:     DefaultWorkers,
		PageSize:    DefaultPageSize,
		ItemTimeout: DefaultItemTimeout,
		LockTTL:     DefaultLockTTL,
	}
}

type Option func(*Scheduler)

// WithPassLocker adds a cross-process lock on top of the in-process guard.
func WithPassLocker(l PassLocker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithSummaryPublisher(p SummaryPublisher) Option {
	return func(s *Scheduler) { s.publisher = p }
}

// Scheduler runs reconciliation passes on a fixed interval
type Scheduler struct {
	store      Store
	reconciler Reconciler
	locker     PassLocker
	publisher  SummaryPublisher
	config     Config
	logger     ectologger.Logger

	// One pass at a time per process
	passSem *semaphore.Weighted
	passes  sync.WaitGroup

	// Coordination. life is cancelled by Stop and bounds the loop and
	// every triggered pass; it is recreated on first use after a Stop.
	life       context.Context
	lifeCancel context.CancelFunc
	stopCh     chan struct{}
	stoppedC   chan struct{}
	running    bool
	state      State
	last       *models.PassSummary
	mu         sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(store Store, reconciler Reconciler, config Config, logger ectologger.Logger, opts ...Option) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Jitter < 0 {
		config.Jitter = 0
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.PageSize <= 0 {
		config.PageSize = DefaultPageSize
	}
	if config.ItemTimeout <= 0 {
		config.ItemTimeout = DefaultItemTimeout
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.LockRenewInterval <= 0 || config.LockRenewInterval >= config.LockTTL {
		config.LockRenewInterval = config.LockTTL / 3
	}

	s := &Scheduler{
		store:      store,
		reconciler: reconciler,
		config:     config,
		logger:     logger,
		passSem:    semaphore.NewWeighted(1),
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the scheduler loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})
	stopCh, stoppedC := s.stopCh, s.stoppedC
	runCtx, release := detach(ctx, s.lifeLocked())
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting price tracker scheduler: interval=%s jitter=%s workers=%d page_size=%d",
		s.config.Interval, s.config.Jitter, s.config.Workers, s.config.PageSize)

	go func() {
		defer close(stoppedC)
		defer release()
		s.loop(runCtx, stopCh)
	}()
	return nil
}

// Stop stops the loop, cancels any in-flight pass (scheduled or triggered)
// and waits for it to wind down
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	stopCh, stoppedC := s.stopCh, s.stoppedC
	lifeCancel := s.lifeCancel
	s.running = false
	s.life, s.lifeCancel = nil, nil
	s.mu.Unlock()

	if lifeCancel == nil {
		return nil
	}

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	if wasRunning {
		close(stopCh)
	}
	lifeCancel()

	done := make(chan struct{})
	go func() {
		if wasRunning {
			<-stoppedC
		}
		s.passes.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
	return nil
}

// lifeLocked returns the context Stop cancels. s.mu must be held.
func (s *Scheduler) lifeLocked() context.Context {
	if s.life == nil {
		s.life, s.lifeCancel = context.WithCancel(context.Background())
	}
	return s.life
}

// detach returns a context carrying ctx's values that ends when life does,
// not when ctx does.
func detach(ctx, life context.Context) (context.Context, context.CancelFunc) {
	bound, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(life, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

// IsRunning returns whether the scheduler loop is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// State returns whether a pass is currently in flight
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastSummary returns the summary of the most recent finished pass
func (s *Scheduler) LastSummary() (models.PassSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return models.PassSummary{}, false
	}
	return *s.last, true
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}) {
	if s.config.RunOnStart {
		s.runScheduled(ctx)
	}

	for {
		timer := time.NewTimer(s.nextDelay())
		select {
		case <-stopCh:
			timer.Stop()
			s.logger.WithContext(ctx).Debug("Scheduler loop stopping")
			return
		case <-timer.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Scheduler) nextDelay() time.Duration {
	if s.config.Jitter <= 0 {
		return s.config.Interval
	}
	return s.config.Interval + rand.N(s.config.Jitter)
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if _, err := s.RunPass(ctx); err != nil {
		if errors.Is(err, ErrPassInProgress) {
			s.logger.WithContext(ctx).Info("Previous reconciliation pass still running, skipping this one")
			return
		}
		s.logger.WithContext(ctx).WithError(err).Error("Reconciliation pass ended early")
	}
}

// Trigger starts a pass in the background and returns at once. It returns
// ErrPassInProgress if a pass is already running in this process.
func (s *Scheduler) Trigger(ctx context.Context) error {
	if !s.passSem.TryAcquire(1) {
		metrics.RecordSkippedPass()
		return ErrPassInProgress
	}

	// The pass outlives the request that triggered it, but not Stop.
	s.mu.Lock()
	passCtx, release := detach(ctx, s.lifeLocked())
	s.passes.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.passes.Done()
		defer s.passSem.Release(1)
		defer release()
		if _, err := s.runPass(passCtx); err != nil && !errors.Is(err, ErrPassInProgress) {
			s.logger.WithContext(passCtx).WithError(err).Error("Triggered reconciliation pass ended early")
		}
	}()
	return nil
}

// RunPass runs one pass over every tracked product and returns its summary.
// Per-product failures never end the pass; only a failed store read, a lost
// pass lock or ctx cancellation does, and the partial summary is still
// returned.
func (s *Scheduler) RunPass(ctx context.Context) (models.PassSummary, error) {
	if !s.passSem.TryAcquire(1) {
		metrics.RecordSkippedPass()
		return models.PassSummary{}, ErrPassInProgress
	}
	defer s.passSem.Release(1)
	return s.runPass(ctx)
}

func (s *Scheduler) runPass(ctx context.Context) (models.PassSummary, error) {
	ctx, endPass := context.WithCancelCause(ctx)
	defer endPass(nil)

	if s.locker != nil {
		lease, ok, err := s.locker.TryLock(ctx, s.config.LockTTL)
		if err != nil {
			return models.PassSummary{}, fmt.Errorf("failed to acquire pass lock: %w", err)
		}
		if !ok {
			metrics.RecordSkippedPass()
			return models.PassSummary{}, ErrPassInProgress
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to release pass lock")
			}
		}()
		stopRenew := s.renewLease(ctx, lease, endPass)
		defer stopRenew()
	}

	summary := models.PassSummary{PassID: uuid.NewString(), StartedAt: time.Now().UTC()}
	ctx = appctx.SetPassID(ctx, summary.PassID)
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunPass")
	defer span.End()

	s.setState(StateRunning)
	defer s.setState(StateIdle)

	s.logger.WithContext(ctx).WithField("pass_id", summary.PassID).Info("Running background price update")

	var passErr error
	after := uuid.Nil
	for {
		if ctx.Err() != nil {
			passErr = context.Cause(ctx)
			break
		}

		page, err := s.store.ListTracked(ctx, after, s.config.PageSize)
		if err != nil {
			passErr = fmt.Errorf("failed to list tracked products: %w", err)
			if ctx.Err() != nil {
				passErr = context.Cause(ctx)
			}
			break
		}
		if len(page) == 0 {
			break
		}

		for _, outcome := range s.runPage(ctx, page) {
			if outcome == nil {
				summary.Skipped++
				continue
			}
			summary.Add(*outcome)
		}
		after = page[len(page)-1].ID

		if ctx.Err() != nil {
			passErr = context.Cause(ctx)
			break
		}
		if len(page) < s.config.PageSize {
			break
		}
	}

	// Pages never listed count as skipped too
	if passErr != nil && ctx.Err() != nil {
		summary.Skipped += s.countRemaining(ctx, after)
	}

	summary.FinishedAt = time.Now().UTC()
	span.SetAttributes(
		attribute.Int("pass.total", summary.Total),
		attribute.Int("pass.updated", summary.Updated),
		attribute.Int("pass.failed", summary.Failed()),
		attribute.Int("pass.skipped", summary.Skipped),
	)
	s.finishPass(ctx, summary, passErr)
	return summary, passErr
}

// renewLease extends the pass lock every LockRenewInterval until the returned
// func is called. After maxRenewFailures consecutive failures the pass is
// ended with ErrPassLockLost so two replicas never run at once.
func (s *Scheduler) renewLease(ctx context.Context, lease PassLease, endPass context.CancelCauseFunc) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.config.LockRenewInterval)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			err := lease.Extend(ctx, s.config.LockTTL)
			if err == nil {
				failures = 0
				continue
			}
			if ctx.Err() != nil {
				return
			}
			failures++
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to renew pass lock (%d/%d)", failures, maxRenewFailures)
			if failures >= maxRenewFailures {
				endPass(fmt.Errorf("%w: %w", ErrPassLockLost, err))
				return
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) countRemaining(ctx context.Context, after uuid.UUID) int {
	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), countTimeout)
	defer cancel()

	n, err := s.store.CountTracked(countCtx, after)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to count products left by the pass")
		return 0
	}
	return n
}

// runPage reconciles one page with at most Workers products in flight.
// Products not started because ctx was cancelled are left nil.
func (s *Scheduler) runPage(ctx context.Context, page []models.TrackedProduct) []*models.Outcome {
	results := make([]*models.Outcome, len(page))

	var g errgroup.Group
	g.SetLimit(s.config.Workers)
	for i := range page {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome := s.reconcileOne(ctx, page[i])
			results[i] = &outcome
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (s *Scheduler) reconcileOne(ctx context.Context, product models.TrackedProduct) (outcome models.Outcome) {
	itemCtx, cancel := context.WithTimeout(ctx, s.config.ItemTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("reconcile panicked: %v", r)
			s.logger.WithContext(ctx).WithError(err).Errorf("Recovered while reconciling %s", product.ProductID)
			outcome = models.SearchFailed(&product, err)
		}
	}()

	return s.reconciler.Reconcile(itemCtx, product)
}

func (s *Scheduler) finishPass(ctx context.Context, summary models.PassSummary, passErr error) {
	result := "completed"
	switch {
	case errors.Is(passErr, ErrPassLockLost):
		result = "failed"
	case errors.Is(passErr, context.Canceled), errors.Is(passErr, context.DeadlineExceeded):
		result = "cancelled"
	case passErr != nil:
		result = "failed"
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"pass_id":       summary.PassID,
		"result":        result,
		"total":         summary.Total,
		"updated":       summary.Updated,
		"unchanged":     summary.Unchanged,
		"no_match":      summary.NoMatch,
		"search_failed": summary.SearchFailed,
		"store_failed":  summary.StoreFailed,
		"skipped":       summary.Skipped,
		"duration":      summary.Duration().String(),
	})
	if passErr != nil {
		log = log.WithError(passErr)
	}
	log.Infof("Reconciliation pass %s: %d products, %d updated, %d unchanged, %d failed",
		result, summary.Total, summary.Updated, summary.Unchanged, summary.Failed())

	metrics.RecordPass(result, summary.Duration().Seconds(), map[string]int{
		"total":         summary.Total,
		"updated":       summary.Updated,
		"unchanged":     summary.Unchanged,
		"no_match":      summary.NoMatch,
		"search_failed": summary.SearchFailed,
		"store_failed":  summary.StoreFailed,
		"skipped":       summary.Skipped,
	})

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.PublishPassSummary(context.WithoutCancel(ctx), summary); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("Failed to publish pass summary")
		}
	}
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
