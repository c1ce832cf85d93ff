package sweeper

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/acme/triple-line-dialer/internal/config"
	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
	"github.com/acme/triple-line-dialer/internal/service/callstatus"
	"github.com/acme/triple-line-dialer/pkg/logger"
)

const lockKey = "dialer:sweeper:lock"

// Locker grants a cluster-wide lease so only one sweeper acts per tick.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// StatusFetcher reads a call's current status from the telephony vendor.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, callID string) (domain.CallStatus, error)
}

var (
	preAnswer = []domain.CallStatus{domain.CallStatusInitiating, domain.CallStatusQueued, domain.CallStatusRinging}
	connected = []domain.CallStatus{domain.CallStatusAnswered, domain.CallStatusInProgress}
)

// Sweeper expires calls whose webhooks never arrived, reconciles long
// connected calls with the vendor and deletes terminal rows past retention.
type Sweeper struct {
	calls      repository.CallRepository
	status     *callstatus.Manager
	terminator *callstatus.Terminator
	vendor     StatusFetcher
	locker     Locker
	cfg        config.SweeperConfig
	log        *logger.Logger
	now        func() time.Time
}

// Stats reports what one tick did.
type Stats struct {
	Expired    int
	Reconciled int
	Deleted    int64
	Skipped    bool
}

// New constructs a sweeper. locker may be nil for single-instance runs.
func New(
	calls repository.CallRepository,
	status *callstatus.Manager,
	terminator *callstatus.Terminator,
	vendor StatusFetcher,
	locker Locker,
	cfg config.SweeperConfig,
	log *logger.Logger,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.MaxCallDuration <= 0 {
		cfg.MaxCallDuration = 4 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Sweeper{
		calls:      calls,
		status:     status,
		terminator: terminator,
		vendor:     vendor,
		locker:     locker,
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps every interval until cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("sweeper tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one sweep.
func (s *Sweeper) Tick(ctx context.Context) (Stats, error) {
	var stats Stats
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.Interval)
		if err != nil {
			return stats, err
		}
		if !ok {
			stats.Skipped = true
			return stats, nil
		}
		defer func() {
			if err := unlock(context.Background()); err != nil {
				s.log.Warn("sweeper unlock", zap.Error(err))
			}
		}()
	}

	tracer := otel.Tracer("dialer.sweeper")
	sctx, span := tracer.Start(ctx, "sweeper.tick")
	defer span.End()

	now := s.now()

	// A call that never got past ringing has outlived any vendor ring timeout.
	stale, err := s.calls.ListStale(sctx, preAnswer, now.Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}
	for _, c := range stale {
		out, err := s.terminator.End(sctx, c, domain.CallStatusFailed, "")
		if err != nil {
			s.log.ForCall(c.CallID, c.UserID).Error("expire stale call", zap.Error(err))
			continue
		}
		if !out.AlreadyEnded {
			stats.Expired++
		}
	}

	// Connected calls get no callbacks until they finish, so only the vendor
	// can say whether a long one is still live.
	long, err := s.calls.ListStale(sctx, connected, now.Add(-s.cfg.MaxCallDuration), s.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}
	for _, c := range long {
		if s.reconcile(sctx, c) {
			stats.Reconciled++
		}
	}

	stats.Deleted, err = s.calls.DeleteTerminalBefore(sctx, now.Add(-s.cfg.Retention), s.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		return stats, err
	}

	span.SetAttributes(
		attribute.Int("expired", stats.Expired),
		attribute.Int("reconciled", stats.Reconciled),
		attribute.Int64("deleted", stats.Deleted),
	)
	if stats.Expired > 0 || stats.Reconciled > 0 || stats.Deleted > 0 {
		s.log.Info("sweeper tick",
			zap.Int("expired", stats.Expired),
			zap.Int("reconciled", stats.Reconciled),
			zap.Int64("deleted", stats.Deleted),
		)
	}
	return stats, nil
}

// reconcile records the vendor's terminal status for a connected call whose
// completion callback was lost. Calls the vendor still reports live are left
// alone.
func (s *Sweeper) reconcile(ctx context.Context, c domain.ActiveCall) bool {
	if s.vendor == nil {
		return false
	}
	lg := s.log.ForCall(c.CallID, c.UserID)
	st, err := s.vendor.FetchStatus(ctx, c.CallID)
	if err != nil {
		lg.Warn("fetch vendor status", zap.Error(err))
		return false
	}
	if !st.IsTerminal() {
		return false
	}
	res, err := s.status.Apply(ctx, callstatus.Update{
		CallID: c.CallID,
		Status: st,
		Source: domain.StatusSourceSystem,
	})
	if err != nil {
		lg.Warn("apply vendor status", zap.String("status", string(st)), zap.Error(err))
		return false
	}
	return res.Changed
}
