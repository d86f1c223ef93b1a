package core

import (
	"context"
	"errors"
	"time"
)

// ExpirySweeper reclaims capacity from expired holds and stale orders. The
// leader lock only saves duplicate work; every item is still a guarded
// transition, so two sweepers racing each other release at most once.
type ExpirySweeper struct {
	svc *Service
}

func (w *ExpirySweeper) SweepOnce(ctx context.Context) (report SweepReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["skipped"] = report.Skipped
		fields["holds_expired"] = report.HoldsExpired
		fields["orders_cancelled"] = report.OrdersCancelled
		fields["reserved_expired"] = report.ReservedExpired
		fields["released_usd"] = report.Released
		fields["errors"] = report.Errors
		err = w.svc.complete(ctx, startedAt, "sweep", err, fields)
	}()

	if locker := w.svc.leaderLocker; locker != nil {
		handle, lockErr := locker.Acquire(ctx, w.svc.config.LeaderLockKey, w.svc.config.LeaderLockTTL)
		if lockErr != nil {
			if errors.Is(lockErr, ErrLeaderLockHeld) {
				return SweepReport{Skipped: true}, nil
			}
			return SweepReport{}, ExternalDependencyError(lockErr, "core: leader lock acquisition failed")
		}
		defer func() {
			if unlockErr := handle.Unlock(context.WithoutCancel(ctx)); unlockErr != nil {
				w.svc.logError(ctx, "leader lock release failed", map[string]any{"error": unlockErr.Error()})
			}
		}()
	}

	now := w.svc.clock()
	var sweepErr error

	holds, err := w.svc.store.ListHolds(ctx, HoldFilter{
		Status:    HoldStatusActive,
		ExpiresBy: &now,
		Limit:     w.svc.config.SweepBatchSize,
	})
	if err != nil {
		return report, err
	}
	for _, hold := range holds {
		expired, expireErr := w.svc.reservations.expireHold(ctx, hold)
		if expireErr != nil {
			report.Errors++
			sweepErr = errors.Join(sweepErr, expireErr)
			continue
		}
		if expired {
			report.HoldsExpired++
			report.Released += hold.AmountUSD
		}
	}

	paymentCutoff := now.Add(-w.svc.config.PaymentTimeout)
	cancelled, released, stageErr := w.cancelStale(ctx, OrderFilter{
		Statuses:               []OrderStatus{OrderStatusPaymentPending},
		PaymentInitiatedBefore: &paymentCutoff,
		Limit:                  w.svc.config.SweepBatchSize,
	}, CancelReasonPaymentTimeout, &report)
	report.OrdersCancelled += cancelled
	report.Released += released
	sweepErr = errors.Join(sweepErr, stageErr)

	if ttl := w.svc.config.ReservedOrderTTL; ttl > 0 {
		reservedCutoff := now.Add(-ttl)
		cancelled, released, stageErr = w.cancelStale(ctx, OrderFilter{
			Statuses:      []OrderStatus{OrderStatusReserved},
			CreatedBefore: &reservedCutoff,
			Limit:         w.svc.config.SweepBatchSize,
		}, CancelReasonReservationExpired, &report)
		report.ReservedExpired += cancelled
		report.Released += released
		sweepErr = errors.Join(sweepErr, stageErr)
	}

	return report, sweepErr
}

func (w *ExpirySweeper) cancelStale(ctx context.Context, filter OrderFilter, reason string, report *SweepReport) (int, int64, error) {
	orders, err := w.svc.store.ListOrders(ctx, filter)
	if err != nil {
		report.Errors++
		return 0, 0, err
	}
	var (
		cancelled int
		released  int64
		stageErr  error
	)
	for _, order := range orders {
		_, ok, cancelErr := w.svc.orders.cancelOrder(ctx, order, filter.Statuses, reason, SystemActor)
		if cancelErr != nil {
			report.Errors++
			stageErr = errors.Join(stageErr, cancelErr)
			continue
		}
		if ok {
			cancelled++
			released += order.AmountFaceUSD
		}
	}
	return cancelled, released, stageErr
}

// Run sweeps immediately and then on every SweepInterval tick until ctx ends.
// Sweep failures are logged and never stop the loop.
func (w *ExpirySweeper) Run(ctx context.Context) error {
	interval := w.svc.config.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		// failures are already logged by SweepOnce
		_, _ = w.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
