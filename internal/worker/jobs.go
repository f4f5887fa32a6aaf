package worker

import (
	"context"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/service"
	"github.com/shopspring/decimal"
)

const (
	JobMatcher        = "notification_matcher"
	JobExpiry         = "transaction_expiry"
	JobDeviceWatch    = "device_watchdog"
	JobRateRefresh    = "rate_refresh"
	JobReconciliation = "reconciliation"
)

// MatcherJob drains unprocessed notifications batch by batch until a batch
// comes back empty.
func MatcherJob(svc *service.MatcherService, every time.Duration) Job {
	return Job{Name: JobMatcher, Every: every, Run: func(ctx context.Context) error {
		for {
			n, err := svc.ProcessPending(ctx)
			if err != nil || n == 0 {
				return err
			}
		}
	}}
}

func ExpiryJob(svc *service.ExpiryService, every time.Duration) Job {
	return Job{Name: JobExpiry, Every: every, Run: func(ctx context.Context) error {
		_, err := svc.ExpireOverdue(ctx)
		return err
	}}
}

func DeviceWatchJob(svc *service.DeviceService, every time.Duration) Job {
	return Job{Name: JobDeviceWatch, Every: every, Run: func(ctx context.Context) error {
		_, err := svc.MarkStale(ctx)
		return err
	}}
}

// RateRefresher is implemented by rates.Cached.
type RateRefresher interface {
	Refresh(ctx context.Context) (decimal.Decimal, error)
}

func RateRefreshJob(r RateRefresher, every time.Duration) Job {
	return Job{Name: JobRateRefresh, Every: every, Run: func(ctx context.Context) error {
		_, err := r.Refresh(ctx)
		return err
	}}
}

// ReconciliationJob only fails when the check itself cannot run; imbalances
// are reported by the service.
func ReconciliationJob(svc *service.ReconciliationService, every time.Duration) Job {
	return Job{Name: JobReconciliation, Every: every, Run: func(ctx context.Context) error {
		_, err := svc.Run(ctx)
		return err
	}}
}
