package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CacheReconciler rebuilds a presence cache from the interval store
type CacheReconciler interface {
	Reconcile(ctx context.Context) (bool, error)
}

// ReconcileJob brings the poller's cache back in line with the store
type ReconcileJob struct {
	reconciler CacheReconciler
	timeout    time.Duration
	logger     *zap.Logger
}

// NewReconcileJob creates a new ReconcileJob instance
func NewReconcileJob(reconciler CacheReconciler, timeout time.Duration, logger *zap.Logger) *ReconcileJob {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ReconcileJob{
		reconciler: reconciler,
		timeout:    timeout,
		logger:     logger,
	}
}

// Run executes the reconcile job
func (j *ReconcileJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	ran, err := j.reconciler.Reconcile(ctx)
	if err != nil {
		j.logger.Error("Failed to reconcile presence cache", zap.Error(err))
		return
	}
	if !ran {
		j.logger.Debug("Poll tick in progress, skipping cache reconcile")
		return
	}
	j.logger.Debug("Presence cache reconciled with interval store")
}
