package job

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestReconcileJob_Run(t *testing.T) {
	reconciler := new(MockCacheReconciler)
	reconciler.On("Reconcile", mock.Anything).Return(true, nil).Once()

	NewReconcileJob(reconciler, 0, zap.NewNop()).Run()

	reconciler.AssertExpectations(t)
}

func TestReconcileJob_SkippedOrFailed(t *testing.T) {
	reconciler := new(MockCacheReconciler)
	reconciler.On("Reconcile", mock.Anything).Return(false, nil).Once()
	reconciler.On("Reconcile", mock.Anything).Return(false, errors.New("store unavailable")).Once()

	job := NewReconcileJob(reconciler, 0, zap.NewNop())
	job.Run()
	job.Run()

	reconciler.AssertNumberOfCalls(t, "Reconcile", 2)
}
