package service

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/robfig/cron"
	log "github.com/sirupsen/logrus"

	"server-commission-app/config"
	"server-commission-app/internal/app/reconcile"
)

var running int32

// ReconcileTicker runs the periodic reconciliation. A run still in progress
// makes the next tick a no-op.
func ReconcileTicker(ctx context.Context, rec *reconcile.Reconciler) *cron.Cron {
	c := cron.New()
	err := c.AddFunc(config.Reconcile.Schedule, func() { runReconcile(ctx, rec) })
	if err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "add reconcile job"))
		return c
	}
	c.Start()
	return c
}

func runReconcile(ctx context.Context, rec *reconcile.Reconciler) {
	if !atomic.CompareAndSwapInt32(&running, 0, 1) {
		log.Warn("reconcile still running, skip tick")
		return
	}
	defer atomic.StoreInt32(&running, 0)

	if _, err := rec.RunScheduled(ctx); err != nil {
		log.Errorf("err: %+v", errors.Wrap(err, "scheduled reconcile"))
	}
}
