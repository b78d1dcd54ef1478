package main

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxDeadWatcher periodically counts DEAD outbox rows and logs when any
// exist. DEAD rows never retry on their own; an operator redrives them through
// the internal ops endpoint or the outbox-redrive tool.
type OutboxDeadWatcher struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Interval time.Duration
}

func NewOutboxDeadWatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDeadWatcher {
	return &OutboxDeadWatcher{
		DB:       db,
		Logger:   logger,
		Interval: 5 * time.Minute,
	}
}

func (w *OutboxDeadWatcher) Run(ctx context.Context) {
	if w == nil || w.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.checkOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

func (w *OutboxDeadWatcher) checkOnce(ctx context.Context) {
	var count int64
	if err := w.DB.WithContext(ctx).Model(&models.OutboxMessageRecord{}).
		Where("publish_status = ?", models.OutboxPublishStatusDead).
		Count(&count).Error; err != nil {
		if w.Logger != nil {
			w.Logger.WithFields(logrus.Fields{
				"field": "OutboxDeadWatcher",
			}).Warn("failed to count DEAD outbox rows: " + err.Error())
		}
		return
	}
	if count == 0 {
		return
	}
	if w.Logger != nil {
		w.Logger.WithFields(logrus.Fields{
			"field":     "OutboxDeadWatcher",
			"dead_rows": count,
		}).Warn("outbox rows are DEAD and need manual redrive")
	}
}
