package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"gorm.io/gorm"
)

const EventTypeReconciliationCompleted = "reconciliation.completed"

// Outbox publish statuses for OutboxMessageRecord.PublishStatus.
// Keep these as strings (DB values) for backwards compatibility.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// OutboxMessageRecord is one reconciliation-completed event awaiting publish.
// Rows are written in the same transaction as their reconciliation run; the
// dispatcher (or the direct processor in dev) drains them after commit.
type OutboxMessageRecord struct {
	ID            int    `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	RunId         string `gorm:"size:64;not null;index" json:"run_id"`
	EventType     string `gorm:"size:50;not null" json:"event_type"`
	InvoiceNumber string `gorm:"size:100;index" json:"invoice_number"`
	Payload       []byte `gorm:"type:json" json:"payload"`
	// Publish bookkeeping (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	// Direct-processor bookkeeping (dev mode, no Pub/Sub).
	IsProcessed   bool       `gorm:"index;not null" json:"is_processed"`
	ProcessedAt   *time.Time `gorm:"index" json:"processed_at"`
	CorrelationId string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToPubSubMessage(record OutboxMessageRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		RunId:         record.RunId,
		EventType:     record.EventType,
		InvoiceNumber: record.InvoiceNumber,
		CompletedAt:   record.CreatedAt,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}

// OutboxStatus is a UI-facing view of the latest outbox row for a run.
type OutboxStatus struct {
	RecordId         int        `json:"record_id"`
	RunId            string     `json:"run_id"`
	EventType        string     `json:"event_type"`
	PublishStatus    string     `json:"publish_status"`
	IsProcessed      bool       `json:"is_processed"`
	PublishAttempts  int        `json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `json:"last_publish_error"`
	CreatedAt        time.Time  `json:"created_at"`
	PublishedAt      *time.Time `json:"published_at"`
	ProcessedAt      *time.Time `json:"processed_at"`
}

func GetOutboxStatus(ctx context.Context, runId string) (*OutboxStatus, error) {
	db := config.GetDB()
	var rec OutboxMessageRecord
	if err := db.WithContext(ctx).
		Where("run_id = ?", runId).
		Order("id DESC").
		First(&rec).Error; err != nil {
		return nil, err
	}

	return &OutboxStatus{
		RecordId:         rec.ID,
		RunId:            rec.RunId,
		EventType:        rec.EventType,
		PublishStatus:    rec.PublishStatus,
		IsProcessed:      rec.IsProcessed,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
		ProcessedAt:      rec.ProcessedAt,
	}, nil
}

// RequeueOutboxForRun resets a run's outbox rows so the dispatcher picks them
// up again. Rows already SENT stay sent.
func RequeueOutboxForRun(ctx context.Context, runId string) (*OutboxStatus, error) {
	db := config.GetDB()

	res := db.WithContext(ctx).
		Model(&OutboxMessageRecord{}).
		Where("run_id = ? AND publish_status <> ?", runId, OutboxPublishStatusSent).
		Updates(map[string]interface{}{
			"locked_at":          nil,
			"locked_by":          nil,
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return GetOutboxStatus(ctx, runId)
}

// RequeueDeadOutboxRows revives every DEAD row. Internal ops only.
func RequeueDeadOutboxRows(ctx context.Context) (int64, error) {
	db := config.GetDB()

	res := db.WithContext(ctx).
		Model(&OutboxMessageRecord{}).
		Where("publish_status = ?", OutboxPublishStatusDead).
		Updates(map[string]interface{}{
			"locked_at":          nil,
			"locked_by":          nil,
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
