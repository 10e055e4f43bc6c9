package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderEventAction string

const (
	OrderEventActionCreated       OrderEventAction = "CREATED"
	OrderEventActionStatusChanged OrderEventAction = "STATUS_CHANGED"
	OrderEventActionSettled       OrderEventAction = "SETTLED"
	OrderEventActionCancelled     OrderEventAction = "CANCELLED"
)

type OrderEventReferenceType string

const (
	OrderEventReferenceOrder        OrderEventReferenceType = "ORDER"
	OrderEventReferenceProject      OrderEventReferenceType = "PROJECT"
	OrderEventReferenceSubscription OrderEventReferenceType = "SUBSCRIPTION"
)

type OutboxPublishStatus = string

const (
	OutboxPublishStatusPending    OutboxPublishStatus = "PENDING"
	OutboxPublishStatusProcessing OutboxPublishStatus = "PROCESSING"
	OutboxPublishStatusSent       OutboxPublishStatus = "SENT"
	OutboxPublishStatusFailed     OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead       OutboxPublishStatus = "DEAD"
)

// OrderEventRecord is the transactional outbox row for order lifecycle
// events. It is written inside the mutation's DB transaction; the
// dispatcher publishes it to Pub/Sub after commit.
type OrderEventRecord struct {
	ID            int                     `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	CompanyId     int                     `gorm:"index;not null" json:"company_id"`
	EventDateTime time.Time               `gorm:"index;not null" json:"event_date_time"`
	ReferenceId   int                     `json:"reference_id"`
	ReferenceType OrderEventReferenceType `gorm:"type:enum('ORDER','PROJECT','SUBSCRIPTION')" json:"reference_type"`
	Action        OrderEventAction        `gorm:"type:enum('CREATED','STATUS_CHANGED','SETTLED','CANCELLED')" json:"action"`
	OldObj        []byte                  `gorm:"type:blob" json:"old_obj"`
	NewObj        []byte                  `gorm:"type:blob" json:"new_obj"`
	// publish happens after commit via the dispatcher
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToPubSubMessage(record OrderEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:            record.ID,
		CompanyId:     record.CompanyId,
		EventDateTime: record.EventDateTime,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// RecordOrderEvent writes the outbox row inside the caller's DB
// transaction. It never publishes; the dispatcher owns that after
// commit.
func RecordOrderEvent(ctx context.Context, tx *gorm.DB, companyId int, eventDateTime time.Time,
	refId int, refType OrderEventReferenceType, action OrderEventAction, oldObj interface{}, newObj interface{}) error {

	var oldInByte, newInByte []byte
	var err error

	if oldObj != nil {
		oldInByte, err = json.Marshal(oldObj)
		if err != nil {
			return err
		}
	}
	if newObj != nil {
		newInByte, err = json.Marshal(newObj)
		if err != nil {
			return err
		}
	}

	record := OrderEventRecord{
		CompanyId:     companyId,
		EventDateTime: eventDateTime,
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		OldObj:        oldInByte,
		NewObj:        newInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.WithContext(ctx).Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
