package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/models"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RenewalWorker rolls expired company subscriptions into their next
// period. It first sleeps until the next UTC midnight, then ticks every
// 24 hours.
type RenewalWorker struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Clock    utils.Clock
	WorkerID string
	Interval time.Duration
}

func NewRenewalWorker(db *gorm.DB, logger *logrus.Logger) *RenewalWorker {
	return &RenewalWorker{
		DB:       db,
		Logger:   logger,
		Clock:    utils.SystemClock{},
		WorkerID: uuid.NewString(),
		Interval: 24 * time.Hour,
	}
}

func (w *RenewalWorker) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := w.Clock.Now().UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	select {
	case <-ctx.Done():
		return
	case <-time.After(nextMidnight.Sub(now)):
	}

	for {
		w.renewOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.Interval):
		}
	}
}

func (w *RenewalWorker) renewOnce(ctx context.Context) {
	jobCtx := utils.NewJobContext(ctx, uuid.NewString())

	due, err := models.ListDueCompanySubscriptions(jobCtx, w.Clock.Now().UTC())
	if err != nil {
		config.LogError(w.Logger, "workflow", "renewOnce", "list due subscriptions", nil, err)
		return
	}

	for _, sub := range due {
		companyCtx := utils.SetCompanyIdInContext(jobCtx, sub.CompanyId)
		if err := models.RenewCompanySubscription(companyCtx, sub, w.Clock); err != nil {
			// per-subscription isolation: log and move on
			config.LogError(w.Logger, "workflow", "renewOnce", "renew subscription", sub.ID, err)
			continue
		}
		w.Logger.WithFields(logrus.Fields{
			"module":          "renewal",
			"worker_id":       w.WorkerID,
			"company_id":      sub.CompanyId,
			"subscription_id": sub.ID,
		}).Info("subscription renewed")
	}
}
