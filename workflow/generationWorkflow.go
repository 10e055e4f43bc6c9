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

// GenerationWorker materializes orders from lunch subscriptions once an
// hour. Generation is idempotent, so reruns after a crash or a deploy
// only fill whatever the previous tick missed.
type GenerationWorker struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Clock        utils.Clock
	WorkerID     string
	PollInterval time.Duration
}

func NewGenerationWorker(db *gorm.DB, logger *logrus.Logger) *GenerationWorker {
	return &GenerationWorker{
		DB:           db,
		Logger:       logger,
		Clock:        utils.SystemClock{},
		WorkerID:     uuid.NewString(),
		PollInterval: time.Hour,
	}
}

func (w *GenerationWorker) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.generateOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.PollInterval):
		}
	}
}

func (w *GenerationWorker) generateOnce(ctx context.Context) {
	jobCtx := utils.NewJobContext(ctx, uuid.NewString())

	companies, err := models.ListActiveCompanies(jobCtx)
	if err != nil {
		config.LogError(w.Logger, "workflow", "generateOnce", "list companies", nil, err)
		return
	}

	for _, company := range companies {
		if config.AutoGenerationDisabledFor(company.ID) {
			continue
		}
		companyCtx := utils.SetCompanyIdInContext(jobCtx, company.ID)

		summary, err := models.GenerateCompanyOrders(companyCtx, company, w.Clock)
		if err != nil {
			// per-company isolation: log and move on
			config.LogError(w.Logger, "workflow", "generateOnce", "generate orders", company.ID, err)
			continue
		}
		if summary.OrdersCreated > 0 || summary.CompensationsRun > 0 {
			w.Logger.WithFields(logrus.Fields{
				"module":        "generation",
				"worker_id":     w.WorkerID,
				"company_id":    company.ID,
				"orders":        summary.OrdersCreated,
				"compensations": summary.CompensationsRun,
				"skipped":       summary.Skipped,
			}).Info("orders generated")
		}
	}
}
