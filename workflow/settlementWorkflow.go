package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/models"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SettlementWorker completes each project's orders for the current
// company-local day once the cutoff has passed and debits the project
// budget for the batch. It is the only mover of orders from Active to
// Completed.
type SettlementWorker struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Clock        utils.Clock
	WorkerID     string
	PollInterval time.Duration
}

func NewSettlementWorker(db *gorm.DB, logger *logrus.Logger) *SettlementWorker {
	return &SettlementWorker{
		DB:           db,
		Logger:       logger,
		Clock:        utils.SystemClock{},
		WorkerID:     uuid.NewString(),
		PollInterval: 20 * time.Minute,
	}
}

func (w *SettlementWorker) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.settleOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.PollInterval):
		}
	}
}

func (w *SettlementWorker) settleOnce(ctx context.Context) {
	jobCtx := utils.NewJobContext(ctx, uuid.NewString())

	companies, err := models.ListActiveCompanies(jobCtx)
	if err != nil {
		config.LogError(w.Logger, "workflow", "settleOnce", "list companies", nil, err)
		return
	}

	now := w.Clock.Now()
	for _, company := range companies {
		// a misconfigured timezone must not stall the whole run
		loc := models.LoadLocationOrDefault(company.Timezone)
		cutoff, err := models.ParseCutoffTime(company.CutoffTime)
		if err != nil {
			config.LogError(w.Logger, "workflow", "settleOnce", "parse cutoff", company.ID, err)
			continue
		}
		local := now.In(loc)
		cutoffAt := time.Date(local.Year(), local.Month(), local.Day(), cutoff.Hour, cutoff.Minute, 0, 0, loc)
		if !local.After(cutoffAt) {
			continue
		}

		w.settleCompany(jobCtx, company, local)
	}
}

func (w *SettlementWorker) settleCompany(ctx context.Context, company *models.Company, day time.Time) {
	companyCtx := utils.SetCompanyIdInContext(ctx, company.ID)

	projects, err := models.ListActiveProjects(companyCtx, company.ID)
	if err != nil {
		config.LogError(w.Logger, "workflow", "settleCompany", "list projects", company.ID, err)
		return
	}

	for _, project := range projects {
		// best effort: skip a project another replica is settling right
		// now; the row locks inside the transaction stay authoritative
		var release func()
		if locker := config.GetRedisLock(); locker != nil {
			lock, lockErr := locker.Obtain(companyCtx, fmt.Sprintf("settlement:project:%d", project.ID), time.Minute, nil)
			if lockErr != nil {
				continue
			}
			release = func() { _ = lock.Release(companyCtx) }
		}

		summary, err := models.SettleProjectDay(companyCtx, company, project, day, w.Clock)
		if release != nil {
			release()
		}
		if err != nil {
			// per-project isolation: log and move on
			config.LogError(w.Logger, "workflow", "settleCompany", "settle project", project.ID, err)
			continue
		}
		if summary.OrdersCompleted > 0 || summary.CompensationsPaid > 0 {
			w.Logger.WithFields(logrus.Fields{
				"module":       "settlement",
				"worker_id":    w.WorkerID,
				"company_id":   company.ID,
				"project_id":   project.ID,
				"orders":       summary.OrdersCompleted,
				"compensation": summary.CompensationsPaid,
				"amount":       summary.AmountDebited.String(),
			}).Info("project settled")
		}
	}
}
