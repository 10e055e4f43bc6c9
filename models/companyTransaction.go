package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CompanyTransaction is the append-only budget ledger. Rows are never
// updated or deleted; corrections are new rows.
type CompanyTransaction struct {
	ID            int             `gorm:"primary_key" json:"id"`
	CompanyId     int             `gorm:"index;not null;index:idx_ct_company_date,priority:1" json:"company_id"`
	ProjectId     *int            `gorm:"index" json:"project_id"`
	EmployeeId    *int            `gorm:"index" json:"employee_id"`
	Type          TransactionType `gorm:"type:enum('Deposit','LunchDeduction','GuestOrder','Refund','ClientAppOrder');not null" json:"type"`
	Amount        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	ReferenceId   int             `gorm:"index" json:"reference_id"`
	Description   string          `gorm:"size:255" json:"description"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:idx_ct_company_date,priority:2" json:"created_at"`
}

func (t CompanyTransaction) GetCursor() string {
	return t.CreatedAt.Format("2006-01-02 15:04:05")
}

func (t CompanyTransaction) GetId() int {
	return t.ID
}

func createCompanyTransaction(tx *gorm.DB, ctx context.Context, record CompanyTransaction) error {
	if record.CompanyId <= 0 {
		return errors.New("company id is required")
	}
	if record.CorrelationId == "" {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			record.CorrelationId = v
		} else {
			record.CorrelationId = uuid.NewString()
		}
	}
	return tx.WithContext(ctx).Create(&record).Error
}

// CreateDeposit tops up a project budget outside the order flow.
func CreateDeposit(ctx context.Context, companyId int, projectId int, amount decimal.Decimal, description string) (*CompanyTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, utils.NewRuleError(utils.RuleCodeBudgetInsufficient, "deposit amount must be positive")
	}

	project, err := GetProject(ctx, companyId, projectId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.Begin()

	result := tx.WithContext(ctx).Model(&Project{}).
		Where("id = ? AND company_id = ?", project.ID, companyId).
		UpdateColumn("budget", gorm.Expr("budget + ?", amount))
	if result.Error != nil {
		tx.Rollback()
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return nil, utils.ErrorRecordNotFound
	}

	record := CompanyTransaction{
		CompanyId:   companyId,
		ProjectId:   &projectId,
		Type:        TransactionTypeDeposit,
		Amount:      amount,
		Description: description,
	}
	if err := createCompanyTransaction(tx, ctx, record); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	// drop the stale cached project balance
	utils.RemoveRedis[Project](projectId)
	return &record, nil
}

// PaginateCompanyTransactions pages the ledger newest first with a
// composite cursor.
func PaginateCompanyTransactions(ctx context.Context, companyId int, projectId *int,
	limit int, after *string) ([]Edge[CompanyTransaction], *PageInfo, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&CompanyTransaction{}).
		Where("company_id = ?", companyId)
	if projectId != nil && *projectId > 0 {
		dbCtx.Where("project_id = ?", *projectId)
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}
	return FetchPageCompositeCursor[CompanyTransaction](dbCtx, limit, after, "created_at", "<")
}
