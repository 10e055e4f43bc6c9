package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Project struct {
	ID             int             `gorm:"primary_key" json:"id"`
	CompanyId      int             `gorm:"index;not null;index:idx_project_company_status,priority:1" json:"company_id"`
	Name           string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Address        string          `gorm:"size:255" json:"address"`
	Budget         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"budget"`
	OverdraftLimit decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"overdraft_limit"`
	Status         ProjectStatus   `gorm:"type:enum('Active','Archived');default:'Active';index:idx_project_company_status,priority:2" json:"status"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetProject fetches a project scoped to ctx's company, redis first.
// A project belonging to another company comes back as RecordNotFound,
// never as a permission error.
func GetProject(ctx context.Context, companyId int, projectId int) (*Project, error) {
	result, err := utils.RetrieveRedis[Project](projectId)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchModel[Project](ctx, companyId, projectId)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[Project](result, projectId); err != nil {
			return nil, err
		}
	} else if result.CompanyId != companyId {
		return nil, utils.ErrorRecordNotFound
	}
	return result, nil
}

// HasBudgetFor reports whether budget plus the overdraft allowance
// covers amount. Used as a precheck only; the debit itself re-guards in
// SQL.
func (p *Project) HasBudgetFor(amount decimal.Decimal) bool {
	return p.Budget.Add(p.OverdraftLimit).GreaterThanOrEqual(amount)
}

// DeductProjectBudget applies a relative debit inside the caller's
// transaction and appends the matching ledger row. The WHERE guard on
// the available balance makes concurrent debits serialize on the row
// and keeps the balance from crossing the overdraft floor.
func DeductProjectBudget(tx *gorm.DB, ctx context.Context, project *Project, amount decimal.Decimal,
	txType TransactionType, referenceId int, description string) error {

	if amount.IsNegative() {
		return utils.NewRuleError(utils.RuleCodeBudgetInsufficient, "debit amount cannot be negative")
	}

	result := tx.WithContext(ctx).Model(&Project{}).
		Where("id = ? AND company_id = ?", project.ID, project.CompanyId).
		Where("budget + overdraft_limit >= ?", amount).
		UpdateColumn("budget", gorm.Expr("budget - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewRuleError(utils.RuleCodeBudgetInsufficient,
			"project %q requires %s %s but the available budget is %s %s",
			project.Name, amount.String(), Currency, project.Budget.Add(project.OverdraftLimit).String(), Currency)
	}

	return createCompanyTransaction(tx, ctx, CompanyTransaction{
		CompanyId:   project.CompanyId,
		ProjectId:   utils.NilIfEmpty(project.ID),
		Type:        txType,
		Amount:      amount.Neg(),
		ReferenceId: referenceId,
		Description: description,
	})
}

// RefundProjectBudget credits the project budget and appends a Refund
// ledger row.
func RefundProjectBudget(tx *gorm.DB, ctx context.Context, project *Project, amount decimal.Decimal,
	referenceId int, description string) error {

	if amount.IsNegative() {
		return utils.NewRuleError(utils.RuleCodeBudgetInsufficient, "refund amount cannot be negative")
	}

	result := tx.WithContext(ctx).Model(&Project{}).
		Where("id = ? AND company_id = ?", project.ID, project.CompanyId).
		UpdateColumn("budget", gorm.Expr("budget + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}

	return createCompanyTransaction(tx, ctx, CompanyTransaction{
		CompanyId:   project.CompanyId,
		ProjectId:   utils.NilIfEmpty(project.ID),
		Type:        TransactionTypeRefund,
		Amount:      amount,
		ReferenceId: referenceId,
		Description: description,
	})
}

// ListActiveProjects returns every Active project of a company, for the
// settlement and generation jobs.
func ListActiveProjects(ctx context.Context, companyId int) ([]*Project, error) {
	db := config.GetDB()
	var projects []*Project
	err := db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyId, ProjectStatusActive).
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}
