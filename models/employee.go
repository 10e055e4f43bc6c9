package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Employee struct {
	ID          int         `gorm:"primary_key" json:"id"`
	CompanyId   int         `gorm:"index;not null" json:"company_id"`
	ProjectId   *int        `gorm:"index" json:"project_id"`
	Name        string      `gorm:"size:255;not null" json:"name" binding:"required"`
	Phone       string      `gorm:"size:20" json:"phone"`
	ServiceType ServiceType `gorm:"type:enum('Catering','Compensation');default:'Catering'" json:"service_type"`
	// WorkingDays overrides the company schedule when set.
	WorkingDays string         `gorm:"size:64" json:"working_days"`
	IsActive    *bool          `gorm:"not null;default:true" json:"is_active"`
	IsFrozen    *bool          `gorm:"not null;default:false" json:"is_frozen"`
	Budget      EmployeeBudget `gorm:"foreignKey:EmployeeId" json:"budget"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// EmployeeBudget is the personal balance used by Compensation employees
// and by per-employee meal assignments.
type EmployeeBudget struct {
	ID         int             `gorm:"primary_key" json:"id"`
	CompanyId  int             `gorm:"index;not null" json:"company_id"`
	EmployeeId int             `gorm:"uniqueIndex;not null" json:"employee_id"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *Employee) WorksOn(weekday time.Weekday, company *Company) bool {
	if e.WorkingDays != "" {
		return worksOn(e.WorkingDays, weekday)
	}
	if company != nil {
		return company.WorksOn(weekday)
	}
	return false
}

// GetEmployee fetches an employee with the personal budget preloaded,
// scoped to ctx's company.
func GetEmployee(ctx context.Context, companyId int, employeeId int) (*Employee, error) {
	return utils.FetchModel[Employee](ctx, companyId, employeeId, "Budget")
}

// ListEmployeesByIds loads the requested employees (soft-deleted rows
// excluded) with budgets preloaded. Missing ids are simply absent from
// the result; callers decide whether that is a skip or a failure.
func ListEmployeesByIds(ctx context.Context, companyId int, employeeIds []int) ([]*Employee, error) {
	db := config.GetDB()
	var employees []*Employee
	err := db.WithContext(ctx).
		Where("company_id = ? AND id IN ?", companyId, utils.UniqueSlice(employeeIds)).
		Preload("Budget").
		Find(&employees).Error
	if err != nil {
		return nil, err
	}
	return employees, nil
}

// DebitEmployeeBudget applies a relative debit against the personal
// balance inside the caller's transaction, guarded so the balance never
// goes negative, and writes the ledger row.
func DebitEmployeeBudget(tx *gorm.DB, ctx context.Context, employee *Employee, amount decimal.Decimal,
	txType TransactionType, referenceId int, description string) error {

	if amount.IsNegative() {
		return utils.NewRuleError(utils.RuleCodeBudgetInsufficient, "debit amount cannot be negative")
	}

	result := tx.WithContext(ctx).Model(&EmployeeBudget{}).
		Where("employee_id = ? AND company_id = ?", employee.ID, employee.CompanyId).
		Where("balance >= ?", amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewRuleError(utils.RuleCodeBudgetInsufficient,
			"employee %q requires %s %s but the personal balance is %s %s",
			employee.Name, amount.String(), Currency, employee.Budget.Balance.String(), Currency)
	}

	return createCompanyTransaction(tx, ctx, CompanyTransaction{
		CompanyId:   employee.CompanyId,
		EmployeeId:  utils.NilIfEmpty(employee.ID),
		Type:        txType,
		Amount:      amount.Neg(),
		ReferenceId: referenceId,
		Description: description,
	})
}

// CreditEmployeeBudget credits the personal balance (compensation
// payouts and refunds of completed orders).
func CreditEmployeeBudget(tx *gorm.DB, ctx context.Context, employee *Employee, amount decimal.Decimal,
	txType TransactionType, referenceId int, description string) error {

	if amount.IsNegative() {
		return utils.NewRuleError(utils.RuleCodeBudgetInsufficient, "credit amount cannot be negative")
	}

	result := tx.WithContext(ctx).Model(&EmployeeBudget{}).
		Where("employee_id = ? AND company_id = ?", employee.ID, employee.CompanyId).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}

	return createCompanyTransaction(tx, ctx, CompanyTransaction{
		CompanyId:   employee.CompanyId,
		EmployeeId:  utils.NilIfEmpty(employee.ID),
		Type:        txType,
		Amount:      amount,
		ReferenceId: referenceId,
		Description: description,
	})
}

// ValidateEmployeePhone checks the stored number against the default
// country before an employee row is written.
func ValidateEmployeePhone(phone string) error {
	if phone == "" {
		return nil
	}
	return utils.ValidatePhoneNumber(phone, utils.CountryCode)
}
