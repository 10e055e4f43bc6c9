package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/shopspring/decimal"
)

// CompensationTransaction is the cash counterpart of a lunch Order for
// employees on the Compensation service type. The admin order list
// presents both kinds side by side.
type CompensationTransaction struct {
	ID         int             `gorm:"primary_key" json:"id"`
	CompanyId  int             `gorm:"index;not null;index:idx_comp_company_date,priority:1" json:"company_id"`
	ProjectId  *int            `gorm:"index" json:"project_id"`
	EmployeeId int             `gorm:"index;not null" json:"employee_id"`
	Employee   *Employee       `gorm:"foreignKey:EmployeeId" json:"employee"`
	Date       time.Time       `gorm:"index;not null;index:idx_comp_company_date,priority:2" json:"date"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Combo      string          `gorm:"size:20" json:"combo"`
	Status     OrderStatus     `gorm:"type:enum('Active','Paused','Frozen','Completed','Cancelled');default:'Active';index" json:"status"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ListCompensationsForDate returns a project's Active compensation rows
// for one calendar day, preloading employees for the payout step.
func ListCompensationsForDate(ctx context.Context, companyId int, projectId int, dayStart, dayEnd time.Time) ([]*CompensationTransaction, error) {
	db := config.GetDB()
	var rows []*CompensationTransaction
	err := db.WithContext(ctx).
		Where("company_id = ? AND project_id = ? AND status = ?", companyId, projectId, OrderStatusActive).
		Where("date BETWEEN ? AND ?", dayStart, dayEnd).
		Preload("Employee").
		Preload("Employee.Budget").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
