package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
)

// LunchSubscription is an employee's recurring meal template. The
// generation job materializes it into concrete orders day by day.
type LunchSubscription struct {
	ID           int                `gorm:"primary_key" json:"id"`
	CompanyId    int                `gorm:"index;not null;index:idx_ls_company_status,priority:1" json:"company_id"`
	EmployeeId   int                `gorm:"index;not null" json:"employee_id"`
	Employee     *Employee          `gorm:"foreignKey:EmployeeId" json:"employee"`
	ProjectId    *int               `gorm:"index" json:"project_id"`
	Combo        string             `gorm:"size:20;not null" json:"combo"`
	Quantity     int                `gorm:"not null;default:1" json:"quantity"`
	ScheduleType ScheduleType       `gorm:"type:enum('Daily','Workdays','EveryOtherDay','CustomDays');default:'Workdays'" json:"schedule_type"`
	CustomDays   string             `gorm:"size:64" json:"custom_days"`
	StartDate    time.Time          `gorm:"not null" json:"start_date"`
	EndDate      *time.Time         `json:"end_date"`
	Status       SubscriptionStatus `gorm:"type:enum('Active','Paused','Expired','Cancelled');default:'Active';index:idx_ls_company_status,priority:2" json:"status"`
	CreatedAt    time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShouldGenerateFor decides whether the subscription produces an order
// on the given calendar date. All dates are compared by their own
// calendar components, the same way order rows store them. CustomDays
// schedules are modeled but never auto-generated; those orders are
// placed by hand.
func (s *LunchSubscription) ShouldGenerateFor(date time.Time, company *Company) bool {
	if s.Status != SubscriptionStatusActive {
		return false
	}

	day := utils.DateOnly(date)
	start := utils.DateOnly(s.StartDate)
	if day.Before(start) {
		return false
	}
	if s.EndDate != nil && day.After(utils.DateOnly(*s.EndDate)) {
		return false
	}

	switch s.ScheduleType {
	case ScheduleTypeDaily:
		return true
	case ScheduleTypeWorkdays:
		if s.Employee != nil {
			return s.Employee.WorksOn(day.Weekday(), company)
		}
		return company != nil && company.WorksOn(day.Weekday())
	case ScheduleTypeEveryOtherDay:
		// UTC-anchored days are exact 24h multiples apart, so the
		// parity cannot drift across daylight saving transitions
		days := int(day.Sub(start).Hours() / 24)
		return days%2 == 0
	case ScheduleTypeCustomDays:
		return false
	}
	return false
}

// ListActiveLunchSubscriptions loads a company's Active subscriptions
// with employees and budgets for the generation job.
func ListActiveLunchSubscriptions(ctx context.Context, companyId int) ([]*LunchSubscription, error) {
	db := config.GetDB()
	var subs []*LunchSubscription
	err := db.WithContext(ctx).
		Where("company_id = ? AND status = ?", companyId, SubscriptionStatusActive).
		Preload("Employee").
		Preload("Employee.Budget").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// HasActiveLunchSubscription feeds the cancel path's hard-delete rule:
// a future order of an employee without an active subscription is a
// one-off and is removed outright instead of being marked Cancelled.
func HasActiveLunchSubscription(ctx context.Context, companyId int, employeeId int) (bool, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&LunchSubscription{}).
		Where("company_id = ? AND employee_id = ? AND status = ?", companyId, employeeId, SubscriptionStatusActive).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
