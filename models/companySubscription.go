package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
)

// CompanySubscription is a fixed-period meal plan a company buys for a
// project. Assignments pin employees and combos to the period's working
// days; expiry triggers auto-renewal.
type CompanySubscription struct {
	ID          int                `gorm:"primary_key" json:"id"`
	CompanyId   int                `gorm:"index;not null;index:idx_cs_company_status,priority:1" json:"company_id"`
	ProjectId   int                `gorm:"index;not null" json:"project_id"`
	Name        string             `gorm:"size:255" json:"name"`
	PeriodStart time.Time          `gorm:"not null" json:"period_start"`
	PeriodEnd   time.Time          `gorm:"not null;index" json:"period_end"`
	AutoRenew   *bool              `gorm:"not null;default:true" json:"auto_renew"`
	Status      SubscriptionStatus `gorm:"type:enum('Active','Paused','Expired','Cancelled');default:'Active';index:idx_cs_company_status,priority:2" json:"status"`
	CreatedAt   time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type AssignmentStatus string

const (
	AssignmentStatusScheduled AssignmentStatus = "Scheduled"
	AssignmentStatusDelivered AssignmentStatus = "Delivered"
	AssignmentStatusCancelled AssignmentStatus = "Cancelled"
)

type EmployeeMealAssignment struct {
	ID             int              `gorm:"primary_key" json:"id"`
	CompanyId      int              `gorm:"index;not null" json:"company_id"`
	SubscriptionId int              `gorm:"index;not null" json:"subscription_id"`
	EmployeeId     int              `gorm:"index;not null" json:"employee_id"`
	Combo          string           `gorm:"size:20;not null" json:"combo"`
	Date           time.Time        `gorm:"not null;index" json:"date"`
	Status         AssignmentStatus `gorm:"type:enum('Scheduled','Delivered','Cancelled');default:'Scheduled'" json:"status"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// ListDueCompanySubscriptions returns Active auto-renew subscriptions
// whose period has ended as of now.
func ListDueCompanySubscriptions(ctx context.Context, now time.Time) ([]*CompanySubscription, error) {
	db := config.GetDB()
	var subs []*CompanySubscription
	err := db.WithContext(ctx).
		Where("status = ? AND auto_renew = ? AND period_end < ?", SubscriptionStatusActive, true, now).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// renewalSeat is one distinct employee+combo drawn from the expiring
// period's non-cancelled assignments. Days counts how many meal days
// the seat actually held; the next period grants at most that many.
type renewalSeat struct {
	EmployeeId int
	Combo      string
	Days       int
}

// RenewCompanySubscription expires sub and, when the project budget can
// reserve the renewal cost, opens the next equal-length period with
// Scheduled assignments on the company's working days.
func RenewCompanySubscription(ctx context.Context, sub *CompanySubscription, clock utils.Clock) error {
	db := config.GetDB()

	company, err := GetCompanyById(ctx, sub.CompanyId)
	if err != nil {
		return err
	}
	project, err := GetProject(ctx, sub.CompanyId, sub.ProjectId)
	if err != nil {
		return err
	}

	// distinct employees + combos of the expiring period, each with the
	// number of meal days it held
	var seats []renewalSeat
	err = db.WithContext(ctx).Model(&EmployeeMealAssignment{}).
		Select("employee_id, combo, COUNT(DISTINCT date) AS days").
		Where("company_id = ? AND subscription_id = ? AND status <> ?", sub.CompanyId, sub.ID, AssignmentStatusCancelled).
		Group("employee_id, combo").
		Find(&seats).Error
	if err != nil {
		return err
	}

	periodLength := sub.PeriodEnd.Sub(sub.PeriodStart)
	nextStart := sub.PeriodEnd
	nextEnd := sub.PeriodEnd.Add(periodLength)

	loc := LoadLocationOrDefault(company.Timezone)
	workingDates := workingDatesBetween(nextStart, nextEnd, company, loc)

	// each seat carries over up to its prior day-count, never more than
	// the next period offers
	cost := decimal.Zero
	for _, seat := range seats {
		days := seat.Days
		if days > len(workingDates) {
			days = len(workingDates)
		}
		cost = cost.Add(ComboPrice(seat.Combo).Mul(decimal.NewFromInt(int64(days))))
	}

	tx := db.Begin()

	if err := tx.WithContext(ctx).Model(&CompanySubscription{}).
		Where("id = ? AND status = ?", sub.ID, SubscriptionStatusActive).
		Update("status", SubscriptionStatusExpired).Error; err != nil {
		tx.Rollback()
		return err
	}

	if len(seats) == 0 {
		// nothing to renew; just close the period
		return tx.Commit().Error
	}

	if !project.HasBudgetFor(cost) {
		// the expiry still stands, otherwise the renewal job would pick
		// the subscription up again on every pass
		if commitErr := tx.Commit().Error; commitErr != nil {
			return commitErr
		}
		return utils.NewRuleError(utils.RuleCodeBudgetInsufficient,
			"renewal of subscription %d requires %s %s but project %q has %s %s available",
			sub.ID, cost.String(), Currency, project.Name, project.Budget.Add(project.OverdraftLimit).String(), Currency)
	}

	next := CompanySubscription{
		CompanyId:   sub.CompanyId,
		ProjectId:   sub.ProjectId,
		Name:        sub.Name,
		PeriodStart: nextStart,
		PeriodEnd:   nextEnd,
		AutoRenew:   sub.AutoRenew,
		Status:      SubscriptionStatusActive,
	}
	if err := tx.WithContext(ctx).Create(&next).Error; err != nil {
		tx.Rollback()
		return err
	}

	assignments := make([]EmployeeMealAssignment, 0, len(seats)*len(workingDates))
	for _, seat := range seats {
		days := seat.Days
		if days > len(workingDates) {
			days = len(workingDates)
		}
		for _, date := range workingDates[:days] {
			assignments = append(assignments, EmployeeMealAssignment{
				CompanyId:      sub.CompanyId,
				SubscriptionId: next.ID,
				EmployeeId:     seat.EmployeeId,
				Combo:          seat.Combo,
				Date:           date,
				Status:         AssignmentStatusScheduled,
			})
		}
	}
	if len(assignments) > 0 {
		if err := tx.WithContext(ctx).CreateInBatches(assignments, 200).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	description := fmt.Sprintf("Subscription %d renewed: %d seats, %d assignments", next.ID, len(seats), len(assignments))
	if err := createHistory(tx.WithContext(ctx), "*RENEW*", next.ID, "CompanySubscription", sub, &next, description); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// workingDatesBetween lists the company-local working dates in
// [start, end), normalized to UTC midnights.
func workingDatesBetween(start, end time.Time, company *Company, loc *time.Location) []time.Time {
	var dates []time.Time
	y, m, d := start.In(loc).Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	for day.Before(end) {
		if company.WorksOn(day.Weekday()) {
			dates = append(dates, utils.DateOnly(day))
		}
		day = day.AddDate(0, 0, 1)
	}
	return dates
}
