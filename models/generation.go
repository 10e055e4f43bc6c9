package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
)

// GenerationSummary reports one company's generation pass.
type GenerationSummary struct {
	CompanyId        int `json:"company_id"`
	OrdersCreated    int `json:"orders_created"`
	CompensationsRun int `json:"compensations_created"`
	Skipped          int `json:"skipped"`
	Failed           int `json:"failed"`
}

// GenerateCompanyOrders materializes tomorrow's orders (the first day
// past the cutoff) from the company's active lunch subscriptions. It is
// idempotent: an existing non-cancelled order for employee+date is
// skipped, so the hourly reruns only fill gaps. Budget headroom is
// validated for the accumulated per-project totals but nothing is
// debited; settlement owns the debit.
func GenerateCompanyOrders(ctx context.Context, company *Company, clock utils.Clock) (*GenerationSummary, error) {
	summary := &GenerationSummary{CompanyId: company.ID}

	loc := LoadLocationOrDefault(company.Timezone)
	cutoff, err := ParseCutoffTime(company.CutoffTime)
	if err != nil {
		return nil, err
	}

	// before the cutoff today's list can still change; generate for
	// today until then, for tomorrow after
	now := clock.Now().In(loc)
	targetDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	cutoffAt := time.Date(now.Year(), now.Month(), now.Day(), cutoff.Hour, cutoff.Minute, 0, 0, loc)
	if now.After(cutoffAt) {
		targetDay = targetDay.AddDate(0, 0, 1)
	}
	orderDate := utils.DateOnly(targetDay)

	subs, err := ListActiveLunchSubscriptions(ctx, company.ID)
	if err != nil {
		return nil, err
	}

	// headroom per project for everything this pass wants to create
	pending := make(map[int]decimal.Decimal)
	var due []*LunchSubscription
	for _, sub := range subs {
		if !sub.ShouldGenerateFor(targetDay, company) {
			summary.Skipped++
			continue
		}
		if sub.Employee == nil || (sub.Employee.IsActive != nil && !*sub.Employee.IsActive) ||
			(sub.Employee.IsFrozen != nil && *sub.Employee.IsFrozen) {
			summary.Skipped++
			continue
		}
		projectId := subscriptionProjectId(sub)
		if projectId == 0 && sub.Employee.ServiceType != ServiceTypeCompensation {
			summary.Skipped++
			continue
		}
		if projectId != 0 {
			qty := sub.Quantity
			if qty <= 0 {
				qty = 1
			}
			cost := ComboPrice(sub.Combo).Mul(decimal.NewFromInt(int64(qty)))
			pending[projectId] = pending[projectId].Add(cost)
		}
		due = append(due, sub)
	}

	// a project that cannot be loaded or that lacks headroom blocks only
	// its own subscriptions; the hourly rerun picks them up once a
	// deposit lands
	logger := config.GetLogger()
	blocked := make(map[int]bool)
	for projectId, needed := range pending {
		project, err := GetProject(ctx, company.ID, projectId)
		if err != nil {
			config.LogError(logger, "generation", "GenerateCompanyOrders", "load project", projectId, err)
			blocked[projectId] = true
			continue
		}
		if !project.HasBudgetFor(needed) {
			ruleErr := utils.NewRuleError(utils.RuleCodeBudgetInsufficient,
				"generation for %s requires %s %s but project %q has %s %s available",
				orderDate.Format("2006-01-02"), needed.String(), Currency,
				project.Name, project.Budget.Add(project.OverdraftLimit).String(), Currency)
			config.LogError(logger, "generation", "GenerateCompanyOrders", "insufficient headroom", projectId, ruleErr)
			blocked[projectId] = true
		}
	}

	for _, sub := range due {
		if projectId := subscriptionProjectId(sub); projectId != 0 && blocked[projectId] {
			summary.Failed++
			continue
		}
		created, err := generateFromSubscription(ctx, company, sub, orderDate, clock)
		if err != nil {
			// one bad subscription must not starve the rest of the company
			config.LogError(logger, "generation", "GenerateCompanyOrders", "generate from subscription", sub.ID, err)
			summary.Failed++
			continue
		}
		if !created {
			summary.Skipped++
			continue
		}
		if sub.Employee.ServiceType == ServiceTypeCompensation {
			summary.CompensationsRun++
		} else {
			summary.OrdersCreated++
		}
	}
	return summary, nil
}

// subscriptionProjectId resolves the project an order would charge: the
// subscription's own project when set, the employee's otherwise.
func subscriptionProjectId(sub *LunchSubscription) int {
	if sub.ProjectId != nil {
		return *sub.ProjectId
	}
	if sub.Employee != nil && sub.Employee.ProjectId != nil {
		return *sub.Employee.ProjectId
	}
	return 0
}

// generateFromSubscription creates one order (or compensation row) in
// its own transaction. Returns false when the employee already has one
// for the date.
func generateFromSubscription(ctx context.Context, company *Company, sub *LunchSubscription, orderDate time.Time, clock utils.Clock) (bool, error) {
	db := config.GetDB()
	employee := sub.Employee

	qty := sub.Quantity
	if qty <= 0 {
		qty = 1
	}
	price := ComboPrice(sub.Combo)
	total := price.Mul(decimal.NewFromInt(int64(qty)))

	projectId := sub.ProjectId
	if projectId == nil {
		projectId = employee.ProjectId
	}

	tx := db.Begin()

	if employee.ServiceType == ServiceTypeCompensation {
		var count int64
		err := tx.WithContext(ctx).Model(&CompensationTransaction{}).
			Where("company_id = ? AND employee_id = ? AND date = ? AND status <> ?",
				company.ID, employee.ID, orderDate, OrderStatusCancelled).
			Count(&count).Error
		if err != nil {
			tx.Rollback()
			return false, err
		}
		if count > 0 {
			tx.Rollback()
			return false, nil
		}
		comp := CompensationTransaction{
			CompanyId:  company.ID,
			ProjectId:  projectId,
			EmployeeId: employee.ID,
			Date:       orderDate,
			Amount:     total,
			Combo:      sub.Combo,
			Status:     OrderStatusActive,
		}
		if err := tx.WithContext(ctx).Create(&comp).Error; err != nil {
			tx.Rollback()
			return false, err
		}
		return true, tx.Commit().Error
	}

	exists, err := HasOrderForDate(ctx, tx, company.ID, employee.ID, orderDate)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if exists {
		tx.Rollback()
		return false, nil
	}

	order := Order{
		CompanyId:      company.ID,
		ProjectId:      projectId,
		EmployeeId:     &employee.ID,
		SubscriptionId: &sub.ID,
		IsGuest:        utils.NewFalse(),
		Date:           orderDate,
		Combo:          sub.Combo,
		Quantity:       qty,
		Price:          price,
		TotalAmount:    total,
		Status:         OrderStatusActive,
	}
	if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
		tx.Rollback()
		return false, err
	}
	if err := RecordOrderEvent(ctx, tx, company.ID, clock.Now(), order.ID, OrderEventReferenceOrder,
		OrderEventActionCreated, nil, &order); err != nil {
		tx.Rollback()
		return false, err
	}

	if err := tx.Commit().Error; err != nil {
		return false, err
	}
	return true, nil
}
