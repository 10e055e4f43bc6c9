package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
)

// SettlementSummary reports one project's daily settlement.
type SettlementSummary struct {
	ProjectId         int             `json:"project_id"`
	OrdersCompleted   int             `json:"orders_completed"`
	AmountDebited     decimal.Decimal `json:"amount_debited"`
	CompensationsPaid int             `json:"compensations_paid"`
}

// SettleProjectDay completes a project's Active orders for the given
// company-local day and debits the project budget once for the whole
// batch. This is the only path that moves an order from Active to
// Completed. Everything happens in one transaction; a failure leaves
// the day untouched for the next poll.
func SettleProjectDay(ctx context.Context, company *Company, project *Project, day time.Time, clock utils.Clock) (*SettlementSummary, error) {
	db := config.GetDB()

	dayStart := utils.DateOnly(day)
	dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)

	summary := &SettlementSummary{ProjectId: project.ID, AmountDebited: decimal.Zero}

	tx := db.Begin()

	orders, err := ListActiveOrdersForDate(ctx, tx, company.ID, project.ID, dayStart, dayEnd)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	compensations, err := ListCompensationsForDate(ctx, company.ID, project.ID, dayStart, dayEnd)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(orders) == 0 && len(compensations) == 0 {
		tx.Rollback()
		return summary, nil
	}

	total := decimal.Zero
	orderIds := make([]int, 0, len(orders))
	for _, order := range orders {
		total = total.Add(order.TotalAmount)
		orderIds = append(orderIds, order.ID)
	}
	for _, comp := range compensations {
		total = total.Add(comp.Amount)
	}

	if config.SettlementDryRun() {
		tx.Rollback()
		config.GetLogger().WithField("module", "settlement").
			Infof("dry run: project %d day %s would debit %s %s for %d orders and %d compensations",
				project.ID, dayStart.Format("2006-01-02"), total.String(), Currency, len(orders), len(compensations))
		return summary, nil
	}

	if len(orderIds) > 0 {
		err = tx.WithContext(ctx).Model(&Order{}).
			Where("company_id = ? AND id IN ?", company.ID, orderIds).
			Update("status", OrderStatusCompleted).Error
		if err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	// pay compensation employees from the project budget onto their
	// personal balances
	for _, comp := range compensations {
		if comp.Employee == nil {
			tx.Rollback()
			return nil, utils.NewRuleError(utils.RuleCodeOrphanedOrder,
				"compensation %d has no employee", comp.ID)
		}
		description := fmt.Sprintf("Compensation payout for %s", dayStart.Format("2006-01-02"))
		if err := CreditEmployeeBudget(tx, ctx, comp.Employee, comp.Amount, TransactionTypeDeposit, comp.ID, description); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.WithContext(ctx).Model(comp).Update("status", OrderStatusCompleted).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	// one relative debit and one ledger row for the whole batch, no
	// single order id
	description := fmt.Sprintf("Daily settlement %s: %d orders, %d compensations",
		dayStart.Format("2006-01-02"), len(orders), len(compensations))
	if err := DeductProjectBudget(tx, ctx, project, total, TransactionTypeLunchDeduction, 0, description); err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, order := range orders {
		if err := RecordOrderEvent(ctx, tx, company.ID, clock.Now(), order.ID, OrderEventReferenceOrder,
			OrderEventActionSettled, OrderStatusActive, OrderStatusCompleted); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := createHistory(tx.WithContext(ctx), "*SETTLE*", project.ID, "projects", nil, nil, description); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// the cached project balance is stale after the debit
	utils.RemoveRedis[Project](project.ID)

	summary.OrdersCompleted = len(orders)
	summary.AmountDebited = total
	summary.CompensationsPaid = len(compensations)
	return summary, nil
}
