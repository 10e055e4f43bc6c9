package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/models"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order mutation regression harness.
//
// Covers the money- and state-touching mutation paths end to end: the
// guest budget precheck, the all-or-nothing bulk cutoff gate, the
// completed-order refund, and the hard delete of one-off future orders.
//
// Run (requires Docker): INTEGRATION_TESTS=1 go test ./models -run OrderMutation -v

func TestOrderMutationPaths(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "benefits_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()

	ctx = utils.NewJobContext(ctx, "order-mutation-regression")

	company := &models.Company{
		Name:        "Mutation Co",
		Timezone:    "Asia/Dushanbe",
		CutoffTime:  "11:00",
		WorkingDays: "Mon,Tue,Wed,Thu,Fri",
		IsActive:    utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(company).Error; err != nil {
		t.Fatalf("create company: %v", err)
	}
	ctx = utils.SetCompanyIdInContext(ctx, company.ID)

	project := &models.Project{
		CompanyId: company.ID,
		Name:      "HQ",
		Budget:    decimal.NewFromInt(100),
		Status:    models.ProjectStatusActive,
	}
	if err := db.WithContext(ctx).Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}

	employee := &models.Employee{
		CompanyId:   company.ID,
		ProjectId:   &project.ID,
		Name:        "Catering Employee",
		ServiceType: models.ServiceTypeCatering,
		IsActive:    utils.NewTrue(),
		IsFrozen:    utils.NewFalse(),
	}
	if err := db.WithContext(ctx).Create(employee).Error; err != nil {
		t.Fatalf("create employee: %v", err)
	}
	budget := &models.EmployeeBudget{CompanyId: company.ID, EmployeeId: employee.ID, Balance: decimal.Zero}
	if err := db.WithContext(ctx).Create(budget).Error; err != nil {
		t.Fatalf("create employee budget: %v", err)
	}

	loc, err := time.LoadLocation(company.Timezone)
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// the clock is injected everywhere, so the calendar is fixed:
	// "today" is Tuesday March 10 2026 at 09:00 local, before the cutoff
	clock := utils.FixedClock{Instant: time.Date(2026, 3, 10, 9, 0, 0, 0, loc)}
	today := utils.DateOnly(time.Date(2026, 3, 10, 0, 0, 0, 0, loc))
	yesterday := today.AddDate(0, 0, -1)
	tomorrow := today.AddDate(0, 0, 1)

	newOrder := func(date time.Time, combo string, status models.OrderStatus) *models.Order {
		price := models.ComboPrice(combo)
		order := &models.Order{
			CompanyId:   company.ID,
			ProjectId:   &project.ID,
			EmployeeId:  &employee.ID,
			IsGuest:     utils.NewFalse(),
			Date:        date,
			Combo:       combo,
			Quantity:    1,
			Price:       price,
			TotalAmount: price,
			Status:      status,
		}
		if err := db.WithContext(ctx).Create(order).Error; err != nil {
			t.Fatalf("create order: %v", err)
		}
		return order
	}

	projectBudget := func() decimal.Decimal {
		var fresh models.Project
		if err := db.WithContext(ctx).First(&fresh, project.ID).Error; err != nil {
			t.Fatalf("reload project: %v", err)
		}
		return fresh.Budget
	}

	t.Run("guest orders over budget create nothing", func(t *testing.T) {
		_, err := models.CreateGuestOrders(ctx, company.ID, &models.NewGuestOrders{
			ProjectId:  project.ID,
			Date:       "2026-03-10",
			Combo:      "premium",
			GuestNames: []string{"Guest One", "Guest Two"},
		}, clock)
		ruleErr, ok := utils.AsRuleError(err)
		if !ok || ruleErr.Code != utils.RuleCodeBudgetInsufficient {
			t.Fatalf("expected BUDGET_INSUFFICIENT, got %v", err)
		}

		var count int64
		if err := db.WithContext(ctx).Model(&models.Order{}).
			Where("company_id = ? AND is_guest = ?", company.ID, true).
			Count(&count).Error; err != nil {
			t.Fatalf("count guest orders: %v", err)
		}
		if count != 0 {
			t.Fatalf("guest orders = %d, the over-budget batch must create none", count)
		}
	})

	t.Run("guest orders within budget do not debit", func(t *testing.T) {
		orders, err := models.CreateGuestOrders(ctx, company.ID, &models.NewGuestOrders{
			ProjectId:  project.ID,
			Date:       "2026-03-10",
			Combo:      "standard",
			GuestNames: []string{"Guest One"},
		}, clock)
		if err != nil {
			t.Fatalf("CreateGuestOrders: %v", err)
		}
		if len(orders) != 1 || orders[0].Status != models.OrderStatusActive {
			t.Fatalf("unexpected guest orders: %+v", orders)
		}
		// settlement is the only debit path
		if got := projectBudget(); !got.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("project budget = %s, creation must not debit", got)
		}
	})

	t.Run("bulk cancel with one past order touches nothing", func(t *testing.T) {
		current := newOrder(today, "standard", models.OrderStatusActive)
		past := newOrder(yesterday, "standard", models.OrderStatusActive)

		_, err := models.BulkOrderAction(ctx, company.ID, &models.BulkOrderActionInput{
			OrderIds: []int{current.ID, past.ID},
			Action:   "cancel",
		}, clock)
		ruleErr, ok := utils.AsRuleError(err)
		if !ok || ruleErr.Code != utils.RuleCodePastDate {
			t.Fatalf("expected PAST_DATE for the whole batch, got %v", err)
		}

		for _, id := range []int{current.ID, past.ID} {
			var fresh models.Order
			if err := db.WithContext(ctx).First(&fresh, id).Error; err != nil {
				t.Fatalf("reload order %d: %v", id, err)
			}
			if fresh.Status != models.OrderStatusActive {
				t.Fatalf("order %d status = %s, the failed batch must not mutate", id, fresh.Status)
			}
		}
	})

	t.Run("unknown order id fails the whole batch", func(t *testing.T) {
		order := newOrder(today, "econom", models.OrderStatusActive)

		_, err := models.BulkOrderAction(ctx, company.ID, &models.BulkOrderActionInput{
			OrderIds: []int{order.ID, 999999},
			Action:   "pause",
		}, clock)
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			t.Fatalf("expected record not found, got %v", err)
		}

		var fresh models.Order
		if err := db.WithContext(ctx).First(&fresh, order.ID).Error; err != nil {
			t.Fatalf("reload order: %v", err)
		}
		if fresh.Status != models.OrderStatusActive {
			t.Fatalf("order status = %s, the failed batch must not mutate", fresh.Status)
		}
	})

	t.Run("cancelling a completed order refunds the project", func(t *testing.T) {
		before := projectBudget()
		completed := newOrder(today, "standard", models.OrderStatusCompleted)

		result, err := models.BulkOrderAction(ctx, company.ID, &models.BulkOrderActionInput{
			OrderIds: []int{completed.ID},
			Action:   "cancel",
		}, clock)
		if err != nil {
			t.Fatalf("BulkOrderAction: %v", err)
		}
		if result.Updated != 1 || !result.TotalRefunded.Equal(decimal.NewFromInt(35)) {
			t.Fatalf("unexpected result: %+v", result)
		}
		if got := projectBudget(); !got.Equal(before.Add(decimal.NewFromInt(35))) {
			t.Fatalf("project budget = %s, expected %s", got, before.Add(decimal.NewFromInt(35)))
		}

		var refunds int64
		if err := db.WithContext(ctx).Model(&models.CompanyTransaction{}).
			Where("company_id = ? AND type = ? AND reference_id = ?", company.ID, models.TransactionTypeRefund, completed.ID).
			Count(&refunds).Error; err != nil {
			t.Fatalf("count refunds: %v", err)
		}
		if refunds != 1 {
			t.Fatalf("refund ledger rows = %d, expected exactly one", refunds)
		}

		var fresh models.Order
		if err := db.WithContext(ctx).First(&fresh, completed.ID).Error; err != nil {
			t.Fatalf("reload cancelled order: %v", err)
		}
		if fresh.Status != models.OrderStatusCancelled {
			t.Fatalf("order status = %s, expected Cancelled", fresh.Status)
		}
	})

	t.Run("future order without subscription is removed outright", func(t *testing.T) {
		before := projectBudget()
		future := newOrder(tomorrow, "business", models.OrderStatusActive)

		result, err := models.BulkOrderAction(ctx, company.ID, &models.BulkOrderActionInput{
			OrderIds: []int{future.ID},
			Action:   "cancel",
		}, clock)
		if err != nil {
			t.Fatalf("BulkOrderAction: %v", err)
		}
		if result.Updated != 1 || !result.TotalRefunded.IsZero() {
			t.Fatalf("unexpected result: %+v", result)
		}

		err = db.WithContext(ctx).First(&models.Order{}, future.ID).Error
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			t.Fatalf("expected the one-off future order to be deleted, got %v", err)
		}
		if got := projectBudget(); !got.Equal(before) {
			t.Fatalf("project budget = %s, a never-debited order must not refund", got)
		}
	})
}
