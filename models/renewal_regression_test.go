package models_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/models"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
)

// Subscription renewal regression harness.
//
// The renewal job must carry each seat over with at most its prior
// day-count, and an unaffordable renewal must still close the expiring
// period so the job does not retry it forever.
//
// Run (requires Docker): INTEGRATION_TESTS=1 go test ./models -run SubscriptionRenewal -v

func TestSubscriptionRenewal(t *testing.T) {
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

	ctx = utils.NewJobContext(ctx, "renewal-regression")

	company := &models.Company{
		Name:        "Renewal Co",
		Timezone:    "Asia/Dushanbe",
		CutoffTime:  "11:00",
		WorkingDays: "Mon,Tue,Wed,Thu,Fri",
		IsActive:    utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(company).Error; err != nil {
		t.Fatalf("create company: %v", err)
	}
	ctx = utils.SetCompanyIdInContext(ctx, company.ID)

	loc, err := time.LoadLocation(company.Timezone)
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	// one week, Monday March 2 2026 to Monday March 9; the next period
	// March 9 to March 16 holds five working days
	periodStart := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	periodEnd := periodStart.AddDate(0, 0, 7)

	assignDay := func(offset int) time.Time {
		return utils.DateOnly(periodStart.AddDate(0, 0, offset))
	}
	clock := utils.FixedClock{Instant: periodEnd.Add(2 * time.Hour)}

	employeeOne, employeeTwo := 101, 102

	t.Run("seats carry over with their prior day counts", func(t *testing.T) {
		project := &models.Project{
			CompanyId: company.ID,
			Name:      "HQ",
			Budget:    decimal.NewFromInt(1000),
			Status:    models.ProjectStatusActive,
		}
		if err := db.WithContext(ctx).Create(project).Error; err != nil {
			t.Fatalf("create project: %v", err)
		}

		sub := &models.CompanySubscription{
			CompanyId:   company.ID,
			ProjectId:   project.ID,
			Name:        "Weekly plan",
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			AutoRenew:   utils.NewTrue(),
			Status:      models.SubscriptionStatusActive,
		}
		if err := db.WithContext(ctx).Create(sub).Error; err != nil {
			t.Fatalf("create subscription: %v", err)
		}

		assign := func(employeeId int, combo string, day time.Time, status models.AssignmentStatus) {
			a := &models.EmployeeMealAssignment{
				CompanyId:      company.ID,
				SubscriptionId: sub.ID,
				EmployeeId:     employeeId,
				Combo:          combo,
				Date:           day,
				Status:         status,
			}
			if err := db.WithContext(ctx).Create(a).Error; err != nil {
				t.Fatalf("create assignment: %v", err)
			}
		}
		// employee one held three standard days, employee two all five
		// business days; the cancelled day must not count
		for offset := 0; offset < 3; offset++ {
			assign(employeeOne, "standard", assignDay(offset), models.AssignmentStatusScheduled)
		}
		for offset := 0; offset < 5; offset++ {
			assign(employeeTwo, "business", assignDay(offset), models.AssignmentStatusDelivered)
		}
		assign(employeeOne, "standard", assignDay(3), models.AssignmentStatusCancelled)

		if err := models.RenewCompanySubscription(ctx, sub, clock); err != nil {
			t.Fatalf("RenewCompanySubscription: %v", err)
		}

		var expired models.CompanySubscription
		if err := db.WithContext(ctx).First(&expired, sub.ID).Error; err != nil {
			t.Fatalf("reload subscription: %v", err)
		}
		if expired.Status != models.SubscriptionStatusExpired {
			t.Fatalf("old subscription status = %s, expected Expired", expired.Status)
		}

		var next models.CompanySubscription
		err := db.WithContext(ctx).
			Where("project_id = ? AND status = ?", project.ID, models.SubscriptionStatusActive).
			First(&next).Error
		if err != nil {
			t.Fatalf("load next subscription: %v", err)
		}
		if !next.PeriodStart.Equal(periodEnd) {
			t.Fatalf("next PeriodStart = %s, expected %s", next.PeriodStart, periodEnd)
		}
		if !next.PeriodEnd.Equal(periodEnd.AddDate(0, 0, 7)) {
			t.Fatalf("next PeriodEnd = %s, expected one week after %s", next.PeriodEnd, periodEnd)
		}

		countFor := func(employeeId int) int64 {
			var count int64
			if err := db.WithContext(ctx).Model(&models.EmployeeMealAssignment{}).
				Where("subscription_id = ? AND employee_id = ?", next.ID, employeeId).
				Count(&count).Error; err != nil {
				t.Fatalf("count assignments: %v", err)
			}
			return count
		}
		if got := countFor(employeeOne); got != 3 {
			t.Fatalf("employee one assignments = %d, expected the prior three days", got)
		}
		if got := countFor(employeeTwo); got != 5 {
			t.Fatalf("employee two assignments = %d, expected five days", got)
		}

		// renewal only reserves headroom; settlement does the debiting
		var fresh models.Project
		if err := db.WithContext(ctx).First(&fresh, project.ID).Error; err != nil {
			t.Fatalf("reload project: %v", err)
		}
		if !fresh.Budget.Equal(decimal.NewFromInt(1000)) {
			t.Fatalf("project budget = %s, renewal must not debit", fresh.Budget)
		}
	})

	t.Run("unaffordable renewal still expires the old period", func(t *testing.T) {
		project := &models.Project{
			CompanyId: company.ID,
			Name:      "Tiny",
			Budget:    decimal.NewFromInt(10),
			Status:    models.ProjectStatusActive,
		}
		if err := db.WithContext(ctx).Create(project).Error; err != nil {
			t.Fatalf("create project: %v", err)
		}

		sub := &models.CompanySubscription{
			CompanyId:   company.ID,
			ProjectId:   project.ID,
			Name:        "Weekly plan",
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			AutoRenew:   utils.NewTrue(),
			Status:      models.SubscriptionStatusActive,
		}
		if err := db.WithContext(ctx).Create(sub).Error; err != nil {
			t.Fatalf("create subscription: %v", err)
		}
		for offset := 0; offset < 5; offset++ {
			a := &models.EmployeeMealAssignment{
				CompanyId:      company.ID,
				SubscriptionId: sub.ID,
				EmployeeId:     employeeOne,
				Combo:          "standard",
				Date:           assignDay(offset),
				Status:         models.AssignmentStatusScheduled,
			}
			if err := db.WithContext(ctx).Create(a).Error; err != nil {
				t.Fatalf("create assignment: %v", err)
			}
		}

		err := models.RenewCompanySubscription(ctx, sub, clock)
		ruleErr, ok := utils.AsRuleError(err)
		if !ok || ruleErr.Code != utils.RuleCodeBudgetInsufficient {
			t.Fatalf("expected BUDGET_INSUFFICIENT, got %v", err)
		}

		var expired models.CompanySubscription
		if err := db.WithContext(ctx).First(&expired, sub.ID).Error; err != nil {
			t.Fatalf("reload subscription: %v", err)
		}
		if expired.Status != models.SubscriptionStatusExpired {
			t.Fatalf("old subscription status = %s, the expiry must survive the failed renewal", expired.Status)
		}

		var nextCount int64
		if err := db.WithContext(ctx).Model(&models.CompanySubscription{}).
			Where("project_id = ? AND status = ?", project.ID, models.SubscriptionStatusActive).
			Count(&nextCount).Error; err != nil {
			t.Fatalf("count next subscriptions: %v", err)
		}
		if nextCount != 0 {
			t.Fatalf("next subscriptions = %d, an unaffordable renewal must not open a period", nextCount)
		}
	})
}
