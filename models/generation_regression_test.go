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

// Generation isolation regression harness.
//
// One project without headroom must not stall the whole company pass:
// its subscriptions are counted as failed while every other project's
// orders are still created.
//
// Run (requires Docker): INTEGRATION_TESTS=1 go test ./models -run GenerationIsolates -v

func TestGenerationIsolatesProjectFailures(t *testing.T) {
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

	ctx = utils.NewJobContext(ctx, "generation-regression")

	company := &models.Company{
		Name:        "Generation Co",
		Timezone:    "Asia/Dushanbe",
		CutoffTime:  "11:00",
		WorkingDays: "Mon,Tue,Wed,Thu,Fri",
		IsActive:    utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(company).Error; err != nil {
		t.Fatalf("create company: %v", err)
	}
	ctx = utils.SetCompanyIdInContext(ctx, company.ID)

	funded := &models.Project{
		CompanyId: company.ID,
		Name:      "Funded",
		Budget:    decimal.NewFromInt(500),
		Status:    models.ProjectStatusActive,
	}
	broke := &models.Project{
		CompanyId: company.ID,
		Name:      "Broke",
		Budget:    decimal.Zero,
		Status:    models.ProjectStatusActive,
	}
	for _, project := range []*models.Project{funded, broke} {
		if err := db.WithContext(ctx).Create(project).Error; err != nil {
			t.Fatalf("create project: %v", err)
		}
	}

	newEmployee := func(name string, projectId *int) *models.Employee {
		employee := &models.Employee{
			CompanyId:   company.ID,
			ProjectId:   projectId,
			Name:        name,
			ServiceType: models.ServiceTypeCatering,
			IsActive:    utils.NewTrue(),
			IsFrozen:    utils.NewFalse(),
		}
		if err := db.WithContext(ctx).Create(employee).Error; err != nil {
			t.Fatalf("create employee: %v", err)
		}
		return employee
	}
	fundedEmployee := newEmployee("Funded Employee", &funded.ID)
	brokeEmployee := newEmployee("Broke Employee", &broke.ID)

	loc, err := time.LoadLocation(company.Timezone)
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	start := utils.DateOnly(time.Date(2026, 3, 2, 0, 0, 0, 0, loc))

	for _, employee := range []*models.Employee{fundedEmployee, brokeEmployee} {
		sub := &models.LunchSubscription{
			CompanyId:    company.ID,
			EmployeeId:   employee.ID,
			ProjectId:    employee.ProjectId,
			Combo:        "standard",
			Quantity:     1,
			ScheduleType: models.ScheduleTypeDaily,
			StartDate:    start,
			Status:       models.SubscriptionStatusActive,
		}
		if err := db.WithContext(ctx).Create(sub).Error; err != nil {
			t.Fatalf("create subscription: %v", err)
		}
	}

	// Tuesday March 10 2026, 09:00 local: before the cutoff, so the
	// pass generates for the same day
	clock := utils.FixedClock{Instant: time.Date(2026, 3, 10, 9, 0, 0, 0, loc)}

	summary, err := models.GenerateCompanyOrders(ctx, company, clock)
	if err != nil {
		t.Fatalf("GenerateCompanyOrders: %v", err)
	}
	if summary.OrdersCreated != 1 {
		t.Fatalf("OrdersCreated = %d, the funded project must still generate", summary.OrdersCreated)
	}
	if summary.Failed != 1 {
		t.Fatalf("Failed = %d, the broke project's subscription must be counted", summary.Failed)
	}

	var orders []models.Order
	if err := db.WithContext(ctx).
		Where("company_id = ?", company.ID).
		Find(&orders).Error; err != nil {
		t.Fatalf("load orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, expected one", len(orders))
	}
	if orders[0].EmployeeId == nil || *orders[0].EmployeeId != fundedEmployee.ID {
		t.Fatalf("order belongs to employee %v, expected the funded project's employee", orders[0].EmployeeId)
	}

	// the rerun fills nothing new and fails the same blocked subscription
	again, err := models.GenerateCompanyOrders(ctx, company, clock)
	if err != nil {
		t.Fatalf("GenerateCompanyOrders rerun: %v", err)
	}
	if again.OrdersCreated != 0 || again.Failed != 1 {
		t.Fatalf("rerun summary %+v, expected zero created and one failed", again)
	}

	// a deposit unblocks the project on the next pass
	if err := db.WithContext(ctx).Model(broke).Update("budget", decimal.NewFromInt(100)).Error; err != nil {
		t.Fatalf("fund project: %v", err)
	}
	utils.RemoveRedis[models.Project](broke.ID)

	after, err := models.GenerateCompanyOrders(ctx, company, clock)
	if err != nil {
		t.Fatalf("GenerateCompanyOrders after deposit: %v", err)
	}
	if after.OrdersCreated != 1 || after.Failed != 0 {
		t.Fatalf("post-deposit summary %+v, expected the blocked order to be created", after)
	}
}
