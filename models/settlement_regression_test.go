package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/models"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
)

// Settlement regression harness.
//
// Safety net for the money-moving path: settlement is the only way an
// order goes Active -> Completed, and it must debit the project budget
// exactly once per project per day, writing a single ledger row.
//
// Run (requires Docker): INTEGRATION_TESTS=1 go test ./models -run SettlementDay -v

func TestSettlementDayDebitsProjectOnce(t *testing.T) {
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

	ctx = utils.NewJobContext(ctx, "settlement-regression")

	company := &models.Company{
		Name:        "Settlement Co",
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
		Budget:    decimal.NewFromInt(1000),
		Status:    models.ProjectStatusActive,
	}
	if err := db.WithContext(ctx).Create(project).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}

	catering := &models.Employee{
		CompanyId:   company.ID,
		ProjectId:   &project.ID,
		Name:        "Catering Employee",
		ServiceType: models.ServiceTypeCatering,
		IsActive:    utils.NewTrue(),
		IsFrozen:    utils.NewFalse(),
	}
	if err := db.WithContext(ctx).Create(catering).Error; err != nil {
		t.Fatalf("create catering employee: %v", err)
	}
	comp := &models.Employee{
		CompanyId:   company.ID,
		ProjectId:   &project.ID,
		Name:        "Compensation Employee",
		ServiceType: models.ServiceTypeCompensation,
		IsActive:    utils.NewTrue(),
		IsFrozen:    utils.NewFalse(),
	}
	if err := db.WithContext(ctx).Create(comp).Error; err != nil {
		t.Fatalf("create compensation employee: %v", err)
	}
	for _, employeeId := range []int{catering.ID, comp.ID} {
		budget := &models.EmployeeBudget{CompanyId: company.ID, EmployeeId: employeeId, Balance: decimal.Zero}
		if err := db.WithContext(ctx).Create(budget).Error; err != nil {
			t.Fatalf("create employee budget: %v", err)
		}
	}

	loc, err := time.LoadLocation(company.Timezone)
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	now := time.Now().In(loc)
	day := utils.DateOnly(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc))

	newOrder := func(combo string, status models.OrderStatus) *models.Order {
		price := models.ComboPrice(combo)
		return &models.Order{
			CompanyId:   company.ID,
			ProjectId:   &project.ID,
			EmployeeId:  &catering.ID,
			IsGuest:     utils.NewFalse(),
			Date:        day,
			Combo:       combo,
			Quantity:    1,
			Price:       price,
			TotalAmount: price,
			Status:      status,
		}
	}
	for _, order := range []*models.Order{
		newOrder("standard", models.OrderStatusActive),
		newOrder("business", models.OrderStatusActive),
		newOrder("standard", models.OrderStatusPaused),
	} {
		if err := db.WithContext(ctx).Create(order).Error; err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	compensation := &models.CompensationTransaction{
		CompanyId:  company.ID,
		ProjectId:  &project.ID,
		EmployeeId: comp.ID,
		Date:       day,
		Amount:     decimal.NewFromInt(25),
		Combo:      "econom",
		Status:     models.OrderStatusActive,
	}
	if err := db.WithContext(ctx).Create(compensation).Error; err != nil {
		t.Fatalf("create compensation: %v", err)
	}

	clock := utils.FixedClock{Instant: time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, loc)}

	summary, err := models.SettleProjectDay(ctx, company, project, day, clock)
	if err != nil {
		t.Fatalf("SettleProjectDay: %v", err)
	}
	if summary.OrdersCompleted != 2 {
		t.Fatalf("OrdersCompleted = %d, expected 2", summary.OrdersCompleted)
	}
	if summary.CompensationsPaid != 1 {
		t.Fatalf("CompensationsPaid = %d, expected 1", summary.CompensationsPaid)
	}
	// 35 + 50 orders plus the 25 compensation payout
	if !summary.AmountDebited.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("AmountDebited = %s, expected 110", summary.AmountDebited)
	}

	var freshProject models.Project
	if err := db.WithContext(ctx).First(&freshProject, project.ID).Error; err != nil {
		t.Fatalf("reload project: %v", err)
	}
	if !freshProject.Budget.Equal(decimal.NewFromInt(890)) {
		t.Fatalf("project budget = %s, expected 890", freshProject.Budget)
	}

	var compBudget models.EmployeeBudget
	if err := db.WithContext(ctx).Where("employee_id = ?", comp.ID).First(&compBudget).Error; err != nil {
		t.Fatalf("reload compensation budget: %v", err)
	}
	if !compBudget.Balance.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("compensation balance = %s, expected 25", compBudget.Balance)
	}

	var pausedCount int64
	if err := db.WithContext(ctx).Model(&models.Order{}).
		Where("company_id = ? AND status = ?", company.ID, models.OrderStatusPaused).
		Count(&pausedCount).Error; err != nil {
		t.Fatalf("count paused: %v", err)
	}
	if pausedCount != 1 {
		t.Fatalf("paused orders = %d, the paused order must not settle", pausedCount)
	}

	// exactly one ledger row for the whole batch
	var ledger []models.CompanyTransaction
	if err := db.WithContext(ctx).
		Where("company_id = ? AND type = ?", company.ID, models.TransactionTypeLunchDeduction).
		Find(&ledger).Error; err != nil {
		t.Fatalf("load ledger: %v", err)
	}
	if len(ledger) != 1 {
		t.Fatalf("ledger rows = %d, expected exactly one LunchDeduction", len(ledger))
	}
	if !ledger[0].Amount.Equal(decimal.NewFromInt(-110)) {
		t.Fatalf("ledger amount = %s, expected -110", ledger[0].Amount)
	}

	var settledEvents int64
	if err := db.WithContext(ctx).Model(&models.OrderEventRecord{}).
		Where("company_id = ? AND action = ?", company.ID, models.OrderEventActionSettled).
		Count(&settledEvents).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if settledEvents != 2 {
		t.Fatalf("settled events = %d, expected 2", settledEvents)
	}

	// Rerunning the same day is a no-op: no Active orders remain.
	again, err := models.SettleProjectDay(ctx, company, &freshProject, day, clock)
	if err != nil {
		t.Fatalf("SettleProjectDay rerun: %v", err)
	}
	if again.OrdersCompleted != 0 || !again.AmountDebited.IsZero() {
		t.Fatalf("rerun settled again: %+v", again)
	}
	if err := db.WithContext(ctx).First(&freshProject, project.ID).Error; err != nil {
		t.Fatalf("reload project after rerun: %v", err)
	}
	if !freshProject.Budget.Equal(decimal.NewFromInt(890)) {
		t.Fatalf("project budget after rerun = %s, expected 890", freshProject.Budget)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("benefits-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("benefits-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=benefits_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
