package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Order struct {
	ID             int             `gorm:"primary_key" json:"id"`
	CompanyId      int             `gorm:"index;not null;index:idx_order_company_date,priority:1" json:"company_id"`
	ProjectId      *int            `gorm:"index" json:"project_id"`
	Project        *Project        `gorm:"foreignKey:ProjectId" json:"project"`
	EmployeeId     *int            `gorm:"index;index:idx_order_employee_date,priority:1" json:"employee_id"`
	Employee       *Employee       `gorm:"foreignKey:EmployeeId" json:"employee"`
	SubscriptionId *int            `gorm:"index" json:"subscription_id"`
	GuestName      string          `gorm:"size:255" json:"guest_name"`
	IsGuest        *bool           `gorm:"not null;default:false;index" json:"is_guest"`
	Date           time.Time       `gorm:"not null;index;index:idx_order_company_date,priority:2;index:idx_order_employee_date,priority:2" json:"date"`
	Combo          string          `gorm:"size:20;not null" json:"combo"`
	Quantity       int             `gorm:"not null;default:1" json:"quantity"`
	// Price is the per-meal snapshot taken at creation; totals never
	// re-read the price table.
	Price       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	Status      OrderStatus     `gorm:"type:enum('Active','Paused','Frozen','Completed','Cancelled');default:'Active';index" json:"status"`
	Address     string          `gorm:"size:255" json:"address"`
	Notes       string          `gorm:"size:255" json:"notes"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) DisplayName() string {
	if o.IsGuest != nil && *o.IsGuest {
		return o.GuestName
	}
	if o.Employee != nil {
		return o.Employee.Name
	}
	return ""
}

/* listing */

// OrderListFilter narrows the admin order list. When ServiceType is nil
// lunch orders and compensation rows are merged into one list.
type OrderListFilter struct {
	Status      *OrderStatus
	DateFrom    *time.Time
	DateTo      *time.Time
	Address     string
	IsGuest     *bool
	ServiceType *ServiceType
	Combo       string
	Search      string
	ProjectId   *int
	Offset      int
	Limit       int
}

// OrderListItem is one row of the merged list: a lunch order or a
// compensation payout presented the same way.
type OrderListItem struct {
	Kind        string          `json:"kind"` // order | compensation
	ID          int             `json:"id"`
	Date        time.Time       `json:"date"`
	DisplayName string          `json:"display_name"`
	Combo       string          `json:"combo"`
	Amount      decimal.Decimal `json:"amount"`
	Status      OrderStatus     `json:"status"`
	ProjectId   *int            `json:"project_id"`
	EmployeeId  *int            `json:"employee_id"`
	IsGuest     bool            `json:"is_guest"`
	Address     string          `json:"address"`
}

// PaginateOrders returns one page of the merged list plus the stable
// total over the whole filtered union. Both sides are fetched filtered,
// merged in memory, sorted date DESC then name, and sliced; the two
// sources have no common sort key in SQL.
func PaginateOrders(ctx context.Context, companyId int, filter OrderListFilter) ([]OrderListItem, int, error) {
	items := make([]OrderListItem, 0)

	includeOrders := filter.ServiceType == nil || *filter.ServiceType == ServiceTypeCatering
	includeCompensations := filter.ServiceType == nil || *filter.ServiceType == ServiceTypeCompensation
	// guest orders are always catering
	if filter.IsGuest != nil && *filter.IsGuest {
		includeCompensations = false
	}

	if includeOrders {
		orders, err := listOrdersFiltered(ctx, companyId, filter)
		if err != nil {
			return nil, 0, err
		}
		for _, o := range orders {
			items = append(items, OrderListItem{
				Kind:        "order",
				ID:          o.ID,
				Date:        o.Date,
				DisplayName: o.DisplayName(),
				Combo:       o.Combo,
				Amount:      o.TotalAmount,
				Status:      o.Status,
				ProjectId:   o.ProjectId,
				EmployeeId:  o.EmployeeId,
				IsGuest:     o.IsGuest != nil && *o.IsGuest,
				Address:     o.Address,
			})
		}
	}

	if includeCompensations {
		comps, err := listCompensationsFiltered(ctx, companyId, filter)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range comps {
			name := ""
			if c.Employee != nil {
				name = c.Employee.Name
			}
			items = append(items, OrderListItem{
				Kind:        "compensation",
				ID:          c.ID,
				Date:        c.Date,
				DisplayName: name,
				Combo:       c.Combo,
				Amount:      c.Amount,
				Status:      c.Status,
				ProjectId:   c.ProjectId,
				EmployeeId:  &c.EmployeeId,
			})
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].DisplayName < items[j].DisplayName
	})

	total := len(items)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []OrderListItem{}, total, nil
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = config.SearchLimit
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func listOrdersFiltered(ctx context.Context, companyId int, filter OrderListFilter) ([]*Order, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Order{}).
		Where("orders.company_id = ?", companyId).
		Preload("Employee").
		Joins("LEFT JOIN employees ON employees.id = orders.employee_id")

	if filter.Status != nil {
		dbCtx.Where("orders.status = ?", *filter.Status)
	}
	if filter.DateFrom != nil {
		dbCtx.Where("orders.date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		dbCtx.Where("orders.date <= ?", *filter.DateTo)
	}
	if filter.Address != "" {
		dbCtx.Where("orders.address LIKE ?", "%"+filter.Address+"%")
	}
	if filter.IsGuest != nil {
		dbCtx.Where("orders.is_guest = ?", *filter.IsGuest)
	}
	if filter.Combo != "" {
		dbCtx.Where("orders.combo = ?", strings.ToLower(strings.TrimSpace(filter.Combo)))
	}
	if filter.ProjectId != nil && *filter.ProjectId > 0 {
		dbCtx.Where("orders.project_id = ?", *filter.ProjectId)
	}
	if filter.Search != "" {
		search := "%" + filter.Search + "%"
		dbCtx.Where("orders.guest_name LIKE ? OR employees.name LIKE ?", search, search)
	}

	var orders []*Order
	if err := dbCtx.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func listCompensationsFiltered(ctx context.Context, companyId int, filter OrderListFilter) ([]*CompensationTransaction, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&CompensationTransaction{}).
		Where("compensation_transactions.company_id = ?", companyId).
		Preload("Employee").
		Joins("LEFT JOIN employees ON employees.id = compensation_transactions.employee_id")

	if filter.Status != nil {
		dbCtx.Where("compensation_transactions.status = ?", *filter.Status)
	}
	if filter.DateFrom != nil {
		dbCtx.Where("compensation_transactions.date >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		dbCtx.Where("compensation_transactions.date <= ?", *filter.DateTo)
	}
	if filter.Combo != "" {
		dbCtx.Where("compensation_transactions.combo = ?", strings.ToLower(strings.TrimSpace(filter.Combo)))
	}
	if filter.ProjectId != nil && *filter.ProjectId > 0 {
		dbCtx.Where("compensation_transactions.project_id = ?", *filter.ProjectId)
	}
	if filter.Search != "" {
		dbCtx.Where("employees.name LIKE ?", "%"+filter.Search+"%")
	}

	var comps []*CompensationTransaction
	if err := dbCtx.Find(&comps).Error; err != nil {
		return nil, err
	}
	return comps, nil
}

/* guest orders */

type NewGuestOrders struct {
	ProjectId  int      `json:"project_id" binding:"required"`
	Date       string   `json:"date" binding:"required"` // 2006-01-02
	Combo      string   `json:"combo" binding:"required"`
	GuestNames []string `json:"guest_names" binding:"required,min=1"`
	Address    string   `json:"address"`
	Notes      string   `json:"notes"`
}

// CreateGuestOrders creates one Active order per guest after project
// resolution, cutoff gating and a budget headroom precheck. No budget
// is debited here; settlement debits completed orders in one batch.
func CreateGuestOrders(ctx context.Context, companyId int, input *NewGuestOrders, clock utils.Clock) ([]*Order, error) {
	db := config.GetDB()

	project, err := GetProject(ctx, companyId, input.ProjectId)
	if err != nil {
		return nil, err
	}
	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}

	evaluator, err := company.CutoffEvaluator(clock)
	if err != nil {
		return nil, err
	}
	date, err := time.ParseInLocation("2006-01-02", input.Date, evaluator.Location)
	if err != nil {
		return nil, utils.NewRuleError(utils.RuleCodePastDate, "invalid order date %q", input.Date)
	}
	if err := evaluator.CheckMutable(date); err != nil {
		return nil, err
	}

	price := ComboPrice(input.Combo)
	totalCost := price.Mul(decimal.NewFromInt(int64(len(input.GuestNames))))
	if !project.HasBudgetFor(totalCost) {
		return nil, utils.NewRuleError(utils.RuleCodeBudgetInsufficient,
			"%d guest meals require %s %s but project %q has %s %s available",
			len(input.GuestNames), totalCost.String(), Currency,
			project.Name, project.Budget.Add(project.OverdraftLimit).String(), Currency)
	}

	orders := make([]*Order, 0, len(input.GuestNames))
	orderDate := utils.DateOnly(date)
	for _, guestName := range input.GuestNames {
		guestName = strings.TrimSpace(guestName)
		if guestName == "" {
			return nil, errors.New("guest name cannot be empty")
		}
		orders = append(orders, &Order{
			CompanyId:   companyId,
			ProjectId:   &project.ID,
			GuestName:   guestName,
			IsGuest:     utils.NewTrue(),
			Date:        orderDate,
			Combo:       strings.ToLower(strings.TrimSpace(input.Combo)),
			Quantity:    1,
			Price:       price,
			TotalAmount: price,
			Status:      OrderStatusActive,
			Address:     input.Address,
			Notes:       input.Notes,
		})
	}

	tx := db.Begin()
	if err := tx.WithContext(ctx).Create(&orders).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	description := fmt.Sprintf("%d guest orders created for project %q on %s", len(orders), project.Name, input.Date)
	if err := createHistory(tx.WithContext(ctx), "*CREATE*", project.ID, "orders", nil, orders, description); err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, order := range orders {
		if err := RecordOrderEvent(ctx, tx, companyId, clock.Now(), order.ID, OrderEventReferenceOrder, OrderEventActionCreated, nil, order); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return orders, nil
}

/* bulk meal assignment */

type AssignMealsInput struct {
	EmployeeIds []int  `json:"employee_ids" binding:"required,min=1"`
	Date        string `json:"date" binding:"required"`
	Combo       string `json:"combo" binding:"required"`
	Address     string `json:"address"`
}

type AssignMealResult struct {
	EmployeeId int    `json:"employee_id"`
	OrderId    int    `json:"order_id,omitempty"`
	Skipped    bool   `json:"skipped"`
	Reason     string `json:"reason,omitempty"`
}

const (
	SkipReasonEmployeeNotFound   = "employee not found"
	SkipReasonEmployeeInactive   = "employee inactive"
	SkipReasonCompensationType   = "employee is on compensation"
	SkipReasonNoProject          = "employee has no project"
	SkipReasonInsufficientBudget = "insufficient personal budget"
	SkipReasonDuplicateOrder     = "order already exists for date"
)

// AssignMeals creates one order per employee, debiting each personal
// budget in its own transaction. A failing employee never blocks the
// rest; the caller gets per-employee results.
func AssignMeals(ctx context.Context, companyId int, input *AssignMealsInput, clock utils.Clock) ([]AssignMealResult, error) {
	db := config.GetDB()

	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}
	evaluator, err := company.CutoffEvaluator(clock)
	if err != nil {
		return nil, err
	}
	date, err := time.ParseInLocation("2006-01-02", input.Date, evaluator.Location)
	if err != nil {
		return nil, utils.NewRuleError(utils.RuleCodePastDate, "invalid order date %q", input.Date)
	}
	// the date gate applies to the batch as a whole
	if err := evaluator.CheckMutable(date); err != nil {
		return nil, err
	}

	employees, err := ListEmployeesByIds(ctx, companyId, input.EmployeeIds)
	if err != nil {
		return nil, err
	}
	byId := make(map[int]*Employee, len(employees))
	for _, e := range employees {
		byId[e.ID] = e
	}

	price := ComboPrice(input.Combo)
	combo := strings.ToLower(strings.TrimSpace(input.Combo))
	orderDate := utils.DateOnly(date)

	results := make([]AssignMealResult, 0, len(input.EmployeeIds))
	for _, employeeId := range utils.UniqueSlice(input.EmployeeIds) {
		result := AssignMealResult{EmployeeId: employeeId}

		employee, ok := byId[employeeId]
		switch {
		case !ok:
			result.Skipped, result.Reason = true, SkipReasonEmployeeNotFound
		case employee.IsActive != nil && !*employee.IsActive:
			result.Skipped, result.Reason = true, SkipReasonEmployeeInactive
		case employee.ServiceType == ServiceTypeCompensation:
			result.Skipped, result.Reason = true, SkipReasonCompensationType
		case employee.ProjectId == nil || *employee.ProjectId == 0:
			result.Skipped, result.Reason = true, SkipReasonNoProject
		}
		if result.Skipped {
			results = append(results, result)
			continue
		}

		orderId, err := assignMealTo(ctx, db, company, employee, orderDate, combo, price, input.Address, clock)
		if err != nil {
			result.Skipped = true
			if ruleErr, ok := utils.AsRuleError(err); ok {
				result.Reason = ruleErr.Message
			} else {
				result.Reason = err.Error()
			}
		} else {
			result.OrderId = orderId
		}
		results = append(results, result)
	}
	return results, nil
}

// assignMealTo runs one employee's assignment in its own transaction:
// duplicate check, order insert, personal budget debit.
func assignMealTo(ctx context.Context, db *gorm.DB, company *Company, employee *Employee,
	orderDate time.Time, combo string, price decimal.Decimal, address string, clock utils.Clock) (int, error) {

	tx := db.Begin()

	var count int64
	err := tx.WithContext(ctx).Model(&Order{}).
		Where("company_id = ? AND employee_id = ? AND date = ? AND status <> ?",
			employee.CompanyId, employee.ID, orderDate, OrderStatusCancelled).
		Count(&count).Error
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	if count > 0 {
		tx.Rollback()
		return 0, utils.NewRuleError(utils.RuleCodeTransitionNotAllowed, SkipReasonDuplicateOrder)
	}

	order := Order{
		CompanyId:   employee.CompanyId,
		ProjectId:   employee.ProjectId,
		EmployeeId:  &employee.ID,
		IsGuest:     utils.NewFalse(),
		Date:        orderDate,
		Combo:       combo,
		Quantity:    1,
		Price:       price,
		TotalAmount: price,
		Status:      OrderStatusActive,
		Address:     address,
	}
	if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	description := fmt.Sprintf("Meal %q assigned to %s for %s", combo, employee.Name, orderDate.Format("2006-01-02"))
	if err := DebitEmployeeBudget(tx, ctx, employee, price, TransactionTypeLunchDeduction, order.ID, description); err != nil {
		tx.Rollback()
		if ruleErr, ok := utils.AsRuleError(err); ok && ruleErr.Code == utils.RuleCodeBudgetInsufficient {
			return 0, utils.NewRuleError(utils.RuleCodeBudgetInsufficient, SkipReasonInsufficientBudget)
		}
		return 0, err
	}

	if err := RecordOrderEvent(ctx, tx, employee.CompanyId, clock.Now(), order.ID, OrderEventReferenceOrder, OrderEventActionCreated, nil, &order); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return order.ID, nil
}

/* bulk actions */

type BulkOrderActionInput struct {
	OrderIds []int  `json:"order_ids" binding:"required,min=1"`
	Action   string `json:"action" binding:"required"`
	// Combo is required for changeCombo
	Combo string `json:"combo"`
}

type BulkOrderActionResult struct {
	Updated       int               `json:"updated"`
	TotalRefunded decimal.Decimal   `json:"total_refunded"`
	Skipped       []OrderSkipReason `json:"skipped"`
}

type OrderSkipReason struct {
	OrderId int    `json:"order_id"`
	Reason  string `json:"reason"`
}

// BulkOrderAction applies pause/resume/changeCombo/cancel to a batch.
// The cutoff gate runs first over the whole batch and aborts before any
// mutation; after that, per-order state machine failures become skip
// reasons and everything else commits in one transaction.
func BulkOrderAction(ctx context.Context, companyId int, input *BulkOrderActionInput, clock utils.Clock) (*BulkOrderActionResult, error) {
	db := config.GetDB()

	action, err := ParseBulkAction(input.Action)
	if err != nil {
		return nil, err
	}
	if action == BulkActionChangeCombo && !KnownCombo(input.Combo) {
		return nil, utils.NewRuleError(utils.RuleCodeTransitionNotAllowed, "unknown combo %q", input.Combo)
	}

	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return nil, err
	}
	evaluator, err := company.CutoffEvaluator(clock)
	if err != nil {
		return nil, err
	}

	// every id must resolve inside the tenant before anything happens
	if err := utils.ValidateResourcesId[Order, int](ctx, companyId, input.OrderIds); err != nil {
		return nil, err
	}

	var orders []*Order
	err = db.WithContext(ctx).
		Where("company_id = ? AND id IN ?", companyId, utils.UniqueSlice(input.OrderIds)).
		Preload("Employee").
		Preload("Employee.Budget").
		Preload("Project").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	// all-or-nothing cutoff precheck before any write
	if action.RequiresCutoffCheck() {
		for _, order := range orders {
			if err := evaluator.CheckMutable(order.Date); err != nil {
				return nil, err
			}
		}
	}

	result := &BulkOrderActionResult{TotalRefunded: decimal.Zero}
	tx := db.Begin()

	for _, order := range orders {
		var err error
		switch action {
		case BulkActionChangeCombo:
			err = changeOrderCombo(tx, ctx, order, input.Combo, clock)
		case BulkActionCancel:
			var refunded decimal.Decimal
			refunded, err = cancelOrder(tx, ctx, order, evaluator, clock)
			if err == nil {
				result.TotalRefunded = result.TotalRefunded.Add(refunded)
			}
		default:
			err = transitionOrder(tx, ctx, order, action, clock)
		}
		if err != nil {
			if ruleErr, ok := utils.AsRuleError(err); ok {
				result.Skipped = append(result.Skipped, OrderSkipReason{OrderId: order.ID, Reason: ruleErr.Message})
				continue
			}
			tx.Rollback()
			return nil, err
		}
		result.Updated++
	}

	description := fmt.Sprintf("Bulk %s: %d updated, %d skipped", action, result.Updated, len(result.Skipped))
	if err := createHistory(tx.WithContext(ctx), "*BULK*", 0, "orders", input.OrderIds, result, description); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return result, nil
}

func transitionOrder(tx *gorm.DB, ctx context.Context, order *Order, action BulkAction, clock utils.Clock) error {
	target, ok := action.TargetStatus()
	if !ok {
		return errors.New("invalid bulk action")
	}
	if !order.Status.CanTransition(target) {
		return utils.NewRuleError(utils.RuleCodeTransitionNotAllowed,
			"order %d cannot move from %s to %s", order.ID, order.Status, target)
	}

	oldStatus := order.Status
	if err := tx.WithContext(ctx).Model(order).Update("status", target).Error; err != nil {
		return err
	}
	order.Status = target
	return RecordOrderEvent(ctx, tx, order.CompanyId, clock.Now(), order.ID, OrderEventReferenceOrder,
		OrderEventActionStatusChanged, oldStatus, target)
}

// changeOrderCombo re-prices the order. A Completed order takes a
// budget correction for the price difference against the refund target.
func changeOrderCombo(tx *gorm.DB, ctx context.Context, order *Order, combo string, clock utils.Clock) error {
	if !order.Status.CanBeModified() {
		return utils.NewRuleError(utils.RuleCodeTransitionNotAllowed,
			"order %d is cancelled and cannot be modified", order.ID)
	}

	newPrice := ComboPrice(combo)
	newTotal := newPrice.Mul(decimal.NewFromInt(int64(order.Quantity)))
	oldTotal := order.TotalAmount

	if order.Status == OrderStatusCompleted && !newTotal.Equal(oldTotal) {
		diff := newTotal.Sub(oldTotal)
		description := fmt.Sprintf("Combo change correction for order %d: %s -> %s", order.ID, order.Combo, combo)
		if diff.IsPositive() {
			if err := debitRefundTarget(tx, ctx, order, diff, TransactionTypeLunchDeduction, description); err != nil {
				return err
			}
		} else {
			if err := creditRefundTarget(tx, ctx, order, diff.Neg(), description); err != nil {
				return err
			}
		}
	}

	updates := map[string]interface{}{
		"combo":        strings.ToLower(strings.TrimSpace(combo)),
		"price":        newPrice,
		"total_amount": newTotal,
	}
	if err := tx.WithContext(ctx).Model(order).Updates(updates).Error; err != nil {
		return err
	}
	return RecordOrderEvent(ctx, tx, order.CompanyId, clock.Now(), order.ID, OrderEventReferenceOrder,
		OrderEventActionStatusChanged, oldTotal, newTotal)
}

// cancelOrder cancels one order. Completed orders refund their total to
// the refund target; a future-dated employee order with no active lunch
// subscription is removed outright instead of being kept as Cancelled.
func cancelOrder(tx *gorm.DB, ctx context.Context, order *Order, evaluator *CutoffEvaluator, clock utils.Clock) (decimal.Decimal, error) {
	refunded := decimal.Zero

	if !order.Status.CanBeCancelled() {
		return refunded, utils.NewRuleError(utils.RuleCodeTransitionNotAllowed,
			"order %d is already cancelled", order.ID)
	}

	if order.Status == OrderStatusCompleted {
		description := fmt.Sprintf("Refund for cancelled order %d (%s on %s)", order.ID, order.Combo, order.Date.Format("2006-01-02"))
		if err := creditRefundTarget(tx, ctx, order, order.TotalAmount, description); err != nil {
			return refunded, err
		}
		refunded = order.TotalAmount
	}

	// one-off future employee orders disappear instead of lingering as
	// Cancelled rows
	isFuture := !evaluator.IsToday(order.Date) && !evaluator.IsPastDate(order.Date)
	isEmployeeOrder := (order.IsGuest == nil || !*order.IsGuest) && order.EmployeeId != nil
	if isFuture && isEmployeeOrder && order.Status != OrderStatusCompleted {
		hasSub, err := HasActiveLunchSubscription(ctx, order.CompanyId, *order.EmployeeId)
		if err != nil {
			return refunded, err
		}
		if !hasSub {
			if err := tx.WithContext(ctx).Delete(order).Error; err != nil {
				return refunded, err
			}
			return refunded, RecordOrderEvent(ctx, tx, order.CompanyId, clock.Now(), order.ID,
				OrderEventReferenceOrder, OrderEventActionCancelled, order, nil)
		}
	}

	oldStatus := order.Status
	if err := tx.WithContext(ctx).Model(order).Update("status", OrderStatusCancelled).Error; err != nil {
		return refunded, err
	}
	order.Status = OrderStatusCancelled
	return refunded, RecordOrderEvent(ctx, tx, order.CompanyId, clock.Now(), order.ID,
		OrderEventReferenceOrder, OrderEventActionCancelled, oldStatus, OrderStatusCancelled)
}

// refund target: the employee's personal budget for Compensation
// employees, the project budget otherwise. An order with neither is an
// orphan and fails hard: silently skipping would lose money.
func creditRefundTarget(tx *gorm.DB, ctx context.Context, order *Order, amount decimal.Decimal, description string) error {
	if order.Employee != nil && order.Employee.ServiceType == ServiceTypeCompensation {
		return CreditEmployeeBudget(tx, ctx, order.Employee, amount, TransactionTypeRefund, order.ID, description)
	}
	if order.Project != nil {
		return RefundProjectBudget(tx, ctx, order.Project, amount, order.ID, description)
	}
	return utils.NewRuleError(utils.RuleCodeOrphanedOrder,
		"order %d has no project and no compensation employee to receive the correction", order.ID)
}

func debitRefundTarget(tx *gorm.DB, ctx context.Context, order *Order, amount decimal.Decimal, txType TransactionType, description string) error {
	if order.Employee != nil && order.Employee.ServiceType == ServiceTypeCompensation {
		return DebitEmployeeBudget(tx, ctx, order.Employee, amount, txType, order.ID, description)
	}
	if order.Project != nil {
		return DeductProjectBudget(tx, ctx, order.Project, amount, txType, order.ID, description)
	}
	return utils.NewRuleError(utils.RuleCodeOrphanedOrder,
		"order %d has no project and no compensation employee to charge the correction", order.ID)
}

/* employee freeze */

// FreezeEmployeeOrders marks the employee frozen and moves their
// upcoming Active orders to Frozen.
func FreezeEmployeeOrders(ctx context.Context, companyId int, employeeId int, clock utils.Clock) (int, error) {
	return toggleEmployeeFreeze(ctx, companyId, employeeId, true, clock)
}

// UnfreezeEmployeeOrders reverses FreezeEmployeeOrders.
func UnfreezeEmployeeOrders(ctx context.Context, companyId int, employeeId int, clock utils.Clock) (int, error) {
	return toggleEmployeeFreeze(ctx, companyId, employeeId, false, clock)
}

func toggleEmployeeFreeze(ctx context.Context, companyId int, employeeId int, freeze bool, clock utils.Clock) (int, error) {
	db := config.GetDB()

	employee, err := GetEmployee(ctx, companyId, employeeId)
	if err != nil {
		return 0, err
	}
	company, err := GetCompanyById(ctx, companyId)
	if err != nil {
		return 0, err
	}
	evaluator, err := company.CutoffEvaluator(clock)
	if err != nil {
		return 0, err
	}

	fromStatus, toStatus := OrderStatusActive, OrderStatusFrozen
	actionType := "*FREEZE*"
	if !freeze {
		fromStatus, toStatus = OrderStatusFrozen, OrderStatusActive
		actionType = "*UNFREEZE*"
	}

	tx := db.Begin()

	if err := tx.WithContext(ctx).Model(&Employee{}).
		Where("id = ? AND company_id = ?", employeeId, companyId).
		UpdateColumn("is_frozen", freeze).Error; err != nil {
		tx.Rollback()
		return 0, err
	}

	result := tx.WithContext(ctx).Model(&Order{}).
		Where("company_id = ? AND employee_id = ? AND status = ? AND date >= ?",
			companyId, employeeId, fromStatus, utils.DateOnly(evaluator.Today())).
		Update("status", toStatus)
	if result.Error != nil {
		tx.Rollback()
		return 0, result.Error
	}

	description := fmt.Sprintf("%s %d upcoming orders of %s", actionType, result.RowsAffected, employee.Name)
	if err := createHistory(tx.WithContext(ctx), actionType, employeeId, "employees", fromStatus, toStatus, description); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return int(result.RowsAffected), nil
}

/* generation support */

// HasOrderForDate is the generation job's idempotency check.
func HasOrderForDate(ctx context.Context, tx *gorm.DB, companyId int, employeeId int, date time.Time) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&Order{}).
		Where("company_id = ? AND employee_id = ? AND date = ? AND status <> ?",
			companyId, employeeId, date, OrderStatusCancelled).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListActiveOrdersForDate locks a project's Active orders of one day
// for settlement.
func ListActiveOrdersForDate(ctx context.Context, tx *gorm.DB, companyId int, projectId int, dayStart, dayEnd time.Time) ([]*Order, error) {
	var orders []*Order
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ? AND project_id = ? AND status = ?",
			companyId, projectId, OrderStatusActive).
		Where("date BETWEEN ? AND ?", dayStart, dayEnd).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
