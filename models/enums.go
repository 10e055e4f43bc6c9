package models

import (
	"errors"
	"fmt"
)

type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "Active"
	OrderStatusPaused    OrderStatus = "Paused"
	OrderStatusFrozen    OrderStatus = "Frozen"
	OrderStatusCompleted OrderStatus = "Completed"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

func ParseOrderStatus(str string) (OrderStatus, error) {
	switch str {
	case "Active":
		return OrderStatusActive, nil
	case "Paused":
		return OrderStatusPaused, nil
	case "Frozen":
		return OrderStatusFrozen, nil
	case "Completed":
		return OrderStatusCompleted, nil
	case "Cancelled":
		return OrderStatusCancelled, nil
	}
	return "", fmt.Errorf("invalid order status %q", str)
}

// allowedTransitions is the single source of truth for the order state
// machine. Completed and Cancelled are terminal.
var allowedTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusActive:    {OrderStatusPaused, OrderStatusFrozen, OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusPaused:    {OrderStatusActive, OrderStatusCancelled},
	OrderStatusFrozen:    {OrderStatusActive, OrderStatusCancelled},
	OrderStatusCompleted: {},
	OrderStatusCancelled: {},
}

func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range allowedTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderStatus) AllowedTransitions() []OrderStatus {
	return allowedTransitions[s]
}

func (s OrderStatus) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// CanBeCancelled covers every non-terminal status plus Completed, which
// cancels with a budget correction instead of a transition.
func (s OrderStatus) CanBeCancelled() bool {
	return s != OrderStatusCancelled
}

// CanBeModified gates combo changes. Completed orders accept a change
// with a price-difference correction.
func (s OrderStatus) CanBeModified() bool {
	return s != OrderStatusCancelled
}

type ServiceType string

const (
	// meals charged against a project lunch budget
	ServiceTypeCatering ServiceType = "Catering"
	// cash allowance paid onto the employee's personal budget
	ServiceTypeCompensation ServiceType = "Compensation"
)

func ParseServiceType(str string) (ServiceType, error) {
	switch str {
	case "Catering":
		return ServiceTypeCatering, nil
	case "Compensation":
		return ServiceTypeCompensation, nil
	}
	return "", fmt.Errorf("invalid service type %q", str)
}

type ScheduleType string

const (
	ScheduleTypeDaily         ScheduleType = "Daily"
	ScheduleTypeWorkdays      ScheduleType = "Workdays"
	ScheduleTypeEveryOtherDay ScheduleType = "EveryOtherDay"
	ScheduleTypeCustomDays    ScheduleType = "CustomDays"
)

func ParseScheduleType(str string) (ScheduleType, error) {
	switch str {
	case "Daily":
		return ScheduleTypeDaily, nil
	case "Workdays":
		return ScheduleTypeWorkdays, nil
	case "EveryOtherDay":
		return ScheduleTypeEveryOtherDay, nil
	case "CustomDays":
		return ScheduleTypeCustomDays, nil
	}
	return "", fmt.Errorf("invalid schedule type %q", str)
}

type TransactionType string

const (
	TransactionTypeDeposit        TransactionType = "Deposit"
	TransactionTypeLunchDeduction TransactionType = "LunchDeduction"
	TransactionTypeGuestOrder     TransactionType = "GuestOrder"
	TransactionTypeRefund         TransactionType = "Refund"
	TransactionTypeClientAppOrder TransactionType = "ClientAppOrder"
)

type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "Active"
	ProjectStatusArchived ProjectStatus = "Archived"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "Active"
	SubscriptionStatusPaused    SubscriptionStatus = "Paused"
	SubscriptionStatusExpired   SubscriptionStatus = "Expired"
	SubscriptionStatusCancelled SubscriptionStatus = "Cancelled"
)

type BulkAction string

const (
	BulkActionPause       BulkAction = "pause"
	BulkActionResume      BulkAction = "resume"
	BulkActionChangeCombo BulkAction = "changeCombo"
	BulkActionCancel      BulkAction = "cancel"
)

func ParseBulkAction(str string) (BulkAction, error) {
	switch str {
	case "pause":
		return BulkActionPause, nil
	case "resume":
		return BulkActionResume, nil
	case "changeCombo":
		return BulkActionChangeCombo, nil
	case "cancel":
		return BulkActionCancel, nil
	}
	return "", errors.New("invalid bulk action")
}

// statusForBulkAction maps a bulk action to the target status it drives
// the order toward. changeCombo keeps the current status.
func (a BulkAction) TargetStatus() (OrderStatus, bool) {
	switch a {
	case BulkActionPause:
		return OrderStatusPaused, true
	case BulkActionResume:
		return OrderStatusActive, true
	case BulkActionCancel:
		return OrderStatusCancelled, true
	}
	return "", false
}

// RequiresCutoffCheck reports whether the action is blocked for today's
// orders once the company cutoff time has passed. Resume is always
// allowed so a paused order is not stranded.
func (a BulkAction) RequiresCutoffCheck() bool {
	return a != BulkActionResume
}
