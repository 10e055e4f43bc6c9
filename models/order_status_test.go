package models_test

import (
	"testing"

	"github.com/mmdatafocus/benefits_backend/models"
)

var allStatuses = []models.OrderStatus{
	models.OrderStatusActive,
	models.OrderStatusPaused,
	models.OrderStatusFrozen,
	models.OrderStatusCompleted,
	models.OrderStatusCancelled,
}

func TestOrderStatusTransitions(t *testing.T) {
	allowed := map[models.OrderStatus]map[models.OrderStatus]bool{
		models.OrderStatusActive: {
			models.OrderStatusPaused:    true,
			models.OrderStatusFrozen:    true,
			models.OrderStatusCompleted: true,
			models.OrderStatusCancelled: true,
		},
		models.OrderStatusPaused: {
			models.OrderStatusActive:    true,
			models.OrderStatusCancelled: true,
		},
		models.OrderStatusFrozen: {
			models.OrderStatusActive:    true,
			models.OrderStatusCancelled: true,
		},
		models.OrderStatusCompleted: {},
		models.OrderStatusCancelled: {},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[from][to]
			if got := from.CanTransition(to); got != want {
				t.Fatalf("CanTransition(%s -> %s) = %v, expected %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range allStatuses {
		terminal := s == models.OrderStatusCompleted || s == models.OrderStatusCancelled
		if got := s.IsTerminal(); got != terminal {
			t.Fatalf("IsTerminal(%s) = %v, expected %v", s, got, terminal)
		}
	}
}

func TestCancelAndModifyGates(t *testing.T) {
	// Completed orders still accept cancel and combo changes; both run
	// as budget corrections rather than status transitions.
	if !models.OrderStatusCompleted.CanBeCancelled() {
		t.Fatal("completed orders must be cancellable")
	}
	if !models.OrderStatusCompleted.CanBeModified() {
		t.Fatal("completed orders must accept combo changes")
	}
	if models.OrderStatusCancelled.CanBeCancelled() {
		t.Fatal("cancelled orders must not be cancellable again")
	}
	if models.OrderStatusCancelled.CanBeModified() {
		t.Fatal("cancelled orders must not be modifiable")
	}
}

func TestParseBulkAction(t *testing.T) {
	for _, name := range []string{"pause", "resume", "changeCombo", "cancel"} {
		if _, err := models.ParseBulkAction(name); err != nil {
			t.Fatalf("ParseBulkAction(%q): %v", name, err)
		}
	}
	if _, err := models.ParseBulkAction("freeze"); err == nil {
		t.Fatal("ParseBulkAction accepted an unknown action")
	}
}

func TestBulkActionTargets(t *testing.T) {
	cases := []struct {
		action models.BulkAction
		target models.OrderStatus
		ok     bool
	}{
		{models.BulkActionPause, models.OrderStatusPaused, true},
		{models.BulkActionResume, models.OrderStatusActive, true},
		{models.BulkActionCancel, models.OrderStatusCancelled, true},
		{models.BulkActionChangeCombo, "", false},
	}
	for _, tc := range cases {
		target, ok := tc.action.TargetStatus()
		if ok != tc.ok || target != tc.target {
			t.Fatalf("TargetStatus(%s) = (%s, %v), expected (%s, %v)", tc.action, target, ok, tc.target, tc.ok)
		}
	}
}

func TestResumeIsNotCutoffGated(t *testing.T) {
	for _, action := range []models.BulkAction{
		models.BulkActionPause,
		models.BulkActionChangeCombo,
		models.BulkActionCancel,
	} {
		if !action.RequiresCutoffCheck() {
			t.Fatalf("%s must be cutoff gated", action)
		}
	}
	if models.BulkActionResume.RequiresCutoffCheck() {
		t.Fatal("resume must bypass the cutoff gate")
	}
}
