package models_test

import (
	"testing"

	"github.com/mmdatafocus/benefits_backend/models"
)

func TestComboPrice(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"econom", "25"},
		{"standard", "35"},
		{"business", "50"},
		{"premium", "60"},
		{"Premium", "60"},
		{"  BUSINESS  ", "50"},
		// Unknown and empty combos price as standard; a typo must never
		// produce a free meal.
		{"", "35"},
		{"deluxe", "35"},
	}
	for _, tc := range cases {
		if got := models.ComboPrice(tc.in); got.String() != tc.expected {
			t.Fatalf("ComboPrice(%q) = %s, expected %s", tc.in, got, tc.expected)
		}
	}
}

func TestKnownCombo(t *testing.T) {
	for _, combo := range models.ComboTypes() {
		if !models.KnownCombo(string(combo)) {
			t.Fatalf("KnownCombo(%q) = false", combo)
		}
	}
	if models.KnownCombo("deluxe") {
		t.Fatal("KnownCombo accepted an unconfigured combo")
	}
	if models.KnownCombo("") {
		t.Fatal("KnownCombo accepted the empty string")
	}
}
