package config

import (
	"os"
	"strconv"
	"strings"
)

// SettlementDryRun makes the settlement job log what it would debit
// without writing budget changes. Used when onboarding a new company.
//
// Set via env:
// - SETTLEMENT_DRY_RUN=true
func SettlementDryRun() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SETTLEMENT_DRY_RUN")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AutoGenerationDisabledFor suspends daily order generation for the named
// companies without touching their subscriptions.
//
// Set via env:
// - GENERATION_DISABLED_COMPANIES="12,45"
func AutoGenerationDisabledFor(companyId int) bool {
	raw := os.Getenv("GENERATION_DISABLED_COMPANIES")
	if strings.TrimSpace(raw) == "" {
		return false
	}
	want := strconv.Itoa(companyId)
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == want {
			return true
		}
	}
	return false
}
