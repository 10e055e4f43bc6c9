package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

const Currency = "TJS"

type ComboType string

const (
	ComboTypeEconom   ComboType = "econom"
	ComboTypeStandard ComboType = "standard"
	ComboTypeBusiness ComboType = "business"
	ComboTypePremium  ComboType = "premium"
)

// comboPrices is the fixed per-meal price table in TJS.
var comboPrices = map[ComboType]decimal.Decimal{
	ComboTypeEconom:   decimal.NewFromInt(25),
	ComboTypeStandard: decimal.NewFromInt(35),
	ComboTypeBusiness: decimal.NewFromInt(50),
	ComboTypePremium:  decimal.NewFromInt(60),
}

// ComboPrice resolves a combo name to its price. Unknown or empty names
// fall back to the standard combo price so a mistyped combo can never
// produce a free or mispriced meal.
func ComboPrice(combo string) decimal.Decimal {
	normalized := ComboType(strings.ToLower(strings.TrimSpace(combo)))
	if price, ok := comboPrices[normalized]; ok {
		return price
	}
	return comboPrices[ComboTypeStandard]
}

// KnownCombo reports whether combo names a configured combo.
func KnownCombo(combo string) bool {
	_, ok := comboPrices[ComboType(strings.ToLower(strings.TrimSpace(combo)))]
	return ok
}

func ComboTypes() []ComboType {
	return []ComboType{ComboTypeEconom, ComboTypeStandard, ComboTypeBusiness, ComboTypePremium}
}
