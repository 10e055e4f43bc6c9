package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// Machine-readable codes for business rule violations. Admins see the
// message; clients branch on the code.
const (
	RuleCodeBudgetInsufficient   = "BUDGET_INSUFFICIENT"
	RuleCodeCutoffPassed         = "CUTOFF_PASSED"
	RuleCodePastDate             = "PAST_DATE"
	RuleCodeTransitionNotAllowed = "TRANSITION_NOT_ALLOWED"
	RuleCodeOrphanedOrder        = "ORPHANED_ORDER"
	RuleCodeInvalidTimezone      = "INVALID_TIMEZONE"
)

// RuleError is a business rule violation: the caller must correct the
// input; retrying the same request will fail the same way.
type RuleError struct {
	Code    string
	Message string
}

func (e *RuleError) Error() string {
	return e.Message
}

func NewRuleError(code string, format string, args ...interface{}) *RuleError {
	return &RuleError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRuleError unwraps err into a *RuleError if it is one.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
