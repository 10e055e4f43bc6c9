package models

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/benefits_backend/utils"
)

// DefaultTimezone is used by background jobs when a company carries no
// timezone or an unloadable one.
const DefaultTimezone = "Asia/Dushanbe"

// CutoffEvaluator answers "can this order date still be touched" for one
// company, using the company's timezone and daily cutoff time.
type CutoffEvaluator struct {
	Location *time.Location
	Cutoff   CutoffTime
	Clock    utils.Clock
}

type CutoffTime struct {
	Hour   int
	Minute int
}

// ParseCutoffTime parses the stored "HH:MM" cutoff string.
func ParseCutoffTime(value string) (CutoffTime, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return CutoffTime{}, utils.NewRuleError(utils.RuleCodeCutoffPassed, "invalid cutoff time %q", value)
	}
	return CutoffTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// LoadLocation resolves an IANA timezone name, failing with a rule error
// the API layer maps to a business rule violation.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return nil, utils.NewRuleError(utils.RuleCodeInvalidTimezone, "company timezone is empty")
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, utils.NewRuleError(utils.RuleCodeInvalidTimezone, "unknown timezone %q", name)
	}
	return loc, nil
}

// LoadLocationOrDefault is the background-job variant: it never fails,
// falling back to DefaultTimezone so a misconfigured company cannot
// stall a whole settlement run.
func LoadLocationOrDefault(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if name == "" || err != nil {
		loc, err = time.LoadLocation(DefaultTimezone)
		if err != nil {
			return time.UTC
		}
	}
	return loc
}

// NewCutoffEvaluator builds an evaluator for a company's stored timezone
// and cutoff string.
func NewCutoffEvaluator(timezone, cutoff string, clock utils.Clock) (*CutoffEvaluator, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	ct, err := ParseCutoffTime(cutoff)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &CutoffEvaluator{Location: loc, Cutoff: ct, Clock: clock}, nil
}

func (e *CutoffEvaluator) now() time.Time {
	return e.Clock.Now().In(e.Location)
}

// Today returns the current company-local calendar date at midnight.
func (e *CutoffEvaluator) Today() time.Time {
	now := e.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.Location)
}

// IsToday compares date's own calendar components against the current
// company-local date. Stored order dates carry the calendar day at UTC
// midnight; re-reading them through the company zone would shift them
// by a day.
func (e *CutoffEvaluator) IsToday(date time.Time) bool {
	y, m, d := date.Date()
	ny, nm, nd := e.now().Date()
	return y == ny && m == nm && d == nd
}

// IsPastDate reports whether date's calendar day falls before the
// company-local today.
func (e *CutoffEvaluator) IsPastDate(date time.Time) bool {
	y, m, d := date.Date()
	local := time.Date(y, m, d, 0, 0, 0, 0, e.Location)
	return local.Before(e.Today())
}

// IsCutoffPassed reports whether mutations for today's orders are
// closed. An instant exactly equal to the cutoff is still allowed.
// Future dates never hit the cutoff; past dates are handled by
// IsPastDate, not here.
func (e *CutoffEvaluator) IsCutoffPassed(date time.Time) bool {
	if !e.IsToday(date) {
		return false
	}
	now := e.now()
	cutoffAt := time.Date(now.Year(), now.Month(), now.Day(), e.Cutoff.Hour, e.Cutoff.Minute, 0, 0, e.Location)
	return now.After(cutoffAt)
}

// CheckMutable is the one gate order mutations call: past dates fail
// with PAST_DATE, today's orders fail with CUTOFF_PASSED once the
// cutoff is behind us.
func (e *CutoffEvaluator) CheckMutable(date time.Time) error {
	if e.IsPastDate(date) {
		return utils.NewRuleError(utils.RuleCodePastDate, "order date %s is in the past", date.Format("2006-01-02"))
	}
	if e.IsCutoffPassed(date) {
		return utils.NewRuleError(utils.RuleCodeCutoffPassed, "cutoff %02d:%02d has passed for %s",
			e.Cutoff.Hour, e.Cutoff.Minute, date.Format("2006-01-02"))
	}
	return nil
}

// LocalDayRange returns the UTC instants bounding the company-local day
// containing date, for BETWEEN queries over timestamp columns.
func (e *CutoffEvaluator) LocalDayRange(date time.Time) (time.Time, time.Time) {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, e.Location)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start.UTC(), end.UTC()
}

func (e *CutoffEvaluator) String() string {
	return fmt.Sprintf("cutoff %02d:%02d (%s)", e.Cutoff.Hour, e.Cutoff.Minute, e.Location)
}
