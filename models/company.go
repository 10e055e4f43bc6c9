package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/utils"
)

type Company struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Timezone    string    `gorm:"size:64" json:"timezone"`
	CutoffTime  string    `gorm:"size:5;not null;default:'11:00'" json:"cutoff_time"`
	WorkingDays string    `gorm:"size:64;not null;default:'Mon,Tue,Wed,Thu,Fri'" json:"working_days"`
	Address     string    `gorm:"size:255" json:"address"`
	Phone       string    `gorm:"size:20" json:"phone"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetCompanyById fetches a company, redis first then db, and caches it.
func GetCompanyById(ctx context.Context, companyId int) (*Company, error) {
	result, err := utils.RetrieveRedis[Company](companyId)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchSingleModel[Company](ctx, companyId)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[Company](result, companyId); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CutoffEvaluator builds the company's gate for order mutations.
func (c *Company) CutoffEvaluator(clock utils.Clock) (*CutoffEvaluator, error) {
	return NewCutoffEvaluator(c.Timezone, c.CutoffTime, clock)
}

// WorksOn reports whether weekday is one of the company's working days.
// Days are stored as a comma list of short English names ("Mon,Tue,...").
func (c *Company) WorksOn(weekday time.Weekday) bool {
	return worksOn(c.WorkingDays, weekday)
}

func worksOn(workingDays string, weekday time.Weekday) bool {
	want := weekday.String()[:3]
	for _, day := range strings.Split(workingDays, ",") {
		if strings.EqualFold(strings.TrimSpace(day), want) {
			return true
		}
	}
	return false
}

// ListActiveCompanies is used by background jobs, which run with the
// tenant scope skipped.
func ListActiveCompanies(ctx context.Context) ([]*Company, error) {
	db := config.GetDB()
	var companies []*Company
	err := db.WithContext(ctx).Where("is_active = ?", true).Find(&companies).Error
	if err != nil {
		return nil, err
	}
	return companies, nil
}
