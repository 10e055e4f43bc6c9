package models

import (
	"context"
	"errors"

	"github.com/mmdatafocus/benefits_backend/utils"
)

type Resource interface {
	GetCompanyId() int
}

func (p Project) GetCompanyId() int              { return p.CompanyId }
func (e Employee) GetCompanyId() int             { return e.CompanyId }
func (s LunchSubscription) GetCompanyId() int    { return s.CompanyId }
func (s CompanySubscription) GetCompanyId() int  { return s.CompanyId }
func (o Order) GetCompanyId() int                { return o.CompanyId }
func (t CompensationTransaction) GetCompanyId() int { return t.CompanyId }

// first find in redis, then in db, using ctx's company_id in WHERE,
// cache result (may return RecordNotFound error)
func GetResource[T Resource](ctx context.Context, id int, associations ...string) (*T, error) {

	companyId, ok := utils.GetCompanyIdFromContext(ctx)
	if !ok || companyId <= 0 {
		return nil, errors.New("company id is required")
	}
	// find in redis
	result, err := utils.RetrieveRedis[T](id)
	if err != nil {
		return nil, err
	}
	// if not found in redis
	if result == nil {
		// fetch from db
		result, err = utils.FetchModel[T](ctx, companyId, id, associations...)
		if err != nil {
			return nil, err
		}

		// store in redis
		if err := utils.StoreRedis[T](result, id); err != nil {
			return nil, err
		}
	} else {
		// if found in redis
		// check if company ids match
		if (*result).GetCompanyId() != companyId {
			return nil, utils.ErrorRecordNotFound
		}
	}

	return result, nil
}
