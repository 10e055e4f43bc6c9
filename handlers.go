package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/benefits_backend/config"
	"github.com/mmdatafocus/benefits_backend/models"
	"github.com/mmdatafocus/benefits_backend/utils"
)

// respondError maps domain errors onto HTTP statuses. Business rule
// violations carry a machine readable code for the frontend.
func respondError(c *gin.Context, err error) {
	if ruleErr, ok := utils.AsRuleError(err); ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":  ruleErr.Code,
			"error": ruleErr.Message,
		})
		return
	}
	if errors.Is(err, utils.ErrorRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func authorizeAdminOnly(c *gin.Context) bool {
	isAdmin, ok := utils.GetIsAdminFromContext(c.Request.Context())
	if !ok || !isAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func companyIdFromRequest(c *gin.Context) (int, bool) {
	companyId, ok := utils.GetCompanyIdFromContext(c.Request.Context())
	if !ok || companyId <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return companyId, true
}

func intParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		info, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := models.Logout(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"logged_out": ok})
	}
}

func listOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "orders.list")
		defer span.End()

		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}

		filter := models.OrderListFilter{
			Address: c.Query("address"),
			Combo:   c.Query("combo"),
			Search:  c.Query("search"),
			Limit:   config.SearchLimit,
		}
		if v := c.Query("status"); v != "" {
			status, err := models.ParseOrderStatus(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			filter.Status = &status
		}
		if v := c.Query("service_type"); v != "" {
			serviceType, err := models.ParseServiceType(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			filter.ServiceType = &serviceType
		}
		if v := c.Query("date_from"); v != "" {
			t, err := time.Parse(time.DateOnly, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date_from must be YYYY-MM-DD"})
				return
			}
			filter.DateFrom = &t
		}
		if v := c.Query("date_to"); v != "" {
			t, err := time.Parse(time.DateOnly, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date_to must be YYYY-MM-DD"})
				return
			}
			filter.DateTo = &t
		}
		if v := c.Query("is_guest"); v != "" {
			isGuest := v == "true" || v == "1"
			filter.IsGuest = &isGuest
		}
		if v := c.Query("project_id"); v != "" {
			projectId, err := strconv.Atoi(v)
			if err != nil || projectId <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "project_id must be a positive integer"})
				return
			}
			filter.ProjectId = &projectId
		}
		if v := c.Query("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				filter.Offset = n
			}
		}
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				filter.Limit = n
			}
		}

		items, total, err := models.PaginateOrders(ctx, companyId, filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": total})
	}
}

func createGuestOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		var input models.NewGuestOrders
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		orders, err := models.CreateGuestOrders(c.Request.Context(), companyId, &input, appClock)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"orders": orders})
	}
}

func assignMealsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		var input models.AssignMealsInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		results, err := models.AssignMeals(c.Request.Context(), companyId, &input, appClock)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func bulkOrderActionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		var input models.BulkOrderActionInput
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		result, err := models.BulkOrderAction(c.Request.Context(), companyId, &input, appClock)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func freezeEmployeeHandler(freeze bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		employeeId, ok := intParam(c, "id")
		if !ok {
			return
		}
		var updated int
		var err error
		if freeze {
			updated, err = models.FreezeEmployeeOrders(c.Request.Context(), companyId, employeeId, appClock)
		} else {
			updated, err = models.UnfreezeEmployeeOrders(c.Request.Context(), companyId, employeeId, appClock)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"frozen": freeze, "updated_orders": updated})
	}
}

func listTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		var projectId *int
		if v := c.Query("project_id"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "project_id must be a positive integer"})
				return
			}
			projectId = &n
		}
		limit := config.SearchLimit
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		var after *string
		if v := c.Query("after"); v != "" {
			after = &v
		}

		edges, pageInfo, err := models.PaginateCompanyTransactions(c.Request.Context(), companyId, projectId, limit, after)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"edges": edges, "page_info": pageInfo})
	}
}

func listProjectsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		projects, err := utils.FetchAllModels[models.Project](c.Request.Context(), companyId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"projects": projects})
	}
}

func getProjectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := companyIdFromRequest(c); !ok {
			return
		}
		projectId, ok := intParam(c, "id")
		if !ok {
			return
		}
		project, err := models.GetResource[models.Project](c.Request.Context(), projectId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, project)
	}
}

func getEmployeeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := companyIdFromRequest(c); !ok {
			return
		}
		employeeId, ok := intParam(c, "id")
		if !ok {
			return
		}
		employee, err := models.GetResource[models.Employee](c.Request.Context(), employeeId, "Budget")
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, employee)
	}
}

// listHistoriesHandler pages a document's audit trail, newest first.
func listHistoriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		referenceType := c.Query("reference_type")
		if referenceType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_type is required"})
			return
		}
		referenceId, err := strconv.Atoi(c.Query("reference_id"))
		if err != nil || referenceId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reference_id must be a positive integer"})
			return
		}
		limit := config.SearchLimit
		if v := c.Query("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		histories, err := models.ListHistories(c.Request.Context(), companyId, referenceId, referenceType, limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"histories": histories})
	}
}

type depositRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
}

func depositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		projectId, ok := intParam(c, "id")
		if !ok {
			return
		}
		var req depositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, err)
			return
		}
		amount, err := utils.ParseDecimal(req.Amount)
		if err != nil || !amount.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal"})
			return
		}
		record, err := models.CreateDeposit(c.Request.Context(), companyId, projectId, amount, req.Description)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

func createUserHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authorizeAdminOnly(c) {
			return
		}
		companyId, ok := companyIdFromRequest(c)
		if !ok {
			return
		}
		var input models.NewUser
		if err := c.ShouldBindJSON(&input); err != nil {
			respondError(c, err)
			return
		}
		if input.CompanyId == 0 {
			input.CompanyId = companyId
		}
		user, err := models.CreateUser(c.Request.Context(), &input)
		if err != nil {
			respondError(c, err)
			return
		}
		user.PrepareGive()
		c.JSON(http.StatusCreated, user)
	}
}

type outboxReplayRequest struct {
	CompanyId int `json:"company_id"`
	RecordId  int `json:"record_id"`
}

func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Require auth token (SessionMiddleware puts username in context).
		if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !authorizeAdminOnly(c) {
			return
		}

		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.CompanyId <= 0 || req.RecordId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "company_id and record_id are required"})
			return
		}

		db := config.GetDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		// a silent no-op replay would hide a typoed record id
		if err := utils.ValidateResourceId[models.OrderEventRecord](c.Request.Context(), req.CompanyId, req.RecordId); err != nil {
			respondError(c, err)
			return
		}
		now := time.Now().UTC()
		if err := db.WithContext(c.Request.Context()).
			Model(&models.OrderEventRecord{}).
			Where("id = ? AND company_id = ?", req.RecordId, req.CompanyId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			}).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"company_id":      req.CompanyId,
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}
