package processing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/pkg/errors"
	"github.com/andrejvysny/spendly-sub003/pkg/logging"
)

type Handler struct {
	service Service
	log     logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		process := v1.Group("/process")
		{
			process.POST("", h.ProcessTransactions)
			process.POST("/rules", h.ProcessForRules)
			process.POST("/date-range", h.ProcessDateRange)
		}

		v1.POST("/rules/test", h.TestRule)
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.log.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// userID reads the authenticated user from the X-User-ID header. The
// gateway in front of this service owns authentication.
func userID(c *gin.Context) (int64, error) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return 0, errors.ErrUnauthorized.WithDetail("header", "X-User-ID header is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrUnauthorized.WithDetail("header", "X-User-ID header must be a positive integer")
	}
	return id, nil
}

type ProcessRequest struct {
	TransactionIDs []int64 `json:"transaction_ids" binding:"required"`
	Trigger        string  `json:"trigger"`
	DryRun         bool    `json:"dry_run"`
}

// ProcessTransactions godoc
// @Summary      Run rules against transactions
// @Description  Evaluate all active rules for the trigger against the given transactions
// @Tags         processing
// @Accept       json
// @Produce      json
// @Param        request  body      ProcessRequest  true  "Processing request"
// @Success      200      {object}  rules.ExecutionSummary
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /process [post]
func (h *Handler) ProcessTransactions(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	trigger := rules.TriggerType(req.Trigger)
	if req.Trigger == "" {
		trigger = rules.TriggerManual
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	summary, err := h.service.ProcessTransactions(ctx, uid, req.TransactionIDs, trigger, req.DryRun)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type ProcessForRulesRequest struct {
	TransactionIDs []int64 `json:"transaction_ids" binding:"required"`
	RuleIDs        []int64 `json:"rule_ids" binding:"required"`
	DryRun         bool    `json:"dry_run"`
}

// ProcessForRules godoc
// @Summary      Run selected rules against transactions
// @Description  Evaluate an explicit rule subset against the given transactions
// @Tags         processing
// @Accept       json
// @Produce      json
// @Param        request  body      ProcessForRulesRequest  true  "Processing request"
// @Success      200      {object}  rules.ExecutionSummary
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /process/rules [post]
func (h *Handler) ProcessForRules(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req ProcessForRulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	summary, err := h.service.ProcessTransactionsForRules(ctx, uid, req.TransactionIDs, req.RuleIDs, req.DryRun)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type ProcessDateRangeRequest struct {
	StartDate string  `json:"start_date" binding:"required"`
	EndDate   string  `json:"end_date" binding:"required"`
	RuleIDs   []int64 `json:"rule_ids"`
	DryRun    bool    `json:"dry_run"`
}

// ProcessDateRange godoc
// @Summary      Run rules against a date range
// @Description  Evaluate rules against every transaction booked in the inclusive date range
// @Tags         processing
// @Accept       json
// @Produce      json
// @Param        request  body      ProcessDateRangeRequest  true  "Processing request"
// @Success      200      {object}  rules.ExecutionSummary
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /process/date-range [post]
func (h *Handler) ProcessDateRange(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req ProcessDateRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		h.handleError(c, errors.ErrValidation.WithDetail("start_date", "must be YYYY-MM-DD"))
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		h.handleError(c, errors.ErrValidation.WithDetail("end_date", "must be YYYY-MM-DD"))
		return
	}
	end = end.Add(24*time.Hour - time.Nanosecond)

	ctx := logging.WithUserID(c.Request.Context(), uid)
	summary, err := h.service.ProcessDateRange(ctx, uid, start, end, req.RuleIDs, req.DryRun)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type TestRuleRequest struct {
	TransactionIDs []int64    `json:"transaction_ids" binding:"required"`
	Rule           rules.Rule `json:"rule" binding:"required"`
}

// TestRule godoc
// @Summary      Preview an unsaved rule
// @Description  Evaluate a rule definition against transactions without persisting anything
// @Tags         processing
// @Accept       json
// @Produce      json
// @Param        request  body      TestRuleRequest  true  "Rule preview request"
// @Success      200      {object}  rules.ExecutionSummary
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /rules/test [post]
func (h *Handler) TestRule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req TestRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	summary, err := h.service.TestRule(ctx, uid, req.TransactionIDs, req.Rule)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
