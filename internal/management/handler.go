package management

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/andrejvysny/spendly-sub003/internal/constants"
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
		groups := v1.Group("/rule-groups")
		{
			groups.POST("", h.CreateRuleGroup)
			groups.GET("", h.ListRuleGroups)
			groups.GET("/:id", h.GetRuleGroup)
			groups.PUT("/:id", h.UpdateRuleGroup)
			groups.DELETE("/:id", h.DeleteRuleGroup)
		}

		ruleRoutes := v1.Group("/rules")
		{
			ruleRoutes.POST("", h.CreateRule)
			ruleRoutes.GET("", h.ListRules)
			ruleRoutes.GET("/:id", h.GetRule)
			ruleRoutes.PUT("/:id", h.UpdateRule)
			ruleRoutes.DELETE("/:id", h.DeleteRule)
			ruleRoutes.POST("/:id/toggle", h.ToggleRule)
			ruleRoutes.GET("/:id/versions", h.GetRuleVersions)
			ruleRoutes.GET("/:id/stats", h.GetRuleStats)
		}

		v1.GET("/audit-logs", h.GetAuditLogs)

		meta := v1.Group("/meta")
		{
			meta.GET("/fields", h.ListFields)
			meta.GET("/operators", h.ListOperators)
		}
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

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ErrValidation.WithDetail("id", "must be a positive integer")
	}
	return id, nil
}

// CreateRuleGroup godoc
// @Summary      Create a rule group
// @Tags         management
// @Accept       json
// @Produce      json
// @Param        request  body      CreateRuleGroupRequest  true  "Rule group"
// @Success      201      {object}  rules.RuleGroup
// @Failure      400      {object}  errors.ErrorResponse
// @Router       /rule-groups [post]
func (h *Handler) CreateRuleGroup(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req CreateRuleGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	group, err := h.service.CreateRuleGroup(ctx, uid, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

// ListRuleGroups godoc
// @Summary      List rule groups
// @Tags         management
// @Produce      json
// @Success      200  {array}  rules.RuleGroup
// @Router       /rule-groups [get]
func (h *Handler) ListRuleGroups(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	groups, err := h.service.ListRuleGroups(c.Request.Context(), uid)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, groups)
}

// GetRuleGroup godoc
// @Summary      Get a rule group
// @Tags         management
// @Produce      json
// @Param        id   path      int  true  "Rule group ID"
// @Success      200  {object}  rules.RuleGroup
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rule-groups/{id} [get]
func (h *Handler) GetRuleGroup(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	group, err := h.service.GetRuleGroup(c.Request.Context(), uid, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, group)
}

// UpdateRuleGroup godoc
// @Summary      Update a rule group
// @Tags         management
// @Accept       json
// @Produce      json
// @Param        id       path      int                     true  "Rule group ID"
// @Param        request  body      UpdateRuleGroupRequest  true  "Fields to update"
// @Success      200      {object}  rules.RuleGroup
// @Failure      404      {object}  errors.ErrorResponse
// @Router       /rule-groups/{id} [put]
func (h *Handler) UpdateRuleGroup(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req UpdateRuleGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	group, err := h.service.UpdateRuleGroup(ctx, uid, id, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, group)
}

// DeleteRuleGroup godoc
// @Summary      Delete a rule group and its rules
// @Tags         management
// @Param        id  path  int  true  "Rule group ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rule-groups/{id} [delete]
func (h *Handler) DeleteRuleGroup(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	if err := h.service.DeleteRuleGroup(ctx, uid, id); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CreateRule godoc
// @Summary      Create a rule
// @Description  Create a rule together with its condition groups and actions
// @Tags         management
// @Accept       json
// @Produce      json
// @Param        request  body      CreateRuleRequest  true  "Rule definition"
// @Success      201      {object}  rules.Rule
// @Failure      400      {object}  errors.ErrorResponse
// @Router       /rules [post]
func (h *Handler) CreateRule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	rule, err := h.service.CreateRule(ctx, uid, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// ListRules godoc
// @Summary      List rules
// @Tags         management
// @Produce      json
// @Success      200  {array}  rules.Rule
// @Router       /rules [get]
func (h *Handler) ListRules(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	out, err := h.service.ListRules(c.Request.Context(), uid)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, out)
}

// GetRule godoc
// @Summary      Get a rule with its conditions and actions
// @Tags         management
// @Produce      json
// @Param        id   path      int  true  "Rule ID"
// @Success      200  {object}  rules.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [get]
func (h *Handler) GetRule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	rule, err := h.service.GetRule(c.Request.Context(), uid, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// UpdateRule godoc
// @Summary      Update a rule
// @Description  Update rule fields; condition groups and actions are replaced when provided
// @Tags         management
// @Accept       json
// @Produce      json
// @Param        id       path      int                true  "Rule ID"
// @Param        request  body      UpdateRuleRequest  true  "Fields to update"
// @Success      200      {object}  rules.Rule
// @Failure      404      {object}  errors.ErrorResponse
// @Router       /rules/{id} [put]
func (h *Handler) UpdateRule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	rule, err := h.service.UpdateRule(ctx, uid, id, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// DeleteRule godoc
// @Summary      Delete a rule
// @Tags         management
// @Param        id  path  int  true  "Rule ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id} [delete]
func (h *Handler) DeleteRule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	if err := h.service.DeleteRule(ctx, uid, id); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ToggleRule godoc
// @Summary      Toggle a rule's active flag
// @Tags         management
// @Produce      json
// @Param        id   path      int  true  "Rule ID"
// @Success      200  {object}  rules.Rule
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/toggle [post]
func (h *Handler) ToggleRule(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	ctx := logging.WithUserID(c.Request.Context(), uid)
	rule, err := h.service.ToggleRule(ctx, uid, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// GetRuleVersions godoc
// @Summary      List a rule's version snapshots
// @Tags         management
// @Produce      json
// @Param        id   path     int  true  "Rule ID"
// @Success      200  {array}  RuleVersion
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/versions [get]
func (h *Handler) GetRuleVersions(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	versions, err := h.service.GetRuleVersions(c.Request.Context(), uid, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, versions)
}

// GetRuleStats godoc
// @Summary      Execution statistics for a rule
// @Tags         management
// @Produce      json
// @Param        id   path      int  true  "Rule ID"
// @Success      200  {object}  execlog.RuleStats
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /rules/{id}/stats [get]
func (h *Handler) GetRuleStats(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	id, err := pathID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	stats, err := h.service.GetRuleStats(c.Request.Context(), uid, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// GetAuditLogs godoc
// @Summary      List audit log entries
// @Tags         management
// @Produce      json
// @Param        rule_id  query    int  false  "Filter by rule ID"
// @Param        limit    query    int  false  "Maximum entries to return"
// @Success      200      {array}  AuditLog
// @Router       /audit-logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	uid, err := userID(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var ruleID *int64
	if raw := c.Query("rule_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.handleError(c, errors.ErrValidation.WithDetail("rule_id", "must be a positive integer"))
			return
		}
		ruleID = &id
	}

	limit := constants.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.handleError(c, errors.ErrValidation.WithDetail("limit", "must be a positive integer"))
			return
		}
		if n > constants.MaxLimit {
			n = constants.MaxLimit
		}
		limit = n
	}

	logs, err := h.service.GetAuditLogs(c.Request.Context(), uid, ruleID, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, logs)
}

// ListFields godoc
// @Summary      List condition fields the engine understands
// @Tags         management
// @Produce      json
// @Success      200  {array}  string
// @Router       /meta/fields [get]
func (h *Handler) ListFields(c *gin.Context) {
	c.JSON(http.StatusOK, rules.Fields())
}

// ListOperators godoc
// @Summary      List condition operators the engine understands
// @Tags         management
// @Produce      json
// @Success      200  {array}  string
// @Router       /meta/operators [get]
func (h *Handler) ListOperators(c *gin.Context) {
	c.JSON(http.StatusOK, rules.Operators())
}
