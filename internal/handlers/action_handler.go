package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ratepro/internal/services"
)

type ActionHandler struct {
	actions *services.ActionStore
	factory *services.ActionFactory
	logger  *logrus.Logger
}

func NewActionHandler(actions *services.ActionStore, logger *logrus.Logger) *ActionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ActionHandler{actions: actions, factory: services.NewActionFactory(), logger: logger}
}

// List returns the tenant's actions, newest first.
// @Summary List actions
// @Tags actions
// @Produce json
// @Param status query string false "Status filter"
// @Param priority query string false "Priority filter"
// @Param response_id query string false "Source response"
// @Param page query int false "Page" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} PaginatedResponse
// @Router /api/v1/actions [get]
func (h *ActionHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	list, total, err := h.actions.List(c.Request.Context(), tenantOf(c), services.ActionFilter{
		Status:     c.Query("status"),
		Priority:   c.Query("priority"),
		ResponseID: c.Query("response_id"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to list actions", err)
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     list,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		Pages:    pages(total, pageSize),
	})
}

// Create stores a manually drafted action. Tenant, status and source in
// the payload are ignored.
// @Summary Create action
// @Tags actions
// @Accept json
// @Produce json
// @Success 201 {object} models.Action
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/actions [post]
func (h *ActionHandler) Create(c *gin.Context) {
	var payload map[string]interface{}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	draft, err := h.factory.DecodeDraft(payload)
	if err != nil {
		respondError(c, h.logger, "Invalid action", err)
		return
	}
	ctx := services.WithTenant(c.Request.Context(), tenantOf(c))
	action, err := h.factory.Build(ctx, draft)
	if err != nil {
		respondError(c, h.logger, "Invalid action", err)
		return
	}
	if err := h.actions.Insert(ctx, action); err != nil {
		respondError(c, h.logger, "Failed to create action", err)
		return
	}
	c.JSON(http.StatusCreated, action)
}

func RegisterActionRoutes(r *gin.RouterGroup, handler *ActionHandler) {
	actions := r.Group("/actions")
	{
		actions.GET("", handler.List)
		actions.POST("", handler.Create)
	}
}
