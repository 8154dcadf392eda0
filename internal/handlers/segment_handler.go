package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ratepro/internal/services"
)

// SegmentPreviewRequest is a segment rule plus the number of contacts to
// return.
type SegmentPreviewRequest struct {
	services.SegmentRule
	Limit int `json:"limit"`
}

type SegmentHandler struct {
	segments *services.SegmentService
	logger   *logrus.Logger
}

func NewSegmentHandler(segments *services.SegmentService, logger *logrus.Logger) *SegmentHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SegmentHandler{segments: segments, logger: logger}
}

// Preview compiles a rule and lists matching contacts.
// @Summary Preview segment
// @Tags segments
// @Accept json
// @Produce json
// @Param rule body SegmentPreviewRequest true "Segment rule"
// @Success 200 {object} services.SegmentPreview
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/segments/preview [post]
func (h *SegmentHandler) Preview(c *gin.Context) {
	var req SegmentPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	preview, err := h.segments.Preview(c.Request.Context(), tenantOf(c), req.SegmentRule, req.Limit)
	if err != nil {
		respondError(c, h.logger, "Failed to preview segment", err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func RegisterSegmentRoutes(r *gin.RouterGroup, handler *SegmentHandler) {
	r.POST("/segments/preview", handler.Preview)
}
