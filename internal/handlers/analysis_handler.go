package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ratepro/internal/services"
)

// AnalysisHandler exposes the feedback pipeline.
type AnalysisHandler struct {
	analysis *services.AnalysisService
	logger   *logrus.Logger
}

func NewAnalysisHandler(analysis *services.AnalysisService, logger *logrus.Logger) *AnalysisHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnalysisHandler{analysis: analysis, logger: logger}
}

// Analyze runs analyzeAndAct for one response.
// @Summary Analyze a response
// @Description Fetches insight, evaluates the rules and executes the resulting intents. With dry_run=true nothing is written.
// @Tags analysis
// @Produce json
// @Param surveyId path string true "Survey ID"
// @Param responseId path string true "Response ID"
// @Param dry_run query bool false "Plan only"
// @Success 200 {object} services.AnalyzeResult
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/surveys/{surveyId}/responses/{responseId}/analyze [post]
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	dryRun := false
	if raw := c.Query("dry_run"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "Invalid dry_run", fmt.Errorf("dry_run must be a boolean"))
			return
		}
		dryRun = v
	}

	res, err := h.analysis.AnalyzeAndAct(c.Request.Context(), services.AnalyzeRequest{
		ResponseID: c.Param("responseId"),
		SurveyID:   c.Param("surveyId"),
		TenantID:   tenantOf(c),
		DryRun:     dryRun,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to analyze response", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func RegisterAnalysisRoutes(r *gin.RouterGroup, handler *AnalysisHandler) {
	r.POST("/surveys/:surveyId/responses/:responseId/analyze", handler.Analyze)
}
