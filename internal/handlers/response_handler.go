package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ratepro/internal/models"
	"ratepro/internal/services"
)

// SubmitResponseRequest is the body of a survey submission.
type SubmitResponseRequest struct {
	ContactID string          `json:"contactId"`
	Review    string          `json:"review"`
	Rating    *float64        `json:"rating"`
	Score     *int            `json:"score"`
	Answers   []models.Answer `json:"answers"`
}

// ResponseHandler stores submissions and, when enabled, analyzes them in
// the background.
type ResponseHandler struct {
	responses   *services.ResponseStore
	surveys     *services.SurveyStore
	analysis    *services.AnalysisService
	autoAnalyze bool
	timeout     time.Duration
	logger      *logrus.Logger
	wg          sync.WaitGroup
}

func NewResponseHandler(responses *services.ResponseStore, surveys *services.SurveyStore, analysis *services.AnalysisService, autoAnalyze bool, logger *logrus.Logger) *ResponseHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ResponseHandler{
		responses:   responses,
		surveys:     surveys,
		analysis:    analysis,
		autoAnalyze: autoAnalyze && analysis != nil,
		timeout:     2 * time.Minute,
		logger:      logger,
	}
}

// Submit stores a response for a published survey of the caller's tenant.
// @Summary Submit a survey response
// @Tags responses
// @Accept json
// @Produce json
// @Param surveyId path string true "Survey ID"
// @Param response body SubmitResponseRequest true "Response"
// @Success 201 {object} models.Response
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/surveys/{surveyId}/responses [post]
func (h *ResponseHandler) Submit(c *gin.Context) {
	var req SubmitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	tenant := tenantOf(c)
	surveyID := c.Param("surveyId")
	ctx := c.Request.Context()

	survey, err := h.surveys.Get(ctx, tenant, surveyID)
	if err != nil {
		respondError(c, h.logger, "Failed to load survey", err)
		return
	}
	if survey.Status != models.SurveyStatusPublished {
		respondError(c, h.logger, "Survey not accepting responses", services.ErrSurveyNotPublished)
		return
	}

	resp := &models.Response{
		TenantID:  tenant,
		SurveyID:  surveyID,
		ContactID: req.ContactID,
		Review:    req.Review,
		Rating:    req.Rating,
		Score:     req.Score,
		Answers:   req.Answers,
	}
	if err := services.ValidateResponse(resp, survey.RatingScale); err != nil {
		respondError(c, h.logger, "Invalid response", err)
		return
	}
	if err := h.responses.Create(ctx, resp); err != nil {
		respondError(c, h.logger, "Failed to store response", err)
		return
	}

	if h.autoAnalyze {
		h.analyzeAsync(services.AnalyzeRequest{ResponseID: resp.ID, SurveyID: surveyID, TenantID: tenant})
	}
	c.JSON(http.StatusCreated, resp)
}

// Get returns a stored response including its analysis.
func (h *ResponseHandler) Get(c *gin.Context) {
	resp, err := h.responses.Get(c.Request.Context(), tenantOf(c), c.Param("responseId"))
	if err != nil {
		respondError(c, h.logger, "Failed to load response", err)
		return
	}
	if resp.SurveyID != c.Param("surveyId") {
		respondError(c, h.logger, "Failed to load response", services.ErrResponseNotFound)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ResponseHandler) analyzeAsync(req services.AnalyzeRequest) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if _, err := h.analysis.AnalyzeAndAct(ctx, req); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":   req.TenantID,
				"response_id": req.ResponseID,
			}).Warn("background analysis failed")
		}
	}()
}

// Wait blocks until background analyses have finished.
func (h *ResponseHandler) Wait() {
	h.wg.Wait()
}

func RegisterResponseRoutes(r *gin.RouterGroup, handler *ResponseHandler) {
	responses := r.Group("/surveys/:surveyId/responses")
	{
		responses.POST("", handler.Submit)
		responses.GET("/:responseId", handler.Get)
	}
}
