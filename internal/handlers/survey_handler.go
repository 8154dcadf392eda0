package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"ratepro/internal/models"
	"ratepro/internal/services"
)

// SurveyRequest is the body used to create or validate a survey.
type SurveyRequest struct {
	Title          string                `json:"title" binding:"required"`
	Description    string                `json:"description"`
	TargetAudience models.TargetAudience `json:"targetAudience"`
	Questions      []models.Question     `json:"questions"`
	RatingScale    int                   `json:"ratingScale"`
}

func (r SurveyRequest) toModel() *models.Survey {
	return &models.Survey{
		Title:          r.Title,
		Description:    r.Description,
		TargetAudience: datatypes.NewJSONType(r.TargetAudience),
		Questions:      r.Questions,
		RatingScale:    r.RatingScale,
	}
}

type SurveyHandler struct {
	surveys *services.SurveyService
	logger  *logrus.Logger
}

func NewSurveyHandler(surveys *services.SurveyService, logger *logrus.Logger) *SurveyHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SurveyHandler{surveys: surveys, logger: logger}
}

// Create stores a draft survey.
// @Summary Create survey
// @Tags surveys
// @Accept json
// @Produce json
// @Param survey body SurveyRequest true "Survey"
// @Success 201 {object} models.Survey
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/surveys [post]
func (h *SurveyHandler) Create(c *gin.Context) {
	var req SurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	survey := req.toModel()
	if err := h.surveys.Create(c.Request.Context(), tenantOf(c), survey); err != nil {
		respondError(c, h.logger, "Failed to create survey", err)
		return
	}
	c.JSON(http.StatusCreated, survey)
}

// Validate checks a survey's branching without storing it.
// @Summary Validate survey flow
// @Tags surveys
// @Accept json
// @Produce json
// @Param survey body SurveyRequest true "Survey"
// @Success 200 {object} services.FlowValidationResult
// @Router /api/v1/surveys/validate [post]
func (h *SurveyHandler) Validate(c *gin.Context) {
	var req SurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	c.JSON(http.StatusOK, h.surveys.Validate(req.toModel()))
}

// Publish validates a stored survey and marks it published.
// @Summary Publish survey
// @Tags surveys
// @Produce json
// @Param surveyId path string true "Survey ID"
// @Success 200 {object} models.Survey
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/surveys/{surveyId}/publish [post]
func (h *SurveyHandler) Publish(c *gin.Context) {
	survey, err := h.surveys.Publish(c.Request.Context(), tenantOf(c), c.Param("surveyId"))
	if err != nil {
		respondError(c, h.logger, "Failed to publish survey", err)
		return
	}
	c.JSON(http.StatusOK, survey)
}

func RegisterSurveyRoutes(r *gin.RouterGroup, handler *SurveyHandler) {
	surveys := r.Group("/surveys")
	{
		surveys.POST("", handler.Create)
		surveys.POST("/validate", handler.Validate)
		surveys.POST("/:surveyId/publish", handler.Publish)
	}
}
