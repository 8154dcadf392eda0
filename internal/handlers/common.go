package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ratepro/internal/middleware"
	"ratepro/internal/services"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    int         `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// PaginatedResponse wraps list endpoints.
type PaginatedResponse struct {
	Data     interface{} `json:"data"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Pages    int         `json:"pages"`
}

type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func badRequest(c *gin.Context, title string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   title,
		Message: err.Error(),
		Code:    http.StatusBadRequest,
	})
}

// respondError maps service error kinds to HTTP status codes.
func respondError(c *gin.Context, logger *logrus.Logger, title string, err error) {
	status := http.StatusInternalServerError
	resp := ErrorResponse{Error: title, Message: err.Error()}

	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
		resp.Details = verr.Errors
	case errors.Is(err, services.ErrValidationFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrResponseNotFound), errors.Is(err, services.ErrSurveyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrSurveyNotPublished):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInputInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrAnalysisInProgress):
		status = http.StatusConflict
	case errors.Is(err, services.ErrInsightUnavailable):
		status = http.StatusBadGateway
	}
	resp.Code = status

	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("path", c.FullPath()).Error(title)
	}
	c.JSON(status, resp)
}

func tenantOf(c *gin.Context) string {
	return middleware.TenantFrom(c)
}

func pages(total int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
