package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"ratepro/internal/services"
)

type RecognitionHandler struct {
	recognitions *services.RecognitionStore
	logger       *logrus.Logger
}

func NewRecognitionHandler(recognitions *services.RecognitionStore, logger *logrus.Logger) *RecognitionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &RecognitionHandler{recognitions: recognitions, logger: logger}
}

// List returns the praise log of the tenant.
func (h *RecognitionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.recognitions.List(c.Request.Context(), tenantOf(c), limit)
	if err != nil {
		respondError(c, h.logger, "Failed to list recognitions", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "ok", Data: entries})
}

func RegisterRecognitionRoutes(r *gin.RouterGroup, handler *RecognitionHandler) {
	r.GET("/recognitions", handler.List)
}
