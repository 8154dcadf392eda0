package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ratepro/internal/models"
)

// SurveyService creates surveys and gates publishing on flow validation.
type SurveyService struct {
	store     *SurveyStore
	validator *SurveyFlowValidator
	logger    *logrus.Logger
}

func NewSurveyService(store *SurveyStore, logger *logrus.Logger) *SurveyService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SurveyService{store: store, validator: NewSurveyFlowValidator(), logger: logger}
}

func (s *SurveyService) Create(ctx context.Context, tenantID string, survey *models.Survey) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant is required", ErrInputInvalid)
	}
	survey.TenantID = tenantID
	survey.Status = models.SurveyStatusDraft
	survey.PublishedAt = nil
	return s.store.Create(ctx, survey)
}

func (s *SurveyService) Validate(survey *models.Survey) FlowValidationResult {
	return s.validator.Validate(survey)
}

// Publish validates the stored survey and marks it published, or returns a
// *ValidationError listing every problem.
func (s *SurveyService) Publish(ctx context.Context, tenantID, id string) (*models.Survey, error) {
	survey, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if res := s.validator.Validate(survey); !res.Valid {
		s.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"survey_id": id,
			"errors":    len(res.Errors),
		}).Info("survey publish rejected")
		return nil, &ValidationError{Errors: res.Errors}
	}
	now := time.Now()
	if err := s.store.MarkPublished(ctx, tenantID, id, now); err != nil {
		return nil, err
	}
	survey.Status = models.SurveyStatusPublished
	survey.PublishedAt = &now
	return survey, nil
}
