package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"ratepro/internal/models"
)

// ResponseStore persists responses and their analysis sub-record.
type ResponseStore struct {
	db *gorm.DB
}

func NewResponseStore(db *gorm.DB) *ResponseStore {
	return &ResponseStore{db: db}
}

func (s *ResponseStore) Create(ctx context.Context, resp *models.Response) error {
	if err := s.db.WithContext(ctx).Create(resp).Error; err != nil {
		return fmt.Errorf("failed to create response: %w", err)
	}
	return nil
}

func (s *ResponseStore) Get(ctx context.Context, tenantID, id string) (*models.Response, error) {
	var resp models.Response
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&resp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResponseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get response: %w", err)
	}
	return &resp, nil
}

// SaveAnalysis writes the analysis in a single-row update. The row is only
// touched when the new analyzedAt does not move backwards.
func (s *ResponseStore) SaveAnalysis(ctx context.Context, tenantID, id string, analysis models.ResponseAnalysis) error {
	if analysis.AnalyzedAt == nil {
		return fmt.Errorf("%w: analyzedAt is required", ErrInputInvalid)
	}
	res := s.db.WithContext(ctx).Model(&models.Response{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Where("analyzed_at IS NULL OR analyzed_at <= ?", *analysis.AnalyzedAt).
		Updates(map[string]interface{}{
			"analysis":    datatypes.NewJSONType(analysis),
			"analyzed_at": *analysis.AnalyzedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("%w: save analysis: %v", ErrPersistenceFailed, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: analysis for response %s not updated", ErrPersistenceFailed, id)
	}
	return nil
}

// FlagForReview marks the response for dashboard review. Repeated calls are
// harmless.
func (s *ResponseStore) FlagForReview(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var resp models.Response
		if err := tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&resp).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrResponseNotFound
			}
			return fmt.Errorf("%w: load response: %v", ErrPersistenceFailed, err)
		}
		analysis := resp.Analysis.Data()
		analysis.FlaggedForReview = true
		err := tx.Model(&models.Response{}).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			Updates(map[string]interface{}{
				"analysis":           datatypes.NewJSONType(analysis),
				"flagged_for_review": true,
			}).Error
		if err != nil {
			return fmt.Errorf("%w: flag response: %v", ErrPersistenceFailed, err)
		}
		return nil
	})
}

// SaveResults stores the dispatch outcomes so a gated re-run can return them.
func (s *ResponseStore) SaveResults(ctx context.Context, tenantID, id string, results []models.IntentResult) error {
	err := s.db.WithContext(ctx).Model(&models.Response{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("pipeline_results", datatypes.JSONSlice[models.IntentResult](results)).Error
	if err != nil {
		return fmt.Errorf("%w: save results: %v", ErrPersistenceFailed, err)
	}
	return nil
}

// ActionStore persists actions.
type ActionStore struct {
	db *gorm.DB
}

func NewActionStore(db *gorm.DB) *ActionStore {
	return &ActionStore{db: db}
}

func (s *ActionStore) Insert(ctx context.Context, action *models.Action) error {
	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		return fmt.Errorf("%w: insert action: %v", ErrPersistenceFailed, err)
	}
	return nil
}

type ActionFilter struct {
	Status     string
	Priority   string
	ResponseID string
	Page       int
	PageSize   int
}

func (s *ActionStore) List(ctx context.Context, tenantID string, f ActionFilter) ([]models.Action, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 || f.PageSize > 100 {
		f.PageSize = 20
	}
	q := s.db.WithContext(ctx).Model(&models.Action{}).Where("tenant_id = ?", tenantID)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.ResponseID != "" {
		q = q.Where("response_id = ?", f.ResponseID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count actions: %w", err)
	}
	var actions []models.Action
	err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PageSize).
		Limit(f.PageSize).
		Find(&actions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, total, nil
}

// SurveyStore persists surveys.
type SurveyStore struct {
	db *gorm.DB
}

func NewSurveyStore(db *gorm.DB) *SurveyStore {
	return &SurveyStore{db: db}
}

func (s *SurveyStore) Create(ctx context.Context, survey *models.Survey) error {
	if err := s.db.WithContext(ctx).Create(survey).Error; err != nil {
		return fmt.Errorf("failed to create survey: %w", err)
	}
	return nil
}

func (s *SurveyStore) Get(ctx context.Context, tenantID, id string) (*models.Survey, error) {
	var survey models.Survey
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&survey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSurveyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get survey: %w", err)
	}
	return &survey, nil
}

func (s *SurveyStore) MarkPublished(ctx context.Context, tenantID, id string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Survey{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Updates(map[string]interface{}{
			"status":       models.SurveyStatusPublished,
			"published_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to publish survey: %w", err)
	}
	return nil
}

// RecognitionStore is the append-only praise log.
type RecognitionStore struct {
	db *gorm.DB
}

func NewRecognitionStore(db *gorm.DB) *RecognitionStore {
	return &RecognitionStore{db: db}
}

func (s *RecognitionStore) Append(ctx context.Context, entry *models.RecognitionEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("%w: append recognition: %v", ErrPersistenceFailed, err)
	}
	return nil
}

func (s *RecognitionStore) List(ctx context.Context, tenantID string, limit int) ([]models.RecognitionEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.RecognitionEntry
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recognitions: %w", err)
	}
	return entries, nil
}
