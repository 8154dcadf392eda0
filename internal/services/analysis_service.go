package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ratepro/internal/metrics"
	"ratepro/internal/models"
)

const defaultInsightTimeout = 30 * time.Second

// AnalyzeRequest identifies the response to run through the pipeline.
type AnalyzeRequest struct {
	ResponseID string
	SurveyID   string
	TenantID   string
	DryRun     bool
}

// AnalyzeResult is the outcome of one pipeline run. Effects is only set for
// dry runs.
type AnalyzeResult struct {
	Results []models.IntentResult `json:"results"`
	Plan    *ActionPlan           `json:"plan,omitempty"`
	Effects []IntentEffect        `json:"effects,omitempty"`
	Skipped bool                  `json:"skipped"`
}

// ResponseRepository is the response store as seen by the pipeline.
type ResponseRepository interface {
	ResponseWriter
	Get(ctx context.Context, tenantID, id string) (*models.Response, error)
	SaveResults(ctx context.Context, tenantID, id string, results []models.IntentResult) error
}

type SurveyReader interface {
	Get(ctx context.Context, tenantID, id string) (*models.Survey, error)
}

// AnalysisService turns a stored response into analysis metadata, actions
// and alerts.
type AnalysisService struct {
	responses      ResponseRepository
	surveys        SurveyReader
	insights       InsightSource
	rules          *RuleEngine
	executor       *ActionExecutor
	lock           AnalysisLock
	logger         *logrus.Logger
	insightTimeout time.Duration
	now            func() time.Time
}

type AnalysisServiceDeps struct {
	Responses      ResponseRepository
	Surveys        SurveyReader
	Insights       InsightSource
	Executor       *ActionExecutor
	Lock           AnalysisLock
	InsightTimeout time.Duration
}

func NewAnalysisService(deps AnalysisServiceDeps, logger *logrus.Logger) *AnalysisService {
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Lock == nil {
		deps.Lock = NoopLock{}
	}
	if deps.InsightTimeout <= 0 {
		deps.InsightTimeout = defaultInsightTimeout
	}
	return &AnalysisService{
		responses:      deps.Responses,
		surveys:        deps.Surveys,
		insights:       deps.Insights,
		rules:          NewRuleEngine(),
		executor:       deps.Executor,
		lock:           deps.Lock,
		logger:         logger,
		insightTimeout: deps.InsightTimeout,
		now:            time.Now,
	}
}

// AnalyzeAndAct runs the pipeline for one response. A response that was
// already analyzed is not processed again; its stored results are returned
// with Skipped set.
func (s *AnalysisService) AnalyzeAndAct(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, error) {
	ctx, span := otel.Tracer("ratepro/analysis").Start(ctx, "analysis.AnalyzeAndAct")
	defer span.End()
	span.SetAttributes(
		attribute.String("ratepro.tenant_id", req.TenantID),
		attribute.String("ratepro.response_id", req.ResponseID),
		attribute.Bool("ratepro.dry_run", req.DryRun),
	)

	res, outcome, err := s.run(ctx, req)
	metrics.IncAnalysisRun(outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("ratepro.outcome", outcome))
	return res, nil
}

func (s *AnalysisService) run(ctx context.Context, req AnalyzeRequest) (*AnalyzeResult, string, error) {
	if req.ResponseID == "" || req.SurveyID == "" || req.TenantID == "" {
		return nil, "invalid", fmt.Errorf("%w: responseId, surveyId and tenantId are required", ErrInputInvalid)
	}
	ctx = WithTenant(ctx, req.TenantID)
	log := s.logger.WithFields(logrus.Fields{
		"tenant_id":   req.TenantID,
		"survey_id":   req.SurveyID,
		"response_id": req.ResponseID,
	})

	release, err := s.lock.Acquire(ctx, req.ResponseID)
	if err != nil {
		return nil, "locked", err
	}
	defer release()

	resp, err := s.responses.Get(ctx, req.TenantID, req.ResponseID)
	if err != nil {
		return nil, outcomeFor(err), err
	}
	if resp.SurveyID != req.SurveyID {
		return nil, "invalid", fmt.Errorf("%w: response %s does not belong to survey %s", ErrInputInvalid, req.ResponseID, req.SurveyID)
	}
	survey, err := s.surveys.Get(ctx, req.TenantID, req.SurveyID)
	if err != nil {
		return nil, outcomeFor(err), err
	}

	// results are stored even when the analysis write failed
	if (resp.AnalyzedAt != nil || len(resp.PipelineResults) > 0) && !req.DryRun {
		log.Info("response already analyzed, returning stored results")
		return &AnalyzeResult{Results: []models.IntentResult(resp.PipelineResults), Skipped: true}, "skipped", nil
	}
	if err := ValidateResponse(resp, s.executor.scaleFor(survey)); err != nil {
		return nil, "invalid", err
	}

	started := s.now()
	insightCtx, cancel := context.WithTimeout(ctx, s.insightTimeout)
	in, err := s.insights.Analyze(insightCtx, resp, survey)
	cancel()
	if err != nil {
		log.WithError(err).Warn("insight unavailable, nothing persisted")
		if !errors.Is(err, ErrInsightUnavailable) {
			err = fmt.Errorf("%w: %w", ErrInsightUnavailable, err)
		}
		return nil, "insight_unavailable", err
	}

	plan, err := s.rules.Evaluate(in, resp)
	if err != nil {
		return nil, "invalid", err
	}

	input := ExecuteInput{
		Plan:     plan,
		Insight:  in,
		Response: resp,
		Survey:   survey,
		TenantID: req.TenantID,
	}

	if req.DryRun {
		effects := s.executor.BuildEffects(ctx, input, s.now())
		results := make([]models.IntentResult, 0, len(effects))
		for _, eff := range effects {
			results = append(results, plannedResult(eff))
		}
		return &AnalyzeResult{Results: results, Plan: plan, Effects: effects}, "dry_run", nil
	}

	results, err := s.executor.Execute(ctx, input)
	if err != nil {
		return nil, "invalid", err
	}
	for _, r := range results {
		metrics.IncIntentResult(string(r.Intent), string(r.Status))
	}
	if err := s.responses.SaveResults(ctx, req.TenantID, req.ResponseID, results); err != nil {
		// The analysis and actions are already stored; the run still counts.
		log.WithError(err).Error("failed to store pipeline results")
	}

	log.WithFields(logrus.Fields{
		"intents":     len(plan.Intents),
		"reasons":     plan.Reasons,
		"duration_ms": s.now().Sub(started).Milliseconds(),
	}).Info("response analyzed")
	return &AnalyzeResult{Results: results, Plan: plan}, "completed", nil
}

// plannedResult reports what an effect would do without applying it.
func plannedResult(eff IntentEffect) models.IntentResult {
	r := models.IntentResult{Intent: eff.Intent, Status: models.StatusPlanned}
	switch {
	case eff.Err != nil:
		r.Status = models.StatusFailed
		r.Error = eff.Err.Error()
	case eff.Action != nil:
		r.ID = eff.Action.ID
	case eff.Alert != nil:
		r.ID = eff.Alert.ID
	case eff.ResponseID != "":
		r.ID = eff.ResponseID
	}
	return r
}

func outcomeFor(err error) string {
	if errors.Is(err, ErrInputInvalid) {
		return "invalid"
	}
	return "error"
}
