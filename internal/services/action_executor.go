package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ratepro/internal/models"
)

// ResponseWriter is the part of the response store the executor mutates.
type ResponseWriter interface {
	SaveAnalysis(ctx context.Context, tenantID, responseID string, analysis models.ResponseAnalysis) error
	FlagForReview(ctx context.Context, tenantID, responseID string) error
}

type ActionInserter interface {
	Insert(ctx context.Context, action *models.Action) error
}

type RecognitionAppender interface {
	Append(ctx context.Context, entry *models.RecognitionEntry) error
}

// ExecuteInput is everything the executor needs for one response.
type ExecuteInput struct {
	Plan     *ActionPlan
	Insight  *models.Insight
	Response *models.Response
	Survey   *models.Survey
	TenantID string
}

// IntentEffect is the prepared side effect of one intent. Building effects
// performs no IO; applying them does.
type IntentEffect struct {
	Intent      models.IntentKind        `json:"intent"`
	Action      *models.Action           `json:"action,omitempty"`
	Alert       *models.AlertEvent       `json:"alert,omitempty"`
	Recognition *models.RecognitionEntry `json:"recognition,omitempty"`
	ResponseID  string                   `json:"responseId,omitempty"`
	Err         error                    `json:"-"`
}

type effectHandler func(ctx context.Context, tenantID string, eff IntentEffect) models.IntentResult

// ActionExecutor persists the analysis of a response and dispatches the
// intents of its plan.
type ActionExecutor struct {
	responses    ResponseWriter
	actions      ActionInserter
	recognitions RecognitionAppender
	sink         NotificationSink
	factory      *ActionFactory
	logger       *logrus.Logger
	now          func() time.Time
	ratingScale  int
	dispatch     map[models.IntentKind]effectHandler
}

func NewActionExecutor(responses ResponseWriter, actions ActionInserter, recognitions RecognitionAppender, sink NotificationSink, logger *logrus.Logger) *ActionExecutor {
	if logger == nil {
		logger = logrus.New()
	}
	e := &ActionExecutor{
		responses:    responses,
		actions:      actions,
		recognitions: recognitions,
		sink:         sink,
		factory:      NewActionFactory(),
		logger:       logger,
		now:          time.Now,
		ratingScale:  defaultRatingScale,
	}
	e.dispatch = map[models.IntentKind]effectHandler{
		models.IntentCreateAction:     e.insertAction,
		models.IntentCreateCallback:   e.insertAction,
		models.IntentCreateSuggestion: e.insertAction,
		models.IntentSendAlert:        e.enqueueAlert,
		models.IntentDashboardFlag:    e.flagResponse,
		models.IntentEscalate:         e.escalate,
		models.IntentTrackPraise:      e.trackPraise,
	}
	return e
}

// SetRatingScale sets the default rating maximum used when a survey has none.
func (e *ActionExecutor) SetRatingScale(scale int) {
	if scale > 0 {
		e.ratingScale = scale
	}
}

// Execute writes the analysis first, then applies each planned intent in
// order. A failing intent is reported in the results and never stops the
// loop; only malformed input returns an error.
func (e *ActionExecutor) Execute(ctx context.Context, in ExecuteInput) ([]models.IntentResult, error) {
	if err := validateExecuteInput(in); err != nil {
		return nil, err
	}
	ctx = WithTenant(ctx, in.TenantID)
	now := e.now()
	log := e.logger.WithFields(logrus.Fields{
		"tenant_id":   in.TenantID,
		"response_id": in.Response.ID,
		"survey_id":   in.Response.SurveyID,
	})

	results := make([]models.IntentResult, 0, len(in.Plan.Intents)+1)

	analysis := BuildAnalysis(in.Insight, in.Response, e.scaleFor(in.Survey), now)
	if err := e.responses.SaveAnalysis(ctx, in.TenantID, in.Response.ID, analysis); err != nil {
		log.WithError(err).Error("failed to store response analysis")
		results = append(results, models.IntentResult{
			Intent: models.IntentStoreMetadata,
			Status: models.StatusFailed,
			Error:  err.Error(),
		})
	}

	for _, eff := range e.BuildEffects(ctx, in, now) {
		res := e.apply(ctx, in.TenantID, eff)
		if res.Status == models.StatusFailed {
			log.WithField("intent", res.Intent).Warnf("intent dispatch failed: %s", res.Error)
		} else {
			log.WithFields(logrus.Fields{"intent": res.Intent, "status": res.Status}).Debug("intent dispatched")
		}
		results = append(results, res)
	}
	return results, nil
}

// BuildEffects prepares one effect per planned intent, in plan order.
func (e *ActionExecutor) BuildEffects(ctx context.Context, in ExecuteInput, now time.Time) []IntentEffect {
	ctx = WithTenant(ctx, in.TenantID)
	effects := make([]IntentEffect, 0, len(in.Plan.Intents))
	for _, intent := range in.Plan.Intents {
		eff := IntentEffect{Intent: intent}
		switch intent {
		case models.IntentCreateAction, models.IntentCreateCallback, models.IntentCreateSuggestion:
			eff.Action, eff.Err = e.factory.Build(ctx, actionDraftFor(intent, in, now))
		case models.IntentSendAlert:
			eff.Alert = &models.AlertEvent{
				ID:         uuid.NewString(),
				TenantID:   in.TenantID,
				SurveyID:   in.Response.SurveyID,
				ResponseID: in.Response.ID,
				Sentiment:  in.Insight.Sentiment,
				Urgency:    in.Insight.Urgency,
				Reasons:    append([]string(nil), in.Plan.Reasons...),
				Summary:    in.Insight.Summary,
				CreatedAt:  now,
			}
		case models.IntentDashboardFlag:
			eff.ResponseID = in.Response.ID
		case models.IntentTrackPraise:
			eff.Recognition = &models.RecognitionEntry{
				TenantID:   in.TenantID,
				SurveyID:   in.Response.SurveyID,
				ResponseID: in.Response.ID,
				Summary:    in.Insight.Summary,
				Keywords:   append([]string(nil), in.Insight.Keywords...),
				Score:      in.Response.Score,
				Rating:     in.Response.Rating,
				CreatedAt:  now,
			}
		case models.IntentEscalate:
		default:
			eff.Err = fmt.Errorf("%w: unknown intent %q", ErrInputInvalid, intent)
		}
		effects = append(effects, eff)
	}
	return effects
}

func (e *ActionExecutor) apply(ctx context.Context, tenantID string, eff IntentEffect) models.IntentResult {
	if eff.Err != nil {
		return failed(eff.Intent, eff.Err)
	}
	handler, ok := e.dispatch[eff.Intent]
	if !ok {
		return failed(eff.Intent, fmt.Errorf("no handler for intent %q", eff.Intent))
	}
	return handler(ctx, tenantID, eff)
}

func (e *ActionExecutor) insertAction(ctx context.Context, _ string, eff IntentEffect) models.IntentResult {
	if err := e.actions.Insert(ctx, eff.Action); err != nil {
		return failed(eff.Intent, err)
	}
	return models.IntentResult{Intent: eff.Intent, Status: models.StatusDone, ID: eff.Action.ID}
}

func (e *ActionExecutor) enqueueAlert(ctx context.Context, _ string, eff IntentEffect) models.IntentResult {
	if err := e.sink.Enqueue(ctx, eff.Alert); err != nil {
		return failed(eff.Intent, err)
	}
	return models.IntentResult{Intent: eff.Intent, Status: models.StatusQueued, ID: eff.Alert.ID}
}

func (e *ActionExecutor) flagResponse(ctx context.Context, tenantID string, eff IntentEffect) models.IntentResult {
	if err := e.responses.FlagForReview(ctx, tenantID, eff.ResponseID); err != nil {
		return failed(eff.Intent, err)
	}
	return models.IntentResult{Intent: eff.Intent, Status: models.StatusFlagged, ID: eff.ResponseID}
}

// escalate only records the intent; escalation itself is handled outside the
// pipeline.
func (e *ActionExecutor) escalate(_ context.Context, _ string, eff IntentEffect) models.IntentResult {
	return models.IntentResult{Intent: eff.Intent, Status: models.StatusEscalationPending}
}

func (e *ActionExecutor) trackPraise(ctx context.Context, _ string, eff IntentEffect) models.IntentResult {
	if err := e.recognitions.Append(ctx, eff.Recognition); err != nil {
		return failed(eff.Intent, err)
	}
	return models.IntentResult{Intent: eff.Intent, Status: models.StatusTracked, ID: eff.Recognition.ID}
}

func (e *ActionExecutor) scaleFor(survey *models.Survey) int {
	if survey != nil && survey.RatingScale > 0 {
		return survey.RatingScale
	}
	return e.ratingScale
}

func failed(intent models.IntentKind, err error) models.IntentResult {
	return models.IntentResult{Intent: intent, Status: models.StatusFailed, Error: err.Error()}
}

func validateExecuteInput(in ExecuteInput) error {
	switch {
	case in.Plan == nil:
		return fmt.Errorf("%w: action plan is required", ErrInputInvalid)
	case in.Response == nil || in.Response.ID == "":
		return fmt.Errorf("%w: response is required", ErrInputInvalid)
	case in.TenantID == "":
		return fmt.Errorf("%w: tenant is required", ErrInputInvalid)
	}
	return ValidateInsight(in.Insight)
}

// BuildAnalysis derives the analysis sub-record for a response.
func BuildAnalysis(in *models.Insight, resp *models.Response, ratingScale int, now time.Time) models.ResponseAnalysis {
	at := now
	return models.ResponseAnalysis{
		Sentiment:      in.Sentiment,
		SentimentScore: in.SentimentScore,
		Urgency:        in.Urgency,
		Emotions:       in.Emotions,
		Keywords:       in.Keywords,
		Themes:         in.Themes,
		Classification: in.Classification.Resolve(in.Sentiment),
		Summary:        in.Summary,
		NPSCategory:    npsCategory(resp.Score),
		RatingCategory: ratingCategory(resp.Rating, ratingScale),
		AnalyzedAt:     &at,
	}
}

func actionDraftFor(intent models.IntentKind, in ExecuteInput, now time.Time) ActionDraft {
	insight, resp := in.Insight, in.Response
	cls := insight.Classification.Resolve(insight.Sentiment)
	draft := ActionDraft{
		Description:      actionDescription(in.Survey, insight, resp),
		ProblemStatement: problemStatement(insight, resp),
		RootCause: models.RootCause{
			Category: rootCauseCategory(insight),
			Summary:  insight.Summary,
		},
		Evidence: evidenceFor(insight, resp),
		Metadata: models.ActionMetadata{
			SurveyID:   resp.SurveyID,
			ResponseID: resp.ID,
			Sentiment:  insight.Sentiment,
			Urgency:    insight.Urgency,
		},
	}

	switch intent {
	case models.IntentCreateCallback:
		draft.Title = "Customer Callback Requested"
		draft.Priority = models.PriorityHigh
		draft.PriorityReason = "customer requested contact"
		draft.Category = "Callback"
		draft.Tags = []string{"auto", "callback", "urgent"}
	case models.IntentCreateSuggestion:
		draft.Title = "Customer Suggestion"
		draft.Priority = models.PriorityLow
		draft.PriorityReason = "suggestion received"
		draft.Category = "Improvement"
		draft.Tags = []string{"auto", "suggestion", "improvement"}
	default:
		draft.Title = actionTitle(insight, cls, resp)
		draft.Priority, draft.PriorityReason = actionPriority(insight, resp)
		draft.Category = actionCategory(insight, cls)
		draft.Tags = []string{"auto", "feedback", string(insight.Sentiment)}
		if insight.Urgency == models.UrgencyHigh {
			draft.Tags = append(draft.Tags, "urgent")
		}
	}
	due := dueDate(draft.Priority, now)
	draft.DueDate = &due
	return draft
}

func problemStatement(in *models.Insight, resp *models.Response) string {
	if s := in.Summary; s != "" {
		return s
	}
	if resp.Review != "" {
		return truncateRunes(resp.Review, 200, "...")
	}
	return "Survey response requires follow-up"
}

func evidenceFor(in *models.Insight, resp *models.Response) models.Evidence {
	ev := models.Evidence{
		ResponseCount:   1,
		RespondentCount: 1,
		ResponseIDs:     []string{resp.ID},
		ConfidenceScore: in.Confidence,
	}
	if resp.Review != "" {
		ev.CommentExcerpts = []string{truncateRunes(resp.Review, 200, "...")}
	}
	return ev
}
