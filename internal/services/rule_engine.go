package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ratepro/internal/models"
)

var negativeKeywords = []string{
	"terrible", "awful", "horrible", "worst", "hate", "angry", "furious",
	"disappointed", "unacceptable", "disgusting", "pathetic", "useless",
	"scam", "fraud", "lawsuit", "lawyer", "legal", "report", "complain",
	"refund", "cancel", "never again", "waste of money", "rip off",
}

var contactRequestPhrases = []string{
	"contact me", "call me", "reach out", "get in touch", "phone me",
	"email me", "callback", "call back", "speak to someone", "talk to manager",
	"need help", "urgent help", "please call", "waiting for call",
}

// Reason tags emitted by the rule engine.
const (
	ReasonNegativeHighUrgency = "negative_high_urgency"
	ReasonNegativeSentiment   = "negative_sentiment"
	ReasonLowRating           = "low_rating"
	ReasonNPSDetractor        = "nps_detractor"
	ReasonNegativeKeywords    = "negative_keywords"
	ReasonContactRequested    = "contact_requested"
	ReasonComplaint           = "complaint_classified"
	ReasonSuggestion          = "suggestion_received"
	ReasonPraise              = "praise_received"
	ReasonHighUrgency         = "high_urgency"
)

// ActionPlan is the ordered, duplicate-free list of intents for one response.
type ActionPlan struct {
	Intents     []models.IntentKind `json:"intents"`
	Reasons     []string            `json:"reasons"`
	TriggeredAt time.Time           `json:"triggeredAt"`
}

// Has reports whether kind is already planned.
func (p *ActionPlan) Has(kind models.IntentKind) bool {
	for _, k := range p.Intents {
		if k == kind {
			return true
		}
	}
	return false
}

func (p *ActionPlan) add(reason string, kinds ...models.IntentKind) {
	for _, k := range kinds {
		if !p.Has(k) {
			p.Intents = append(p.Intents, k)
		}
	}
	p.Reasons = append(p.Reasons, reason)
}

// RuleEngine maps an insight and its response to an ActionPlan. It performs
// no IO.
type RuleEngine struct {
	now func() time.Time
}

func NewRuleEngine() *RuleEngine {
	return &RuleEngine{now: time.Now}
}

// Evaluate applies the rules in order.
func (e *RuleEngine) Evaluate(in *models.Insight, resp *models.Response) (*ActionPlan, error) {
	if err := ValidateInsight(in); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: response is required", ErrInputInvalid)
	}

	plan := &ActionPlan{
		Intents:     []models.IntentKind{},
		Reasons:     []string{},
		TriggeredAt: e.now(),
	}
	text := InspectionText(resp)
	negative := in.Sentiment == models.SentimentNegative

	if negative && in.Urgency == models.UrgencyHigh {
		plan.add(ReasonNegativeHighUrgency, models.IntentCreateAction, models.IntentSendAlert, models.IntentEscalate)
	}
	if negative {
		plan.add(ReasonNegativeSentiment, models.IntentDashboardFlag, models.IntentCreateAction)
	}
	if resp.Rating != nil && *resp.Rating <= 2 {
		plan.add(ReasonLowRating, models.IntentCreateAction, models.IntentSendAlert)
	}
	if resp.Score != nil && *resp.Score <= 6 {
		plan.add(ReasonNPSDetractor, models.IntentCreateAction)
	}
	if matches := matchVocabulary(text, negativeKeywords); len(matches) > 0 {
		if len(matches) > 3 {
			matches = matches[:3]
		}
		plan.add(ReasonNegativeKeywords+":"+strings.Join(matches, ","), models.IntentCreateAction, models.IntentDashboardFlag)
	}
	if len(matchVocabulary(text, contactRequestPhrases)) > 0 {
		plan.add(ReasonContactRequested, models.IntentCreateCallback, models.IntentSendAlert)
	}
	if isTrue(in.Classification.IsComplaint) {
		plan.add(ReasonComplaint, models.IntentCreateAction)
	}
	if isTrue(in.Classification.IsSuggestion) {
		plan.add(ReasonSuggestion, models.IntentCreateSuggestion)
	}
	if in.Sentiment == models.SentimentPositive && isTrue(in.Classification.IsPraise) {
		plan.add(ReasonPraise, models.IntentTrackPraise)
	}
	if in.Urgency == models.UrgencyHigh && !plan.Has(models.IntentSendAlert) {
		plan.add(ReasonHighUrgency, models.IntentSendAlert)
	}
	return plan, nil
}

// ValidateInsight checks the fields the pipeline depends on.
func ValidateInsight(in *models.Insight) error {
	if in == nil {
		return fmt.Errorf("%w: insight is required", ErrInputInvalid)
	}
	if !in.Sentiment.Valid() {
		return fmt.Errorf("%w: insight sentiment %q", ErrInputInvalid, in.Sentiment)
	}
	if in.Urgency != "" && !in.Urgency.Valid() {
		return fmt.Errorf("%w: insight urgency %q", ErrInputInvalid, in.Urgency)
	}
	return nil
}

// ValidateResponse checks the NPS score is within 0-10 and the rating within
// 1 and the survey's scale maximum.
func ValidateResponse(resp *models.Response, ratingScale int) error {
	if resp == nil {
		return fmt.Errorf("%w: response is required", ErrInputInvalid)
	}
	if ratingScale <= 0 {
		ratingScale = defaultRatingScale
	}
	if resp.Score != nil && (*resp.Score < 0 || *resp.Score > 10) {
		return fmt.Errorf("%w: score %d is outside 0-10", ErrInputInvalid, *resp.Score)
	}
	if resp.Rating != nil && (*resp.Rating < 1 || *resp.Rating > float64(ratingScale)) {
		return fmt.Errorf("%w: rating %s is outside 1-%d", ErrInputInvalid, formatNumber(*resp.Rating), ratingScale)
	}
	return nil
}

// InspectionText is the review followed by every answer, space joined and
// lowercased.
func InspectionText(resp *models.Response) string {
	parts := make([]string, 0, len(resp.Answers)+1)
	if s := strings.TrimSpace(resp.Review); s != "" {
		parts = append(parts, s)
	}
	for _, a := range resp.Answers {
		if s := strings.TrimSpace(answerText(a.Answer)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func answerText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		return strings.Join(t, " ")
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := answerText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]interface{}:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// matchVocabulary returns the vocabulary entries found in text, in
// vocabulary order.
func matchVocabulary(text string, vocab []string) []string {
	if text == "" {
		return nil
	}
	var matches []string
	for _, w := range vocab {
		if strings.Contains(text, w) {
			matches = append(matches, w)
		}
	}
	return matches
}

func isTrue(b *bool) bool {
	return b != nil && *b
}
