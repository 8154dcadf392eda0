package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"ratepro/internal/models"
	"ratepro/pkg/insight"
)

// InsightSource enriches a response with an Insight.
type InsightSource interface {
	Analyze(ctx context.Context, resp *models.Response, survey *models.Survey) (*models.Insight, error)
}

const insightSystemPrompt = `You analyze customer and employee survey feedback.
Reply with a single JSON object and nothing else. Keys:
sentiment: "positive" | "neutral" | "negative"
sentimentScore: number from -1 to 1
urgency: "low" | "normal" | "high"
emotions: array of short lowercase labels
keywords: array of keywords, most salient first
themes: array of short theme names
classification: {"isComplaint": bool, "isPraise": bool, "isSuggestion": bool}
summary: one short paragraph
confidence: number from 0 to 1`

// LLMInsightSource asks a completion service for the insight.
type LLMInsightSource struct {
	completer insight.Completer
	breaker   *CircuitBreaker
	logger    *logrus.Logger
}

// NewLLMInsightSource guards completions with breaker; a nil breaker leaves
// them unguarded.
func NewLLMInsightSource(completer insight.Completer, breaker *CircuitBreaker, logger *logrus.Logger) *LLMInsightSource {
	if logger == nil {
		logger = logrus.New()
	}
	return &LLMInsightSource{completer: completer, breaker: breaker, logger: logger}
}

func (s *LLMInsightSource) Analyze(ctx context.Context, resp *models.Response, survey *models.Survey) (*models.Insight, error) {
	req := insight.Request{
		System: insightSystemPrompt,
		Prompt: BuildInsightPrompt(resp, survey),
		JSON:   true,
	}

	var completion *insight.Completion
	err := s.breaker.Do(func() error {
		c, err := s.completer.Complete(ctx, req)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInsightUnavailable, err)
	}

	s.logger.WithFields(logrus.Fields{
		"response_id":       resp.ID,
		"prompt_tokens":     completion.Usage.PromptTokens,
		"completion_tokens": completion.Usage.CompletionTokens,
	}).Debug("insight completion received")

	in, err := ParseInsight(completion.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInsightUnavailable, err)
	}
	return in, nil
}

// BuildInsightPrompt renders the response as the user prompt.
func BuildInsightPrompt(resp *models.Response, survey *models.Survey) string {
	var b strings.Builder
	scale := defaultRatingScale
	if survey != nil {
		fmt.Fprintf(&b, "Survey: %s\n", survey.Title)
		if survey.RatingScale > 0 {
			scale = survey.RatingScale
		}
	}
	if resp.Rating != nil {
		fmt.Fprintf(&b, "Rating: %s/%d\n", formatNumber(*resp.Rating), scale)
	}
	if resp.Score != nil {
		fmt.Fprintf(&b, "NPS score: %d/10\n", *resp.Score)
	}
	if s := strings.TrimSpace(resp.Review); s != "" {
		fmt.Fprintf(&b, "Feedback: %s\n", s)
	}
	if len(resp.Answers) > 0 {
		labels := map[string]string{}
		if survey != nil {
			for _, q := range survey.Questions {
				labels[q.ID] = q.Label()
			}
		}
		b.WriteString("Answers:\n")
		for _, a := range resp.Answers {
			text := strings.TrimSpace(answerText(a.Answer))
			if text == "" {
				continue
			}
			label := labels[a.QuestionID]
			if label == "" {
				label = a.QuestionID
			}
			fmt.Fprintf(&b, "- %s: %s\n", label, text)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseInsight decodes a JSON completion, tolerating markdown code fences.
func ParseInsight(text string) (*models.Insight, error) {
	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		raw = raw[start : end+1]
	}

	var in models.Insight
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("%w: %v", insight.ErrMalformedResponse, err)
	}
	in.Sentiment = models.Sentiment(strings.ToLower(strings.TrimSpace(string(in.Sentiment))))
	in.Urgency = models.Urgency(strings.ToLower(strings.TrimSpace(string(in.Urgency))))
	in.SentimentScore = clamp(in.SentimentScore, -1, 1)
	in.Confidence = clamp(in.Confidence, 0, 1)
	if err := ValidateInsight(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", insight.ErrMalformedResponse, err)
	}
	return &in, nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}

var positiveWords = []string{
	"great", "amazing", "excellent", "love", "fantastic", "helpful",
	"friendly", "awesome", "perfect", "thank", "wonderful", "happy",
}

var suggestionPhrases = []string{
	"suggest", "would be nice", "would be great", "could you", "wish", "should add", "recommend adding",
}

var urgentWords = []string{"lawsuit", "lawyer", "legal", "fraud", "scam", "urgent", "immediately"}

// HeuristicInsightSource derives an insight from ratings and word lists. It
// lets the pipeline run without a completion service.
type HeuristicInsightSource struct{}

func (HeuristicInsightSource) Analyze(_ context.Context, resp *models.Response, survey *models.Survey) (*models.Insight, error) {
	text := InspectionText(resp)
	neg := matchVocabulary(text, negativeKeywords)
	pos := matchVocabulary(text, positiveWords)

	var signals []float64
	if resp.Rating != nil {
		scale := defaultRatingScale
		if survey != nil && survey.RatingScale > 0 {
			scale = survey.RatingScale
		}
		signals = append(signals, *resp.Rating/float64(scale)*2-1)
	}
	if resp.Score != nil {
		signals = append(signals, (float64(*resp.Score)-5)/5)
	}
	if n := len(pos) + len(neg); n > 0 {
		signals = append(signals, float64(len(pos)-len(neg))/float64(n))
	}
	score := 0.0
	for _, s := range signals {
		score += s
	}
	if len(signals) > 0 {
		score /= float64(len(signals))
	}
	score = clamp(score, -1, 1)

	in := &models.Insight{
		Sentiment:      models.SentimentNeutral,
		SentimentScore: score,
		Urgency:        models.UrgencyNormal,
		Keywords:       append(append([]string{}, neg...), pos...),
		Summary:        truncateRunes(strings.TrimSpace(resp.Review), 160, "..."),
		Confidence:     0.5,
	}
	switch {
	case score > 0.25:
		in.Sentiment = models.SentimentPositive
		in.Urgency = models.UrgencyLow
	case score < -0.25:
		in.Sentiment = models.SentimentNegative
	}
	if len(matchVocabulary(text, urgentWords)) > 0 {
		in.Urgency = models.UrgencyHigh
	}
	if len(pos) > 0 && in.Sentiment == models.SentimentPositive {
		praise := true
		in.Classification.IsPraise = &praise
	}
	if len(matchVocabulary(text, suggestionPhrases)) > 0 {
		suggestion := true
		in.Classification.IsSuggestion = &suggestion
	}
	return in, nil
}
