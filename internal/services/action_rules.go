package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ratepro/internal/models"
)

const (
	feedbackExcerptLimit = 300
	descriptionKeywords  = 5
	defaultRatingScale   = 5
)

// rootCauseTable is matched in order; the first category with a hit wins.
var rootCauseTable = []struct {
	category string
	keywords []string
}{
	{"compensation", []string{"compensation", "salary", "pay"}},
	{"process", []string{"process", "workflow"}},
	{"communication", []string{"communication", "transparency"}},
	{"management", []string{"management", "leadership"}},
	{"workload", []string{"workload", "burnout", "stress"}},
	{"culture", []string{"culture", "diversity"}},
	{"resources", []string{"resources", "tools", "training"}},
}

func actionTitle(in *models.Insight, cls models.ResolvedClassification, resp *models.Response) string {
	switch {
	case cls.IsComplaint:
		return "Customer Complaint"
	case resp.Score != nil && *resp.Score <= 6:
		return "NPS Detractor Follow-up"
	case resp.Rating != nil && *resp.Rating <= 2:
		return "Low Rating Alert"
	case in.Urgency == models.UrgencyHigh:
		return "Urgent Customer Issue"
	default:
		return "Customer Feedback Issue"
	}
}

// actionPriority returns the priority and a short explanation of the rule
// that produced it.
func actionPriority(in *models.Insight, resp *models.Response) (models.Priority, string) {
	negative := in.Sentiment == models.SentimentNegative
	switch {
	case in.Urgency == models.UrgencyHigh:
		return models.PriorityHigh, "high urgency detected"
	case negative && resp.Score != nil && *resp.Score <= 3:
		return models.PriorityHigh, fmt.Sprintf("negative sentiment with NPS score %d", *resp.Score)
	case resp.Rating != nil && *resp.Rating <= 1:
		return models.PriorityHigh, "rating " + formatNumber(*resp.Rating)
	case negative:
		return models.PriorityMedium, "negative sentiment"
	case resp.Score != nil && *resp.Score <= 6:
		return models.PriorityMedium, fmt.Sprintf("NPS detractor (score %d)", *resp.Score)
	case resp.Rating != nil && *resp.Rating <= 2:
		return models.PriorityMedium, "low rating " + formatNumber(*resp.Rating)
	default:
		return models.PriorityLow, "no risk signals"
	}
}

func actionCategory(in *models.Insight, cls models.ResolvedClassification) string {
	switch {
	case cls.IsComplaint:
		return "Customer Complaint"
	case cls.IsSuggestion:
		return "Improvement"
	case in.Sentiment == models.SentimentNegative:
		return "Negative Feedback"
	default:
		return "Survey Feedback"
	}
}

func dueDate(p models.Priority, now time.Time) time.Time {
	switch p {
	case models.PriorityHigh:
		return now.Add(4 * time.Hour)
	case models.PriorityMedium:
		return now.Add(24 * time.Hour)
	case models.PriorityLow:
		return now.Add(72 * time.Hour)
	default:
		return now.Add(48 * time.Hour)
	}
}

func rootCauseCategory(in *models.Insight) string {
	parts := make([]string, 0, len(in.Themes)+len(in.Keywords)+1)
	parts = append(parts, in.Themes...)
	parts = append(parts, in.Keywords...)
	parts = append(parts, in.Summary)
	text := strings.ToLower(strings.Join(parts, " "))
	for _, row := range rootCauseTable {
		for _, kw := range row.keywords {
			if strings.Contains(text, kw) {
				return row.category
			}
		}
	}
	return "unknown"
}

func actionDescription(survey *models.Survey, in *models.Insight, resp *models.Response) string {
	var b strings.Builder
	title := ""
	if survey != nil {
		title = survey.Title
	}
	fmt.Fprintf(&b, "Survey: %s\n", title)
	fmt.Fprintf(&b, "Sentiment: %s\n", in.Sentiment)
	if in.Urgency != "" {
		fmt.Fprintf(&b, "Urgency: %s\n", in.Urgency)
	}
	if resp.Rating != nil {
		fmt.Fprintf(&b, "Rating: %s\n", formatNumber(*resp.Rating))
	}
	if resp.Score != nil {
		fmt.Fprintf(&b, "NPS Score: %d\n", *resp.Score)
	}
	if s := strings.TrimSpace(in.Summary); s != "" {
		fmt.Fprintf(&b, "Summary: %s\n", s)
	}
	if s := strings.TrimSpace(resp.Review); s != "" {
		fmt.Fprintf(&b, "Customer Feedback: \"%s\"\n", truncateRunes(s, feedbackExcerptLimit, "..."))
	}
	if len(in.Keywords) > 0 {
		kws := in.Keywords
		if len(kws) > descriptionKeywords {
			kws = kws[:descriptionKeywords]
		}
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(kws, ", "))
	}
	if len(in.Emotions) > 0 {
		fmt.Fprintf(&b, "Emotions: %s\n", strings.Join(in.Emotions, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func npsCategory(score *int) *models.NPSCategory {
	if score == nil {
		return nil
	}
	c := models.NPSPassive
	switch {
	case *score >= 9:
		c = models.NPSPromoter
	case *score <= 6:
		c = models.NPSDetractor
	}
	return &c
}

func ratingCategory(rating *float64, scale int) *models.RatingCategory {
	if rating == nil {
		return nil
	}
	if scale <= 0 {
		scale = defaultRatingScale
	}
	c := RatingCategoryForPercent(*rating * 100 / float64(scale))
	return &c
}

// RatingCategoryForPercent buckets a rating expressed as a percentage of the
// scale maximum.
func RatingCategoryForPercent(pct float64) models.RatingCategory {
	switch {
	case pct >= 90:
		return models.RatingExcellent
	case pct >= 70:
		return models.RatingGood
	case pct >= 50:
		return models.RatingAverage
	case pct >= 30:
		return models.RatingPoor
	default:
		return models.RatingVeryPoor
	}
}

func truncateRunes(s string, limit int, suffix string) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + suffix
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
