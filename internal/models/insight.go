package models

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type NPSCategory string

const (
	NPSPromoter  NPSCategory = "promoter"
	NPSPassive   NPSCategory = "passive"
	NPSDetractor NPSCategory = "detractor"
)

type RatingCategory string

const (
	RatingExcellent RatingCategory = "excellent"
	RatingGood      RatingCategory = "good"
	RatingAverage   RatingCategory = "average"
	RatingPoor      RatingCategory = "poor"
	RatingVeryPoor  RatingCategory = "very_poor"
)

// Insight is the language-model enrichment of one response.
type Insight struct {
	Sentiment      Sentiment      `json:"sentiment"`
	SentimentScore float64        `json:"sentimentScore"`
	Urgency        Urgency        `json:"urgency,omitempty"`
	Emotions       []string       `json:"emotions,omitempty"`
	Keywords       []string       `json:"keywords,omitempty"`
	Themes         []string       `json:"themes,omitempty"`
	Classification Classification `json:"classification"`
	Summary        string         `json:"summary,omitempty"`
	Confidence     float64        `json:"confidence"`
}

// Classification flags as reported by the insight provider. Nil means the
// provider did not say.
type Classification struct {
	IsComplaint  *bool `json:"isComplaint,omitempty"`
	IsPraise     *bool `json:"isPraise,omitempty"`
	IsSuggestion *bool `json:"isSuggestion,omitempty"`
}

// ResolvedClassification is a Classification with defaults applied.
type ResolvedClassification struct {
	IsComplaint  bool `json:"isComplaint"`
	IsPraise     bool `json:"isPraise"`
	IsSuggestion bool `json:"isSuggestion"`
}

// Resolve fills unset flags: complaint iff negative, praise iff positive,
// suggestion false.
func (c Classification) Resolve(s Sentiment) ResolvedClassification {
	r := ResolvedClassification{
		IsComplaint: s == SentimentNegative,
		IsPraise:    s == SentimentPositive,
	}
	if c.IsComplaint != nil {
		r.IsComplaint = *c.IsComplaint
	}
	if c.IsPraise != nil {
		r.IsPraise = *c.IsPraise
	}
	if c.IsSuggestion != nil {
		r.IsSuggestion = *c.IsSuggestion
	}
	return r
}

// IntentKind is one side effect the action executor can perform.
type IntentKind string

const (
	IntentCreateAction     IntentKind = "CREATE_ACTION"
	IntentCreateCallback   IntentKind = "CREATE_CALLBACK"
	IntentCreateSuggestion IntentKind = "CREATE_SUGGESTION"
	IntentSendAlert        IntentKind = "SEND_ALERT"
	IntentDashboardFlag    IntentKind = "DASHBOARD_FLAG"
	IntentEscalate         IntentKind = "ESCALATE"
	IntentTrackPraise      IntentKind = "TRACK_PRAISE"

	// IntentStoreMetadata only appears in results, for a failed analysis write.
	IntentStoreMetadata IntentKind = "STORE_METADATA"
)

type ResultStatus string

const (
	StatusDone              ResultStatus = "done"
	StatusFailed            ResultStatus = "failed"
	StatusQueued            ResultStatus = "queued"
	StatusFlagged           ResultStatus = "flagged"
	StatusTracked           ResultStatus = "tracked"
	StatusEscalationPending ResultStatus = "escalation_pending"
	StatusPlanned           ResultStatus = "planned"
)

// IntentResult is the outcome of dispatching one intent.
type IntentResult struct {
	Intent IntentKind   `json:"intent"`
	Status ResultStatus `json:"status"`
	ID     string       `json:"id,omitempty"`
	Error  string       `json:"error,omitempty"`
}
