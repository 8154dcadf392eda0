package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Survey status values.
const (
	SurveyStatusDraft     = "draft"
	SurveyStatusPublished = "published"
)

// Survey is a questionnaire owned by one tenant. Questions and audience are
// stored as JSON documents on the row.
type Survey struct {
	ID             string                             `gorm:"primaryKey;size:36" json:"id"`
	TenantID       string                             `gorm:"size:64;index;not null" json:"tenantId"`
	Title          string                             `gorm:"size:255" json:"title"`
	Description    string                             `gorm:"type:text" json:"description,omitempty"`
	Status         string                             `gorm:"size:20;default:'draft'" json:"status"`
	TargetAudience datatypes.JSONType[TargetAudience] `json:"targetAudience"`
	Questions      datatypes.JSONSlice[Question]      `json:"questions"`
	RatingScale    int                                `gorm:"default:5" json:"ratingScale,omitempty"`
	PublishedAt    *time.Time                         `json:"publishedAt,omitempty"`
	CreatedAt      time.Time                          `json:"createdAt"`
	UpdatedAt      time.Time                          `json:"updatedAt"`
}

func (s *Survey) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// TargetAudience describes who a survey is distributed to.
type TargetAudience struct {
	AudienceType string   `json:"audienceType"` // all, segment, contacts, public
	SegmentIDs   []string `json:"segmentIds,omitempty"`
	ContactIDs   []string `json:"contactIds,omitempty"`
}

// Question is one node of a survey's branching graph.
type Question struct {
	ID                    string      `json:"id"`
	Type                  string      `json:"type"` // text, rating, nps, radio, checkbox, yesno, select, imageChoice, ...
	QuestionText          string      `json:"questionText,omitempty"`
	Title                 string      `json:"title,omitempty"`
	Options               []string    `json:"options,omitempty"`
	Required              bool        `json:"required,omitempty"`
	LogicRules            []LogicRule `json:"logicRules,omitempty"`
	DefaultNextQuestionID string      `json:"defaultNextQuestionId,omitempty"`
}

// Label returns the text a respondent sees, falling back to the id.
func (q Question) Label() string {
	if t := strings.TrimSpace(q.QuestionText); t != "" {
		return t
	}
	if t := strings.TrimSpace(q.Title); t != "" {
		return t
	}
	return q.ID
}

// LogicRule routes to NextQuestionID when Condition holds for the answer.
type LogicRule struct {
	Condition      LogicCondition `json:"condition"`
	NextQuestionID string         `json:"nextQuestionId,omitempty"`
}

type LogicCondition struct {
	Operator string      `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// Response is a single survey submission. Everything except the analysis
// fields is immutable after creation.
type Response struct {
	ID               string                               `gorm:"primaryKey;size:36" json:"id"`
	TenantID         string                               `gorm:"size:64;index;not null" json:"tenantId"`
	SurveyID         string                               `gorm:"size:36;index;not null" json:"surveyId"`
	ContactID        string                               `gorm:"size:36;index" json:"contactId,omitempty"`
	Review           string                               `gorm:"type:text" json:"review,omitempty"`
	Rating           *float64                             `json:"rating,omitempty"`
	Score            *int                                 `json:"score,omitempty"`
	Answers          datatypes.JSONSlice[Answer]          `json:"answers,omitempty"`
	Analysis         datatypes.JSONType[ResponseAnalysis] `json:"analysis"`
	AnalyzedAt       *time.Time                           `gorm:"index" json:"analyzedAt,omitempty"`
	FlaggedForReview bool                                 `gorm:"index;default:false" json:"flaggedForReview"`
	PipelineResults  datatypes.JSONSlice[IntentResult]    `json:"pipelineResults,omitempty"`
	CreatedAt        time.Time                            `json:"createdAt"`
	UpdatedAt        time.Time                            `json:"updatedAt"`
}

func (r *Response) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// Answer is the value given for one question. Answer may be a string, a
// number or a list, depending on the question type.
type Answer struct {
	QuestionID string      `json:"questionId"`
	Answer     interface{} `json:"answer"`
}

// ResponseAnalysis is the analytical metadata written onto a response by the
// action executor.
type ResponseAnalysis struct {
	Sentiment        Sentiment              `json:"sentiment,omitempty"`
	SentimentScore   float64                `json:"sentimentScore"`
	Urgency          Urgency                `json:"urgency,omitempty"`
	Emotions         []string               `json:"emotions,omitempty"`
	Keywords         []string               `json:"keywords,omitempty"`
	Themes           []string               `json:"themes,omitempty"`
	Classification   ResolvedClassification `json:"classification"`
	Summary          string                 `json:"summary,omitempty"`
	NPSCategory      *NPSCategory           `json:"npsCategory"`
	RatingCategory   *RatingCategory        `json:"ratingCategory"`
	FlaggedForReview bool                   `json:"flaggedForReview"`
	AnalyzedAt       *time.Time             `json:"analyzedAt,omitempty"`
}

// Action is a follow-up work item created from a response.
type Action struct {
	ID               string                             `gorm:"primaryKey;size:36" json:"id"`
	TenantID         string                             `gorm:"size:64;index;not null" json:"tenantId"`
	Title            string                             `gorm:"size:200;not null" json:"title"`
	Description      string                             `gorm:"type:text" json:"description"`
	Priority         Priority                           `gorm:"size:10;index" json:"priority"`
	Category         string                             `gorm:"size:100" json:"category"`
	Source           string                             `gorm:"size:32" json:"source"`
	Status           string                             `gorm:"size:32;index" json:"status"`
	Tags             datatypes.JSONSlice[string]        `json:"tags"`
	ProblemStatement string                             `gorm:"type:text" json:"problemStatement,omitempty"`
	RootCause        datatypes.JSONType[RootCause]      `json:"rootCause"`
	PriorityReason   string                             `gorm:"size:255" json:"priorityReason,omitempty"`
	Evidence         datatypes.JSONType[Evidence]       `json:"evidence"`
	Metadata         datatypes.JSONType[ActionMetadata] `json:"metadata"`
	ResponseID       string                             `gorm:"size:36;index" json:"-"`
	DueDate          *time.Time                         `json:"dueDate,omitempty"`
	CreatedAt        time.Time                          `json:"createdAt"`
	UpdatedAt        time.Time                          `json:"updatedAt"`
}

func (a *Action) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// Action status and source values.
const (
	ActionStatusPending    = "pending"
	ActionStatusInProgress = "in_progress"
	ActionStatusResolved   = "resolved"

	ActionSourceAI = "ai_generated"
)

type RootCause struct {
	Category string `json:"category"`
	Summary  string `json:"summary,omitempty"`
}

type Evidence struct {
	ResponseCount   int      `json:"responseCount"`
	RespondentCount int      `json:"respondentCount"`
	ResponseIDs     []string `json:"responseIds"`
	CommentExcerpts []string `json:"commentExcerpts,omitempty"`
	ConfidenceScore float64  `json:"confidenceScore"`
}

type ActionMetadata struct {
	SurveyID   string    `json:"surveyId"`
	ResponseID string    `json:"responseId"`
	Sentiment  Sentiment `json:"sentiment,omitempty"`
	Urgency    Urgency   `json:"urgency,omitempty"`
}

// Contact is an addressable respondent. Tags are stored comma separated.
type Contact struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id" bson:"_id"`
	TenantID      string     `gorm:"size:64;index;not null" json:"tenantId" bson:"tenantId"`
	Email         string     `gorm:"size:255;index" json:"email,omitempty" bson:"email,omitempty"`
	Phone         string     `gorm:"size:50" json:"phone,omitempty" bson:"phone,omitempty"`
	Name          string     `gorm:"size:255" json:"name,omitempty" bson:"name,omitempty"`
	Company       string     `gorm:"size:255" json:"company,omitempty" bson:"company,omitempty"`
	Tags          string     `gorm:"type:text" json:"tags,omitempty" bson:"-"`
	Status        string     `gorm:"size:32;default:'active'" json:"status" bson:"status"`
	Segment       string     `gorm:"size:100;index" json:"segment,omitempty" bson:"segment,omitempty"`
	ResponseCount int        `json:"responseCount" bson:"responseCount"`
	AvgRating     float64    `json:"avgRating" bson:"avgRating"`
	LastActivity  *time.Time `json:"lastActivity,omitempty" bson:"lastActivity,omitempty"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt"`
}

func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return nil
}

// BeforeSave stores tags as a trimmed comma list so they can be matched with
// a delimited LIKE, and timestamps in UTC so segment range queries compare
// like with like.
func (c *Contact) BeforeSave(tx *gorm.DB) error {
	c.Tags = strings.Join(c.TagList(), ",")
	if c.LastActivity != nil {
		at := c.LastActivity.UTC()
		c.LastActivity = &at
	}
	if !c.CreatedAt.IsZero() {
		c.CreatedAt = c.CreatedAt.UTC()
	}
	return nil
}

// TagList splits the stored tag string into trimmed, non-empty tags.
func (c *Contact) TagList() []string {
	if c.Tags == "" {
		return nil
	}
	parts := strings.Split(c.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// RecognitionEntry records praise received in a response.
type RecognitionEntry struct {
	ID         string                      `gorm:"primaryKey;size:36" json:"id"`
	TenantID   string                      `gorm:"size:64;index;not null" json:"tenantId"`
	SurveyID   string                      `gorm:"size:36;index" json:"surveyId"`
	ResponseID string                      `gorm:"size:36;index" json:"responseId"`
	Summary    string                      `gorm:"type:text" json:"summary,omitempty"`
	Keywords   datatypes.JSONSlice[string] `json:"keywords,omitempty"`
	Score      *int                        `json:"score,omitempty"`
	Rating     *float64                    `json:"rating,omitempty"`
	CreatedAt  time.Time                   `json:"createdAt"`
}

func (e *RecognitionEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// AlertEvent is the out-of-band notification emitted for SEND_ALERT.
type AlertEvent struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	SurveyID   string    `json:"surveyId"`
	ResponseID string    `json:"responseId"`
	Sentiment  Sentiment `json:"sentiment,omitempty"`
	Urgency    Urgency   `json:"urgency,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&Survey{},
		&Response{},
		&Action{},
		&Contact{},
		&RecognitionEntry{},
	}
}
