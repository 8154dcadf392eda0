package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"ratepro/internal/models"
)

func surveyWith(questions ...models.Question) *models.Survey {
	return &models.Survey{
		Title:          "Onboarding",
		TargetAudience: datatypes.NewJSONType(models.TargetAudience{AudienceType: "all"}),
		Questions:      questions,
	}
}

func goTo(id string) models.LogicRule {
	return models.LogicRule{Condition: models.LogicCondition{Operator: "equals", Value: "yes"}, NextQuestionID: id}
}

func cycleErrors(errs []string) []string {
	var out []string
	for _, e := range errs {
		if strings.Contains(e, "cycle") {
			out = append(out, e)
		}
	}
	return out
}

func TestSurveyFlowValidator_TwoQuestionCycle(t *testing.T) {
	v := NewSurveyFlowValidator()
	res := v.Validate(surveyWith(
		models.Question{ID: "A", Type: "text", QuestionText: "How was it?", LogicRules: []models.LogicRule{goTo("B")}},
		models.Question{ID: "B", Type: "text", QuestionText: "Why?", LogicRules: []models.LogicRule{goTo("A")}},
	))

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, `Survey flow contains a cycle: question "Why?" loops back to question "How was it?"`, res.Errors[0])
}

func TestSurveyFlowValidator_SelfReferenceIsNotACycle(t *testing.T) {
	v := NewSurveyFlowValidator()
	res := v.Validate(surveyWith(
		models.Question{ID: "A", Type: "text", Title: "Anything else", LogicRules: []models.LogicRule{goTo("A")}},
	))

	assert.False(t, res.Valid)
	assert.Equal(t, []string{`Question "Anything else" logic rule 1 cannot point to itself`}, res.Errors)
	assert.Empty(t, cycleErrors(res.Errors))

	res = v.Validate(surveyWith(models.Question{ID: "A", Type: "text", Title: "Loop", DefaultNextQuestionID: "A"}))
	assert.Equal(t, []string{`Question "Loop" default next question cannot point to itself`}, res.Errors)
}

func TestSurveyFlowValidator_ValidSurvey(t *testing.T) {
	v := NewSurveyFlowValidator()
	res := v.Validate(surveyWith(
		models.Question{ID: "q1", Type: "radio", QuestionText: "Did we solve it?", Options: []string{"yes", "no"},
			LogicRules: []models.LogicRule{goTo("q3")}, DefaultNextQuestionID: "q2"},
		models.Question{ID: "q2", Type: "text", QuestionText: "What went wrong?", DefaultNextQuestionID: "q3"},
		models.Question{ID: "q3", Type: "nps", QuestionText: "Would you recommend us?"},
	))

	assert.True(t, res.Valid)
	assert.NotNil(t, res.Errors)
	assert.Empty(t, res.Errors)
}

func TestSurveyFlowValidator_AccumulatesErrors(t *testing.T) {
	v := NewSurveyFlowValidator()
	rules := make([]models.LogicRule, 11)
	for i := range rules {
		rules[i] = goTo("q2")
	}
	survey := &models.Survey{Questions: []models.Question{
		{ID: "q1", Type: "radio", QuestionText: "Pick one", Options: []string{"only"}, LogicRules: rules},
		{ID: "q2", Type: "text", DefaultNextQuestionID: "missing"},
		{ID: "q2", Type: "text", QuestionText: "Duplicate"},
		{Type: "text", QuestionText: "No id"},
	}}

	res := v.Validate(survey)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{
		"Target audience type is required",
		`Question "q2" is defined more than once`,
		"Question 4 has no id",
		`Question "Pick one" (radio) requires at least 2 options`,
		`Question "Pick one" has 11 logic rules; the maximum is 10`,
		`Question "q2" must have question text or a title`,
		`Question "q2" default next question "missing" does not exist`,
	}, res.Errors)
}

func TestSurveyFlowValidator_EmptySurvey(t *testing.T) {
	res := NewSurveyFlowValidator().Validate(&models.Survey{})
	assert.False(t, res.Valid)
	assert.Contains(t, res.Errors, "Survey must contain at least one question")

	res = NewSurveyFlowValidator().Validate(nil)
	assert.False(t, res.Valid)
}

func TestSurveyFlowValidator_UnknownTarget(t *testing.T) {
	res := NewSurveyFlowValidator().Validate(surveyWith(
		models.Question{ID: "q1", Type: "text", QuestionText: "Hi", LogicRules: []models.LogicRule{goTo("nowhere")}},
	))
	assert.Equal(t, []string{`Question "Hi" logic rule 1 points to unknown question "nowhere"`}, res.Errors)
}

func TestFlowGraph_ArenaLayout(t *testing.T) {
	g := BuildFlowGraph([]models.Question{
		{ID: "a", LogicRules: []models.LogicRule{goTo("b"), goTo("a"), goTo("zzz")}, DefaultNextQuestionID: "c"},
		{ID: "b", DefaultNextQuestionID: "c"},
		{ID: "c"},
	})
	assert.Equal(t, []string{"a", "b", "c"}, g.Nodes)
	assert.Equal(t, [][2]int{{0, 1}, {0, 2}, {1, 2}}, g.Edges)

	_, _, ok := g.FindCycle()
	assert.False(t, ok)
}

func TestFlowGraph_LongCycle(t *testing.T) {
	g := BuildFlowGraph([]models.Question{
		{ID: "a", DefaultNextQuestionID: "b"},
		{ID: "b", DefaultNextQuestionID: "c"},
		{ID: "c", LogicRules: []models.LogicRule{goTo("a")}},
	})
	from, to, ok := g.FindCycle()
	require.True(t, ok)
	assert.Equal(t, "c", g.Nodes[from])
	assert.Equal(t, "a", g.Nodes[to])
}
