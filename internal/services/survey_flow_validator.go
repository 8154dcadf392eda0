package services

import (
	"fmt"
	"strings"

	"ratepro/internal/models"
)

const maxLogicRulesPerQuestion = 10

var choiceQuestionTypes = map[string]bool{
	"radio":       true,
	"checkbox":    true,
	"yesno":       true,
	"select":      true,
	"imageChoice": true,
}

// FlowValidationResult is valid exactly when Errors is empty.
type FlowValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// SurveyFlowValidator statically checks a survey's branching graph before
// it is published.
type SurveyFlowValidator struct{}

func NewSurveyFlowValidator() *SurveyFlowValidator {
	return &SurveyFlowValidator{}
}

func (v *SurveyFlowValidator) Validate(survey *models.Survey) FlowValidationResult {
	errs := []string{}
	if survey == nil {
		errs = append(errs, "Survey is required")
		return FlowValidationResult{Valid: false, Errors: errs}
	}

	questions := []models.Question(survey.Questions)
	if len(questions) == 0 {
		errs = append(errs, "Survey must contain at least one question")
	}
	if strings.TrimSpace(survey.TargetAudience.Data().AudienceType) == "" {
		errs = append(errs, "Target audience type is required")
	}

	ids := make(map[string]int, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			errs = append(errs, fmt.Sprintf("Question %d has no id", i+1))
			continue
		}
		if _, dup := ids[q.ID]; dup {
			errs = append(errs, fmt.Sprintf("Question %q is defined more than once", q.ID))
			continue
		}
		ids[q.ID] = i
	}

	for i, q := range questions {
		name := questionName(q, i)
		if strings.TrimSpace(q.QuestionText) == "" && strings.TrimSpace(q.Title) == "" {
			errs = append(errs, fmt.Sprintf("Question %s must have question text or a title", name))
		}
		if choiceQuestionTypes[q.Type] && len(q.Options) < 2 {
			errs = append(errs, fmt.Sprintf("Question %s (%s) requires at least 2 options", name, q.Type))
		}
		if len(q.LogicRules) > maxLogicRulesPerQuestion {
			errs = append(errs, fmt.Sprintf("Question %s has %d logic rules; the maximum is %d", name, len(q.LogicRules), maxLogicRulesPerQuestion))
		}
		for k, rule := range q.LogicRules {
			switch next := rule.NextQuestionID; {
			case next == "":
			case next == q.ID:
				errs = append(errs, fmt.Sprintf("Question %s logic rule %d cannot point to itself", name, k+1))
			default:
				if _, ok := ids[next]; !ok {
					errs = append(errs, fmt.Sprintf("Question %s logic rule %d points to unknown question %q", name, k+1, next))
				}
			}
		}
		switch next := q.DefaultNextQuestionID; {
		case next == "":
		case next == q.ID:
			errs = append(errs, fmt.Sprintf("Question %s default next question cannot point to itself", name))
		default:
			if _, ok := ids[next]; !ok {
				errs = append(errs, fmt.Sprintf("Question %s default next question %q does not exist", name, next))
			}
		}
	}

	graph := BuildFlowGraph(questions)
	if from, to, ok := graph.FindCycle(); ok {
		errs = append(errs, fmt.Sprintf("Survey flow contains a cycle: question %s loops back to question %s",
			questionName(questions[graph.Index[from]], graph.Index[from]),
			questionName(questions[graph.Index[to]], graph.Index[to])))
	}

	return FlowValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func questionName(q models.Question, i int) string {
	if label := strings.TrimSpace(q.QuestionText); label != "" {
		return fmt.Sprintf("%q", label)
	}
	if label := strings.TrimSpace(q.Title); label != "" {
		return fmt.Sprintf("%q", label)
	}
	if q.ID != "" {
		return fmt.Sprintf("%q", q.ID)
	}
	return fmt.Sprintf("#%d", i+1)
}

// FlowGraph is the branching graph in arena form: node i is Nodes[i] and
// every edge is a pair of node indices. Edges to unknown questions and
// self-edges are left out; the validator reports those separately.
type FlowGraph struct {
	Nodes []string `json:"nodes"`
	Edges [][2]int `json:"edges"`
	// Index maps a node back to its position in the question list.
	Index []int `json:"-"`

	offsets []int
	targets []int
}

func BuildFlowGraph(questions []models.Question) *FlowGraph {
	g := &FlowGraph{}
	node := make(map[string]int, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			continue
		}
		if _, dup := node[q.ID]; dup {
			continue
		}
		node[q.ID] = len(g.Nodes)
		g.Nodes = append(g.Nodes, q.ID)
		g.Index = append(g.Index, i)
	}

	addEdge := func(from int, to string) {
		j, ok := node[to]
		if !ok || j == from {
			return
		}
		g.Edges = append(g.Edges, [2]int{from, j})
	}
	for n, i := range g.Index {
		q := questions[i]
		for _, rule := range q.LogicRules {
			addEdge(n, rule.NextQuestionID)
		}
		addEdge(n, q.DefaultNextQuestionID)
	}

	g.offsets = make([]int, len(g.Nodes)+1)
	for _, e := range g.Edges {
		g.offsets[e[0]+1]++
	}
	for i := 1; i < len(g.offsets); i++ {
		g.offsets[i] += g.offsets[i-1]
	}
	g.targets = make([]int, len(g.Edges))
	fill := append([]int(nil), g.offsets[:len(g.Nodes)]...)
	for _, e := range g.Edges {
		g.targets[fill[e[0]]] = e[1]
		fill[e[0]]++
	}
	return g
}

// FindCycle runs an iterative depth-first search in node order and returns
// the first back edge found.
func (g *FlowGraph) FindCycle() (from, to int, ok bool) {
	n := len(g.Nodes)
	visited := make([]bool, n)
	onStack := make([]bool, n)
	next := make([]int, n)
	stack := make([]int, 0, n)

	for root := 0; root < n; root++ {
		if visited[root] {
			continue
		}
		visited[root], onStack[root] = true, true
		next[root] = g.offsets[root]
		stack = append(stack[:0], root)

		for len(stack) > 0 {
			u := stack[len(stack)-1]
			if next[u] == g.offsets[u+1] {
				onStack[u] = false
				stack = stack[:len(stack)-1]
				continue
			}
			w := g.targets[next[u]]
			next[u]++
			if onStack[w] {
				return u, w, true
			}
			if !visited[w] {
				visited[w], onStack[w] = true, true
				next[w] = g.offsets[w]
				stack = append(stack, w)
			}
		}
	}
	return 0, 0, false
}
