package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"ratepro/internal/models"
)

const (
	maxActionTitle       = 200
	maxActionDescription = 2000
	maxProblemStatement  = 2000
)

// ActionDraft holds the caller-controlled fields of an Action. Tenant,
// status and source are never taken from the caller.
type ActionDraft struct {
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	Priority         models.Priority       `json:"priority"`
	Category         string                `json:"category"`
	Tags             []string              `json:"tags"`
	ProblemStatement string                `json:"problemStatement"`
	RootCause        models.RootCause      `json:"rootCause"`
	PriorityReason   string                `json:"priorityReason"`
	Evidence         models.Evidence       `json:"evidence"`
	Metadata         models.ActionMetadata `json:"metadata"`
	DueDate          *time.Time            `json:"dueDate"`
}

var actionDraftFields = map[string]struct{}{
	"title": {}, "description": {}, "priority": {}, "category": {}, "tags": {},
	"problemStatement": {}, "rootCause": {}, "priorityReason": {},
	"evidence": {}, "metadata": {}, "dueDate": {},
}

// ActionFactory normalizes drafts into storable Actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// DecodeDraft keeps only allow-listed keys of payload and decodes them.
func (f *ActionFactory) DecodeDraft(payload map[string]interface{}) (ActionDraft, error) {
	kept := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if _, ok := actionDraftFields[k]; ok {
			kept[k] = v
		}
	}
	var draft ActionDraft
	raw, err := json.Marshal(kept)
	if err != nil {
		return draft, fmt.Errorf("%w: encode action payload: %v", ErrInputInvalid, err)
	}
	if err := json.Unmarshal(raw, &draft); err != nil {
		return draft, fmt.Errorf("%w: decode action payload: %v", ErrInputInvalid, err)
	}
	return draft, nil
}

// Build returns a pending, AI-sourced Action for the tenant carried by ctx.
func (f *ActionFactory) Build(ctx context.Context, draft ActionDraft) (*models.Action, error) {
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: tenant missing from context", ErrInputInvalid)
	}
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: action title is required", ErrInputInvalid)
	}
	priority := draft.Priority
	if !priority.Valid() {
		priority = models.PriorityMedium
	}

	return &models.Action{
		TenantID:         tenantID,
		Title:            truncateRunes(title, maxActionTitle, ""),
		Description:      truncateRunes(strings.TrimSpace(draft.Description), maxActionDescription, ""),
		Priority:         priority,
		Category:         strings.TrimSpace(draft.Category),
		Source:           models.ActionSourceAI,
		Status:           models.ActionStatusPending,
		Tags:             normalizeTags(draft.Tags),
		ProblemStatement: truncateRunes(strings.TrimSpace(draft.ProblemStatement), maxProblemStatement, ""),
		RootCause:        datatypes.NewJSONType(draft.RootCause),
		PriorityReason:   draft.PriorityReason,
		Evidence:         datatypes.NewJSONType(draft.Evidence),
		Metadata:         datatypes.NewJSONType(draft.Metadata),
		ResponseID:       draft.Metadata.ResponseID,
		DueDate:          draft.DueDate,
	}, nil
}

func normalizeTags(tags []string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
