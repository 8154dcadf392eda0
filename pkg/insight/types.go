package insight

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyPrompt       = errors.New("insight: empty prompt")
	ErrInvalidRequest    = errors.New("insight: unsupported request shape")
	ErrUnauthorized      = errors.New("insight: unauthorized")
	ErrRateLimited       = errors.New("insight: rate limited")
	ErrMalformedResponse = errors.New("insight: malformed completion")
	ErrUnavailable       = errors.New("insight: completion service unavailable")
)

// Config configures the completion client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   800,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
	}
}

// Request is a single completion request. Text is accepted as an alias of
// Prompt.
type Request struct {
	Prompt string `json:"prompt,omitempty"`
	Text   string `json:"text,omitempty"`
	System string `json:"system,omitempty"`
	// JSON asks the model for a JSON object reply.
	JSON bool `json:"json,omitempty"`
}

// PromptText returns the prompt, or ErrEmptyPrompt when both fields are blank.
func (r Request) PromptText() (string, error) {
	if p := strings.TrimSpace(r.Prompt); p != "" {
		return p, nil
	}
	if t := strings.TrimSpace(r.Text); t != "" {
		return t, nil
	}
	return "", ErrEmptyPrompt
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type Completion struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Usage Usage  `json:"usage"`
}

// ParseRequest accepts a plain string, a Request, a map with "prompt" or
// "text", or JSON encoding either shape.
func ParseRequest(v interface{}) (Request, error) {
	var req Request
	switch t := v.(type) {
	case nil:
		return req, ErrEmptyPrompt
	case string:
		req.Prompt = t
	case Request:
		req = t
	case *Request:
		if t == nil {
			return req, ErrEmptyPrompt
		}
		req = *t
	case map[string]string:
		req = Request{Prompt: t["prompt"], Text: t["text"], System: t["system"]}
	case map[string]interface{}:
		req = Request{Prompt: stringField(t, "prompt"), Text: stringField(t, "text"), System: stringField(t, "system")}
	case json.RawMessage:
		return parseJSON(t)
	case []byte:
		return parseJSON(t)
	default:
		return req, fmt.Errorf("%w: %T", ErrInvalidRequest, v)
	}
	if _, err := req.PromptText(); err != nil {
		return req, err
	}
	return req, nil
}

func parseJSON(raw []byte) (Request, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return ParseRequest(m)
	}
	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return ParseRequest(s)
	}
	return ParseRequest(trimmed)
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
