package insight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Completer produces a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Client is a Completer backed by an OpenAI-compatible chat completions API.
type Client struct {
	api             *openai.Client
	config          *Config
	logger          *logrus.Logger
	initialInterval time.Duration
}

func NewClient(config *Config, logger *logrus.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	oc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		oc.BaseURL = config.BaseURL
	}
	oc.HTTPClient = &http.Client{
		Timeout:   config.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return &Client{
		api:             openai.NewClientWithConfig(oc),
		config:          config,
		logger:          logger,
		initialInterval: 500 * time.Millisecond,
	}
}

// Complete sends req and returns the first choice. Transient failures are
// retried with exponential backoff; auth and rate-limit errors are not.
func (c *Client) Complete(ctx context.Context, req Request) (*Completion, error) {
	prompt, err := req.PromptText()
	if err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer("ratepro/insight").Start(ctx, "insight.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", c.config.Model),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	apiReq := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: float32(c.config.Temperature),
	}
	if req.JSON {
		apiReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var resp openai.ChatCompletionResponse
	attempt := 0
	operation := func() error {
		attempt++
		r, err := c.api.CreateChatCompletion(ctx, apiReq)
		if err != nil {
			classified := classify(err)
			c.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"model":   c.config.Model,
			}).WithError(classified).Warn("completion request failed")
			if !errors.Is(classified, ErrUnavailable) || ctx.Err() != nil {
				return backoff.Permanent(classified)
			}
			return classified
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = c.config.Timeout
	retries := c.config.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		span.SetStatus(codes.Error, "empty completion")
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.completion_tokens", resp.Usage.CompletionTokens),
	)
	return &Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classify maps client errors onto the package error kinds.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case status == 0 || status >= 500:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: status %d: %v", ErrInvalidRequest, status, err)
	}
}
