package insight

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"sentiment\":\"positive\"}"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/v1"
	cfg.Timeout = 5 * time.Second

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	c := NewClient(cfg, logger)
	c.initialInterval = time.Millisecond
	return c
}

func TestClient_Complete(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okCompletion))
	})

	out, err := c.Complete(context.Background(), Request{System: "be brief", Prompt: "rate this", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"sentiment":"positive"}`, out.Text)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 4}, out.Usage)

	messages, ok := body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "rate this", messages[1].(map[string]interface{})["content"])
	format, ok := body["response_format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
		calls  int32
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited, 1},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized, 1},
		{"bad request", http.StatusBadRequest, ErrInvalidRequest, 1},
		{"server error retried", http.StatusBadGateway, ErrUnavailable, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test_error"}}`))
			})

			_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, tt.calls, atomic.LoadInt32(&calls))
		})
	}
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"try again"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okCompletion))
	})

	out, err := c.Complete(context.Background(), Request{Text: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Text)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClient_EmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	})
	_, err := c.Complete(context.Background(), Request{Prompt: "hi"})
	assert.True(t, errors.Is(err, ErrMalformedResponse))
}

func TestClient_EmptyPromptNeverCallsServer(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	_, err := c.Complete(context.Background(), Request{Prompt: "   "})
	assert.True(t, errors.Is(err, ErrEmptyPrompt))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
		err  error
	}{
		{"string", "rate this", "rate this", nil},
		{"prompt map", map[string]interface{}{"prompt": "p"}, "p", nil},
		{"text map", map[string]string{"text": "t"}, "t", nil},
		{"struct", Request{Text: "s"}, "s", nil},
		{"pointer", &Request{Prompt: "ptr"}, "ptr", nil},
		{"json object", json.RawMessage(`{"text":"from json"}`), "from json", nil},
		{"json string", []byte(`"quoted"`), "quoted", nil},
		{"empty string", "  ", "", ErrEmptyPrompt},
		{"empty map", map[string]interface{}{"prompt": ""}, "", ErrEmptyPrompt},
		{"nil", nil, "", ErrEmptyPrompt},
		{"unsupported", 42, "", ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(tt.in)
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			got, err := req.PromptText()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
