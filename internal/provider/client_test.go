package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: "https://llm.test/v1/", APIKey: "k", Model: "tele-llm", Temperature: 0.2})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.httpClient = &http.Client{Transport: rt}
	return c
}

func TestCompleteSendsChatRequest(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.String() != "https://llm.test/v1/chat/completions" {
			t.Fatalf("unexpected url: %s", req.URL)
		}
		if req.Header.Get("Authorization") != "Bearer k" {
			t.Fatalf("missing bearer token")
		}
		var body chatRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.Model != "tele-llm" || body.Temperature != 0.2 || len(body.Messages) != 2 {
			t.Fatalf("unexpected request body: %+v", body)
		}
		if body.Messages[0].Role != "system" || body.Messages[1].Content != "prompt" {
			t.Fatalf("unexpected messages: %+v", body.Messages)
		}
		resp := `{"model":"tele-llm-2026","choices":[{"message":{"role":"assistant","content":"{\"hypotheses\":[]}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":4}}`
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(resp)), Header: make(http.Header)}, nil
	})

	got, err := c.Complete(context.Background(), Request{System: "sys", Prompt: "prompt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Model != "tele-llm-2026" || got.Content != `{"hypotheses":[]}` || got.PromptTokens != 12 {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestCompleteReportsHTTPFailures(t *testing.T) {
	c := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Status:     "502 Bad Gateway",
			Body:       io.NopCloser(bytes.NewReader([]byte("model overloaded"))),
			Header:     make(http.Header),
		}, nil
	})
	_, err := c.Complete(context.Background(), Request{Prompt: "p"})
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected status error with body, got %v", err)
	}
}

func TestCompleteRejectsEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(`{"choices":[]}`)), Header: make(http.Header)}, nil
	})
	if _, err := c.Complete(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestCompleteHonoursContextDeadline(t *testing.T) {
	c := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, Request{Prompt: "p"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewClientValidates(t *testing.T) {
	if _, err := NewClient(Config{Model: "m"}); err == nil {
		t.Fatalf("expected base URL validation error")
	}
	if _, err := NewClient(Config{BaseURL: "http://x"}); err == nil {
		t.Fatalf("expected model validation error")
	}
}
