package answer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestRequestReturnsProviderText(t *testing.T) {
	p := ProviderFunc(func(context.Context, string) (string, error) {
		return "  four  ", nil
	})

	text, err := Request(context.Background(), p, "What's 2+2?", time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if text != "four" {
		t.Fatalf("expected four, got %q", text)
	}
}

func TestRequestFallbacks(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		provider Provider
		timeout  time.Duration
		err      error
	}{
		{
			name: "provider error",
			provider: ProviderFunc(func(context.Context, string) (string, error) {
				return "", boom
			}),
			timeout: time.Second,
			err:     boom,
		},
		{
			name: "blank reply",
			provider: ProviderFunc(func(context.Context, string) (string, error) {
				return "   ", nil
			}),
			timeout: time.Second,
			err:     ErrEmptyReply,
		},
		{
			name: "timeout honoring ctx",
			provider: ProviderFunc(func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
			timeout: 10 * time.Millisecond,
			err:     ErrProviderTimeout,
		},
		{
			name: "timeout ignoring ctx",
			provider: ProviderFunc(func(context.Context, string) (string, error) {
				time.Sleep(200 * time.Millisecond)
				return "too late", nil
			}),
			timeout: 10 * time.Millisecond,
			err:     ErrProviderTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, err := Request(context.Background(), tt.provider, "q", tt.timeout)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
			if !slices.Contains(Fallbacks, text) {
				t.Fatalf("expected a fallback phrase, got %q", text)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	text, err := Static{}.Generate(context.Background(), "q")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !slices.Contains(Fallbacks, text) {
		t.Fatalf("expected canned phrase, got %q", text)
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": " Four, I think. "}
			}]
		}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1/",
		Model:   "test-model",
	})

	text, err := p.Generate(context.Background(), "What's 2+2?")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Four, I think." {
		t.Fatalf("expected trimmed reply, got %q", text)
	}
	if got.Model != "test-model" || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "What's 2+2?" {
		t.Fatalf("expected question as user message, got %+v", got.Messages[1])
	}
}

func TestOpenAIErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1/"})

	text, err := Request(context.Background(), p, "q", time.Second)
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if !slices.Contains(Fallbacks, text) {
		t.Fatalf("expected fallback, got %q", text)
	}
}
