package groq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/koscakluka/ema-call/core/llms"
)

func TestPromptWithStreamYieldsContentInOrder(t *testing.T) {
	var received requestBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range []string{"नमस्ते", " आप", " कैसे हैं?"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", token)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("test-key", WithURL(server.URL), WithHTTPClient(server.Client()), WithModel("test-model"))
	prompt := "hello"
	stream := client.PromptWithStream(context.Background(), &prompt,
		llms.WithSystemPrompt("system"),
		llms.WithTurns(llms.UserTurn("earlier"), llms.AssistantTurn("reply")),
	)

	var content strings.Builder
	for chunk, err := range stream.Chunks(context.Background()) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c, ok := chunk.(llms.StreamContentChunk); ok {
			content.WriteString(c.Content())
		}
	}

	if got, want := content.String(), "नमस्ते आप कैसे हैं?"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if received.Model != "test-model" || !received.Stream {
		t.Fatalf("unexpected request: %+v", received)
	}
	if received.MaxTokens != llms.DefaultMaxTokens {
		t.Fatalf("expected max tokens %d, got %d", llms.DefaultMaxTokens, received.MaxTokens)
	}
	roles := []messageRole{messageRoleSystem, messageRoleUser, messageRoleAssistant, messageRoleUser}
	if len(received.Messages) != len(roles) {
		t.Fatalf("expected %d messages, got %d", len(roles), len(received.Messages))
	}
	for i, role := range roles {
		if received.Messages[i].Role != role {
			t.Fatalf("message %d: expected role %s, got %s", i, role, received.Messages[i].Role)
		}
	}
	if received.Messages[3].Content != "hello" {
		t.Fatalf("expected prompt last, got %q", received.Messages[3].Content)
	}
}

func TestPromptWithStreamReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient("k", WithURL(server.URL), WithHTTPClient(server.Client()))
	prompt := "hi"

	var gotErr error
	for _, err := range client.PromptWithStream(context.Background(), &prompt).Chunks(context.Background()) {
		if err != nil {
			gotErr = err
		}
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "429") {
		t.Fatalf("expected status error, got %v", gotErr)
	}
}
