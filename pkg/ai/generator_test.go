package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func collect(deltas *[]string) func(string) error {
	return func(d string) error {
		*deltas = append(*deltas, d)
		return nil
	}
}

func TestOpenAICompatStreamChat(t *testing.T) {
	var got oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range []string{"Hello", " there", "!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", d)
		}
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n")
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1/", "secret", "gpt-test")
	var deltas []string
	text, err := g.StreamChat(context.Background(), "be nice", "hi", collect(&deltas))
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if text != "Hello there!" {
		t.Fatalf("unexpected text %q", text)
	}
	if strings.Join(deltas, "|") != "Hello| there|!" {
		t.Fatalf("unexpected deltas %q", deltas)
	}
	if !got.Stream || got.Model != "gpt-test" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", got)
	}
	if g.Model() != "gpt-test" {
		t.Fatalf("unexpected model %q", g.Model())
	}
}

func TestOpenAICompatAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL, "", "m")
	_, err := g.StreamChat(context.Background(), "", "hi", nil)
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestOpenAICompatDeltaErrorStopsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n\n")
	}))
	defer srv.Close()

	stop := errors.New("client gone")
	g := NewOpenAICompatGenerator(srv.URL, "", "m")
	_, err := g.StreamChat(context.Background(), "", "hi", func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestOllamaStreamChat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}`+"\n")
		_, _ = io.WriteString(w, "\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":" friend"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":""},"done":true}`+"\n")
	}))
	defer srv.Close()

	g := NewOllamaGenerator(NewOllamaClient(srv.URL), "llama3")
	var deltas []string
	text, err := g.StreamChat(context.Background(), "sys", "hello", collect(&deltas))
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if text != "Hi friend" || len(deltas) != 2 {
		t.Fatalf("unexpected result %q %q", text, deltas)
	}
	if !got.Stream || got.Model != "llama3" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOllamaEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":""},"done":true}`+"\n")
	}))
	defer srv.Close()

	g := NewOllamaGenerator(NewOllamaClient(srv.URL), "llama3")
	if _, err := g.StreamChat(context.Background(), "", "hello", nil); err == nil {
		t.Fatalf("expected empty reply to fail")
	}
}

func TestGeminiStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-pro:streamGenerateContent" || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("unexpected url %s", r.URL.String())
		}
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hey\"}]}}]}\r\n\r\n")
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\" you\"}]}}]}")
	}))
	defer srv.Close()

	s, err := NewStreamer(Config{Provider: "gemini", BaseURL: srv.URL, APIKey: "k", Model: "models/gemini-pro"})
	if err != nil {
		t.Fatalf("new streamer: %v", err)
	}
	text, err := s.StreamChat(context.Background(), "sys", "hi", nil)
	if err != nil {
		t.Fatalf("stream chat: %v", err)
	}
	if text != "Hey you" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestNewStreamerValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "default openai", cfg: Config{BaseURL: "http://x/v1", Model: "m"}, ok: true},
		{name: "openai without url", cfg: Config{Provider: "openai", Model: "m"}},
		{name: "ollama", cfg: Config{Provider: "Ollama", Model: "m"}, ok: true},
		{name: "gemini without key", cfg: Config{Provider: "gemini", Model: "m"}},
		{name: "no model", cfg: Config{Provider: "ollama"}},
		{name: "unknown", cfg: Config{Provider: "bard", Model: "m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewStreamer(tc.cfg)
			if (err == nil) != tc.ok {
				t.Fatalf("ok=%v, err=%v", tc.ok, err)
			}
		})
	}
}

func TestPersonaSystemPrompt(t *testing.T) {
	p := Persona{
		Name:         "Milo",
		Instructions: "You are Milo, a curious fox.",
		Seed:         "Human: Hi\nMilo: Hello!",
		History:      []string{"User: how are you?"},
	}
	prompt := p.SystemPrompt()
	for _, want := range []string{
		"DO NOT use Milo: prefix.",
		"You are Milo, a curious fox.",
		"Human: Hi\nMilo: Hello!",
		"User: how are you?",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if got := p.CleanReply("Milo: I'm great "); got != "I'm great" {
		t.Fatalf("unexpected cleaned reply %q", got)
	}
	if got := p.CleanReply("Fine"); got != "Fine" {
		t.Fatalf("unexpected reply %q", got)
	}
}
