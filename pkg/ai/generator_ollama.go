package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// OllamaGenerator wraps OllamaClient with a fixed model for chat using the
// Ollama /api/chat endpoint.
type OllamaGenerator struct {
	client *OllamaClient
	model  string
}

// NewOllamaGenerator builds an Ollama-based ChatStreamer.
func NewOllamaGenerator(client *OllamaClient, model string) *OllamaGenerator {
	return &OllamaGenerator{client: client, model: strings.TrimSpace(model)}
}

// Model returns the configured model name.
func (g *OllamaGenerator) Model() string { return g.model }

// StreamChat implements ChatStreamer using Ollama /api/chat with stream enabled.
func (g *OllamaGenerator) StreamChat(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string) error) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}

	messages := make([]ollamaChatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: userPrompt})

	reqBody := ollamaChatRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
	}

	var text strings.Builder
	err := g.client.streamJSON(ctx, "/api/chat", reqBody, func(line []byte) (bool, error) {
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return false, fmt.Errorf("decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return false, fmt.Errorf("ollama api error: %s", chunk.Error)
		}
		if err := emit(onDelta, &text, chunk.Message.Content); err != nil {
			return false, err
		}
		return chunk.Done, nil
	})
	if err != nil {
		return text.String(), fmt.Errorf("ollama chat: %w", err)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return text.String(), nil
}

// Ollama /api/chat request/response types.

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatChunk struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}
