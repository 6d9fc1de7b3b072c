package ai

import (
	"context"
	"fmt"
	"strings"
)

// ChatStreamer produces a chat reply incrementally. onDelta receives each
// text fragment as it arrives; the full reply is returned at the end.
// All LLM providers (OpenAI-compatible, Ollama, Gemini) implement this interface.
type ChatStreamer interface {
	StreamChat(ctx context.Context, systemPrompt, userPrompt string, onDelta func(string) error) (string, error)
	Model() string
}

// Provider names accepted by NewStreamer.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Config selects and configures a chat provider.
type Config struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
}

// NewStreamer builds the ChatStreamer for cfg.Provider; openai is the default.
func NewStreamer(cfg Config) (ChatStreamer, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("llm model required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("openai-compat base URL required")
		}
		return NewOpenAICompatGenerator(cfg.BaseURL, cfg.APIKey, model), nil
	case ProviderOllama:
		return NewOllamaGenerator(NewOllamaClient(cfg.BaseURL), model), nil
	case ProviderGemini:
		client, err := NewGeminiClient(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(cfg.BaseURL) != "" {
			client.baseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
		}
		return NewGeminiGenerator(client, model), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func emit(onDelta func(string) error, b *strings.Builder, delta string) error {
	if delta == "" {
		return nil
	}
	b.WriteString(delta)
	if onDelta == nil {
		return nil
	}
	return onDelta(delta)
}
