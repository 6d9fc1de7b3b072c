package app

import (
	"context"
	"fmt"
	"strings"

	"companionai/internal/util"
	"companionai/pkg/ai"
	"companionai/pkg/domain"
	"companionai/pkg/memory"
)

const seedDelimiter = "\n"

// Chat sends prompt to a companion on behalf of caller, streaming the reply
// through onDelta. Both sides of the exchange are recorded as messages and in
// the rolling transcript. The stored reply message is returned.
func (a *App) Chat(ctx context.Context, caller domain.Caller, companionID, prompt string, onDelta func(string) error) (domain.Message, error) {
	if !caller.Authenticated() {
		return domain.Message{}, ErrUnauthorized
	}
	if a.streamer == nil {
		return domain.Message{}, ErrChatDisabled
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return domain.Message{}, ErrEmptyPrompt
	}
	companion, err := a.GetCompanion(ctx, companionID)
	if err != nil {
		return domain.Message{}, err
	}
	logger := util.LoggerFromContext(ctx).With("companion_id", companion.ID, "user_id", caller.ID)

	key := memory.Key(companion.ID, caller.ID)
	if a.history != nil {
		if _, err := a.history.SeedHistory(ctx, key, companion.Seed, seedDelimiter); err != nil {
			return domain.Message{}, fmt.Errorf("seed history: %w", err)
		}
	}

	if err := a.recordPrompt(ctx, key, companion, caller, prompt); err != nil {
		return domain.Message{}, err
	}

	recent, err := a.recentHistory(ctx, key, companion, caller)
	if err != nil {
		return domain.Message{}, err
	}
	persona := ai.Persona{
		Name:         companion.Name,
		Instructions: companion.Instructions,
		Seed:         companion.Seed,
		History:      recent,
	}
	reply, err := a.streamer.StreamChat(ctx, persona.SystemPrompt(), prompt, onDelta)
	if err != nil {
		logger.Error("chat generation failed", "err", err)
		return domain.Message{}, fmt.Errorf("generate reply: %w", err)
	}
	reply = persona.CleanReply(reply)

	meta := map[string]string{"model": a.streamer.Model()}
	if rid := util.RequestIDFromContext(ctx); rid != "" {
		meta["request_id"] = rid
	}
	msg := a.message(companion, caller, domain.RoleSystem, reply, meta)
	if err := a.store.AppendMessage(msg); err != nil {
		return domain.Message{}, fmt.Errorf("save reply: %w", err)
	}
	if a.history != nil {
		if err := a.history.WriteHistory(ctx, key, companion.Name+": "+reply); err != nil {
			logger.Warn("history write failed", "err", err)
		}
	}
	logger.Info("chat reply generated", "model", a.streamer.Model(), "reply_chars", len(reply))
	return msg, nil
}

// ListMessages returns the caller's stored conversation with a companion.
func (a *App) ListMessages(ctx context.Context, caller domain.Caller, companionID string, limit int) ([]domain.Message, error) {
	if !caller.Authenticated() {
		return nil, ErrUnauthorized
	}
	companion, err := a.GetCompanion(ctx, companionID)
	if err != nil {
		return nil, err
	}
	return a.store.ListMessages(companion.ID, caller.ID, limit)
}

func (a *App) recordPrompt(ctx context.Context, key string, companion domain.Companion, caller domain.Caller, prompt string) error {
	if err := a.store.AppendMessage(a.message(companion, caller, domain.RoleUser, prompt, nil)); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	if a.history != nil {
		if err := a.history.WriteHistory(ctx, key, "User: "+prompt); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
	}
	return nil
}

// recentHistory reads the transcript window, falling back to stored
// messages when no history backend is configured.
func (a *App) recentHistory(ctx context.Context, key string, companion domain.Companion, caller domain.Caller) ([]string, error) {
	if a.history != nil {
		lines, err := a.history.ReadLatest(ctx, key, a.historyWindow)
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
		return lines, nil
	}
	msgs, err := a.store.ListMessages(companion.ID, caller.ID, a.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		speaker := "User"
		if m.Role == domain.RoleSystem {
			speaker = companion.Name
		}
		lines = append(lines, speaker+": "+m.Content)
	}
	return lines, nil
}

func (a *App) message(companion domain.Companion, caller domain.Caller, role domain.MessageRole, content string, meta map[string]string) domain.Message {
	return domain.Message{
		ID:          util.NewID(),
		CompanionID: companion.ID,
		UserID:      caller.ID,
		Role:        role,
		Content:     content,
		Metadata:    meta,
		CreatedAt:   a.timestamp(),
	}
}
