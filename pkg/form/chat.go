package form

import (
	"context"
	"strings"

	"companionai/pkg/domain"
)

// ChatMessage is one line of the rendered conversation.
type ChatMessage struct {
	Role    domain.MessageRole
	Content string
}

// ChatState is one snapshot of the chat box.
type ChatState struct {
	Input    string
	Loading  bool
	Messages []ChatMessage
	// Pending holds the prompt of the in-flight request.
	Pending string
	Err     string
}

// ChatAction is an event applied by ReduceChat.
type ChatAction interface {
	chatAction()
}

type (
	InputChanged struct{ Value string }
	ChatSubmit   struct{}
	ChatDelta    struct{ Text string }
	ChatDone     struct{ Text string }
	ChatFailed   struct{ Err error }
)

func (InputChanged) chatAction() {}
func (ChatSubmit) chatAction()   {}
func (ChatDelta) chatAction()    {}
func (ChatDone) chatAction()     {}
func (ChatFailed) chatAction()   {}

// ReduceChat returns the state that follows s after action. s is never
// modified.
func ReduceChat(s ChatState, action ChatAction) ChatState {
	switch a := action.(type) {
	case InputChanged:
		if s.Loading {
			return s
		}
		next := s
		next.Input = a.Value
		return next
	case ChatSubmit:
		prompt := strings.TrimSpace(s.Input)
		if s.Loading || prompt == "" {
			return s
		}
		next := s
		next.Messages = appendMessages(s.Messages,
			ChatMessage{Role: domain.RoleUser, Content: prompt},
			ChatMessage{Role: domain.RoleSystem},
		)
		next.Pending = prompt
		next.Input = ""
		next.Loading = true
		next.Err = ""
		return next
	case ChatDelta:
		if !s.Loading || len(s.Messages) == 0 {
			return s
		}
		next := s
		next.Messages = appendMessages(s.Messages[:len(s.Messages)-1])
		last := s.Messages[len(s.Messages)-1]
		last.Content += a.Text
		next.Messages = append(next.Messages, last)
		return next
	case ChatDone:
		if !s.Loading || len(s.Messages) == 0 {
			return s
		}
		next := s
		next.Messages = appendMessages(s.Messages[:len(s.Messages)-1],
			ChatMessage{Role: domain.RoleSystem, Content: a.Text})
		next.Loading = false
		next.Pending = ""
		return next
	case ChatFailed:
		if !s.Loading {
			return s
		}
		next := s
		if len(s.Messages) >= 2 {
			next.Messages = appendMessages(s.Messages[:len(s.Messages)-2])
		}
		next.Input = s.Pending
		next.Pending = ""
		next.Loading = false
		next.Err = genericSubmitError
		if a.Err != nil {
			if msg := strings.TrimSpace(a.Err.Error()); msg != "" {
				next.Err = genericSubmitError + " " + msg
			}
		}
		return next
	default:
		return s
	}
}

// ChatAPI streams a companion reply.
type ChatAPI interface {
	Chat(ctx context.Context, companionID, prompt string, onDelta func(string) error) (string, error)
}

// SubmitChat sends the current input to companionID and folds the streamed
// reply into the state. onUpdate, when set, observes every intermediate state.
func SubmitChat(ctx context.Context, s ChatState, api ChatAPI, companionID string, onUpdate func(ChatState)) ChatState {
	if s.Loading {
		return s
	}
	cur := ReduceChat(s, ChatSubmit{})
	if !cur.Loading {
		return cur
	}
	notify := func() {
		if onUpdate != nil {
			onUpdate(cur)
		}
	}
	notify()
	reply, err := api.Chat(ctx, companionID, cur.Pending, func(delta string) error {
		cur = ReduceChat(cur, ChatDelta{Text: delta})
		notify()
		return nil
	})
	if err != nil {
		cur = ReduceChat(cur, ChatFailed{Err: err})
	} else {
		cur = ReduceChat(cur, ChatDone{Text: reply})
	}
	notify()
	return cur
}

func appendMessages(base []ChatMessage, extra ...ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}
