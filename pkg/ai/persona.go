package ai

import (
	"fmt"
	"strings"
)

// Persona is the companion data a chat prompt is built from.
type Persona struct {
	Name         string
	Instructions string
	Seed         string
	History      []string
}

// SystemPrompt renders the persona instructions, the seed conversation and
// the recent transcript into one system prompt.
func (p Persona) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ONLY generate plain sentences without prefix of who is speaking. DO NOT use %s: prefix.\n\n", p.Name)
	b.WriteString(strings.TrimSpace(p.Instructions))
	b.WriteString("\n\nBelow are relevant details about ")
	b.WriteString(p.Name)
	b.WriteString("'s past and the conversation you are in.\n")
	if seed := strings.TrimSpace(p.Seed); seed != "" {
		b.WriteString("\n")
		b.WriteString(seed)
		b.WriteString("\n")
	}
	if len(p.History) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(p.History, "\n"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// CleanReply strips a leading "<name>:" the model may add despite the prompt.
func (p Persona) CleanReply(reply string) string {
	reply = strings.TrimSpace(reply)
	if p.Name == "" {
		return reply
	}
	if rest, ok := strings.CutPrefix(reply, p.Name+":"); ok {
		return strings.TrimSpace(rest)
	}
	return reply
}
