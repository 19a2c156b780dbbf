package agent

import "github.com/chadiek/voice-bridge/internal/llm"

// HistoryPolicy bounds the rolling part of a conversation. Implementations
// must keep the most recent user entry.
type HistoryPolicy interface {
	// AfterUser runs after a user entry is appended.
	AfterUser(turns []llm.Message) []llm.Message
	// BeforeReply runs after a successful generation, before the reply is appended.
	BeforeReply(turns []llm.Message) []llm.Message
}

// WindowPolicy keeps the last Limit entries after each user turn and drops
// the oldest exchange before recording a reply once more than one exchange
// is held.
type WindowPolicy struct {
	Limit int
}

func (p WindowPolicy) AfterUser(turns []llm.Message) []llm.Message {
	if p.Limit > 0 && len(turns) > p.Limit {
		return turns[len(turns)-p.Limit:]
	}
	return turns
}

func (p WindowPolicy) BeforeReply(turns []llm.Message) []llm.Message {
	if len(turns) > 2 {
		return turns[2:]
	}
	return turns
}

// History is a conversation: a fixed scaffold (system prompt and greeting)
// followed by rolling user/assistant turns. The scaffold is never trimmed.
// History is not safe for concurrent use; Session guards it.
type History struct {
	scaffold []llm.Message
	turns    []llm.Message
	policy   HistoryPolicy
}

func NewHistory(systemPrompt, greeting string, policy HistoryPolicy) *History {
	if policy == nil {
		policy = WindowPolicy{Limit: 4}
	}
	return &History{
		scaffold: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleAssistant, Content: greeting},
		},
		policy: policy,
	}
}

func (h *History) AddUser(text string) {
	h.turns = append(h.turns, llm.Message{Role: llm.RoleUser, Content: text})
	h.turns = h.policy.AfterUser(h.turns)
}

func (h *History) AddReply(text string) {
	h.turns = h.policy.BeforeReply(h.turns)
	h.turns = append(h.turns, llm.Message{Role: llm.RoleAssistant, Content: text})
}

// Messages returns the scaffold followed by the rolling turns, as sent to
// the generator.
func (h *History) Messages() []llm.Message {
	out := make([]llm.Message, 0, len(h.scaffold)+len(h.turns))
	out = append(out, h.scaffold...)
	return append(out, h.turns...)
}

// Turns returns a copy of the rolling part.
func (h *History) Turns() []llm.Message {
	return append([]llm.Message(nil), h.turns...)
}
