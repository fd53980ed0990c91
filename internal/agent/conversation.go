package agent

import "twiddle/internal/llm"

// Conversation is the ordered message history for one CLI process. It is
// append-only during a turn; failed turns truncate back via Snapshot.
type Conversation struct {
	messages []llm.Message
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Len returns the current message count.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages returns a copy of the history for request building.
func (c *Conversation) Messages() []llm.Message {
	return append([]llm.Message(nil), c.messages...)
}

// Append adds one message at the end.
func (c *Conversation) Append(msg llm.Message) {
	c.messages = append(c.messages, msg)
}

// Last returns the final message, if any.
func (c *Conversation) Last() (llm.Message, bool) {
	if len(c.messages) == 0 {
		return llm.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Truncate drops messages beyond n.
func (c *Conversation) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(c.messages) {
		c.messages = c.messages[:n]
	}
}

// TakePendingToolCall scans from the end for the first assistant message
// with undispatched tool calls, increments its dispatch counter, and returns
// the next call.
func (c *Conversation) TakePendingToolCall() (llm.ToolCall, bool) {
	for i := len(c.messages) - 1; i >= 0; i-- {
		msg := &c.messages[i]
		if msg.Role != llm.RoleAssistant {
			continue
		}
		if msg.PendingToolCalls() == 0 {
			continue
		}
		call := msg.ToolCalls[msg.ProcessedToolCalls]
		msg.ProcessedToolCalls++
		return call, true
	}
	return llm.ToolCall{}, false
}

// Snapshot records the current length; Rollback undoes everything appended
// since unless Commit ran first.
type Snapshot struct {
	conv      *Conversation
	mark      int
	committed bool
}

// Snapshot opens a transaction over the conversation length.
func (c *Conversation) Snapshot() *Snapshot {
	return &Snapshot{conv: c, mark: len(c.messages)}
}

// Commit keeps everything appended since the snapshot.
func (s *Snapshot) Commit() {
	s.committed = true
}

// Rollback truncates back to the snapshot mark unless committed. Safe to
// call unconditionally in a defer.
func (s *Snapshot) Rollback() {
	if !s.committed {
		s.conv.Truncate(s.mark)
	}
}
