package agent

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a reasonable approximation
// for the models this client talks to.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// estimateTokens returns an approximate token count, defaulting to 0 when
// the tokenizer is unavailable.
func estimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return 0
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

// estimateConversationTokens approximates the context consumed by the
// current conversation, used when the server did not report usage.
func (r *Runner) estimateConversationTokens() int {
	total := estimateTokens(r.chat.system) + estimateTokens(r.chat.toolContext)
	for _, msg := range r.chat.Conversation().Messages() {
		total += estimateTokens(msg.Content)
		for _, call := range msg.ToolCalls {
			total += estimateTokens(call.Arguments)
		}
	}
	return total
}
