// Package tokencount provides token counting for LLM prompts.
//
// It uses tiktoken-go to approximate token usage. Gemini models do not expose
// their tokenizer, so cl100k_base is used as a close approximation; the counts
// drive the prompt-size metric and prompt capping, not billing.
package tokencount

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter provides thread-safe token counting.
type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{}
}

// DefaultCounter is a global token counter instance.
var DefaultCounter = NewCounter()

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enc != nil {
		return c.enc, nil
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	c.enc = enc
	return enc, nil
}

// CountTokens counts the number of tokens in a text string. When the encoding
// cannot be loaded it falls back to a rough ~4 chars per token estimate.
func (c *Counter) CountTokens(text string) int {
	enc, err := c.encoding()
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountTokensDefault uses the default counter to count tokens.
func CountTokensDefault(text string) int {
	return DefaultCounter.CountTokens(text)
}
