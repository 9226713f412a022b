package downstream

import (
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// charsPerToken is the fallback estimate when no encoding is available.
const charsPerToken = 4

// TokenCounter counts tokens with a tiktoken encoding. The encoding is loaded
// in the background when the counter is created, since the first load may
// fetch the BPE ranks over the network. Until it is ready, or if it cannot be
// loaded, Count falls back to len/4. Count never blocks on the load.
type TokenCounter struct {
	encoding string
	tke      atomic.Pointer[tiktoken.Tiktoken]
	ready    chan struct{}
}

// NewTokenCounter creates a counter for the named encoding, e.g. "cl100k_base",
// and starts loading it.
func NewTokenCounter(encoding string) *TokenCounter {
	c := &TokenCounter{encoding: encoding, ready: make(chan struct{})}
	go c.load()
	return c
}

// Ready is closed once the load attempt has finished, successfully or not.
func (c *TokenCounter) Ready() <-chan struct{} {
	return c.ready
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	tke := c.tke.Load()
	if tke == nil {
		return EstimateTokens(text)
	}
	return len(tke.Encode(text, nil, nil))
}

func (c *TokenCounter) load() {
	defer close(c.ready)
	tke, err := tiktoken.GetEncoding(c.encoding)
	if err != nil {
		log.Warn().Err(err).Str("encoding", c.encoding).Msg("token encoding unavailable, estimating")
		return
	}
	c.tke.Store(tke)
	log.Debug().Str("encoding", c.encoding).Msg("token encoding loaded")
}

// EstimateTokens approximates tokens as characters / 4, rounding up.
func EstimateTokens(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}
