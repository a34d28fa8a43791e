// Package token estimates text cost in model tokens.
package token

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter reports the token cost of a text.
type Counter interface {
	Count(text string) int
}

// Source resolves the counter for a model name, so each chat is counted
// with the tokenizer of its configured model.
type Source func(model string) Counter

// Cache memoizes one Counter per model name. Safe for concurrent use;
// its For method is the production Source.
type Cache struct {
	mu      sync.Mutex
	byModel map[string]Counter
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{byModel: make(map[string]Counter)}
}

// For returns the counter for model, constructing it on first use.
func (c *Cache) For(model string) Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctr, ok := c.byModel[model]
	if !ok {
		ctr = NewCounter(model)
		c.byModel[model] = ctr
	}
	return ctr
}

// NewCounter returns a model-aware counter for the given model name. If no
// exact tokenizer can be initialized the heuristic counter is returned
// instead; callers never observe the fallback.
func NewCounter(model string) Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model names map to the common encoding before giving up.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return Heuristic()
		}
	}
	return &exactCounter{enc: enc}
}

// Heuristic returns the fast length-based counter (~4 chars per token).
func Heuristic() Counter {
	return heuristicCounter{}
}

type exactCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *exactCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

type heuristicCounter struct{}

func (heuristicCounter) Count(text string) int {
	return (len(text) + 3) / 4
}
