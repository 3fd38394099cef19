// Package memory carries a bounded summary of the previous answer into the next query.
package memory

import (
	"strings"
	"sync"

	"gtalk/internal/extract"
)

// DefaultWordLimit bounds the carried summary.
const DefaultWordLimit = 100

// Summarize returns the first limit whitespace-delimited words of the first text block,
// joined with single spaces, or "" when blocks holds no text block.
func Summarize(blocks []extract.Block, limit int) string {
	if limit <= 0 {
		limit = DefaultWordLimit
	}
	for _, b := range blocks {
		if !b.IsText() {
			continue
		}
		words := strings.Fields(b.Text)
		if len(words) > limit {
			words = words[:limit]
		}
		return strings.Join(words, " ")
	}
	return ""
}

// Conversation holds the summary carried between turns. It is replaced wholesale,
// never appended to, and an empty replacement leaves the previous summary in place.
type Conversation struct {
	mu      sync.RWMutex
	summary string
	limit   int
}

// NewConversation returns an empty conversation whose summaries keep at most limit words.
func NewConversation(limit int) *Conversation {
	if limit <= 0 {
		limit = DefaultWordLimit
	}
	return &Conversation{limit: limit}
}

// Summary returns the current carried summary.
func (c *Conversation) Summary() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// Update summarizes blocks and stores the result when it is non-empty.
// It reports whether the summary was replaced.
func (c *Conversation) Update(blocks []extract.Block) bool {
	next := Summarize(blocks, c.limit)
	if next == "" {
		return false
	}
	c.mu.Lock()
	c.summary = next
	c.mu.Unlock()
	return true
}

// Reset clears the carried summary.
func (c *Conversation) Reset() {
	c.mu.Lock()
	c.summary = ""
	c.mu.Unlock()
}
