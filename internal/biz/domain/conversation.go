package domain

import (
	"sort"
	"time"
)

// Sender identifies who produced a history entry
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// HistoryEntry is one append-only record of the chat conversation log:
// a processed user message with the verdict about it, or a bot reply.
type HistoryEntry struct {
	ID             int64               `json:"id,omitempty"`
	ChatID         int64               `json:"chat_id"`
	Message        BufferedMessage     `json:"message"`
	Sender         Sender              `json:"sender"`
	Classification ClassificationType  `json:"classification,omitempty"`
	Decision       *ModerationDecision `json:"decision,omitempty"`
	ResponseText   string              `json:"response_text,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// IsBot reports whether the entry was produced by the bot
func (e *HistoryEntry) IsBot() bool {
	return e.Sender == SenderBot
}

// ActionCodes returns the compact codes of the entry's decision, if any
func (e *HistoryEntry) ActionCodes() []int {
	if e.Decision == nil {
		return nil
	}
	return []int{e.Decision.Kind().Code()}
}

// Conversation is the chat log for one chat, oldest first
type Conversation struct {
	ChatID  int64
	Entries []HistoryEntry
}

// Since returns the entries after t
func (c *Conversation) Since(t time.Time) []HistoryEntry {
	var result []HistoryEntry
	for _, e := range c.Entries {
		if e.Timestamp.After(t) {
			result = append(result, e)
		}
	}
	return result
}

// SortChronologically orders entries oldest first, keeping insertion order for ties
func SortChronologically(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}
