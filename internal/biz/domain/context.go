package domain

import "time"

// UserStats is derived per user from the chat history
type UserStats struct {
	Warns      int        `json:"w"`
	MutedUntil *time.Time `json:"mu,omitempty"`
}

// IsMuted checks whether the user is still muted at now
func (s UserStats) IsMuted(now time.Time) bool {
	return s.MutedUntil != nil && now.Before(*s.MutedUntil)
}

// PromptFlags carries batch-level hints for the model
type PromptFlags struct {
	HasAdminMessages bool    `json:"adm,omitempty"`
	HasReplies       bool    `json:"rep,omitempty"`
	SpamHints        []int64 `json:"spam,omitempty"`
}

// PromptContext is everything the model needs to know beyond the messages
type PromptContext struct {
	ChatID int64               `json:"chat"`
	Admins []int64             `json:"admins"`
	Stats  map[int64]UserStats `json:"stats"`
	Flags  PromptFlags         `json:"flags"`
}

// IsAdmin checks the admin set
func (c *PromptContext) IsAdmin(userID int64) bool {
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

// ChatConfig is the per-chat configuration owned by the console
type ChatConfig struct {
	ChatID  int64  `json:"chat_id"`
	APIKey  string `json:"api_key,omitempty"`
	Enabled bool   `json:"enabled"`
}
