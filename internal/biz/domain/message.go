package domain

import "time"

// BufferedMessage represents a group chat message waiting to be analyzed
type BufferedMessage struct {
	MessageID        int64     `json:"message_id"`
	ChatID           int64     `json:"chat_id"`
	UserID           int64     `json:"user_id"`
	Text             string    `json:"text"`
	Timestamp        time.Time `json:"timestamp"`
	Username         string    `json:"username,omitempty"`
	FirstName        string    `json:"first_name,omitempty"`
	IsAdmin          bool      `json:"is_admin,omitempty"`
	ReplyToMessageID int64     `json:"reply_to_message_id,omitempty"`
	ReplyToUserID    int64     `json:"reply_to_user_id,omitempty"`

	// MentionsBot is set by the transport when the bot is @mentioned or replied to.
	// It only affects batch triggering.
	MentionsBot bool `json:"mentions_bot,omitempty"`
}

// DisplayName returns the best available human name for the sender
func (m *BufferedMessage) DisplayName() string {
	if m.Username != "" {
		return m.Username
	}
	return m.FirstName
}

// Author returns the sender as a Member value
func (m *BufferedMessage) Author() Member {
	return Member{UserID: m.UserID, Username: m.Username, FirstName: m.FirstName}
}

// IsAfter checks if the message is after the specified time
func (m *BufferedMessage) IsAfter(t time.Time) bool {
	return m.Timestamp.After(t)
}
