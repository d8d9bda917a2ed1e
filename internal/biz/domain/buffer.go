package domain

import "time"

// BufferState is the persisted form of every chat buffer.
// Each chat's messages are kept in insertion order.
type BufferState struct {
	Chats map[int64][]BufferedMessage `json:"chats"`
}

// BufferSummary represents buffer overview for one chat
type BufferSummary struct {
	ChatID       int64     `json:"chat_id"`
	MessageCount int       `json:"message_count"`
	Oldest       time.Time `json:"oldest"`
	Newest       time.Time `json:"newest"`
}
