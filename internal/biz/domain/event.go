package domain

import "time"

// EventKind names an outbound event
type EventKind string

const (
	EventModerationAction EventKind = "moderation_action"
	EventAgentResponse    EventKind = "agent_response"
	EventReviewPrompt     EventKind = "review_prompt"
	EventReviewPromptSent EventKind = "review_prompt_sent"
	EventReviewResolved   EventKind = "review_resolved"
)

// Event is published to observers of the pipeline
type Event struct {
	Kind      EventKind `json:"kind"`
	ChatID    int64     `json:"chat_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// AgentResponse is the payload of EventAgentResponse
type AgentResponse struct {
	ReplyToMessageID int64  `json:"reply_to_message_id"`
	Text             string `json:"text"`
}

// ReviewPromptSent is the payload of EventReviewPromptSent
type ReviewPromptSent struct {
	ReviewID        string `json:"review_id"`
	PromptMessageID int64  `json:"prompt_message_id"`
}
