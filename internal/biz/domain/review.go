package domain

import "time"

// ReviewStatus is the state of a moderation review
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewExpired  ReviewStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed
func (s ReviewStatus) IsTerminal() bool {
	return s == ReviewApproved || s == ReviewRejected || s == ReviewExpired
}

// ReviewRecord is a pending human-approval request gating a destructive action
type ReviewRecord struct {
	ID              string             `json:"id"`
	ChatID          int64              `json:"chat_id"`
	Decision        ModerationDecision `json:"decision"`
	TargetUser      Member             `json:"target_user"`
	Reason          string             `json:"reason"`
	CreatedAt       time.Time          `json:"created_at"`
	ExpiresAt       time.Time          `json:"expires_at"`
	PromptText      string             `json:"prompt_text"`
	Status          ReviewStatus       `json:"status"`
	PromptMessageID int64              `json:"prompt_message_id,omitempty"`
}

// IsExpired checks the logical cutoff; store TTL may lag behind it
func (r *ReviewRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ReviewResolution is emitted once per record on its terminal transition
type ReviewResolution struct {
	ReviewID    string       `json:"review_id"`
	ChatID      int64        `json:"chat_id"`
	Status      ReviewStatus `json:"status"`
	ModeratorID int64        `json:"moderator_id,omitempty"`
}

// ReviewTombstone remembers a finalized review so repeated decisions can be
// answered with "already handled" instead of "not found"
type ReviewTombstone struct {
	ReviewID    string       `json:"review_id"`
	ChatID      int64        `json:"chat_id"`
	Status      ReviewStatus `json:"status"`
	ModeratorID int64        `json:"moderator_id,omitempty"`
	ResolvedAt  time.Time    `json:"resolved_at"`
}
