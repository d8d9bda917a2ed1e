package usecase

import (
	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// DecideModeration maps a classification result to at most one decision.
// It is a pure function: the same inputs always give the same output.
// Results missing a field their action requires yield no decision.
func DecideModeration(msg domain.BufferedMessage, res domain.ClassificationResult) (domain.ModerationDecision, bool) {
	userID := msg.UserID
	if res.TargetUserID > 0 {
		userID = res.TargetUserID
	}
	targetMessageID := msg.MessageID
	if res.TargetMessageID > 0 {
		targetMessageID = res.TargetMessageID
	}

	decision := domain.ModerationDecision{
		MessageID:       msg.MessageID,
		UserID:          userID,
		TargetMessageID: targetMessageID,
		Text:            res.ResponseText,
	}

	switch res.ModerationAction {
	case "", domain.ActionNone:
		return domain.ModerationDecision{}, false

	case domain.ActionDelete:
		decision.Action = domain.Delete{}

	case domain.ActionWarn:
		if res.ResponseText == "" {
			return domain.ModerationDecision{}, false
		}
		decision.Action = domain.Warn{}

	case domain.ActionMute:
		if res.ResponseText == "" || res.DurationMinutes <= 0 {
			return domain.ModerationDecision{}, false
		}
		action, err := domain.NewAction(domain.ActionMute, res.DurationMinutes)
		if err != nil {
			return domain.ModerationDecision{}, false
		}
		decision.Action = action

	case domain.ActionKick, domain.ActionBan:
		if res.ResponseText == "" {
			return domain.ModerationDecision{}, false
		}
		if res.ModerationAction == domain.ActionKick {
			decision.Action = domain.Kick{}
		} else {
			decision.Action = domain.Ban{}
		}

	case domain.ActionUnmute, domain.ActionUnban:
		if userID <= 0 {
			return domain.ModerationDecision{}, false
		}
		if res.ModerationAction == domain.ActionUnmute {
			decision.Action = domain.Unmute{}
		} else {
			decision.Action = domain.Unban{}
		}

	default:
		return domain.ModerationDecision{}, false
	}

	if userID <= 0 && decision.Kind() != domain.ActionDelete {
		return domain.ModerationDecision{}, false
	}
	return decision, true
}
