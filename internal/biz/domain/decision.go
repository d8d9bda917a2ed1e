package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the closed set of concrete moderation actions. Only the
// variants declared in this file implement it.
type Action interface {
	Kind() ActionKind
	isAction()
}

// Warn replies to the offender with the decision text
type Warn struct{}

// Delete removes the target message
type Delete struct{}

// Mute restricts the user from sending messages for Duration
type Mute struct {
	Duration time.Duration
}

// Unmute lifts a restriction
type Unmute struct{}

// Kick removes the user, who may rejoin
type Kick struct{}

// Ban removes the user permanently
type Ban struct{}

// Unban lifts a ban
type Unban struct{}

func (Warn) Kind() ActionKind   { return ActionWarn }
func (Delete) Kind() ActionKind { return ActionDelete }
func (Mute) Kind() ActionKind   { return ActionMute }
func (Unmute) Kind() ActionKind { return ActionUnmute }
func (Kick) Kind() ActionKind   { return ActionKick }
func (Ban) Kind() ActionKind    { return ActionBan }
func (Unban) Kind() ActionKind  { return ActionUnban }

func (Warn) isAction()   {}
func (Delete) isAction() {}
func (Mute) isAction()   {}
func (Unmute) isAction() {}
func (Kick) isAction()   {}
func (Ban) isAction()    {}
func (Unban) isAction()  {}

// ModerationDecision is a concrete action derived from a classification result
type ModerationDecision struct {
	MessageID       int64
	UserID          int64
	TargetMessageID int64
	Action          Action
	Text            string
}

// Kind returns the decision's action kind
func (d ModerationDecision) Kind() ActionKind {
	if d.Action == nil {
		return ActionNone
	}
	return d.Action.Kind()
}

// DurationMinutes returns the mute duration in minutes, 0 for other actions
func (d ModerationDecision) DurationMinutes() int {
	if m, ok := d.Action.(Mute); ok {
		return int(m.Duration / time.Minute)
	}
	return 0
}

// decisionJSON is the flat storage encoding of a decision
type decisionJSON struct {
	MessageID       int64      `json:"message_id"`
	UserID          int64      `json:"user_id"`
	Action          ActionKind `json:"action"`
	TargetMessageID int64      `json:"target_message_id,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Text            string     `json:"text,omitempty"`
}

// MarshalJSON encodes the decision with a flat action field
func (d ModerationDecision) MarshalJSON() ([]byte, error) {
	return json.Marshal(decisionJSON{
		MessageID:       d.MessageID,
		UserID:          d.UserID,
		Action:          d.Kind(),
		TargetMessageID: d.TargetMessageID,
		DurationMinutes: d.DurationMinutes(),
		Text:            d.Text,
	})
}

// UnmarshalJSON decodes a flat decision and rebuilds its action variant
func (d *ModerationDecision) UnmarshalJSON(data []byte) error {
	var raw decisionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	action, err := NewAction(raw.Action, raw.DurationMinutes)
	if err != nil {
		return err
	}
	*d = ModerationDecision{
		MessageID:       raw.MessageID,
		UserID:          raw.UserID,
		TargetMessageID: raw.TargetMessageID,
		Action:          action,
		Text:            raw.Text,
	}
	return nil
}

// MaxMuteMinutes is the longest mute Telegram honors (366 days); longer
// restrictions are treated as permanent.
const MaxMuteMinutes = 366 * 24 * 60

// NewAction builds the action variant for kind. Mute requires a positive
// duration and is capped at MaxMuteMinutes.
func NewAction(kind ActionKind, durationMinutes int) (Action, error) {
	switch kind {
	case ActionWarn:
		return Warn{}, nil
	case ActionDelete:
		return Delete{}, nil
	case ActionMute:
		if durationMinutes <= 0 {
			return nil, fmt.Errorf("mute requires a positive duration, got %d", durationMinutes)
		}
		if durationMinutes > MaxMuteMinutes {
			durationMinutes = MaxMuteMinutes
		}
		return Mute{Duration: time.Duration(durationMinutes) * time.Minute}, nil
	case ActionUnmute:
		return Unmute{}, nil
	case ActionKick:
		return Kick{}, nil
	case ActionBan:
		return Ban{}, nil
	case ActionUnban:
		return Unban{}, nil
	default:
		return nil, fmt.Errorf("unknown moderation action %q", kind)
	}
}
