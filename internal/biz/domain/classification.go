package domain

// ClassificationType is the model's verdict for a single message
type ClassificationType string

const (
	ClassificationNormal     ClassificationType = "normal"
	ClassificationViolation  ClassificationType = "violation"
	ClassificationBotMention ClassificationType = "bot_mention"
)

// classificationCodes maps the compact wire codes to classification types
var classificationCodes = []ClassificationType{
	ClassificationNormal,
	ClassificationViolation,
	ClassificationBotMention,
}

// ClassificationFromCode decodes a compact classification code
func ClassificationFromCode(code int) (ClassificationType, bool) {
	if code < 0 || code >= len(classificationCodes) {
		return "", false
	}
	return classificationCodes[code], true
}

// Code returns the compact wire code, or -1 for unknown types
func (c ClassificationType) Code() int {
	for i, t := range classificationCodes {
		if t == c {
			return i
		}
	}
	return -1
}

// ActionKind names a moderation action. ActionNone only appears in
// classification results, never in decisions.
type ActionKind string

const (
	ActionNone   ActionKind = "none"
	ActionWarn   ActionKind = "warn"
	ActionDelete ActionKind = "delete"
	ActionMute   ActionKind = "mute"
	ActionUnmute ActionKind = "unmute"
	ActionKick   ActionKind = "kick"
	ActionBan    ActionKind = "ban"
	ActionUnban  ActionKind = "unban"
)

var actionCodes = []ActionKind{
	ActionNone,
	ActionWarn,
	ActionDelete,
	ActionMute,
	ActionUnmute,
	ActionKick,
	ActionBan,
	ActionUnban,
}

// ActionFromCode decodes a compact action code
func ActionFromCode(code int) (ActionKind, bool) {
	if code < 0 || code >= len(actionCodes) {
		return "", false
	}
	return actionCodes[code], true
}

// Code returns the compact wire code, or -1 for unknown kinds
func (a ActionKind) Code() int {
	for i, k := range actionCodes {
		if k == a {
			return i
		}
	}
	return -1
}

// ClassificationResult is the parsed per-message verdict. Never mutated after parsing.
type ClassificationResult struct {
	MessageID          int64
	ClassificationType ClassificationType
	RequiresResponse   bool
	ModerationAction   ActionKind // empty when absent
	ResponseText       string
	TargetUserID       int64
	TargetMessageID    int64
	DurationMinutes    int
}

// Usage is optional token accounting reported alongside a model reply
type Usage struct {
	InputTokens  int `json:"in"`
	OutputTokens int `json:"out"`
}
