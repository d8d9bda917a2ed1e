package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// MaxCompactText is the rune limit for message text inside a prompt
const MaxCompactText = 300

const ellipsis = "…"

// PromptConfig contains prompt configuration
type PromptConfig struct {
	SystemPrompt   string // Persona and moderation rules
	ResponseFormat string // Reply contract appended to the system prompt
	HistoryMarker  string // Explains the "h" section
	CurrentMarker  string // Explains the "m" section
}

// DefaultPromptConfig contains default prompt configuration
var DefaultPromptConfig = PromptConfig{
	SystemPrompt: `You are the moderator of a group chat. Keep the conversation friendly and on topic.
Rules:
1. Spam, scams, advertising and phishing links are violations; delete them.
2. Insults and harassment are violations; warn first, mute repeat offenders (see warn counts in ctx.stats).
3. Kick or ban only for severe or repeated abuse; a moderator will confirm.
4. Never act against chat admins (ctx.admins, or "a":1 on a message).
5. Answer messages addressed to you briefly and helpfully.
Most messages are normal and need nothing.`,
	ResponseFormat: `Reply with JSON only: {"r":[{"mid":<message id>,"c":<0 normal|1 violation|2 bot_mention>,"rr":<1 if a reply is needed else 0>,"a":<0 none|1 warn|2 delete|3 mute|4 unmute|5 kick|6 ban|7 unban>,"t":"<reply or reason text>","tu":<target user id, optional>,"tm":<target message id, optional>,"d":<mute minutes, optional>}]}
Only use message ids from "m". warn, mute, kick and ban need "t". mute needs "d" > 0. Omit messages that need nothing.`,
	HistoryMarker: `"h" lists earlier messages (oldest first) with what was decided about them; "s" is u for users, b for you.`,
	CurrentMarker: `"m" lists the new messages to classify.`,
}

// compactMessage is the prompt encoding of a buffered message
type compactMessage struct {
	ID      int64  `json:"id"`
	User    int64  `json:"u"`
	Admin   int    `json:"a,omitempty"`
	Text    string `json:"t"`
	Name    string `json:"n,omitempty"`
	Reply   int64  `json:"r,omitempty"`
	ReplyTo int64  `json:"ru,omitempty"`
	Spam    int    `json:"s,omitempty"`
}

// compactHistoryEntry is the prompt encoding of a history entry
type compactHistoryEntry struct {
	Sender         string `json:"s"`
	User           int64  `json:"u,omitempty"`
	Text           string `json:"t"`
	Classification int    `json:"c,omitempty"`
	Actions        []int  `json:"a,omitempty"`
	Response       string `json:"r,omitempty"`
}

type promptPayload struct {
	Context  domain.PromptContext  `json:"ctx"`
	Messages []compactMessage      `json:"m"`
	History  []compactHistoryEntry `json:"h,omitempty"`
}

func compactMsg(m *domain.BufferedMessage, spam bool) compactMessage {
	cm := compactMessage{
		ID:      m.MessageID,
		User:    m.UserID,
		Text:    truncateText(m.Text, MaxCompactText),
		Name:    m.DisplayName(),
		Reply:   m.ReplyToMessageID,
		ReplyTo: m.ReplyToUserID,
	}
	if m.IsAdmin {
		cm.Admin = 1
	}
	if spam {
		cm.Spam = 1
	}
	return cm
}

func compactHistory(e *domain.HistoryEntry) compactHistoryEntry {
	ch := compactHistoryEntry{
		Sender:   "u",
		User:     e.Message.UserID,
		Text:     truncateText(e.Message.Text, MaxCompactText),
		Actions:  e.ActionCodes(),
		Response: truncateText(e.ResponseText, MaxCompactText),
	}
	if e.IsBot() {
		ch.Sender = "b"
		ch.User = 0
	}
	if code := e.Classification.Code(); code > 0 {
		ch.Classification = code
	}
	return ch
}

// truncateText cuts s to max runes, the last being an ellipsis when cut
func truncateText(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	return string(runes[:max-1]) + ellipsis
}

// PromptAssembler serializes rules, context, batch and reduced history
type PromptAssembler struct {
	config PromptConfig
}

// NewPromptAssembler creates a prompt assembler, filling empty fields from defaults
func NewPromptAssembler(config PromptConfig) *PromptAssembler {
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultPromptConfig.SystemPrompt
	}
	if config.ResponseFormat == "" {
		config.ResponseFormat = DefaultPromptConfig.ResponseFormat
	}
	if config.HistoryMarker == "" {
		config.HistoryMarker = DefaultPromptConfig.HistoryMarker
	}
	if config.CurrentMarker == "" {
		config.CurrentMarker = DefaultPromptConfig.CurrentMarker
	}
	return &PromptAssembler{config: config}
}

// Build assembles the request. history must already be reduced; the "h"
// section is left out when it is empty.
func (a *PromptAssembler) Build(pc domain.PromptContext, messages []domain.BufferedMessage, history []domain.HistoryEntry) (repo.Prompt, error) {
	spam := make(map[int64]bool, len(pc.Flags.SpamHints))
	for _, id := range pc.Flags.SpamHints {
		spam[id] = true
	}

	payload := promptPayload{
		Context:  pc,
		Messages: make([]compactMessage, 0, len(messages)),
	}
	for i := range messages {
		payload.Messages = append(payload.Messages, compactMsg(&messages[i], spam[messages[i].MessageID]))
	}
	for i := range history {
		payload.History = append(payload.History, compactHistory(&history[i]))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return repo.Prompt{}, fmt.Errorf("marshal prompt payload: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(a.config.SystemPrompt)
	sb.WriteString("\n\n")
	sb.WriteString(a.config.CurrentMarker)
	if len(payload.History) > 0 {
		sb.WriteString("\n")
		sb.WriteString(a.config.HistoryMarker)
	}
	sb.WriteString("\n\n")
	sb.WriteString(a.config.ResponseFormat)

	return repo.Prompt{System: sb.String(), User: string(data)}, nil
}
