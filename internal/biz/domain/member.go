package domain

import (
	"fmt"
	"html"
)

// Member represents a chat member (value object)
type Member struct {
	UserID    int64
	Username  string
	FirstName string
}

// FormatMention formats the member for a human-readable prompt.
// Members without a username are linked by id.
func (m *Member) FormatMention() string {
	if m.Username != "" {
		return "@" + m.Username
	}
	name := m.FirstName
	if name == "" {
		name = fmt.Sprintf("user %d", m.UserID)
	}
	return fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, m.UserID, html.EscapeString(name))
}

// FormatDisplay formats for display
func (m *Member) FormatDisplay() string {
	switch {
	case m.Username != "":
		return fmt.Sprintf("@%s (user_id: %d)", m.Username, m.UserID)
	case m.FirstName != "":
		return fmt.Sprintf("%s (user_id: %d)", m.FirstName, m.UserID)
	default:
		return fmt.Sprintf("user_id: %d", m.UserID)
	}
}
