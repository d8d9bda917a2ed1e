package usecase

import (
	"sort"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// DefaultResponsePriority answers bot mentions before ordinary messages
var DefaultResponsePriority = []domain.ClassificationType{
	domain.ClassificationBotMention,
	domain.ClassificationNormal,
}

// Reply is the single conversational answer chosen for a batch
type Reply struct {
	ReplyToMessageID int64
	Text             string
}

// ResponsePolicy picks at most one reply per batch
type ResponsePolicy struct {
	priority  map[domain.ClassificationType]int
	maxLength int
}

// NewResponsePolicy creates a policy. A nil priority uses
// DefaultResponsePriority; maxLength <= 0 disables truncation.
func NewResponsePolicy(priority []domain.ClassificationType, maxLength int) *ResponsePolicy {
	if priority == nil {
		priority = DefaultResponsePriority
	}
	rank := make(map[domain.ClassificationType]int, len(priority))
	for i, t := range priority {
		if _, ok := rank[t]; !ok {
			rank[t] = i
		}
	}
	return &ResponsePolicy{priority: rank, maxLength: maxLength}
}

// Select returns the top candidate, or false when none qualifies
func (p *ResponsePolicy) Select(results []domain.ClassificationResult) (Reply, bool) {
	candidates := make([]domain.ClassificationResult, 0, len(results))
	for _, r := range results {
		if r.RequiresResponse && r.ResponseText != "" {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Reply{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return p.rank(candidates[i].ClassificationType) < p.rank(candidates[j].ClassificationType)
	})

	top := candidates[0]
	return Reply{
		ReplyToMessageID: top.MessageID,
		Text:             truncateReply(top.ResponseText, p.maxLength),
	}, true
}

func (p *ResponsePolicy) rank(t domain.ClassificationType) int {
	if r, ok := p.priority[t]; ok {
		return r
	}
	return len(p.priority)
}

// truncateReply cuts text to max runes, ending in "..." when cut and max >= 3
func truncateReply(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max < 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
