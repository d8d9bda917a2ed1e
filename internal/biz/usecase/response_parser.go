package usecase

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// ParsedResponse is the validated model reply
type ParsedResponse struct {
	Results []domain.ClassificationResult
	Usage   *domain.Usage
	Dropped int // items rejected by validation
}

type wireReply struct {
	Results []json.RawMessage `json:"r"`
	Usage   *domain.Usage     `json:"u"`
}

type wireResult struct {
	MessageID        *int64          `json:"mid"`
	Classification   *int            `json:"c"`
	RequiresResponse json.RawMessage `json:"rr"`
	Action           *int            `json:"a"`
	Text             *string         `json:"t"`
	TargetUserID     *int64          `json:"tu"`
	TargetMessageID  *int64          `json:"tm"`
	DurationMinutes  *int            `json:"d"`
}

// ResponseParser decodes model replies against the batch they answer
type ResponseParser struct {
	log *zap.Logger
}

// NewResponseParser creates a parser
func NewResponseParser(log *zap.Logger) *ResponseParser {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResponseParser{log: log.Named("parser")}
}

// Parse never fails: malformed replies produce no results, and items that
// reference ids outside allowed, or carry invalid fields, are dropped.
func (p *ResponseParser) Parse(raw string, allowed map[int64]struct{}) ParsedResponse {
	out := ParsedResponse{Results: []domain.ClassificationResult{}}

	body := extractJSONObject(raw)
	if body == nil {
		if strings.TrimSpace(raw) != "" {
			p.log.Warn("Model reply has no JSON object", zap.String("reply", truncateText(raw, 200)))
		}
		return out
	}

	var reply wireReply
	if err := json.Unmarshal(body, &reply); err != nil {
		p.log.Warn("Model reply is not valid JSON", zap.Error(err))
		return out
	}
	out.Usage = reply.Usage

	seen := make(map[int64]struct{}, len(reply.Results))
	for _, item := range reply.Results {
		result, ok := p.decodeItem(item, allowed)
		if !ok {
			out.Dropped++
			continue
		}
		if _, dup := seen[result.MessageID]; dup {
			out.Dropped++
			continue
		}
		seen[result.MessageID] = struct{}{}
		out.Results = append(out.Results, result)
	}
	if out.Dropped > 0 {
		p.log.Info("Dropped invalid model results", zap.Int("dropped", out.Dropped), zap.Int("kept", len(out.Results)))
	}
	return out
}

func (p *ResponseParser) decodeItem(item json.RawMessage, allowed map[int64]struct{}) (domain.ClassificationResult, bool) {
	var w wireResult
	if err := json.Unmarshal(item, &w); err != nil {
		return domain.ClassificationResult{}, false
	}
	if w.MessageID == nil {
		return domain.ClassificationResult{}, false
	}
	if _, ok := allowed[*w.MessageID]; !ok {
		p.log.Debug("Model referenced unknown message", zap.Int64("message_id", *w.MessageID))
		return domain.ClassificationResult{}, false
	}

	res := domain.ClassificationResult{
		MessageID:          *w.MessageID,
		ClassificationType: domain.ClassificationNormal,
	}
	if w.Classification != nil {
		c, ok := domain.ClassificationFromCode(*w.Classification)
		if !ok {
			return domain.ClassificationResult{}, false
		}
		res.ClassificationType = c
	}
	rr, ok := decodeFlag(w.RequiresResponse)
	if !ok {
		return domain.ClassificationResult{}, false
	}
	res.RequiresResponse = rr
	if w.Action != nil {
		a, ok := domain.ActionFromCode(*w.Action)
		if !ok {
			return domain.ClassificationResult{}, false
		}
		res.ModerationAction = a
	}
	if w.Text != nil {
		res.ResponseText = strings.TrimSpace(*w.Text)
	}
	if w.TargetUserID != nil {
		res.TargetUserID = *w.TargetUserID
	}
	if w.TargetMessageID != nil {
		res.TargetMessageID = *w.TargetMessageID
	}
	if w.DurationMinutes != nil {
		res.DurationMinutes = *w.DurationMinutes
	}
	return res, true
}

// decodeFlag accepts 0/1 and false/true; absent means false
func decodeFlag(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil && (n == 0 || n == 1) {
		return n == 1, true
	}
	return false, false
}

// extractJSONObject strips code fences and prose around the outermost object
func extractJSONObject(raw string) []byte {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil
	}
	return bytes.TrimSpace([]byte(s[start : end+1]))
}

// AllowedIDs builds the id set of a batch
func AllowedIDs(messages []domain.BufferedMessage) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(messages))
	for _, m := range messages {
		ids[m.MessageID] = struct{}{}
	}
	return ids
}
