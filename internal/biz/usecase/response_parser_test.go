package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

func allowed(ids ...int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func resultIDs(results []domain.ClassificationResult) []int64 {
	ids := make([]int64, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.MessageID)
	}
	return ids
}

func TestParse_DropsUnknownMessageIDs(t *testing.T) {
	p := NewResponseParser(nil)
	raw := `{"r":[{"mid":1,"c":0},{"mid":999,"c":1,"a":6,"t":"ban"},{"mid":3,"c":1,"a":2}]}`

	parsed := p.Parse(raw, allowed(1, 2, 3))

	assert.Equal(t, []int64{1, 3}, resultIDs(parsed.Results))
	assert.Equal(t, 1, parsed.Dropped)
}

func TestParse_FullItem(t *testing.T) {
	p := NewResponseParser(nil)
	raw := `{"r":[{"mid":7,"c":1,"rr":1,"a":3,"t":" calm down ","tu":42,"tm":6,"d":15}],"u":{"in":120,"out":30}}`

	parsed := p.Parse(raw, allowed(7))

	require.Len(t, parsed.Results, 1)
	assert.Equal(t, domain.ClassificationResult{
		MessageID:          7,
		ClassificationType: domain.ClassificationViolation,
		RequiresResponse:   true,
		ModerationAction:   domain.ActionMute,
		ResponseText:       "calm down",
		TargetUserID:       42,
		TargetMessageID:    6,
		DurationMinutes:    15,
	}, parsed.Results[0])
	require.NotNil(t, parsed.Usage)
	assert.Equal(t, 120, parsed.Usage.InputTokens)
	assert.Equal(t, 30, parsed.Usage.OutputTokens)
}

func TestParse_ToleratesFencesAndProse(t *testing.T) {
	p := NewResponseParser(nil)
	raw := "Here you go:\n```json\n{\"r\":[{\"mid\":2,\"c\":2,\"rr\":true,\"t\":\"hi!\"}]}\n```\nThanks"

	parsed := p.Parse(raw, allowed(2))

	require.Len(t, parsed.Results, 1)
	assert.Equal(t, domain.ClassificationBotMention, parsed.Results[0].ClassificationType)
	assert.True(t, parsed.Results[0].RequiresResponse)
}

func TestParse_MalformedYieldsEmpty(t *testing.T) {
	p := NewResponseParser(nil)

	for _, raw := range []string{"", "   ", "no json here", `{"r":[{"mid":1`, `{"r":"oops"}`, `[1,2,3]`} {
		parsed := p.Parse(raw, allowed(1))
		require.NotNil(t, parsed.Results, raw)
		assert.Empty(t, parsed.Results, raw)
	}
}

func TestParse_DropsInvalidItemsIndividually(t *testing.T) {
	p := NewResponseParser(nil)
	raw := `{"r":[
		{"mid":1,"c":9},
		{"mid":2,"a":42},
		{"mid":3,"rr":2},
		{"mid":"4"},
		{"c":1},
		{"mid":5,"t":123},
		{"mid":6,"c":0,"a":0}
	]}`

	parsed := p.Parse(raw, allowed(1, 2, 3, 4, 5, 6))

	assert.Equal(t, []int64{6}, resultIDs(parsed.Results))
	assert.Equal(t, 6, parsed.Dropped)
}

func TestParse_DuplicateIDsFirstWins(t *testing.T) {
	p := NewResponseParser(nil)
	raw := `{"r":[{"mid":1,"c":1,"a":2},{"mid":1,"c":0}]}`

	parsed := p.Parse(raw, allowed(1))

	require.Len(t, parsed.Results, 1)
	assert.Equal(t, domain.ActionDelete, parsed.Results[0].ModerationAction)
}

func TestAllowedIDs(t *testing.T) {
	ids := AllowedIDs([]domain.BufferedMessage{msg(1, 1, 5, "a"), msg(1, 2, 5, "b")})
	assert.Equal(t, allowed(1, 2), ids)
}
