package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// NoHistoryBudget disables the character budget in ReduceHistory
const NoHistoryBudget = -1

// historyKey identifies duplicate entries. Timestamps are deliberately not
// part of it: repeated identical messages collapse into one.
type historyKey struct {
	sender         domain.Sender
	userID         int64
	text           string
	classification domain.ClassificationType
	actions        string
	responseText   string
}

func keyOf(e *domain.HistoryEntry) historyKey {
	return historyKey{
		sender:         e.Sender,
		userID:         e.Message.UserID,
		text:           e.Message.Text,
		classification: e.Classification,
		actions:        fmt.Sprint(e.ActionCodes()),
		responseText:   e.ResponseText,
	}
}

// ReduceHistory deduplicates entries (keeping the last occurrence) and keeps
// the newest entries whose combined HistorySize fits maxChars. If the newest
// entry alone is over budget it is returned by itself. maxChars == 0 yields
// nothing; NoHistoryBudget (any negative value) keeps everything.
// Input and output are oldest first.
func ReduceHistory(entries []domain.HistoryEntry, maxChars int) []domain.HistoryEntry {
	if maxChars == 0 || len(entries) == 0 {
		return []domain.HistoryEntry{}
	}

	// newest -> oldest, first sighting wins
	seen := make(map[historyKey]struct{}, len(entries))
	deduped := make([]domain.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		k := keyOf(&entries[i])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		deduped = append(deduped, entries[i])
	}

	// deduped is newest first; accumulate within budget
	kept := deduped
	if maxChars > 0 {
		used := 0
		n := 0
		for i := range deduped {
			size := entrySize(&deduped[i])
			if n > 0 {
				size++ // separator
			}
			if used+size > maxChars {
				break
			}
			used += size
			n++
		}
		if n == 0 {
			n = 1
		}
		kept = deduped[:n]
	}

	out := make([]domain.HistoryEntry, len(kept))
	for i := range kept {
		out[len(kept)-1-i] = kept[i]
	}
	return out
}

// HistorySize estimates the serialized size of entries as they appear in a prompt
func HistorySize(entries []domain.HistoryEntry) int {
	total := 0
	for i := range entries {
		if i > 0 {
			total++
		}
		total += entrySize(&entries[i])
	}
	return total
}

func entrySize(e *domain.HistoryEntry) int {
	data, err := json.Marshal(compactHistory(e))
	if err != nil {
		return 0
	}
	return len(data)
}
