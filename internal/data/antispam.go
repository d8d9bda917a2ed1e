package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// antispamRepo calls the external spam classifier service
type antispamRepo struct {
	url        string
	httpClient *http.Client
}

// NewAntispamRepo creates a classifier client, or nil when url is empty
func NewAntispamRepo(url string, timeout time.Duration) repo.SpamFilterRepo {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &antispamRepo{url: url, httpClient: &http.Client{Timeout: timeout}}
}

type antispamRequest struct {
	Text string `json:"text"`
}

type antispamResponse struct {
	IsSpam bool `json:"is_spam"`
}

// IsSpam asks the classifier about one text
func (r *antispamRepo) IsSpam(ctx context.Context, text string) (bool, error) {
	body, err := json.Marshal(antispamRequest{Text: text})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("antispam request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("antispam status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out antispamResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode antispam response: %w", err)
	}
	return out.IsSpam, nil
}
