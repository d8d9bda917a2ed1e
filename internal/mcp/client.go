package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// Client is the HTTP client for the chatwarden admin API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new admin API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChatConfig is the console view of a chat's configuration
type ChatConfig struct {
	ChatID     int64   `json:"chat_id"`
	Configured bool    `json:"configured"`
	Enabled    bool    `json:"enabled"`
	HasAPIKey  bool    `json:"has_api_key"`
	Admins     []int64 `json:"admins"`
}

// Review is either a pending record or the tombstone of a resolved one
type Review struct {
	Review   *domain.ReviewRecord    `json:"review,omitempty"`
	Resolved *domain.ReviewTombstone `json:"resolved,omitempty"`
}

// ============ Buffer Operations ============

// GetBufferSummary gets the buffer summary of every chat
func (c *Client) GetBufferSummary(ctx context.Context) ([]domain.BufferSummary, error) {
	var result struct {
		Summaries []domain.BufferSummary `json:"summaries"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/buffer/summary", nil, &result); err != nil {
		return nil, err
	}
	return result.Summaries, nil
}

// GetBufferedMessages gets the pending messages of a chat
func (c *Client) GetBufferedMessages(ctx context.Context, chatID int64) ([]domain.BufferedMessage, error) {
	var result struct {
		Messages []domain.BufferedMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/chats/%d/buffer", chatID), nil, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// FlushChat runs a batch cycle for a chat and returns how many messages remain
func (c *Client) FlushChat(ctx context.Context, chatID int64) (int, error) {
	var result struct {
		Pending int `json:"pending"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/chats/%d/flush", chatID), nil, &result); err != nil {
		return 0, err
	}
	return result.Pending, nil
}

// ============ History Operations ============

// GetChatHistory gets the most recent conversation log entries of a chat
func (c *Client) GetChatHistory(ctx context.Context, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	var result struct {
		Entries []domain.HistoryEntry `json:"entries"`
	}
	path := fmt.Sprintf("/api/chats/%d/history?limit=%d", chatID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// ============ Config Operations ============

// GetChatConfig gets a chat's configuration
func (c *Client) GetChatConfig(ctx context.Context, chatID int64) (*ChatConfig, error) {
	var cfg ChatConfig
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/chats/%d/config", chatID), nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetChatEnabled turns moderation on or off for a chat
func (c *Client) SetChatEnabled(ctx context.Context, chatID int64, enabled bool) (*ChatConfig, error) {
	var cfg ChatConfig
	body := map[string]interface{}{"enabled": enabled}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/api/chats/%d/config", chatID), body, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ============ Review Operations ============

// GetReview gets a review by id
func (c *Client) GetReview(ctx context.Context, reviewID string) (*Review, error) {
	var review Review
	if err := c.do(ctx, http.MethodGet, "/api/reviews/"+url.PathEscape(reviewID), nil, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// ============ HTTP Helpers ============

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(bytes.TrimSpace(respBody)))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
