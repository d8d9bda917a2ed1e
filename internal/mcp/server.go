package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultHistoryLimit = 20

// Server exposes the admin API of a running instance as MCP tools
type Server struct {
	server *sdk.Server
	client *Client
}

// NewServer creates a new MCP server backed by the admin API client
func NewServer(client *Client, version string) *Server {
	server := sdk.NewServer(&sdk.Implementation{
		Name:    "chatwarden",
		Version: version,
	}, nil)

	s := &Server{server: server, client: client}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chatwarden_buffer_summary",
		Description: "List every chat with pending messages and how many are waiting for moderation.",
	}, s.handleBufferSummary)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chatwarden_buffered_messages",
		Description: "Get the messages of one chat that are waiting for the next moderation batch.",
	}, s.handleBufferedMessages)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chatwarden_chat_history",
		Description: "Get the recent conversation log of a chat, including moderation decisions and bot replies.",
	}, s.handleChatHistory)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chatwarden_get_review",
		Description: "Look up a moderation review by id. Returns the pending record or how it was resolved.",
	}, s.handleGetReview)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chatwarden_flush_chat",
		Description: "Run a moderation batch for a chat now instead of waiting for the buffer to fill.",
	}, s.handleFlushChat)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chatwarden_get_chat_config",
		Description: "Get whether moderation is enabled for a chat, whether it has its own API key, and its admins.",
	}, s.handleGetChatConfig)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "chatwarden_set_chat_enabled",
		Description: "Turn moderation on or off for a chat.",
	}, s.handleSetChatEnabled)
}

// Run starts the MCP server with stdio transport
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *sdk.Server {
	return s.server
}

// ============ Buffer Tools ============

// BufferSummaryInput is empty - no input needed
type BufferSummaryInput struct{}

func (s *Server) handleBufferSummary(ctx context.Context, req *sdk.CallToolRequest, input BufferSummaryInput) (*sdk.CallToolResult, any, error) {
	summaries, err := s.client.GetBufferSummary(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]interface{}{"summaries": summaries}), nil, nil
}

// ChatInput identifies a chat
type ChatInput struct {
	ChatID int64 `json:"chat_id" jsonschema:"the Telegram chat id"`
}

func (s *Server) handleBufferedMessages(ctx context.Context, req *sdk.CallToolRequest, input ChatInput) (*sdk.CallToolResult, any, error) {
	messages, err := s.client.GetBufferedMessages(ctx, input.ChatID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]interface{}{"messages": messages}), nil, nil
}

func (s *Server) handleFlushChat(ctx context.Context, req *sdk.CallToolRequest, input ChatInput) (*sdk.CallToolResult, any, error) {
	pending, err := s.client.FlushChat(ctx, input.ChatID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]interface{}{"success": true, "pending": pending}), nil, nil
}

// ============ History Tools ============

// ChatHistoryInput specifies the chat and how many entries to retrieve
type ChatHistoryInput struct {
	ChatID int64 `json:"chat_id" jsonschema:"the Telegram chat id"`
	Limit  int   `json:"limit,omitempty" jsonschema:"maximum number of entries to retrieve (default 20)"`
}

func (s *Server) handleChatHistory(ctx context.Context, req *sdk.CallToolRequest, input ChatHistoryInput) (*sdk.CallToolResult, any, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	entries, err := s.client.GetChatHistory(ctx, input.ChatID, limit)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(map[string]interface{}{"entries": entries}), nil, nil
}

// ============ Review Tools ============

// GetReviewInput identifies a review
type GetReviewInput struct {
	ReviewID string `json:"review_id" jsonschema:"the review id shown in the approval prompt"`
}

func (s *Server) handleGetReview(ctx context.Context, req *sdk.CallToolRequest, input GetReviewInput) (*sdk.CallToolResult, any, error) {
	if input.ReviewID == "" {
		return errorResult(fmt.Errorf("review_id is required")), nil, nil
	}
	review, err := s.client.GetReview(ctx, input.ReviewID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(review), nil, nil
}

// ============ Config Tools ============

func (s *Server) handleGetChatConfig(ctx context.Context, req *sdk.CallToolRequest, input ChatInput) (*sdk.CallToolResult, any, error) {
	cfg, err := s.client.GetChatConfig(ctx, input.ChatID)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(cfg), nil, nil
}

// SetChatEnabledInput turns moderation on or off
type SetChatEnabledInput struct {
	ChatID  int64 `json:"chat_id" jsonschema:"the Telegram chat id"`
	Enabled bool  `json:"enabled" jsonschema:"true to moderate the chat, false to pause moderation"`
}

func (s *Server) handleSetChatEnabled(ctx context.Context, req *sdk.CallToolRequest, input SetChatEnabledInput) (*sdk.CallToolResult, any, error) {
	cfg, err := s.client.SetChatEnabled(ctx, input.ChatID, input.Enabled)
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(cfg), nil, nil
}

// ============ Result Helpers ============

// jsonResult formats a tool result as JSON text content
func jsonResult(result interface{}) *sdk.CallToolResult {
	text, err := json.Marshal(result)
	if err != nil {
		return errorResult(err)
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(text)}},
	}
}

func errorResult(err error) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: err.Error()}},
		IsError: true,
	}
}
