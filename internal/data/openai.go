package data

import (
	"context"
	"errors"
	"net/http"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// OpenAIConfig configures the chat completion provider
type OpenAIConfig struct {
	APIKey      string // used when a chat has no key of its own
	BaseURL     string // empty for api.openai.com
	Model       string
	Temperature float32
	MaxTokens   int
	JSONMode    bool // request a JSON object reply
}

// openAIRepo implements the model provider with any OpenAI-compatible API
type openAIRepo struct {
	config OpenAIConfig

	mu      sync.Mutex
	clients map[string]*openai.Client // by api key
}

// NewOpenAIRepo creates the model repository
func NewOpenAIRepo(config OpenAIConfig) repo.ModelRepo {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	return &openAIRepo{config: config, clients: make(map[string]*openai.Client)}
}

func (r *openAIRepo) client(apiKey string) *openai.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[apiKey]; ok {
		return c
	}
	cfg := openai.DefaultConfig(apiKey)
	if r.config.BaseURL != "" {
		cfg.BaseURL = r.config.BaseURL
	}
	c := openai.NewClientWithConfig(cfg)
	r.clients[apiKey] = c
	return c
}

// Generate sends one chat completion. Failures are *domain.ProviderError.
func (r *openAIRepo) Generate(ctx context.Context, apiKey string, prompt repo.Prompt) (*repo.Generation, error) {
	if apiKey == "" {
		apiKey = r.config.APIKey
	}
	if apiKey == "" {
		return nil, &domain.ProviderError{ProviderStatus: "no_api_key", Err: errors.New("no api key configured")}
	}

	req := openai.ChatCompletionRequest{
		Model: r.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		Temperature: r.config.Temperature,
		MaxTokens:   r.config.MaxTokens,
	}
	if r.config.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := r.client(apiKey).CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, toProviderError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &domain.ProviderError{Temporary: true, ProviderStatus: "empty", Err: errors.New("no response choices")}
	}

	return &repo.Generation{
		Text: resp.Choices[0].Message.Content,
		Usage: &domain.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// toProviderError classifies client errors. Rate limits, server errors and
// transport failures are temporary; other HTTP errors and cancellation are not.
func toProviderError(err error) *domain.ProviderError {
	pe := &domain.ProviderError{Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		if code, ok := apiErr.Code.(string); ok && code != "" {
			pe.ProviderStatus = code
		} else {
			pe.ProviderStatus = apiErr.Type
		}
		pe.Temporary = temporaryStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
		pe.Temporary = temporaryStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.Canceled):
		pe.ProviderStatus = "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		pe.ProviderStatus = "timeout"
		pe.Temporary = true
	default:
		pe.Temporary = true
	}
	return pe
}

func temporaryStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status >= http.StatusInternalServerError
}
