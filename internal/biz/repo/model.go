package repo

import (
	"context"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// Prompt is a single model request
type Prompt struct {
	System string
	User   string
}

// Generation is the model's raw reply
type Generation struct {
	Text  string
	Usage *domain.Usage
}

// ModelRepo is the language model provider.
// Failures are reported as *domain.ProviderError.
type ModelRepo interface {
	// Generate sends the prompt using apiKey, or the provider default when apiKey is empty
	Generate(ctx context.Context, apiKey string, prompt Prompt) (*Generation, error)
}
