package repo

import "context"

// SpamFilterRepo is an optional pre-classifier whose verdicts are passed to
// the model as hints
type SpamFilterRepo interface {
	IsSpam(ctx context.Context, text string) (bool, error)
}
