package ports

import (
	"context"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

type PolicyRepository interface {
	Load(ctx context.Context) (domain.AccessPolicy, error)
	Save(ctx context.Context, policy domain.AccessPolicy) error
}
