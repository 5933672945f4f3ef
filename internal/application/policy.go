package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"go.uber.org/zap"
)

type PolicySource string

const (
	PolicySourceFile    PolicySource = "file"
	PolicySourceAdmin   PolicySource = "admin"
	PolicySourceDefault PolicySource = "default"
)

// PolicyFallback describes the policy used when no policy file exists.
type PolicyFallback struct {
	AdminUserIDs   []string
	GuildIDs       []string
	RequireMention bool
}

func (f PolicyFallback) policy() (domain.AccessPolicy, PolicySource) {
	if len(f.AdminUserIDs) > 0 {
		return domain.AdminAccessPolicy(f.AdminUserIDs, f.GuildIDs, f.RequireMention), PolicySourceAdmin
	}
	return domain.DefaultAccessPolicy(), PolicySourceDefault
}

// ResolveAccessPolicy prefers the policy file, then an admin-only policy
// built from the fallback ids, then the default policy. A nil repo skips
// the file.
func ResolveAccessPolicy(ctx context.Context, repo ports.PolicyRepository, fallback PolicyFallback) (domain.AccessPolicy, PolicySource, error) {
	if repo != nil {
		policy, err := repo.Load(ctx)
		switch {
		case err == nil:
			return policy, PolicySourceFile, nil
		case !errors.Is(err, domain.ErrPolicyNotFound):
			return domain.AccessPolicy{}, "", fmt.Errorf("load access policy: %w", err)
		}
	}

	policy, source := fallback.policy()
	return policy, source, nil
}

// PolicyWatcher reports changes to a stored policy until ctx is done.
type PolicyWatcher interface {
	Watch(ctx context.Context, onChange func(domain.AccessPolicy, error)) error
}

// FollowAccessPolicy applies every reloaded policy. A removed file falls back
// like ResolveAccessPolicy; an unreadable one keeps the current policy.
func FollowAccessPolicy(ctx context.Context, watcher PolicyWatcher, fallback PolicyFallback, apply func(domain.AccessPolicy), logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	return watcher.Watch(ctx, func(policy domain.AccessPolicy, err error) {
		source := PolicySourceFile
		switch {
		case errors.Is(err, domain.ErrPolicyNotFound):
			policy, source = fallback.policy()
		case err != nil:
			logger.Warn("keeping previous access policy", zap.Error(err))
			return
		}

		logger.Info("access policy reloaded", zap.String("source", string(source)))
		apply(policy)
	})
}
