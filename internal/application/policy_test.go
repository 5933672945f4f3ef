package application

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestResolveAccessPolicy(t *testing.T) {
	filePolicy := domain.AccessPolicy{
		Direct:    domain.DirectPolicy{Enabled: true, Mode: domain.PolicyOpen},
		GroupMode: domain.PolicyDisabled,
	}

	tests := []struct {
		name       string
		loaded     domain.AccessPolicy
		loadErr    error
		fallback   PolicyFallback
		wantSource PolicySource
		wantDM     string
		wantErr    string
	}{
		{
			name:       "file wins",
			loaded:     filePolicy,
			fallback:   PolicyFallback{AdminUserIDs: []string{"1"}},
			wantSource: PolicySourceFile,
			wantDM:     "DM open",
		},
		{
			name:       "admin ids without file",
			loadErr:    domain.ErrPolicyNotFound,
			fallback:   PolicyFallback{AdminUserIDs: []string{"1"}},
			wantSource: PolicySourceAdmin,
			wantDM:     "user not in DM allowlist",
		},
		{
			name:       "default without file or admins",
			loadErr:    domain.ErrPolicyNotFound,
			wantSource: PolicySourceDefault,
			wantDM:     "DM disabled",
		},
		{
			name:    "broken file is an error",
			loadErr: errors.New("decode policy file: boom"),
			wantErr: "load access policy: decode policy file: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := mocks.NewMockPolicyRepository(t)
			repo.EXPECT().Load(mock.Anything).Return(tt.loaded, tt.loadErr).Once()

			policy, source, err := ResolveAccessPolicy(context.Background(), repo, tt.fallback)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantDM, policy.CheckDirect("2").Reason)
		})
	}
}

func TestResolveAccessPolicyWithoutRepository(t *testing.T) {
	policy, source, err := ResolveAccessPolicy(context.Background(), nil, PolicyFallback{
		AdminUserIDs: []string{"7"},
		GuildIDs:     []string{"g1"},
	})
	require.NoError(t, err)

	assert.Equal(t, PolicySourceAdmin, source)
	assert.True(t, policy.CheckGuild("g1", "any", "7").Allowed)
	assert.False(t, policy.CheckGuild("g2", "any", "7").Allowed)
}

type scriptedWatcher struct {
	events []error
	policy domain.AccessPolicy
}

func (w scriptedWatcher) Watch(_ context.Context, onChange func(domain.AccessPolicy, error)) error {
	for _, err := range w.events {
		if err != nil {
			onChange(domain.AccessPolicy{}, err)
			continue
		}
		onChange(w.policy, nil)
	}
	return nil
}

func TestFollowAccessPolicy(t *testing.T) {
	filePolicy := domain.AccessPolicy{GroupMode: domain.PolicyDisabled}
	watcher := scriptedWatcher{
		policy: filePolicy,
		events: []error{nil, errors.New("decode policy file: bad"), domain.ErrPolicyNotFound},
	}

	var applied []domain.AccessPolicy
	err := FollowAccessPolicy(context.Background(), watcher, PolicyFallback{}, func(policy domain.AccessPolicy) {
		applied = append(applied, policy)
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.Len(t, applied, 2, "unreadable files keep the previous policy")
	assert.Equal(t, filePolicy, applied[0])
	assert.Equal(t, domain.DefaultAccessPolicy(), applied[1])
}
