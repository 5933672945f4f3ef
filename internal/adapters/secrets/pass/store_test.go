package pass

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenKey = "kgw/discord/bot_token"

func TestStorePutUsesPassInsert(t *testing.T) {
	t.Parallel()

	called := false
	store := &Store{
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			called = true
			assert.Equal(t, []string{"insert", "-m", "-f", tokenKey}, args)
			assert.Equal(t, "top-secret\n", input)
			return "", "", nil
		},
	}

	require.NoError(t, store.Put(context.Background(), tokenKey, "top-secret"))
	assert.True(t, called)
}

func TestStoreGetReturnsFirstLine(t *testing.T) {
	t.Parallel()

	store := &Store{
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			assert.Equal(t, []string{"show", tokenKey}, args)
			assert.Empty(t, input)
			return "top-secret\r\nlogin: bot\n", "", nil
		},
	}

	value, err := store.Get(context.Background(), tokenKey)
	require.NoError(t, err)
	assert.Equal(t, "top-secret", value)
}

func TestStoreDeleteUsesPassRemove(t *testing.T) {
	t.Parallel()

	store := &Store{
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			assert.Equal(t, []string{"rm", "-f", tokenKey}, args)
			return "", "Error: kgw/discord/bot_token is not in the password store.", errors.New("exit status 1")
		},
	}

	require.NoError(t, store.Delete(context.Background(), tokenKey), "removing a missing entry is not an error")
}

func TestStoreGetErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		stderr   string
		runErr   error
		notFound bool
		contains string
	}{
		{
			name:     "missing entry",
			stderr:   "Error: kgw/discord/bot_token is not in the password store.",
			runErr:   errors.New("exit status 1"),
			notFound: true,
		},
		{
			name:     "gpg failure",
			stderr:   "gpg: decryption failed: No secret key",
			runErr:   errors.New("exit status 2"),
			contains: "No secret key",
		},
		{
			name:     "pass not installed",
			runErr:   ErrUnavailable,
			contains: "pass command unavailable",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := &Store{
				run: func(ctx context.Context, input string, args ...string) (string, string, error) {
					return "", tc.stderr, tc.runErr
				},
			}

			_, err := store.Get(context.Background(), tokenKey)
			require.Error(t, err)
			assert.ErrorContains(t, err, "pass get")
			assert.ErrorContains(t, err, tokenKey)
			assert.Equal(t, tc.notFound, errors.Is(err, domain.ErrSecretNotFound))
			if tc.contains != "" {
				assert.ErrorContains(t, err, tc.contains)
			}
		})
	}
}

func TestStoreHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	store := &Store{
		run: func(ctx context.Context, input string, args ...string) (string, string, error) {
			t.Fatal("pass must not run with a canceled context")
			return "", "", nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Get(ctx, tokenKey)
	require.ErrorIs(t, err, context.Canceled)
}
