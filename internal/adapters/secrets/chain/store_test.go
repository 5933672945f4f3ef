package chain

import (
	"context"
	"errors"
	"testing"

	envstore "github.com/bnema/kiro-chat-gateway/internal/adapters/secrets/env"
	"github.com/bnema/kiro-chat-gateway/internal/domain"
	portmocks "github.com/bnema/kiro-chat-gateway/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const tokenKey = "kgw/discord/bot_token"

type namedMock struct {
	*portmocks.MockSecretStore
	name string
}

func (n namedMock) Name() string { return n.name }

func newBackends(t *testing.T, names ...string) ([]*portmocks.MockSecretStore, *Store) {
	t.Helper()

	mocks := make([]*portmocks.MockSecretStore, 0, len(names))
	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		m := portmocks.NewMockSecretStore(t)
		mocks = append(mocks, m)
		backends = append(backends, namedMock{MockSecretStore: m, name: name})
	}

	store, err := NewStore(backends...)
	require.NoError(t, err)
	return mocks, store
}

func notFound(name string) error {
	return errors.Join(errors.New(name), domain.ErrSecretNotFound)
}

func TestNewStoreRejectsEmptyChain(t *testing.T) {
	t.Parallel()

	_, err := NewStore()
	require.ErrorIs(t, err, errNoBackends)

	_, err = NewStore(nil)
	require.ErrorContains(t, err, "secret backend 0 is nil")
}

func TestNewNamed(t *testing.T) {
	t.Parallel()

	store, err := NewNamed([]string{"env", "pass", "file"}, t.TempDir(), nil)
	require.NoError(t, err)
	require.Len(t, store.backends, 3)
	assert.Equal(t, "env", store.backends[0].Name())
	assert.Equal(t, "pass", store.backends[1].Name())
	assert.Equal(t, "file", store.backends[2].Name())

	_, err = NewNamed([]string{"vault"}, "", nil)
	require.ErrorContains(t, err, `unknown secret backend "vault"`)

	_, err = NewNamed(nil, "", nil)
	require.ErrorIs(t, err, errNoBackends)
}

func TestFileBackedChainRoundTrip(t *testing.T) {
	t.Setenv("KGW_SECRET_KGW_DISCORD_BOT_TOKEN", "")

	store, err := NewNamed([]string{"env", "file"}, t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), tokenKey)
	require.ErrorIs(t, err, domain.ErrSecretNotFound)

	require.NoError(t, store.Put(context.Background(), tokenKey, "abc"))
	value, err := store.Get(context.Background(), tokenKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", value)

	t.Setenv("KGW_SECRET_KGW_DISCORD_BOT_TOKEN", "from-env")
	value, err = store.Get(context.Background(), tokenKey)
	require.NoError(t, err)
	assert.Equal(t, "from-env", value, "the environment overrides stored secrets")

	require.NoError(t, store.Delete(context.Background(), tokenKey))
	t.Setenv("KGW_SECRET_KGW_DISCORD_BOT_TOKEN", "")
	_, err = store.Get(context.Background(), tokenKey)
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreGetUsesFirstBackendThatHasTheKey(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "env", "pass", "file")
	m[0].EXPECT().Get(mock.Anything, tokenKey).Return("", notFound("env")).Once()
	m[1].EXPECT().Get(mock.Anything, tokenKey).Return("from-pass", nil).Once()

	value, err := store.Get(context.Background(), tokenKey)
	require.NoError(t, err)
	assert.Equal(t, "from-pass", value)
}

func TestStoreGetSkipsFailingBackends(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "pass", "file")
	m[0].EXPECT().Get(mock.Anything, tokenKey).Return("", errors.New("gpg failed")).Once()
	m[1].EXPECT().Get(mock.Anything, tokenKey).Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), tokenKey)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetMissingEverywhere(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "env", "file")
	m[0].EXPECT().Get(mock.Anything, tokenKey).Return("", notFound("env")).Once()
	m[1].EXPECT().Get(mock.Anything, tokenKey).Return("", notFound("file")).Once()

	_, err := store.Get(context.Background(), tokenKey)
	require.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreGetJoinsRealFailures(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "env", "pass", "file")
	m[0].EXPECT().Get(mock.Anything, tokenKey).Return("", notFound("env")).Once()
	m[1].EXPECT().Get(mock.Anything, tokenKey).Return("", errors.New("gpg failed")).Once()
	m[2].EXPECT().Get(mock.Anything, tokenKey).Return("", errors.New("permission denied")).Once()

	_, err := store.Get(context.Background(), tokenKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrSecretNotFound)
	assert.ErrorContains(t, err, "pass backend get failed: gpg failed")
	assert.ErrorContains(t, err, "file backend get failed: permission denied")
}

func TestStoreGetStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "pass", "file")
	m[0].EXPECT().Get(mock.Anything, tokenKey).Return("", context.Canceled).Once()

	_, err := store.Get(context.Background(), tokenKey)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStorePutSkipsReadOnlyBackends(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "env", "pass", "file")
	m[0].EXPECT().Put(mock.Anything, tokenKey, "secret").Return(envstore.ErrReadOnly).Once()
	m[1].EXPECT().Put(mock.Anything, tokenKey, "secret").Return(errors.New("pass failed")).Once()
	m[2].EXPECT().Put(mock.Anything, tokenKey, "secret").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), tokenKey, "secret"))
}

func TestStorePutReportsEveryFailure(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "env", "pass", "file")
	m[0].EXPECT().Put(mock.Anything, tokenKey, "secret").Return(envstore.ErrReadOnly).Once()
	m[1].EXPECT().Put(mock.Anything, tokenKey, "secret").Return(errors.New("pass failed")).Once()
	m[2].EXPECT().Put(mock.Anything, tokenKey, "secret").Return(errors.New("disk full")).Once()

	err := store.Put(context.Background(), tokenKey, "secret")
	require.Error(t, err)
	assert.ErrorContains(t, err, "pass failed")
	assert.ErrorContains(t, err, "disk full")
	assert.NotContains(t, err.Error(), "read-only")
}

func TestStoreDeleteReachesEveryBackend(t *testing.T) {
	t.Parallel()

	m, store := newBackends(t, "env", "pass", "file")
	m[0].EXPECT().Delete(mock.Anything, tokenKey).Return(envstore.ErrReadOnly).Once()
	m[1].EXPECT().Delete(mock.Anything, tokenKey).Return(errors.New("pass failed")).Once()
	m[2].EXPECT().Delete(mock.Anything, tokenKey).Return(nil).Once()

	err := store.Delete(context.Background(), tokenKey)
	require.ErrorContains(t, err, "pass backend delete failed: pass failed")
}
