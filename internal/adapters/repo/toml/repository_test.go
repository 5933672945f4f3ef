package toml

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRepository(t *testing.T, path string) *PolicyRepository {
	t.Helper()

	repo, err := NewPolicyRepository(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	return repo
}

func samplePolicy() domain.AccessPolicy {
	mention := false
	return domain.AccessPolicy{
		Direct: domain.DirectPolicy{
			Enabled:   true,
			Mode:      domain.PolicyAllowlist,
			AllowFrom: []string{"100"},
		},
		GroupMode: domain.PolicyAllowlist,
		Guilds: map[string]domain.GuildPolicy{
			"g1": {
				RequireMention: true,
				Users:          []string{"100", "200"},
				Channels: map[string]domain.ChannelPolicy{
					"c1":                  {Allow: true, RequireMention: &mention},
					domain.PolicyWildcard: {Allow: false},
				},
			},
		},
	}
}

func TestPolicyRepositoryRoundTrip(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "policy.toml"))
	policy := samplePolicy()

	require.NoError(t, repo.Save(context.Background(), policy))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, policy, got)
	assert.False(t, got.RequireMention("g1", "c1"))
	assert.True(t, got.CheckGuild("g1", "c1", "200").Allowed)
	assert.False(t, got.CheckGuild("g1", "c9", "200").Allowed)
}

func TestPolicyRepositorySaveCreatesDirectoryAndEnforcesPermissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config", "policy.toml")
	repo := newTestRepository(t, path)

	require.NoError(t, repo.Save(context.Background(), domain.DefaultAccessPolicy()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(policyFileMode), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(policyDirMode), dirInfo.Mode().Perm())

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".policy-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestPolicyRepositoryMissingFile(t *testing.T) {
	t.Parallel()

	repo := newTestRepository(t, filepath.Join(t.TempDir(), "missing.toml"))

	_, err := repo.Load(context.Background())
	require.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestPolicyRepositoryFillsDefaultsFromSparseFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[dm]
enabled = true
allow_from = ["42"]

[guilds."*"]
require_mention = true
`), 0o600))

	got, err := newTestRepository(t, path).Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.PolicyAllowlist, got.Direct.Mode)
	assert.Equal(t, domain.PolicyAllowlist, got.GroupMode)
	assert.True(t, got.CheckDirect("42").Allowed)
	assert.False(t, got.CheckDirect("43").Allowed)
	assert.True(t, got.RequireMention("any-guild", "any-channel"))
}

func TestPolicyRepositoryMalformedTOMLReturnsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte("[dm\nenabled = "), 0o600))

	_, err := newTestRepository(t, path).Load(context.Background())
	require.ErrorContains(t, err, "decode policy file")
}

func TestPolicyRepositoryFutureSchemaVersionReturnsError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 99\n"), 0o600))

	_, err := newTestRepository(t, path).Load(context.Background())
	require.ErrorContains(t, err, "unsupported policy schema version")
}

func TestPolicyRepositorySerializedTOMLIncludesVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, newTestRepository(t, path).Save(context.Background(), domain.DefaultAccessPolicy()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 1")
	assert.Contains(t, string(data), "group_policy = 'open'")
}

func TestPolicyRepositoryCanceledContext(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.toml")
	repo := newTestRepository(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, repo.Save(ctx, domain.DefaultAccessPolicy()), context.Canceled)
	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPolicyRepositoryConcurrentSavesAcrossInstances(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.toml")
	repoA := newTestRepository(t, path)
	repoB := newTestRepository(t, path)

	const perRepoWrites = 50
	start := make(chan struct{})
	errCh := make(chan error, perRepoWrites*2)
	var wg sync.WaitGroup
	wg.Add(2)

	write := func(repo *PolicyRepository, prefix string) {
		defer wg.Done()
		<-start
		for i := 0; i < perRepoWrites; i++ {
			policy := domain.DefaultAccessPolicy()
			policy.Direct.AllowFrom = []string{prefix + strconv.Itoa(i)}
			errCh <- repo.Save(context.Background(), policy)
		}
	}
	go write(repoA, "a-")
	go write(repoB, "b-")

	close(start)
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	got, err := repoA.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Direct.AllowFrom, 1)
}

func TestPolicyRepositoryWatchReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	repo := newTestRepository(t, path)
	require.NoError(t, repo.Save(context.Background(), domain.DefaultAccessPolicy()))

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan domain.AccessPolicy, 4)
	done := make(chan error, 1)
	go func() {
		done <- repo.Watch(ctx, func(policy domain.AccessPolicy, err error) {
			if err != nil {
				return
			}
			select {
			case changes <- policy:
			default:
			}
		})
	}()

	// Unrelated files in the same directory are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x = 1\n"), 0o600))

	expected := samplePolicy()
	require.Eventually(t, func() bool {
		// The watcher may not be registered yet on the first attempts.
		if err := repo.Save(context.Background(), expected); err != nil {
			return false
		}
		select {
		case got := <-changes:
			return assert.ObjectsAreEqual(expected, got)
		case <-time.After(2 * reloadDebounce):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestNewPolicyRepositoryRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := NewPolicyRepository("", nil)
	require.Error(t, err)
}
