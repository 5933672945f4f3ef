package e2e

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)

	stdout, stderr, err := runKGW(t, binaryPath, home, "", "version")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.NotEmpty(t, strings.TrimSpace(stdout))

	_, stderr, err = runKGW(t, binaryPath, home, "", "secret", "set", "--value", "bot-token-123")
	require.NoError(t, err, "stderr: %s", stderr)

	stdout, stderr, err = runKGW(t, binaryPath, home, "", "secret", "get", "--reveal")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Equal(t, "bot-token-123\n", stdout)

	_, stderr, err = runKGW(t, binaryPath, home, "", "policy", "init")
	require.NoError(t, err, "stderr: %s", stderr)

	stdout, stderr, err = runKGW(t, binaryPath, home, "", "policy", "check", "--user", "42")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "allowed")
	assert.Contains(t, stdout, "source: file")

	_, stderr, err = runKGW(t, binaryPath, home, "", "serve", "--console")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stderr, "gateway starting")
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "kgw-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/kgw")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build kgw binary: %s", string(output))
	return binaryPath
}

func runKGW(t *testing.T, binaryPath, home, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = []string{
		"HOME=" + home,
		"XDG_CONFIG_HOME=" + home,
		"PATH=" + os.Getenv("PATH"),
		"KGW_SECRETS_BACKENDS=file",
		"KGW_DISCORD_ADMIN_USER_IDS=42",
	}
	cmd.Stdin = strings.NewReader(stdin)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
