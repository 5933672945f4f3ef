package env

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
)

var ErrReadOnly = errors.New("environment secret store is read-only")

const prefix = "KGW_SECRET_"

// Store reads secrets from environment variables. A key maps to its alias
// when one is registered, otherwise to KGW_SECRET_ followed by the key in
// upper case with every other character replaced by an underscore.
type Store struct {
	aliases map[string]string
	lookup  func(string) (string, bool)
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(aliases map[string]string) *Store {
	return &Store{aliases: aliases, lookup: os.LookupEnv}
}

func (s *Store) Name() string {
	return "env"
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	for _, name := range s.variables(key) {
		if value, ok := s.lookup(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), nil
		}
	}

	return "", fmt.Errorf("env secret %q: %w", key, domain.ErrSecretNotFound)
}

func (s *Store) Put(context.Context, string, string) error {
	return ErrReadOnly
}

func (s *Store) Delete(context.Context, string) error {
	return ErrReadOnly
}

func (s *Store) variables(key string) []string {
	names := make([]string, 0, 2)
	if alias, ok := s.aliases[key]; ok {
		names = append(names, alias)
	}
	return append(names, VariableName(key))
}

// VariableName is the derived variable for key.
func VariableName(key string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range strings.TrimSpace(key) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
