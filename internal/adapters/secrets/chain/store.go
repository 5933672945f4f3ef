package chain

import (
	"context"
	"errors"
	"fmt"

	envstore "github.com/bnema/kiro-chat-gateway/internal/adapters/secrets/env"
	filestore "github.com/bnema/kiro-chat-gateway/internal/adapters/secrets/file"
	passstore "github.com/bnema/kiro-chat-gateway/internal/adapters/secrets/pass"
	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
)

// Backend is a secret store with a name used in error messages.
type Backend interface {
	ports.SecretStore
	Name() string
}

// Store tries its backends in order. Reads return the first hit, writes go
// to the first backend that accepts them and deletes reach every backend.
type Store struct {
	backends []Backend
}

var _ ports.SecretStore = (*Store)(nil)

var errNoBackends = errors.New("secret chain has no backends")

func NewStore(backends ...Backend) (*Store, error) {
	if len(backends) == 0 {
		return nil, errNoBackends
	}
	for i, backend := range backends {
		if backend == nil {
			return nil, fmt.Errorf("secret backend %d is nil", i)
		}
	}

	return &Store{backends: backends}, nil
}

// NewNamed builds a chain from backend names ("env", "pass", "file").
// aliases name extra environment variables per key; file secrets live below
// fileRoot.
func NewNamed(names []string, fileRoot string, aliases map[string]string) (*Store, error) {
	backends := make([]Backend, 0, len(names))
	for _, name := range names {
		switch name {
		case "env":
			backends = append(backends, envstore.NewStore(aliases))
		case "pass":
			backends = append(backends, passstore.NewStore())
		case "file":
			backends = append(backends, filestore.NewStore(fileRoot))
		default:
			return nil, fmt.Errorf("unknown secret backend %q", name)
		}
	}

	return NewStore(backends...)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var errs []error
	for _, backend := range s.backends {
		value, err := backend.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if shouldStop(err) {
			return "", err
		}
		if !errors.Is(err, domain.ErrSecretNotFound) {
			errs = append(errs, fmt.Errorf("%s backend get failed: %w", backend.Name(), err))
		}
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("secret %q: %w", key, domain.ErrSecretNotFound)
	}
	return "", errors.Join(errs...)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	var errs []error
	for _, backend := range s.backends {
		err := backend.Put(ctx, key, value)
		if err == nil {
			return nil
		}
		if shouldStop(err) {
			return err
		}
		if !errors.Is(err, envstore.ErrReadOnly) {
			errs = append(errs, fmt.Errorf("%s backend put failed: %w", backend.Name(), err))
		}
	}

	if len(errs) == 0 {
		return fmt.Errorf("put secret %q: no writable backend", key)
	}
	return errors.Join(errs...)
}

// Delete succeeds when every writable backend either removed the key or
// never had it.
func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, backend := range s.backends {
		err := backend.Delete(ctx, key)
		if err == nil || errors.Is(err, envstore.ErrReadOnly) || errors.Is(err, passstore.ErrUnavailable) {
			continue
		}
		if shouldStop(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("%s backend delete failed: %w", backend.Name(), err))
	}

	return errors.Join(errs...)
}

func shouldStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
