package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
)

const (
	policyFileMode  = 0o600
	policyDirMode   = 0o700
	tempFilePattern = ".policy-*.toml.tmp"
	reloadDebounce  = 200 * time.Millisecond
)

// PolicyRepository stores the Discord access policy in a TOML file.
type PolicyRepository struct {
	path   string
	mu     *sync.RWMutex
	logger *zap.Logger
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.PolicyRepository = (*PolicyRepository)(nil)

func NewPolicyRepository(path string, logger *zap.Logger) (*PolicyRepository, error) {
	if path == "" {
		return nil, errors.New("policy path is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := normalizePolicyPath(path)
	if err != nil {
		return nil, err
	}

	return &PolicyRepository{path: path, mu: lockForPath(path), logger: logger.Named("policy")}, nil
}

func (r *PolicyRepository) Path() string {
	return r.path
}

// Load returns domain.ErrPolicyNotFound when the file does not exist.
func (r *PolicyRepository) Load(ctx context.Context) (domain.AccessPolicy, error) {
	if err := ctx.Err(); err != nil {
		return domain.AccessPolicy{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.AccessPolicy{}, err
	}

	return fromSchema(file), nil
}

func (r *PolicyRepository) Save(ctx context.Context, policy domain.AccessPolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.writeSchema(toSchema(policy))
}

// Watch calls onChange with the reloaded policy every time the file is
// written, replaced or removed, until ctx is done. Bursts of events are
// coalesced.
func (r *PolicyRepository) Watch(ctx context.Context, onChange func(domain.AccessPolicy, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by renaming, so watch the directory.
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, policyDirMode); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch policy directory: %w", err)
	}

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
			} else {
				debounce.Reset(reloadDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			policy, err := r.Load(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			r.logger.Info("policy file changed", zap.String("path", r.path), zap.Error(err))
			onChange(policy, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("policy watcher error", zap.Error(err))
		}
	}
}

func (r *PolicyRepository) readSchema() (fileSchema, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileSchema{}, domain.ErrPolicyNotFound
		}
		return fileSchema{}, fmt.Errorf("read policy file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return fileSchema{}, fmt.Errorf("decode policy file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return fileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizePolicyPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve policy path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func (r *PolicyRepository) writeSchema(file fileSchema) error {
	file.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(r.path), policyDirMode); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode policy file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(r.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp policy file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp policy file: %w", err)
	}

	if err := tempFile.Chmod(policyFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp policy file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp policy file: %w", err)
	}

	if err := os.Rename(tempName, r.path); err != nil {
		return fmt.Errorf("replace policy file: %w", err)
	}

	cleanup = false
	return nil
}
