package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const DefaultIdleCheckInterval = 30 * time.Second

var errSupervisorClosed = errors.New("gateway is shutting down")

type agentHandle struct {
	client     ports.AgentClient
	lastActive time.Time
	// busy counts prompts holding the agent; busy agents are never idle.
	busy int
}

const maxEnsureAttempts = 3

// supervisor owns one agent process per platform. Agents start on demand,
// stop after sitting idle and are replaced lazily after a crash.
type supervisor struct {
	mu     sync.Mutex
	agents map[domain.Platform]*agentHandle
	closed bool
	starts singleflight.Group

	factory       ports.AgentFactory
	layout        WorkspaceLayout
	permissionFor func(domain.Platform) ports.PermissionHandler
	onGone        func(domain.Platform)

	idleTimeout   time.Duration
	checkInterval time.Duration
	clock         ports.Clock
	logger        *zap.Logger
}

func (s *supervisor) running(platform domain.Platform) ports.AgentClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.agents[platform]
	if !ok || !handle.client.IsRunning() {
		return nil
	}
	return handle.client
}

// ensure returns a running agent for the platform, starting one if needed,
// and holds it until release is called. Concurrent callers share a single
// start.
func (s *supervisor) ensure(ctx context.Context, platform domain.Platform) (ports.AgentClient, error) {
	for attempt := 0; attempt < maxEnsureAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if client := s.acquire(platform); client != nil {
			return client, nil
		}

		_, err, _ := s.starts.Do(string(platform), func() (any, error) {
			if client := s.running(platform); client != nil {
				return client, nil
			}
			return s.start(ctx, platform)
		})
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("start agent for %s: %w", platform, domain.ErrAgentNotRunning)
}

// acquire marks the running agent busy in the same critical section that
// finds it, so the idle checker cannot stop it in between.
func (s *supervisor) acquire(platform domain.Platform) ports.AgentClient {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.agents[platform]
	if !ok || !handle.client.IsRunning() {
		return nil
	}
	handle.busy++
	handle.lastActive = s.clock.Now()
	return handle.client
}

// release ends a hold taken by ensure. It is a no-op when the agent has
// been replaced meanwhile.
func (s *supervisor) release(platform domain.Platform, client ports.AgentClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle, ok := s.agents[platform]
	if !ok || handle.client != client {
		return
	}
	if handle.busy > 0 {
		handle.busy--
	}
	handle.lastActive = s.clock.Now()
}

func (s *supervisor) start(ctx context.Context, platform domain.Platform) (ports.AgentClient, error) {
	s.discard(platform)

	cwd := s.layout.AgentCwd(platform)
	s.logger.Info("starting agent", zap.String("platform", string(platform)), zap.String("cwd", cwd))

	client := s.factory(platform)
	client.OnPermissionRequest(s.permissionFor(platform))
	if err := client.Start(ctx, cwd); err != nil {
		return nil, fmt.Errorf("start agent for %s: %w", platform, err)
	}

	s.onGone(platform)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		client.Stop()
		return nil, fmt.Errorf("start agent for %s: %w", platform, errSupervisorClosed)
	}
	s.agents[platform] = &agentHandle{client: client, lastActive: s.clock.Now()}
	s.mu.Unlock()

	s.logger.Info("agent started",
		zap.String("platform", string(platform)),
		zap.String("mode", string(s.layout.For(platform).Mode)),
	)
	return client, nil
}

// discard drops a dead agent still registered for the platform.
func (s *supervisor) discard(platform domain.Platform) {
	s.mu.Lock()
	handle, ok := s.agents[platform]
	if ok {
		delete(s.agents, platform)
	}
	s.mu.Unlock()

	if ok {
		handle.client.Stop()
	}
}

func (s *supervisor) stop(platform domain.Platform) {
	s.mu.Lock()
	handle, ok := s.agents[platform]
	delete(s.agents, platform)
	s.mu.Unlock()

	if ok {
		s.stopHandle(platform, handle)
	}
}

func (s *supervisor) stopHandle(platform domain.Platform, handle *agentHandle) {
	s.logger.Info("stopping agent", zap.String("platform", string(platform)))
	handle.client.Stop()
	s.onGone(platform)
	s.logger.Info("agent stopped", zap.String("platform", string(platform)))
}

// close stops every agent and refuses further starts.
func (s *supervisor) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.stopAll()
}

func (s *supervisor) stopAll() {
	s.mu.Lock()
	platforms := make([]domain.Platform, 0, len(s.agents))
	for platform := range s.agents {
		platforms = append(platforms, platform)
	}
	s.mu.Unlock()

	for _, platform := range platforms {
		s.stop(platform)
	}
}

// reapIfCrashed tears down the platform's agent when its process has died so
// the next message triggers a clean restart.
func (s *supervisor) reapIfCrashed(platform domain.Platform) bool {
	s.mu.Lock()
	handle, ok := s.agents[platform]
	crashed := ok && !handle.client.IsRunning()
	if crashed {
		delete(s.agents, platform)
	}
	s.mu.Unlock()

	if !crashed {
		return false
	}

	s.logger.Warn("agent died, will restart on next message", zap.String("platform", string(platform)))
	handle.client.Stop()
	s.onGone(platform)
	return true
}

func (s *supervisor) runIdleChecker(ctx context.Context) {
	if s.idleTimeout <= 0 {
		s.logger.Info("idle timeout disabled")
		return
	}

	interval := s.checkInterval
	if interval <= 0 {
		interval = DefaultIdleCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.stopIdle()
		}
	}
}

// stopIdle stops agents that have been unused for longer than the idle
// timeout. Agents held by a prompt are skipped however long it runs.
func (s *supervisor) stopIdle() []domain.Platform {
	now := s.clock.Now()

	s.mu.Lock()
	var idle []domain.Platform
	handles := make(map[domain.Platform]*agentHandle)
	for platform, handle := range s.agents {
		idleFor := now.Sub(handle.lastActive)
		if handle.busy > 0 || idleFor <= s.idleTimeout || !handle.client.IsRunning() {
			continue
		}
		s.logger.Info("agent idle timeout", zap.String("platform", string(platform)), zap.Duration("idle", idleFor))
		delete(s.agents, platform)
		handles[platform] = handle
		idle = append(idle, platform)
	}
	s.mu.Unlock()

	for _, platform := range idle {
		s.stopHandle(platform, handles[platform])
	}
	return idle
}
