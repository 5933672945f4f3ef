package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPromptAttempts = 3
	DefaultRetryBackoff   = time.Second
)

type Options struct {
	Workspaces        WorkspaceLayout
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	PermissionTimeout time.Duration
	QueueCapacity     int
	PromptAttempts    int
	RetryBackoff      time.Duration
	Clock             ports.Clock
	Logger            *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.IdleCheckInterval <= 0 {
		o.IdleCheckInterval = DefaultIdleCheckInterval
	}
	if o.PermissionTimeout <= 0 {
		o.PermissionTimeout = DefaultPermissionTimeout
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.PromptAttempts <= 0 {
		o.PromptAttempts = DefaultPromptAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.Clock == nil {
		o.Clock = ports.SystemClock{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Gateway routes chat messages to one agent process per platform.
type Gateway struct {
	opts     Options
	logger   *zap.Logger
	adapters map[domain.Platform]ports.ChatAdapter
	order    []ports.ChatAdapter

	supervisor  *supervisor
	registry    *registry
	scheduler   *scheduler
	permissions *permissionRouter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	active   int
	idle     chan struct{}
	workers  sync.WaitGroup
	shutdown sync.Once
}

func NewGateway(factory ports.AgentFactory, adapters []ports.ChatAdapter, opts Options) *Gateway {
	opts = opts.withDefaults()
	logger := opts.Logger.Named("gateway")
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		opts:        opts,
		logger:      logger,
		adapters:    make(map[domain.Platform]ports.ChatAdapter, len(adapters)),
		registry:    newRegistry(opts.Workspaces, logger),
		scheduler:   newScheduler(opts.QueueCapacity),
		permissions: newPermissionRouter(opts.PermissionTimeout),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, adapter := range adapters {
		if _, dup := g.adapters[adapter.Platform()]; dup {
			logger.Warn("duplicate adapter ignored", zap.String("platform", string(adapter.Platform())))
			continue
		}
		g.adapters[adapter.Platform()] = adapter
		g.order = append(g.order, adapter)
	}

	g.supervisor = &supervisor{
		agents:        make(map[domain.Platform]*agentHandle),
		factory:       factory,
		layout:        opts.Workspaces,
		permissionFor: g.permissionHandler,
		onGone: func(platform domain.Platform) {
			if cleared := g.registry.invalidatePlatform(platform); cleared > 0 {
				logger.Info("cleared sessions", zap.String("platform", string(platform)), zap.Int("count", cleared))
			}
		},
		idleTimeout:   opts.IdleTimeout,
		checkInterval: opts.IdleCheckInterval,
		clock:         opts.Clock,
		logger:        logger,
	}
	return g
}

// Run starts every adapter and the idle checker, then blocks until ctx is
// cancelled or an adapter fails. Everything is shut down before it returns.
func (g *Gateway) Run(ctx context.Context) error {
	if len(g.order) == 0 {
		return errors.New("no chat adapters configured")
	}
	defer g.Shutdown()

	g.logger.Info("gateway starting",
		zap.Int("adapters", len(g.order)),
		zap.Duration("idle_timeout", g.opts.IdleTimeout),
		zap.String("workspace_mode", string(g.opts.Workspaces.For("").Mode)),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		g.supervisor.runIdleChecker(groupCtx)
		return nil
	})
	for _, adapter := range g.order {
		group.Go(func() error {
			g.logger.Info("starting adapter", zap.String("platform", string(adapter.Platform())))
			err := adapter.Start(groupCtx, g.HandleMessage)
			if errors.Is(err, ports.ErrInputClosed) {
				g.logger.Info("adapter input closed, finishing accepted messages", zap.String("platform", string(adapter.Platform())))
				if drainErr := g.Drain(groupCtx); drainErr != nil {
					g.logger.Warn("drain interrupted", zap.Error(drainErr))
				}
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run %s adapter: %w", adapter.Platform(), err)
			}
			return nil
		})
	}

	return group.Wait()
}

// Drain blocks until no chat has a prompt in progress or queued, or until
// ctx is done.
func (g *Gateway) Drain(ctx context.Context) error {
	g.mu.Lock()
	if g.active == 0 {
		g.mu.Unlock()
		return nil
	}
	if g.idle == nil {
		g.idle = make(chan struct{})
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops every agent, waits for in-flight work and stops the adapters.
func (g *Gateway) Shutdown() {
	g.shutdown.Do(func() {
		g.logger.Info("gateway shutting down")

		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		g.cancel()
		g.supervisor.close()
		g.workers.Wait()

		for _, adapter := range g.order {
			if err := adapter.Stop(); err != nil {
				g.logger.Warn("stop adapter", zap.String("platform", string(adapter.Platform())), zap.Error(err))
			}
		}
	})
}

// HandleMessage is the entry point for every inbound chat message. A pending
// permission prompt takes the message first, then cancel keywords, then slash
// commands; everything else is scheduled as a prompt.
func (g *Gateway) HandleMessage(ctx context.Context, msg domain.InboundMessage) {
	if _, ok := g.adapters[msg.Platform]; !ok {
		g.logger.Warn("message from unknown platform", zap.String("platform", string(msg.Platform)))
		return
	}

	key := msg.Key()
	text := msg.NormalizedText()
	if len(msg.Images) > 0 {
		g.logger.Info("received images", zap.Stringer("chat", key), zap.Int("count", len(msg.Images)))
	}

	if g.interceptPermissionReply(ctx, key, text) {
		return
	}

	switch strings.ToLower(text) {
	case "cancel", "stop":
		g.cancelChat(ctx, key)
		return
	}

	if strings.HasPrefix(text, "/") {
		g.runCommand(ctx, key, text)
		return
	}

	g.schedule(ctx, key, queueEntry{text: text, images: msg.Images})
}

func (g *Gateway) interceptPermissionReply(ctx context.Context, key domain.ChatKey, text string) bool {
	decision, outcome := g.permissions.answer(key, text)
	switch outcome {
	case replyInvalid:
		g.sendText(ctx, key, msgReplyYNT)
		return true
	case replyDelivered:
		g.logger.Info("permission decided", zap.Stringer("chat", key), zap.String("decision", string(decision)))
		return true
	default:
		return false
	}
}

func (g *Gateway) permissionHandler(platform domain.Platform) ports.PermissionHandler {
	return func(ctx context.Context, req domain.PermissionRequest) domain.Decision {
		key, ok := g.registry.keyForSession(req.SessionID)
		if !ok || key.Platform != platform {
			g.logger.Warn("no chat for session, auto-denying",
				zap.String("platform", string(platform)),
				zap.String("session_id", req.SessionID),
			)
			return domain.DecisionDeny
		}

		wait := g.permissions.open(key)
		seconds := int(g.permissions.timeout.Round(time.Second) / time.Second)
		g.sendText(ctx, key, formatPermissionPrompt(req.Title, seconds))
		g.logger.Info("sent permission request", zap.Stringer("chat", key), zap.String("title", req.Title))

		decision, ok := g.permissions.await(ctx, key, wait)
		if !ok {
			g.logger.Warn("permission timed out", zap.Stringer("chat", key), zap.String("title", req.Title))
			if ctx.Err() == nil {
				g.sendText(ctx, key, msgPermissionTimeout)
			}
			return domain.DecisionDeny
		}
		return decision
	}
}

func (g *Gateway) cancelChat(ctx context.Context, key domain.ChatKey) {
	dropped := g.scheduler.clear(key)

	sessionID := g.registry.sessionID(key)
	if sessionID == "" {
		if dropped > 0 {
			g.sendText(ctx, key, formatCancelled(dropped, false))
		} else {
			g.sendText(ctx, key, msgNoActiveSession)
		}
		return
	}

	agent := g.supervisor.running(key.Platform)
	if agent == nil {
		if dropped > 0 {
			g.sendText(ctx, key, formatCancelled(dropped, false))
		} else {
			g.sendText(ctx, key, msgAgentNotRunning)
		}
		return
	}

	if err := agent.Cancel(ctx, sessionID); err != nil {
		g.logger.Error("cancel failed", zap.Stringer("chat", key), zap.Error(err))
		g.sendText(ctx, key, "❌ Cancel failed: "+err.Error())
		return
	}
	g.sendText(ctx, key, formatCancelled(dropped, true))
}

func (g *Gateway) schedule(ctx context.Context, key domain.ChatKey, entry queueEntry) {
	started, position, err := g.scheduler.submit(key, entry)
	if errors.Is(err, domain.ErrQueueFull) {
		g.sendText(ctx, key, fmt.Sprintf(msgQueueFull, g.opts.QueueCapacity))
		return
	}
	if !started {
		g.logger.Info("message queued", zap.Stringer("chat", key), zap.Int("size", position))
		g.sendText(ctx, key, fmt.Sprintf(msgQueued, position))
		return
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.scheduler.clear(key)
		g.scheduler.next(key)
		return
	}
	g.workers.Add(1)
	g.active++
	g.mu.Unlock()

	go func() {
		defer g.workerDone()
		g.drain(key, entry)
	}()
}

func (g *Gateway) workerDone() {
	g.mu.Lock()
	g.active--
	if g.active == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
	g.mu.Unlock()
	g.workers.Done()
}

// drain processes entry and then every queued entry for the chat in order.
func (g *Gateway) drain(key domain.ChatKey, entry queueEntry) {
	for {
		g.processOne(g.ctx, key, entry)

		next, ok := g.scheduler.next(key)
		if !ok {
			return
		}
		g.logger.Info("processing queued message", zap.Stringer("chat", key), zap.Int("remaining", g.scheduler.queued(key)))
		entry = next
	}
}

func (g *Gateway) processOne(ctx context.Context, key domain.ChatKey, entry queueEntry) {
	card := g.sendCard(ctx, key, msgThinking)

	agent, err := g.supervisor.ensure(ctx, key.Platform)
	if err != nil {
		g.logger.Error("failed to start agent", zap.String("platform", string(key.Platform)), zap.Error(err))
		g.reply(ctx, key, card, "❌ Failed to start Kiro: "+err.Error())
		return
	}
	defer g.supervisor.release(key.Platform, agent)

	result, err := g.promptChat(ctx, key, agent, entry)
	if err != nil {
		g.logger.Error("prompt failed", zap.Stringer("chat", key), zap.Error(err))
		g.reply(ctx, key, card, formatError(err))
		g.registry.invalidate(key)
		g.supervisor.reapIfCrashed(key.Platform)
		return
	}

	g.reply(ctx, key, card, FormatResponse(result))
}

func (g *Gateway) promptChat(ctx context.Context, key domain.ChatKey, agent ports.AgentClient, entry queueEntry) (domain.PromptResult, error) {
	sessionID, err := g.registry.resolve(ctx, key, agent)
	if err != nil {
		return domain.PromptResult{}, err
	}
	g.sendTyping(ctx, key)

	var lastErr error
	for attempt := 1; attempt <= g.opts.PromptAttempts; attempt++ {
		result, err := agent.Prompt(ctx, sessionID, entry.text, entry.images)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !domain.IsTransient(err) || attempt == g.opts.PromptAttempts {
			break
		}

		g.logger.Warn("transient prompt error",
			zap.Stringer("chat", key),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.opts.PromptAttempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return domain.PromptResult{}, ctx.Err()
		case <-time.After(g.opts.RetryBackoff):
		}
	}
	return domain.PromptResult{}, lastErr
}

func (g *Gateway) sendText(ctx context.Context, key domain.ChatKey, text string) {
	adapter, ok := g.adapters[key.Platform]
	if !ok {
		return
	}
	if _, err := adapter.SendText(ctx, key.ChatID, text); err != nil {
		g.logger.Warn("send text", zap.Stringer("chat", key), zap.Error(err))
	}
}

func (g *Gateway) sendCard(ctx context.Context, key domain.ChatKey, content string) *ports.CardHandle {
	adapter, ok := g.adapters[key.Platform]
	if !ok {
		return nil
	}
	handle, err := adapter.SendCard(ctx, key.ChatID, content, "")
	if err != nil {
		g.logger.Warn("send card", zap.Stringer("chat", key), zap.Error(err))
		return nil
	}
	return handle
}

func (g *Gateway) sendTyping(ctx context.Context, key domain.ChatKey) {
	adapter, ok := g.adapters[key.Platform]
	if !ok {
		return
	}
	if err := adapter.SendTyping(ctx, key.ChatID); err != nil {
		g.logger.Debug("send typing", zap.Stringer("chat", key), zap.Error(err))
	}
}

// reply edits the placeholder card when there is one and falls back to a
// plain message otherwise.
func (g *Gateway) reply(ctx context.Context, key domain.ChatKey, card *ports.CardHandle, text string) {
	adapter, ok := g.adapters[key.Platform]
	if !ok {
		return
	}
	if card != nil && adapter.SupportsCardUpdate() {
		err := adapter.UpdateCard(ctx, *card, text, "")
		if err == nil {
			return
		}
		g.logger.Warn("update card", zap.Stringer("chat", key), zap.Error(err))
	}
	g.sendText(ctx, key, text)
}
