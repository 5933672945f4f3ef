package application

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

const DefaultPermissionTimeout = 60 * time.Second

// permissionRouter parks agent permission requests until the chat that owns
// the session answers or the timeout passes. A chat has at most one pending
// request at a time.
type permissionRouter struct {
	mu      sync.Mutex
	pending map[domain.ChatKey]chan domain.Decision
	timeout time.Duration
}

func newPermissionRouter(timeout time.Duration) *permissionRouter {
	if timeout <= 0 {
		timeout = DefaultPermissionTimeout
	}
	return &permissionRouter{
		pending: make(map[domain.ChatKey]chan domain.Decision),
		timeout: timeout,
	}
}

// open registers a pending request and returns the channel its decision
// arrives on. Registering before the prompt is shown means an immediate reply
// cannot be missed.
func (r *permissionRouter) open(key domain.ChatKey) chan domain.Decision {
	ch := make(chan domain.Decision, 1)

	r.mu.Lock()
	r.pending[key] = ch
	r.mu.Unlock()
	return ch
}

// await blocks for a decision. ok is false on timeout or cancellation. A
// reply that raced the timeout still wins.
func (r *permissionRouter) await(ctx context.Context, key domain.ChatKey, ch chan domain.Decision) (domain.Decision, bool) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return decision, true
	case <-timer.C:
	case <-ctx.Done():
	}

	r.close(key, ch)
	select {
	case decision := <-ch:
		return decision, true
	default:
		return domain.DecisionDeny, false
	}
}

func (r *permissionRouter) close(key domain.ChatKey, ch chan domain.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending[key] == ch {
		delete(r.pending, key)
	}
}

func (r *permissionRouter) waiting(key domain.ChatKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

type replyOutcome int

const (
	replyNotPending replyOutcome = iota
	replyInvalid
	replyDelivered
)

// answer parses text as a reply to the chat's pending request and delivers
// it. Lookup and hand-off share one critical section, so a request that
// times out concurrently is reported as not pending rather than swallowing
// the reply.
func (r *permissionRouter) answer(key domain.ChatKey, text string) (domain.Decision, replyOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.pending[key]
	if !ok {
		return "", replyNotPending
	}
	decision, ok := domain.ParseDecisionReply(text)
	if !ok {
		return "", replyInvalid
	}
	delete(r.pending, key)
	ch <- decision
	return decision, replyDelivered
}
