package application

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"github.com/stretchr/testify/require"
)

type promptFunc func(ctx context.Context, agent *fakeAgent, sessionID, text string) (domain.PromptResult, error)

// fakeAgent is an in-memory AgentClient. Sessions are numbered per agent
// generation so a restarted agent never hands out an old id.
type fakeAgent struct {
	generation int
	prompt     promptFunc

	running atomic.Bool
	stopped atomic.Bool

	mu         sync.Mutex
	permission ports.PermissionHandler
	sessions   map[string]bool
	cwds       []string
	prompts    []string
	cancels    []string
	modes      domain.ModeState
	models     domain.ModelState
}

func (a *fakeAgent) Start(context.Context, string) error {
	a.running.Store(true)
	return nil
}

func (a *fakeAgent) Stop() {
	a.running.Store(false)
	a.stopped.Store(true)
}

func (a *fakeAgent) IsRunning() bool { return a.running.Load() }

func (a *fakeAgent) OnPermissionRequest(handler ports.PermissionHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.permission = handler
}

func (a *fakeAgent) askPermission(ctx context.Context, req domain.PermissionRequest) domain.Decision {
	a.mu.Lock()
	handler := a.permission
	a.mu.Unlock()
	return handler(ctx, req)
}

func (a *fakeAgent) NewSession(_ context.Context, cwd string) (domain.SessionInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := fmt.Sprintf("g%d-s%d", a.generation, len(a.sessions)+1)
	a.sessions[id] = true
	a.cwds = append(a.cwds, cwd)
	return domain.SessionInfo{ID: id, Modes: a.modes, Models: a.models}, nil
}

func (a *fakeAgent) LoadSession(_ context.Context, sessionID, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.sessions[sessionID] {
		return &domain.RPCError{Code: -32602, Message: "session not found"}
	}
	return nil
}

func (a *fakeAgent) SetMode(_ context.Context, _, modeID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modes.CurrentModeID = modeID
	return nil
}

func (a *fakeAgent) SetModel(_ context.Context, _, modelID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.models.CurrentModelID = modelID
	return nil
}

func (a *fakeAgent) Modes(string) (domain.ModeState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modes, len(a.modes.Available) > 0
}

func (a *fakeAgent) Models(string) (domain.ModelState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.models, len(a.models.Available) > 0
}

func (a *fakeAgent) AvailableCommands(string) []domain.AgentCommand { return nil }

func (a *fakeAgent) CommandOptions(context.Context, string, string) []string { return nil }

func (a *fakeAgent) Prompt(ctx context.Context, sessionID, text string, _ []domain.Image) (domain.PromptResult, error) {
	a.mu.Lock()
	a.prompts = append(a.prompts, text)
	a.mu.Unlock()

	if a.prompt == nil {
		return domain.PromptResult{Text: "echo: " + text, StopReason: domain.StopReasonEndTurn}, nil
	}
	return a.prompt(ctx, a, sessionID, text)
}

func (a *fakeAgent) Cancel(_ context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels = append(a.cancels, sessionID)
	return nil
}

func (a *fakeAgent) promptTexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.prompts...)
}

func (a *fakeAgent) cancelled() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.cancels...)
}

func (a *fakeAgent) sessionCwds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.cwds...)
}

type fakeFactory struct {
	prompt promptFunc
	modes  domain.ModeState
	models domain.ModelState

	mu     sync.Mutex
	agents []*fakeAgent
}

func (f *fakeFactory) build(domain.Platform) ports.AgentClient {
	f.mu.Lock()
	defer f.mu.Unlock()

	agent := &fakeAgent{
		generation: len(f.agents) + 1,
		prompt:     f.prompt,
		sessions:   make(map[string]bool),
		modes:      f.modes,
		models:     f.models,
	}
	f.agents = append(f.agents, agent)
	return agent
}

func (f *fakeFactory) built() []*fakeAgent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeAgent(nil), f.agents...)
}

func (f *fakeFactory) latest(t *testing.T) *fakeAgent {
	t.Helper()
	agents := f.built()
	require.NotEmpty(t, agents)
	return agents[len(agents)-1]
}

type sentMessage struct {
	chatID domain.ChatID
	text   string
	card   bool
}

// fakeAdapter records outbound traffic. Cards are kept in place so updates
// replace the original content.
type fakeAdapter struct {
	platform domain.Platform
	cards    bool
	started  chan struct{}
	// run replaces the default block-until-cancel Start when set.
	run func(ctx context.Context, handler ports.MessageHandler) error

	mu       sync.Mutex
	sent     []sentMessage
	stopped  bool
	nextCard int
}

func newFakeAdapter(platform domain.Platform, cards bool) *fakeAdapter {
	return &fakeAdapter{platform: platform, cards: cards, started: make(chan struct{})}
}

func (a *fakeAdapter) Platform() domain.Platform { return a.platform }

func (a *fakeAdapter) Start(ctx context.Context, handler ports.MessageHandler) error {
	close(a.started)
	if a.run != nil {
		return a.run(ctx, handler)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (a *fakeAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	return nil
}

func (a *fakeAdapter) SendText(_ context.Context, chatID domain.ChatID, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMessage{chatID: chatID, text: text})
	return fmt.Sprintf("m%d", len(a.sent)), nil
}

func (a *fakeAdapter) SendCard(_ context.Context, chatID domain.ChatID, content, _ string) (*ports.CardHandle, error) {
	if !a.cards {
		return nil, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMessage{chatID: chatID, text: content, card: true})
	return &ports.CardHandle{ChatID: chatID, MessageID: fmt.Sprintf("%d", len(a.sent)-1)}, nil
}

func (a *fakeAdapter) UpdateCard(_ context.Context, handle ports.CardHandle, content, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var index int
	if _, err := fmt.Sscanf(handle.MessageID, "%d", &index); err != nil || index >= len(a.sent) {
		return fmt.Errorf("unknown card %q", handle.MessageID)
	}
	a.sent[index].text = content
	return nil
}

func (a *fakeAdapter) SendTyping(context.Context, domain.ChatID) error { return nil }

func (a *fakeAdapter) SupportsCardUpdate() bool { return a.cards }

func (a *fakeAdapter) texts(chatID domain.ChatID) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var texts []string
	for _, msg := range a.sent {
		if msg.chatID == chatID {
			texts = append(texts, msg.text)
		}
	}
	return texts
}

func (a *fakeAdapter) isStopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

func (a *fakeAdapter) waitForText(t *testing.T, chatID domain.ChatID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, text := range a.texts(chatID) {
			if text == want {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "never sent %q, got %q", want, a.texts(chatID))
}

func (a *fakeAdapter) waitForPrefix(t *testing.T, chatID domain.ChatID, prefix string) string {
	t.Helper()
	var found string
	require.Eventually(t, func() bool {
		for _, text := range a.texts(chatID) {
			if strings.HasPrefix(text, prefix) {
				found = text
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "never sent a message starting with %q, got %q", prefix, a.texts(chatID))
	return found
}
