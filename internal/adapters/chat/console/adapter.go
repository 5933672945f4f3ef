package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bnema/kiro-chat-gateway/internal/adapters/render/card"
	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	Platform      domain.Platform = "console"
	DefaultChatID domain.ChatID   = "local"
	localUser                     = "local"

	// maxCards bounds how many card titles are remembered for updates.
	maxCards = 64
)

// ErrInputClosed is returned by Start when the input reaches EOF.
var ErrInputClosed = ports.ErrInputClosed

type Options struct {
	In     io.Reader
	Out    io.Writer
	ChatID domain.ChatID
	Width  int
	// Plain disables colors, for pipes and tests.
	Plain  bool
	Logger *zap.Logger
}

// Adapter is a single local chat on a terminal: every input line is one
// message, replies and cards are printed as they arrive.
type Adapter struct {
	in     io.Reader
	chatID domain.ChatID
	render card.RenderOptions
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer
	// cards remembers titles so an update without one keeps the original.
	// cardOrder evicts the oldest entry once maxCards is reached.
	cards     map[string]string
	cardOrder []string
}

var _ ports.ChatAdapter = (*Adapter)(nil)

func New(opts Options) *Adapter {
	if opts.ChatID == "" {
		opts.ChatID = DefaultChatID
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	return &Adapter{
		in:     opts.In,
		out:    opts.Out,
		chatID: opts.ChatID,
		render: card.RenderOptions{Width: opts.Width, Plain: opts.Plain},
		logger: opts.Logger.Named("console"),
		cards:  make(map[string]string),
	}
}

func (a *Adapter) Platform() domain.Platform {
	return Platform
}

func (a *Adapter) Start(ctx context.Context, handler ports.MessageHandler) error {
	if a.in == nil {
		return errors.New("console adapter has no input")
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(a.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	a.logger.Info("adapter started", zap.String("chat", string(a.chatID)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read console input: %w", err)
			}
			return ErrInputClosed
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			handler(ctx, domain.InboundMessage{
				Platform: Platform,
				ChatID:   a.chatID,
				ChatKind: domain.ChatKindPrivate,
				UserID:   localUser,
				Text:     line,
			})
		}
	}
}

func (a *Adapter) Stop() error {
	a.logger.Info("adapter stopped")
	return nil
}

func (a *Adapter) SendText(_ context.Context, chatID domain.ChatID, text string) (string, error) {
	id := uuid.NewString()
	if err := a.print(text + "\n"); err != nil {
		return "", err
	}
	a.logger.Debug("text sent", zap.String("chat", string(chatID)), zap.String("id", id))
	return id, nil
}

func (a *Adapter) SendCard(_ context.Context, chatID domain.ChatID, content, title string) (*ports.CardHandle, error) {
	id := uuid.NewString()

	a.rememberCard(id, title)

	if err := a.printCard(chatID, content, title); err != nil {
		return nil, err
	}
	return &ports.CardHandle{ChatID: chatID, MessageID: id}, nil
}

// UpdateCard prints the new version of the card below the old one.
func (a *Adapter) UpdateCard(_ context.Context, handle ports.CardHandle, content, title string) error {
	a.mu.Lock()
	known, ok := a.cards[handle.MessageID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown card %q", handle.MessageID)
	}
	if title == "" {
		title = known
	}

	return a.printCard(handle.ChatID, content, title)
}

func (a *Adapter) rememberCard(id, title string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.cardOrder) >= maxCards {
		delete(a.cards, a.cardOrder[0])
		a.cardOrder = a.cardOrder[1:]
	}
	a.cards[id] = title
	a.cardOrder = append(a.cardOrder, id)
}

func (a *Adapter) SendTyping(context.Context, domain.ChatID) error {
	return nil
}

func (a *Adapter) SupportsCardUpdate() bool {
	return true
}

func (a *Adapter) printCard(chatID domain.ChatID, content, title string) error {
	rendered, err := card.Render(card.Card{
		Title:   title,
		Meta:    domain.NewChatKey(Platform, chatID).String(),
		Content: content,
	}, a.render)
	if err != nil {
		return fmt.Errorf("render card: %w", err)
	}
	return a.print(rendered + "\n")
}

func (a *Adapter) print(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := io.WriteString(a.out, text); err != nil {
		return fmt.Errorf("write console output: %w", err)
	}
	return nil
}
