package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	Platform domain.Platform = "discord"

	maxMessageRunes = 2000
	maxEmbedRunes   = 4096
	cardColor       = 0x5865F2
	downloadTimeout = 30 * time.Second
	intents         = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
)

var errAlreadyStarted = errors.New("discord adapter already started")

// session is the part of *discordgo.Session the adapter uses.
type session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

type Options struct {
	Token      string
	Policy     domain.AccessPolicy
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Adapter connects one Discord bot to the gateway.
type Adapter struct {
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	policy     atomic.Pointer[domain.AccessPolicy]
	botID      atomic.Value

	newSession func(token string) (session, error)

	mu      sync.Mutex
	session session
	started bool
}

var _ ports.ChatAdapter = (*Adapter)(nil)

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("discord bot token is empty")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: downloadTimeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	adapter := &Adapter{
		token:      strings.TrimSpace(opts.Token),
		httpClient: opts.HTTPClient,
		logger:     opts.Logger.Named("discord"),
		newSession: openSession,
	}
	adapter.SetPolicy(opts.Policy)
	adapter.botID.Store("")
	return adapter, nil
}

func openSession(token string) (session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = intents
	return dg, nil
}

func (a *Adapter) Platform() domain.Platform {
	return Platform
}

// SetPolicy replaces the access policy used for subsequent messages.
func (a *Adapter) SetPolicy(policy domain.AccessPolicy) {
	policy = policy.Normalize()
	a.policy.Store(&policy)
}

func (a *Adapter) Policy() domain.AccessPolicy {
	return *a.policy.Load()
}

func (a *Adapter) Start(ctx context.Context, handler ports.MessageHandler) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errAlreadyStarted
	}
	s, err := a.newSession(a.token)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.session = s
	a.started = true
	a.mu.Unlock()

	s.AddHandler(func(_ *discordgo.Session, ready *discordgo.Ready) {
		if ready.User == nil {
			return
		}
		a.botID.Store(ready.User.ID)
		a.logger.Info("connected", zap.String("user", ready.User.Username), zap.String("bot_id", ready.User.ID))
	})
	s.AddHandler(func(_ *discordgo.Session, event *discordgo.MessageCreate) {
		msg, ok := a.toInbound(ctx, event.Message)
		if !ok {
			return
		}
		handler(ctx, msg)
	})

	if err := s.Open(); err != nil {
		a.mu.Lock()
		a.session = nil
		a.mu.Unlock()
		return fmt.Errorf("open discord gateway: %w", err)
	}
	a.logger.Info("adapter started")

	<-ctx.Done()
	return a.Stop()
}

func (a *Adapter) Stop() error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s == nil {
		return nil
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	a.logger.Info("adapter stopped")
	return nil
}

func (a *Adapter) current() (session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session == nil {
		return nil, errors.New("discord adapter is not running")
	}
	return a.session, nil
}

// SendText splits text into Discord sized messages and returns the id of
// the last one.
func (a *Adapter) SendText(ctx context.Context, chatID domain.ChatID, text string) (string, error) {
	s, err := a.current()
	if err != nil {
		return "", err
	}

	var lastID string
	for _, chunk := range splitMessage(text, maxMessageRunes) {
		msg, err := s.ChannelMessageSend(string(chatID), chunk, discordgo.WithContext(ctx))
		if err != nil {
			return lastID, fmt.Errorf("send discord message: %w", err)
		}
		lastID = msg.ID
	}
	return lastID, nil
}

func sendChunks(ctx context.Context, s session, chatID domain.ChatID, chunks []string) error {
	for _, chunk := range chunks {
		if _, err := s.ChannelMessageSend(string(chatID), chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send discord card overflow: %w", err)
		}
	}
	return nil
}

func (a *Adapter) SendCard(ctx context.Context, chatID domain.ChatID, content, title string) (*ports.CardHandle, error) {
	s, err := a.current()
	if err != nil {
		return nil, err
	}

	head, rest := splitCard(content)
	msg, err := s.ChannelMessageSendEmbed(string(chatID), buildEmbed(head, title), discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("send discord embed: %w", err)
	}
	if err := sendChunks(ctx, s, chatID, rest); err != nil {
		return nil, err
	}
	return &ports.CardHandle{ChatID: chatID, MessageID: msg.ID}, nil
}

// UpdateCard edits the embed in place. Content past the embed limit follows
// as plain messages.
func (a *Adapter) UpdateCard(ctx context.Context, handle ports.CardHandle, content, title string) error {
	s, err := a.current()
	if err != nil {
		return err
	}

	head, rest := splitCard(content)
	_, err = s.ChannelMessageEditEmbed(string(handle.ChatID), handle.MessageID, buildEmbed(head, title), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("edit discord embed: %w", err)
	}
	return sendChunks(ctx, s, handle.ChatID, rest)
}

func (a *Adapter) SendTyping(ctx context.Context, chatID domain.ChatID) error {
	s, err := a.current()
	if err != nil {
		return err
	}

	if err := s.ChannelTyping(string(chatID), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send discord typing: %w", err)
	}
	return nil
}

func (a *Adapter) SupportsCardUpdate() bool {
	return true
}

func buildEmbed(content, title string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: content,
		Color:       cardColor,
	}
}

// splitCard returns what fits in one embed and the remainder cut into
// message sized chunks.
func splitCard(content string) (string, []string) {
	chunks := splitMessage(content, maxEmbedRunes)
	if len(chunks) == 1 {
		return chunks[0], nil
	}
	return chunks[0], splitMessage(strings.Join(chunks[1:], ""), maxMessageRunes)
}
