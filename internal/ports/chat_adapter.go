package ports

import (
	"context"
	"errors"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

// CardHandle points at a previously sent card so it can be edited in place.
type CardHandle struct {
	ChatID    domain.ChatID
	MessageID string
}

// ErrInputClosed is returned by Start when an adapter has no more input to
// deliver. The gateway finishes the work already accepted before it stops.
var ErrInputClosed = errors.New("chat input closed")

type MessageHandler func(ctx context.Context, msg domain.InboundMessage)

// ChatAdapter is one chat platform connection. Start blocks until ctx is
// cancelled or the connection fails, delivering every accepted message to
// the handler.
type ChatAdapter interface {
	Platform() domain.Platform
	Start(ctx context.Context, handler MessageHandler) error
	Stop() error

	SendText(ctx context.Context, chatID domain.ChatID, text string) (string, error)
	// SendCard returns a nil handle when the platform has no card support.
	SendCard(ctx context.Context, chatID domain.ChatID, content, title string) (*CardHandle, error)
	UpdateCard(ctx context.Context, handle CardHandle, content, title string) error
	SendTyping(ctx context.Context, chatID domain.ChatID) error
	SupportsCardUpdate() bool
}
