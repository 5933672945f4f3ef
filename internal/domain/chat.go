package domain

import "strings"

type Platform string
type ChatID string
type ChatKind string

const (
	ChatKindPrivate ChatKind = "private"
	ChatKindGroup   ChatKind = "group"
)

// ChatKey identifies one conversation thread across every platform.
type ChatKey struct {
	Platform Platform
	ChatID   ChatID
}

func NewChatKey(platform Platform, chatID ChatID) ChatKey {
	return ChatKey{Platform: platform, ChatID: chatID}
}

func (k ChatKey) String() string {
	return string(k.Platform) + ":" + string(k.ChatID)
}

// Image is an inline prompt attachment carried as base64 data.
type Image struct {
	Data     string
	MIMEType string
}

type InboundMessage struct {
	Platform Platform
	ChatID   ChatID
	ChatKind ChatKind
	UserID   string
	Text     string
	Images   []Image
}

func (m InboundMessage) Key() ChatKey {
	return NewChatKey(m.Platform, m.ChatID)
}

func (m InboundMessage) NormalizedText() string {
	return strings.TrimSpace(m.Text)
}

// ChatContext binds a chat to the agent session serving it. SessionID is
// empty until the first session is created and after every invalidation.
type ChatContext struct {
	Key       ChatKey
	SessionID string
}

func (c ChatContext) HasSession() bool {
	return strings.TrimSpace(c.SessionID) != ""
}
