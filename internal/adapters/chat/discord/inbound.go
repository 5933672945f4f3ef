package discord

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const maxImageBytes = 10 << 20

// toInbound applies the access policy and turns an accepted message into
// the gateway's form. Rejected messages are logged at debug.
func (a *Adapter) toInbound(ctx context.Context, m *discordgo.Message) (domain.InboundMessage, bool) {
	if m == nil || m.Author == nil {
		return domain.InboundMessage{}, false
	}

	botID, _ := a.botID.Load().(string)
	policy := a.Policy()
	logger := a.logger.With(
		zap.String("channel", m.ChannelID),
		zap.String("guild", m.GuildID),
		zap.String("user", m.Author.ID),
	)

	if m.Author.ID == botID {
		return domain.InboundMessage{}, false
	}
	if m.Author.Bot && !policy.AllowBots {
		logger.Debug("ignoring bot message")
		return domain.InboundMessage{}, false
	}

	kind := domain.ChatKindPrivate
	if m.GuildID == "" {
		if decision := policy.CheckDirect(m.Author.ID); !decision.Allowed {
			logger.Debug("direct message denied", zap.String("reason", decision.Reason))
			return domain.InboundMessage{}, false
		}
	} else {
		kind = domain.ChatKindGroup
		if decision := policy.CheckGuild(m.GuildID, m.ChannelID, m.Author.ID); !decision.Allowed {
			logger.Debug("guild message denied", zap.String("reason", decision.Reason))
			return domain.InboundMessage{}, false
		}
		if policy.RequireMention(m.GuildID, m.ChannelID) && !mentions(m, botID) {
			return domain.InboundMessage{}, false
		}
	}

	msg := domain.InboundMessage{
		Platform: Platform,
		ChatID:   domain.ChatID(m.ChannelID),
		ChatKind: kind,
		UserID:   m.Author.ID,
		Text:     stripMention(m.Content, botID),
		Images:   a.downloadImages(ctx, logger, m.Attachments),
	}
	if msg.NormalizedText() == "" && len(msg.Images) == 0 {
		return domain.InboundMessage{}, false
	}

	logger.Info("message accepted", zap.Int("text_len", len(msg.Text)), zap.Int("images", len(msg.Images)))
	return msg, true
}

func mentions(m *discordgo.Message, botID string) bool {
	if botID == "" {
		return false
	}
	for _, user := range m.Mentions {
		if user != nil && user.ID == botID {
			return true
		}
	}
	return strings.Contains(m.Content, "<@"+botID+">") || strings.Contains(m.Content, "<@!"+botID+">")
}

func stripMention(content, botID string) string {
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	return strings.TrimSpace(content)
}

func (a *Adapter) downloadImages(ctx context.Context, logger *zap.Logger, attachments []*discordgo.MessageAttachment) []domain.Image {
	var images []domain.Image
	for _, attachment := range attachments {
		if attachment == nil || !strings.HasPrefix(attachment.ContentType, "image/") {
			continue
		}
		if attachment.Size > maxImageBytes {
			logger.Warn("skipping oversized image", zap.String("file", attachment.Filename), zap.Int("size", attachment.Size))
			continue
		}

		image, err := a.fetchImage(ctx, attachment)
		if err != nil {
			logger.Warn("image download failed", zap.String("file", attachment.Filename), zap.Error(err))
			continue
		}
		images = append(images, image)
	}
	return images
}

func (a *Adapter) fetchImage(ctx context.Context, attachment *discordgo.MessageAttachment) (domain.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.URL, nil)
	if err != nil {
		return domain.Image{}, fmt.Errorf("build image request: %w", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return domain.Image{}, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Image{}, fmt.Errorf("download image: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return domain.Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return domain.Image{}, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	mimeType := attachment.ContentType
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		mimeType = sniffed
	}

	return domain.Image{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mimeType,
	}, nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// break after a newline in the second half of a chunk.
func splitMessage(text string, limit int) []string {
	if text == "" {
		return []string{""}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
