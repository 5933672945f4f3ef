package application

import (
	"fmt"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

const (
	msgThinking          = "🤔 Thinking..."
	msgNoResponse        = "(No response)"
	msgOperationCanceled = "⏹️ Operation cancelled"
	msgRefused           = "🚫 Operation cancelled"
	msgContinueHint      = "💬 You can continue the conversation"
	msgQueueFull         = "⚠️ Queue full (max %d)"
	msgQueued            = "📥 Queued #%d\n💡 Send 'cancel' to clear"
	msgCancelSent        = "⏹️ Cancel request sent"
	msgCleared           = "🗑️ Cleared %d queued message(s)"
	msgNoActiveSession   = "❌ No active session"
	msgAgentNotRunning   = "❌ Kiro is not running"
	msgNoSessionYet      = "❌ No session yet. Send a message first."
	msgReplyYNT          = "⚠️ Please reply y/n/t"
	msgPermissionTimeout = "⏱️ Timeout, auto-denied"
)

var toolKindIcons = map[domain.ToolKind]string{
	domain.ToolKindFS:       "📄",
	domain.ToolKindEdit:     "📝",
	domain.ToolKindTerminal: "⚡",
	domain.ToolKindOther:    "🔧",
}

// FormatResponse renders a prompt result for a chat: one line per tool call,
// a blank line, then the agent's text.
func FormatResponse(result domain.PromptResult) string {
	var parts []string

	for _, call := range result.ToolCalls {
		icon, ok := toolKindIcons[call.Kind]
		if !ok {
			icon = toolKindIcons[domain.ToolKindOther]
		}
		parts = append(parts, fmt.Sprintf("%s %s %s", icon, call.Title, toolStatusIcon(call, result.Refused())))
	}
	if len(parts) > 0 {
		parts = append(parts, "")
	}

	switch {
	case result.Refused():
		if result.Text != "" {
			parts = append(parts, result.Text)
		} else {
			parts = append(parts, msgRefused)
		}
		parts = append(parts, "", msgContinueHint)
	case result.Text != "":
		parts = append(parts, result.Text)
	}

	if len(parts) == 0 {
		return msgNoResponse
	}
	return strings.Join(parts, "\n")
}

func toolStatusIcon(call domain.ToolCall, refused bool) string {
	if refused && call.Status != domain.ToolCallCompleted {
		return "🚫"
	}
	switch call.Status {
	case domain.ToolCallCompleted:
		return "✅"
	case domain.ToolCallFailed:
		return "❌"
	default:
		return "⏳"
	}
}

func formatError(err error) string {
	if strings.Contains(strings.ToLower(err.Error()), "cancelled") {
		return msgOperationCanceled
	}
	return "❌ Error: " + err.Error()
}

func formatPermissionPrompt(title string, timeoutSeconds int) string {
	return fmt.Sprintf("🔐 **Kiro requests permission:**\n\n📋 %s\n\nReply: **y**(allow) / **n**(deny) / **t**(trust)\n⏱️ Auto-deny in %ds", title, timeoutSeconds)
}

func formatCancelled(dropped int, cancelSent bool) string {
	cleared := fmt.Sprintf(msgCleared, dropped)
	if !cancelSent {
		return cleared
	}
	if dropped == 0 {
		return msgCancelSent
	}
	return msgCancelSent + "\n" + cleared
}
