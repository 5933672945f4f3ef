package domain

import (
	"strings"
	"unicode"
)

type WorkspaceMode string

const (
	WorkspaceFixed   WorkspaceMode = "fixed"
	WorkspacePerChat WorkspaceMode = "per_chat"
)

func (m WorkspaceMode) Valid() bool {
	switch m {
	case WorkspaceFixed, WorkspacePerChat:
		return true
	default:
		return false
	}
}

// ParseWorkspaceMode returns fallback for empty or unknown values.
func ParseWorkspaceMode(value string, fallback WorkspaceMode) WorkspaceMode {
	mode := WorkspaceMode(strings.ToLower(strings.TrimSpace(value)))
	if mode.Valid() {
		return mode
	}
	return fallback
}

// SanitizePathSegment turns a chat id into a single directory name. Anything
// other than letters, digits, '-' and '_' becomes '_'.
func SanitizePathSegment(chatID ChatID) string {
	var b strings.Builder
	b.Grow(len(chatID))
	for _, r := range string(chatID) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
