package application

import (
	"path/filepath"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

type PlatformWorkspace struct {
	Cwd  string
	Mode domain.WorkspaceMode
}

// WorkspaceLayout resolves agent and session directories. Platform entries
// override Default field by field.
type WorkspaceLayout struct {
	Default   PlatformWorkspace
	Platforms map[domain.Platform]PlatformWorkspace
}

func (l WorkspaceLayout) For(platform domain.Platform) PlatformWorkspace {
	resolved := l.Default
	if override, ok := l.Platforms[platform]; ok {
		if strings.TrimSpace(override.Cwd) != "" {
			resolved.Cwd = override.Cwd
		}
		if override.Mode.Valid() {
			resolved.Mode = override.Mode
		}
	}
	if !resolved.Mode.Valid() {
		resolved.Mode = domain.WorkspacePerChat
	}
	return resolved
}

// AgentCwd is the directory the platform's agent starts in. Per chat layouts
// start the agent without one so it picks up its global configuration.
func (l WorkspaceLayout) AgentCwd(platform domain.Platform) string {
	workspace := l.For(platform)
	if workspace.Mode == domain.WorkspacePerChat {
		return ""
	}
	return workspace.Cwd
}

func (l WorkspaceLayout) SessionCwd(key domain.ChatKey) string {
	workspace := l.For(key.Platform)
	if workspace.Mode == domain.WorkspacePerChat {
		return filepath.Join(workspace.Cwd, domain.SanitizePathSegment(key.ChatID))
	}
	return workspace.Cwd
}
