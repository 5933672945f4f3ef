package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/adapters/agent/acp"
	consoleadapter "github.com/bnema/kiro-chat-gateway/internal/adapters/chat/console"
	discordadapter "github.com/bnema/kiro-chat-gateway/internal/adapters/chat/discord"
	tomlrepo "github.com/bnema/kiro-chat-gateway/internal/adapters/repo/toml"
	chainstore "github.com/bnema/kiro-chat-gateway/internal/adapters/secrets/chain"
	"github.com/bnema/kiro-chat-gateway/internal/application"
	"github.com/bnema/kiro-chat-gateway/internal/config"
	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/logging"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"github.com/bnema/kiro-chat-gateway/internal/version"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	clientName   = "kiro-chat-gateway"
	consoleWidth = 100
)

type app struct {
	cfg    config.Config
	logger *zap.Logger
	level  zap.AtomicLevel
}

func (a *app) load(configPath, logLevel string) error {
	cfg, err := config.Load(viper.New(), configPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(logLevel) != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(logLevel))
	}
	if err := cfg.Validate(false); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, level, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.level = level
	a.logger.Debug("configuration loaded", zap.String("file", cfg.File))
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) secretStore() (ports.SecretStore, error) {
	aliases := map[string]string{a.cfg.Discord.TokenSecret: "DISCORD_BOT_TOKEN"}
	store, err := chainstore.NewNamed(a.cfg.Secrets.Backends, a.cfg.Secrets.Dir, aliases)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}
	return store, nil
}

func (a *app) policyRepository() (*tomlrepo.PolicyRepository, error) {
	repo, err := tomlrepo.NewPolicyRepository(a.cfg.Discord.PolicyFile, a.logger)
	if err != nil {
		return nil, fmt.Errorf("wire policy repository: %w", err)
	}
	return repo, nil
}

func (a *app) policyFallback() application.PolicyFallback {
	return application.PolicyFallback{
		AdminUserIDs:   a.cfg.Discord.AdminUserIDs,
		GuildIDs:       a.cfg.Discord.GuildIDs,
		RequireMention: a.cfg.Discord.RequireMention,
	}
}

func (a *app) workspaces() application.WorkspaceLayout {
	return application.WorkspaceLayout{
		Default: application.PlatformWorkspace{
			Cwd:  a.cfg.Agent.DefaultCwd,
			Mode: domain.WorkspaceMode(a.cfg.Agent.WorkspaceMode),
		},
		Platforms: map[domain.Platform]application.PlatformWorkspace{
			discordadapter.Platform: {
				Cwd:  a.cfg.Discord.Cwd,
				Mode: domain.WorkspaceMode(a.cfg.Discord.WorkspaceMode),
			},
			consoleadapter.Platform: {
				Cwd:  a.cfg.Console.Cwd,
				Mode: domain.WorkspaceMode(a.cfg.Console.WorkspaceMode),
			},
		},
	}
}

func (a *app) agentFactory() ports.AgentFactory {
	return acp.NewFactory(acp.Options{
		Command:          a.cfg.Agent.Path,
		Args:             a.cfg.Agent.Args,
		HandshakeTimeout: a.cfg.Agent.HandshakeTimeout,
		PromptTimeout:    a.cfg.Agent.PromptTimeout,
		ClientName:       clientName,
		ClientVersion:    version.Version,
		Logger:           a.logger,
	})
}

func (a *app) discordToken(ctx context.Context) (string, error) {
	if token := strings.TrimSpace(a.cfg.Discord.BotToken); token != "" {
		return token, nil
	}

	store, err := a.secretStore()
	if err != nil {
		return "", err
	}
	token, err := store.Get(ctx, a.cfg.Discord.TokenSecret)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return "", fmt.Errorf("discord bot token not configured: set discord.bot_token or run `kgw secret set %s`", a.cfg.Discord.TokenSecret)
		}
		return "", fmt.Errorf("resolve discord bot token: %w", err)
	}
	return token, nil
}

// serve wires the enabled adapters into a gateway and runs it until ctx is
// done. Console EOF ends the run cleanly.
func (a *app) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var adapters []ports.ChatAdapter
	var background []func(context.Context) error

	if a.cfg.Discord.Enabled {
		discord, follow, err := a.wireDiscord(ctx)
		if err != nil {
			return err
		}
		adapters = append(adapters, discord)
		background = append(background, follow)
	}
	if a.cfg.Console.Enabled {
		adapters = append(adapters, consoleadapter.New(consoleadapter.Options{
			In:     in,
			Out:    out,
			Width:  consoleWidth,
			Logger: a.logger,
		}))
	}

	gateway := application.NewGateway(a.agentFactory(), adapters, application.Options{
		Workspaces:  a.workspaces(),
		IdleTimeout: a.cfg.Agent.IdleTimeout,
		Logger:      a.logger,
	})

	backgroundErrs := make(chan error, len(background))
	for _, run := range background {
		go func() { backgroundErrs <- run(ctx) }()
	}

	err := gateway.Run(ctx)
	cancel()
	for range background {
		if bgErr := <-backgroundErrs; bgErr != nil && err == nil {
			err = bgErr
		}
	}

	if errors.Is(err, consoleadapter.ErrInputClosed) {
		return nil
	}
	return err
}

func (a *app) wireDiscord(ctx context.Context) (ports.ChatAdapter, func(context.Context) error, error) {
	token, err := a.discordToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	repo, err := a.policyRepository()
	if err != nil {
		return nil, nil, err
	}
	fallback := a.policyFallback()
	policy, source, err := application.ResolveAccessPolicy(ctx, repo, fallback)
	if err != nil {
		return nil, nil, err
	}
	a.logger.Info("discord access policy loaded", zap.String("source", string(source)), zap.String("file", repo.Path()))

	discord, err := discordadapter.New(discordadapter.Options{
		Token:  token,
		Policy: policy,
		Logger: a.logger,
	})
	if err != nil {
		return nil, nil, err
	}

	follow := func(ctx context.Context) error {
		return application.FollowAccessPolicy(ctx, repo, fallback, discord.SetPolicy, a.logger)
	}
	return discord, follow, nil
}
