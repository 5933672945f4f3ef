package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"go.uber.org/zap"
)

var errNoSessionID = errors.New("agent returned no session id")

func (c *Client) NewSession(ctx context.Context, cwd string) (domain.SessionInfo, error) {
	raw, err := c.call(ctx, methodSessionNew, sessionNewParams{Cwd: cwd, MCPServers: []any{}}, c.opts.RequestTimeout)
	if err != nil {
		return domain.SessionInfo{}, fmt.Errorf("new session: %w", err)
	}

	var result sessionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return domain.SessionInfo{}, fmt.Errorf("decode session/new result: %w", err)
	}
	if result.SessionID == "" {
		return domain.SessionInfo{}, fmt.Errorf("new session: %w", errNoSessionID)
	}

	info := domain.SessionInfo{
		ID:     result.SessionID,
		Modes:  result.Modes.toDomain(),
		Models: result.Models.toDomain(),
	}

	c.mu.Lock()
	c.modes[info.ID] = info.Modes
	c.models[info.ID] = info.Models
	c.mu.Unlock()

	c.logger.Info("session created",
		zap.String("session_id", info.ID),
		zap.String("cwd", cwd),
		zap.String("mode", info.Modes.CurrentModeID),
		zap.String("model", info.Models.CurrentModelID),
	)
	return info, nil
}

func (c *Client) LoadSession(ctx context.Context, sessionID, cwd string) error {
	raw, err := c.call(ctx, methodSessionLoad, sessionLoadParams{
		SessionID:  sessionID,
		Cwd:        cwd,
		MCPServers: []any{},
	}, c.opts.RequestTimeout)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var result sessionResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			c.logger.Debug("ignoring undecodable session/load result", zap.Error(err))
		}
	}

	c.mu.Lock()
	if result.Modes != nil {
		c.modes[sessionID] = result.Modes.toDomain()
	}
	if result.Models != nil {
		c.models[sessionID] = result.Models.toDomain()
	}
	c.mu.Unlock()

	c.logger.Info("session loaded", zap.String("session_id", sessionID))
	return nil
}

func (c *Client) SetMode(ctx context.Context, sessionID, modeID string) error {
	if _, err := c.call(ctx, methodSessionSetMode, setModeParams{SessionID: sessionID, ModeID: modeID}, controlTimeout); err != nil {
		return fmt.Errorf("set mode %s: %w", modeID, err)
	}

	c.mu.Lock()
	if state, ok := c.modes[sessionID]; ok {
		state.CurrentModeID = modeID
		c.modes[sessionID] = state
	}
	c.mu.Unlock()

	c.logger.Info("mode switched", zap.String("session_id", sessionID), zap.String("mode", modeID))
	return nil
}

func (c *Client) SetModel(ctx context.Context, sessionID, modelID string) error {
	if _, err := c.call(ctx, methodSessionSetModel, setModelParams{SessionID: sessionID, ModelID: modelID}, controlTimeout); err != nil {
		return fmt.Errorf("set model %s: %w", modelID, err)
	}

	c.mu.Lock()
	if state, ok := c.models[sessionID]; ok {
		state.CurrentModelID = modelID
		c.models[sessionID] = state
	}
	c.mu.Unlock()

	c.logger.Info("model switched", zap.String("session_id", sessionID), zap.String("model", modelID))
	return nil
}

func (c *Client) Modes(sessionID string) (domain.ModeState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.modes[sessionID]
	state.Available = slices.Clone(state.Available)
	return state, ok
}

func (c *Client) Models(sessionID string) (domain.ModelState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.models[sessionID]
	state.Available = slices.Clone(state.Available)
	return state, ok
}

func (c *Client) AvailableCommands(sessionID string) []domain.AgentCommand {
	c.mu.Lock()
	defer c.mu.Unlock()

	return slices.Clone(c.commands[sessionID])
}

// CommandOptions asks the agent to complete a partial slash command. Failures
// yield no options.
func (c *Client) CommandOptions(ctx context.Context, sessionID, partial string) []string {
	raw, err := c.call(ctx, methodCommandOptions, commandOptionsParams{
		SessionID:      sessionID,
		PartialCommand: partial,
	}, commandOptionsLimit)
	if err != nil {
		c.logger.Warn("fetch command options", zap.String("partial", partial), zap.Error(err))
		return nil
	}

	var result commandOptionsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("decode command options", zap.Error(err))
		return nil
	}

	options := make([]string, 0, len(result.Options))
	for _, opt := range result.Options {
		if opt.Name != "" {
			options = append(options, opt.Name)
		}
	}
	return options
}

// Prompt submits text and images to a session and blocks until the agent
// ends its turn. Updates received meanwhile are folded into the result.
func (c *Client) Prompt(ctx context.Context, sessionID, text string, images []domain.Image) (domain.PromptResult, error) {
	id := c.nextID.Add(1)

	c.mu.Lock()
	c.updates[sessionID] = []json.RawMessage{}
	c.active[sessionID] = id
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.active[sessionID] == id {
			delete(c.active, sessionID)
		}
		c.mu.Unlock()
	}()

	raw, err := c.callWithID(ctx, id, methodSessionPrompt, promptParams{
		SessionID: sessionID,
		Prompt:    buildPrompt(text, images),
	}, c.opts.PromptTimeout)
	updates := c.drainUpdates(sessionID)
	if err != nil {
		return domain.PromptResult{}, fmt.Errorf("prompt session %s: %w", sessionID, err)
	}

	var reply promptResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &reply); err != nil {
			c.logger.Debug("ignoring undecodable prompt result", zap.Error(err))
		}
	}

	result := foldUpdates(updates)
	result.StopReason = domain.StopReason(reply.StopReason)
	return result, nil
}

// Cancel asks the agent to abandon the prompt running in a session. Without
// an active prompt it does nothing.
func (c *Client) Cancel(_ context.Context, sessionID string) error {
	c.mu.Lock()
	_, active := c.active[sessionID]
	c.mu.Unlock()

	if !active {
		c.logger.Warn("no active prompt to cancel", zap.String("session_id", sessionID))
		return nil
	}

	c.logger.Info("cancelling prompt", zap.String("session_id", sessionID))
	if err := c.notify(methodSessionCancel, cancelParams{SessionID: sessionID}); err != nil {
		return fmt.Errorf("cancel session %s: %w", sessionID, err)
	}
	return nil
}

func (c *Client) drainUpdates(sessionID string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	updates := c.updates[sessionID]
	delete(c.updates, sessionID)
	return updates
}

// buildPrompt puts images first. Image-only prompts carry a "?" text block
// since the agent rejects prompts without text.
func buildPrompt(text string, images []domain.Image) []contentBlock {
	blocks := make([]contentBlock, 0, len(images)+1)
	for _, image := range images {
		blocks = append(blocks, imageBlock(image))
	}

	switch {
	case text != "":
		blocks = append(blocks, textBlock(text))
	case len(images) > 0:
		blocks = append(blocks, textBlock("?"))
	default:
		blocks = append(blocks, textBlock(""))
	}
	return blocks
}

func foldUpdates(updates []json.RawMessage) domain.PromptResult {
	var text strings.Builder
	var calls []domain.ToolCall
	index := make(map[string]int)

	for _, raw := range updates {
		var update sessionUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			continue
		}

		switch update.SessionUpdate {
		case updateAgentMessageChunk:
			var block contentBlock
			if err := json.Unmarshal(update.Content, &block); err == nil && block.Type == "text" && block.Text != nil {
				text.WriteString(*block.Text)
			}

		case updateToolCall:
			status := domain.ToolCallStatus(update.Status)
			if status == "" {
				status = domain.ToolCallPending
			}
			call := domain.ToolCall{
				ID:     update.ToolCallID,
				Title:  update.Title,
				Kind:   domain.ToolKind(update.Kind),
				Status: status,
			}
			if i, ok := index[call.ID]; ok {
				calls[i] = call
				continue
			}
			index[call.ID] = len(calls)
			calls = append(calls, call)

		case updateToolCallUpdate:
			i, ok := index[update.ToolCallID]
			if !ok {
				continue
			}
			if update.Status != "" {
				calls[i].Status = domain.ToolCallStatus(update.Status)
			}
			if update.Title != "" {
				calls[i].Title = update.Title
			}
			if content := toolContentText(update.Content); content != "" {
				calls[i].Content = content
			}
		}
	}

	return domain.PromptResult{Text: text.String(), ToolCalls: calls}
}

func toolContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var items []toolCallContent
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}

	var text string
	for _, item := range items {
		var block contentBlock
		if err := json.Unmarshal(item.Content, &block); err == nil && block.Type == "text" && block.Text != nil {
			text = *block.Text
		}
	}
	return text
}
