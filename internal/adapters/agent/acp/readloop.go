package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"go.uber.org/zap"
)

const (
	maxFrameSize   = 4 << 20
	readBufferSize = 64 << 10
	maxLoggedFrame = 500
)

var errFrameTooLarge = errors.New("frame exceeds size limit")

func (c *Client) readLoop(stdout *os.File) {
	defer c.readers.Done()
	defer close(c.readDone)
	defer stdout.Close()

	reader := bufio.NewReaderSize(stdout, readBufferSize)
	for {
		frame, err := readFrame(reader, maxFrameSize)
		if errors.Is(err, errFrameTooLarge) {
			c.logger.Warn("skipping oversized frame", zap.Int("limit", maxFrameSize))
			continue
		}
		if line := bytes.TrimSpace(frame); len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.logger.Error("read agent stdout", zap.Error(err))
			}
			break
		}
	}

	c.logger.Info("read loop exited")
	c.markStopped(&domain.TransportError{Op: "read", Err: io.EOF})
}

// readFrame returns the next newline terminated frame. Frames longer than
// limit are consumed and reported as errFrameTooLarge.
func readFrame(r *bufio.Reader, limit int) ([]byte, error) {
	var frame []byte
	oversized := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversized {
			if len(frame)+len(chunk) > limit {
				oversized = true
				frame = nil
			} else {
				frame = append(frame, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if oversized {
			if err != nil {
				return nil, err
			}
			return nil, errFrameTooLarge
		}
		return frame, err
	}
}

func (c *Client) logStderr(stderr *os.File) {
	defer c.readers.Done()
	defer stderr.Close()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, readBufferSize), maxFrameSize)
	for scanner.Scan() {
		c.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
}

func (c *Client) handleLine(line []byte) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("skipping malformed frame",
			zap.Error(err),
			zap.ByteString("frame", truncate(line, 200)),
		)
		return
	}
	c.logger.Debug("<<<", zap.ByteString("frame", truncate(line, maxLoggedFrame)))

	switch {
	case msg.isResponse():
		c.resolve(msg)
	case msg.isServerRequest():
		c.dispatchServerRequest(msg)
	case msg.isNotification():
		c.handleNotification(msg)
	default:
		c.logger.Debug("ignoring frame without method or id")
	}
}

func (c *Client) resolve(msg wireMessage) {
	id, err := strconv.ParseInt(string(msg.ID), 10, 64)
	if err != nil {
		c.logger.Debug("dropping response with foreign id", zap.ByteString("id", msg.ID))
		return
	}

	c.mu.Lock()
	reply, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping response for unknown request", zap.Int64("id", id))
		return
	}
	if msg.Error != nil {
		reply <- rpcReply{err: msg.Error.toDomain()}
		return
	}
	reply <- rpcReply{result: msg.Result}
}

// dispatchServerRequest answers agent initiated requests off the read loop.
func (c *Client) dispatchServerRequest(msg wireMessage) {
	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()

		switch msg.Method {
		case methodRequestPermission:
			c.handlePermission(msg.ID, msg.Params)
		default:
			c.logger.Warn("unsupported agent request", zap.String("method", msg.Method))
			err := c.write(wireResponse{
				JSONRPC: jsonrpcVersion,
				ID:      msg.ID,
				Error:   &wireError{Code: codeMethodNotFound, Message: "method not found: " + msg.Method},
			})
			if err != nil {
				c.logger.Warn("reply to agent request", zap.Error(err))
			}
		}
	}()
}

func (c *Client) handleNotification(msg wireMessage) {
	switch msg.Method {
	case methodSessionUpdate:
		var params sessionUpdateParams
		if err := json.Unmarshal(msg.Params, &params); err != nil || params.SessionID == "" {
			c.logger.Debug("ignoring malformed session update", zap.Error(err))
			return
		}
		c.mu.Lock()
		if log, ok := c.updates[params.SessionID]; ok {
			c.updates[params.SessionID] = append(log, params.Update)
		}
		c.mu.Unlock()

	case methodCommandsAvailable:
		var params commandsAvailableParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Debug("ignoring malformed command catalog", zap.Error(err))
			return
		}
		if params.SessionID == "" || len(params.Commands) == 0 {
			return
		}
		commands := make([]domain.AgentCommand, 0, len(params.Commands))
		for _, cmd := range params.Commands {
			commands = append(commands, domain.AgentCommand{Name: cmd.Name, Description: cmd.Description})
		}
		c.mu.Lock()
		c.commands[params.SessionID] = commands
		c.mu.Unlock()
		c.logger.Info("received command catalog",
			zap.String("session_id", params.SessionID),
			zap.Int("commands", len(commands)),
		)

	default:
		c.logger.Debug("ignoring notification", zap.String("method", msg.Method))
	}
}

func (c *Client) handlePermission(id json.RawMessage, raw json.RawMessage) {
	var params permissionParams
	if err := json.Unmarshal(raw, &params); err != nil {
		c.logger.Warn("malformed permission request, denying", zap.Error(err))
		c.respondPermission(id, nil, domain.DecisionDeny)
		return
	}

	title := params.ToolCall.Title
	if title == "" {
		title = "Unknown operation"
	}
	req := domain.PermissionRequest{
		SessionID:  params.SessionID,
		ToolCallID: params.ToolCall.ToolCallID,
		Title:      title,
	}
	for _, opt := range params.Options {
		req.Options = append(req.Options, domain.PermissionOption{ID: opt.OptionID, Name: opt.Name, Kind: opt.Kind})
	}

	c.mu.Lock()
	handler := c.onPermission
	ctx := c.lifetime
	c.mu.Unlock()

	if handler == nil {
		c.logger.Info("no permission handler, approving once", zap.String("title", title))
		c.respondPermission(id, params.Options, domain.DecisionAllowOnce)
		return
	}

	decision := c.askPermission(ctx, handler, req)
	if decision == domain.DecisionNone {
		c.logger.Warn("permission unanswered, denying", zap.String("title", title))
		decision = domain.DecisionDeny
	}
	c.respondPermission(id, params.Options, decision)
}

func (c *Client) askPermission(ctx context.Context, handler ports.PermissionHandler, req domain.PermissionRequest) (decision domain.Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("permission handler panicked", zap.Any("panic", r))
			decision = domain.DecisionDeny
		}
	}()
	return handler(ctx, req)
}

func (c *Client) respondPermission(id json.RawMessage, options []permissionOption, decision domain.Decision) {
	outcome := permissionOutcome{Outcome: outcomeCancelled}
	if decision.Allows() {
		outcome = permissionOutcome{Outcome: outcomeSelected, OptionID: selectOption(options, decision)}
	}

	err := c.write(wireResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Result:  permissionResult{Outcome: outcome},
	})
	if err != nil {
		c.logger.Warn("send permission response", zap.Error(err))
	}
}

// selectOption maps a decision onto an offered option id, matching ids
// first and option kinds second.
func selectOption(options []permissionOption, decision domain.Decision) string {
	for _, opt := range options {
		if opt.OptionID == string(decision) {
			return opt.OptionID
		}
	}
	for _, opt := range options {
		if opt.Kind == string(decision) {
			return opt.OptionID
		}
	}
	return string(decision)
}

func truncate(data []byte, limit int) []byte {
	if len(data) <= limit {
		return data
	}
	return []byte(fmt.Sprintf("%s...(%d bytes)", data[:limit], len(data)))
}
