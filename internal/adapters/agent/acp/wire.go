package acp

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
)

const (
	jsonrpcVersion  = "2.0"
	protocolVersion = 1

	methodInitialize        = "initialize"
	methodSessionNew        = "session/new"
	methodSessionLoad       = "session/load"
	methodSessionSetMode    = "session/set_mode"
	methodSessionSetModel   = "session/set_model"
	methodSessionPrompt     = "session/prompt"
	methodSessionCancel     = "session/cancel"
	methodSessionUpdate     = "session/update"
	methodRequestPermission = "session/request_permission"
	methodCommandOptions    = "_kiro.dev/commands/options"
	methodCommandsAvailable = "_kiro.dev/commands/available"

	codeMethodNotFound = -32601

	updateAgentMessageChunk = "agent_message_chunk"
	updateToolCall          = "tool_call"
	updateToolCallUpdate    = "tool_call_update"

	outcomeSelected  = "selected"
	outcomeCancelled = "cancelled"
)

// wireMessage is the union of every frame shape the agent can send.
type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

func (m wireMessage) hasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

func (m wireMessage) isResponse() bool {
	return m.hasID() && m.Method == "" && (m.Result != nil || m.Error != nil)
}

func (m wireMessage) isServerRequest() bool {
	return m.hasID() && m.Method != ""
}

func (m wireMessage) isNotification() bool {
	return !m.hasID() && m.Method != ""
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *wireError) toDomain() *domain.RPCError {
	rpcErr := &domain.RPCError{Code: e.Code, Message: e.Message}
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return rpcErr
	}
	if text, err := strconv.Unquote(string(e.Data)); err == nil {
		rpcErr.Data = text
	} else {
		rpcErr.Data = string(e.Data)
	}
	return rpcErr
}

type wireRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type wireNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type initializeParams struct {
	ProtocolVersion    int                `json:"protocolVersion"`
	ClientCapabilities clientCapabilities `json:"clientCapabilities"`
	ClientInfo         clientInfo         `json:"clientInfo"`
}

type clientCapabilities struct {
	FS       fsCapabilities `json:"fs"`
	Terminal bool           `json:"terminal"`
}

type fsCapabilities struct {
	ReadTextFile  bool `json:"readTextFile"`
	WriteTextFile bool `json:"writeTextFile"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type sessionNewParams struct {
	Cwd        string `json:"cwd"`
	MCPServers []any  `json:"mcpServers"`
}

type sessionLoadParams struct {
	SessionID  string `json:"sessionId"`
	Cwd        string `json:"cwd"`
	MCPServers []any  `json:"mcpServers"`
}

type sessionResult struct {
	SessionID string      `json:"sessionId"`
	Modes     *wireModes  `json:"modes"`
	Models    *wireModels `json:"models"`
}

type wireModes struct {
	CurrentModeID  string     `json:"currentModeId"`
	AvailableModes []wireMode `json:"availableModes"`
}

func (m *wireModes) toDomain() domain.ModeState {
	if m == nil {
		return domain.ModeState{}
	}
	state := domain.ModeState{CurrentModeID: m.CurrentModeID}
	for _, mode := range m.AvailableModes {
		if mode.ID == "" {
			continue
		}
		name := mode.Name
		if name == "" {
			name = mode.ID
		}
		state.Available = append(state.Available, domain.Mode{ID: mode.ID, Name: name, Description: mode.Description})
	}
	return state
}

// wireMode accepts either a bare mode id or a mode object.
type wireMode struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (m *wireMode) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		m.ID = id
		return nil
	}
	type plain wireMode
	return json.Unmarshal(data, (*plain)(m))
}

type wireModels struct {
	CurrentModelID  string      `json:"currentModelId"`
	AvailableModels []wireModel `json:"availableModels"`
}

func (m *wireModels) toDomain() domain.ModelState {
	if m == nil {
		return domain.ModelState{}
	}
	state := domain.ModelState{CurrentModelID: m.CurrentModelID}
	for _, model := range m.AvailableModels {
		id := model.ModelID
		if id == "" {
			id = model.ID
		}
		if id == "" {
			continue
		}
		name := model.Name
		if name == "" {
			name = id
		}
		state.Available = append(state.Available, domain.Model{ID: id, Name: name, Description: model.Description})
	}
	return state
}

type wireModel struct {
	ModelID     string `json:"modelId"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (m *wireModel) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		m.ModelID = id
		return nil
	}
	type plain wireModel
	return json.Unmarshal(data, (*plain)(m))
}

type setModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

type setModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

type commandOptionsParams struct {
	SessionID      string `json:"sessionId"`
	PartialCommand string `json:"partialCommand"`
}

type commandOptionsResult struct {
	Options []commandOption `json:"options"`
}

// commandOption accepts either a bare string or an object with a name.
type commandOption struct {
	Name string `json:"name"`
}

func (o *commandOption) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		o.Name = name
		return nil
	}
	type plain commandOption
	return json.Unmarshal(data, (*plain)(o))
}

type commandsAvailableParams struct {
	SessionID string        `json:"sessionId"`
	Commands  []wireCommand `json:"commands"`
}

type wireCommand struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (c *wireCommand) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.Name = name
		return nil
	}
	type plain wireCommand
	return json.Unmarshal(data, (*plain)(c))
}

type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []contentBlock `json:"prompt"`
}

type contentBlock struct {
	Type     string  `json:"type"`
	Text     *string `json:"text,omitempty"`
	Data     string  `json:"data,omitempty"`
	MIMEType string  `json:"mimeType,omitempty"`
}

func textBlock(text string) contentBlock {
	return contentBlock{Type: "text", Text: &text}
}

func imageBlock(image domain.Image) contentBlock {
	return contentBlock{Type: "image", Data: image.Data, MIMEType: image.MIMEType}
}

type promptResult struct {
	StopReason string `json:"stopReason"`
}

type cancelParams struct {
	SessionID string `json:"sessionId"`
}

type sessionUpdateParams struct {
	SessionID string          `json:"sessionId"`
	Update    json.RawMessage `json:"update"`
}

type sessionUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       json.RawMessage `json:"content"`
	ToolCallID    string          `json:"toolCallId"`
	Title         string          `json:"title"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
}

type toolCallContent struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type permissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  permissionToolCall `json:"toolCall"`
	Options   []permissionOption `json:"options"`
}

type permissionToolCall struct {
	ToolCallID string `json:"toolCallId"`
	Title      string `json:"title"`
}

type permissionOption struct {
	OptionID string `json:"optionId"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
}

type permissionResult struct {
	Outcome permissionOutcome `json:"outcome"`
}

type permissionOutcome struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}
