package acp

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// The test binary doubles as a scripted agent when fakeAgentEnv is set.
const (
	fakeAgentEnv   = "KGW_FAKE_AGENT"
	fakePIDFileEnv = "KGW_FAKE_PIDFILE"
	fakeDepthEnv   = "KGW_FAKE_DEPTH"
)

func runFakeAgent(scenario string) int {
	switch scenario {
	case "exit":
		return 3
	case "mute":
		drain(os.Stdin)
		return 0
	case "sleeper":
		return runSleeper()
	}

	agent := &fakeAgent{
		out:         bufio.NewWriter(os.Stdout),
		permissions: make(map[string]json.RawMessage),
		probes:      make(map[string]json.RawMessage),
		cancels:     make(map[string]json.RawMessage),
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	for scanner.Scan() {
		agent.handle(scanner.Bytes())
	}
	return 0
}

func drain(f *os.File) {
	buf := make([]byte, 4096)
	for {
		if _, err := f.Read(buf); err != nil {
			return
		}
	}
}

// runSleeper records its pid, optionally spawns one more sleeper below it,
// then sleeps until killed.
func runSleeper() int {
	if path := os.Getenv(fakePIDFileEnv); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
		}
	}
	depth, _ := strconv.Atoi(os.Getenv(fakeDepthEnv))
	if depth > 0 {
		child := exec.Command(os.Args[0])
		child.Env = append(os.Environ(), fakeAgentEnv+"=sleeper", fakeDepthEnv+"="+strconv.Itoa(depth-1))
		_ = child.Start()
	}
	time.Sleep(time.Hour)
	return 0
}

type fakeAgent struct {
	mu          sync.Mutex
	out         *bufio.Writer
	sessions    int
	permissions map[string]json.RawMessage
	probes      map[string]json.RawMessage
	cancels     map[string]json.RawMessage
}

func (a *fakeAgent) send(v any) {
	data, _ := json.Marshal(v)
	a.sendRaw(string(data))
}

func (a *fakeAgent) sendRaw(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out.WriteString(line)
	a.out.WriteByte('\n')
	a.out.Flush()
}

func (a *fakeAgent) result(id json.RawMessage, result any) {
	a.send(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (a *fakeAgent) fail(id json.RawMessage, code int, message string) {
	a.send(map[string]any{"jsonrpc": "2.0", "id": id, "error": map[string]any{"code": code, "message": message}})
}

func (a *fakeAgent) update(sessionID string, update map[string]any) {
	a.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params":  map[string]any{"sessionId": sessionID, "update": update},
	})
}

func (a *fakeAgent) chunk(sessionID, text string) {
	a.update(sessionID, map[string]any{
		"sessionUpdate": "agent_message_chunk",
		"content":       map[string]any{"type": "text", "text": text},
	})
}

func (a *fakeAgent) handle(line []byte) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return
	}

	if msg.isResponse() {
		a.handleReply(msg)
		return
	}

	var params map[string]any
	_ = json.Unmarshal(msg.Params, &params)
	sessionID, _ := params["sessionId"].(string)

	switch msg.Method {
	case "initialize":
		a.result(msg.ID, map[string]any{"protocolVersion": 1, "agentCapabilities": map[string]any{}})
	case "session/new":
		a.mu.Lock()
		a.sessions++
		id := fmt.Sprintf("sess-%d", a.sessions)
		a.mu.Unlock()
		a.send(map[string]any{
			"jsonrpc": "2.0",
			"method":  "_kiro.dev/commands/available",
			"params": map[string]any{
				"sessionId": id,
				"commands":  []any{map[string]any{"name": "/help", "description": "Show help"}},
			},
		})
		a.result(msg.ID, map[string]any{
			"sessionId": id,
			"modes": map[string]any{
				"currentModeId":  "default",
				"availableModes": []any{map[string]any{"id": "default", "name": "Default"}, "planner"},
			},
			"models": map[string]any{
				"currentModelId":  "auto",
				"availableModels": []any{map[string]any{"modelId": "auto", "name": "Auto"}, map[string]any{"modelId": "fast", "name": "Fast"}},
			},
		})
	case "session/load":
		if strings.HasPrefix(sessionID, "sess-") {
			a.result(msg.ID, map[string]any{})
			return
		}
		a.fail(msg.ID, -32602, "session not found")
	case "session/set_mode", "session/set_model":
		a.result(msg.ID, map[string]any{})
	case "_kiro.dev/commands/options":
		a.result(msg.ID, map[string]any{"options": []any{"/agent", map[string]any{"name": "/model"}}})
	case "session/prompt":
		a.prompt(msg.ID, sessionID, msg.Params)
	case "session/cancel":
		a.mu.Lock()
		id, ok := a.cancels[sessionID]
		delete(a.cancels, sessionID)
		a.mu.Unlock()
		if ok {
			a.result(id, map[string]any{"stopReason": "cancelled"})
		}
	}
}

func (a *fakeAgent) prompt(id json.RawMessage, sessionID string, raw json.RawMessage) {
	var params promptParams
	_ = json.Unmarshal(raw, &params)

	var text string
	var kinds []string
	for _, block := range params.Prompt {
		kinds = append(kinds, block.Type)
		if block.Text != nil {
			text = *block.Text
		}
	}

	switch text {
	case "hello":
		a.chunk(sessionID, "Hello")
		a.update(sessionID, map[string]any{"sessionUpdate": "tool_call", "toolCallId": "t1", "title": "Read file", "kind": "fs", "status": "pending"})
		a.update(sessionID, map[string]any{"sessionUpdate": "tool_call_update", "toolCallId": "ghost", "status": "failed"})
		a.chunk(sessionID, ", world")
		a.update(sessionID, map[string]any{
			"sessionUpdate": "tool_call_update",
			"toolCallId":    "t1",
			"status":        "completed",
			"content":       []any{map[string]any{"type": "content", "content": map[string]any{"type": "text", "text": "file body"}}},
		})
		a.result(id, map[string]any{"stopReason": "end_turn"})
	case "permission":
		a.mu.Lock()
		a.permissions["perm-1"] = id
		a.mu.Unlock()
		a.send(map[string]any{
			"jsonrpc": "2.0",
			"id":      "perm-1",
			"method":  "session/request_permission",
			"params": map[string]any{
				"sessionId": sessionID,
				"toolCall":  map[string]any{"toolCallId": "t9", "title": "Run rm -rf build"},
				"options": []any{
					map[string]any{"optionId": "yes-once", "name": "Yes", "kind": "allow_once"},
					map[string]any{"optionId": "yes-always", "name": "Always", "kind": "allow_always"},
					map[string]any{"optionId": "no", "name": "No", "kind": "reject_once"},
				},
			},
		})
	case "probe":
		a.mu.Lock()
		a.probes["probe-1"] = id
		a.mu.Unlock()
		a.send(map[string]any{"jsonrpc": "2.0", "id": "probe-1", "method": "fs/read_text_file", "params": map[string]any{"path": "/etc/hosts"}})
	case "slow":
		go func() {
			time.Sleep(400 * time.Millisecond)
			a.result(id, map[string]any{"stopReason": "end_turn"})
		}()
	case "wait-cancel":
		a.mu.Lock()
		a.cancels[sessionID] = id
		a.mu.Unlock()
	case "error":
		a.fail(id, -32603, "Internal error")
	case "crash":
		os.Exit(2)
	case "garbage":
		a.sendRaw("this is not json")
		a.sendRaw(`{"jsonrpc":"2.0"}`)
		a.sendRaw(`{"jsonrpc":"2.0","id":424242,"result":{}}`)
		a.chunk(sessionID, "survived")
		a.result(id, map[string]any{"stopReason": "end_turn"})
	case "spawn":
		child := exec.Command(os.Args[0])
		child.Env = append(os.Environ(), fakeAgentEnv+"=sleeper", fakeDepthEnv+"=1")
		if err := child.Start(); err != nil {
			a.fail(id, -32000, err.Error())
			return
		}
		a.chunk(sessionID, strconv.Itoa(child.Process.Pid))
		a.result(id, map[string]any{"stopReason": "end_turn"})
	default:
		a.chunk(sessionID, strings.Join(kinds, ",")+":"+text)
		a.result(id, map[string]any{"stopReason": "end_turn"})
	}
}

func (a *fakeAgent) handleReply(msg wireMessage) {
	var key string
	_ = json.Unmarshal(msg.ID, &key)

	a.mu.Lock()
	promptID, isPermission := a.permissions[key]
	delete(a.permissions, key)
	probeID, isProbe := a.probes[key]
	delete(a.probes, key)
	a.mu.Unlock()

	switch {
	case isPermission:
		var result permissionResult
		_ = json.Unmarshal(msg.Result, &result)
		answer := result.Outcome.Outcome
		if result.Outcome.OptionID != "" {
			answer += ":" + result.Outcome.OptionID
		}
		a.chunk("sess-1", answer)
		a.result(promptID, map[string]any{"stopReason": "end_turn"})
	case isProbe:
		answer := "ok"
		if msg.Error != nil {
			answer = "error:" + strconv.Itoa(msg.Error.Code)
		}
		a.chunk("sess-1", answer)
		a.result(probeID, map[string]any{"stopReason": "end_turn"})
	}
}
