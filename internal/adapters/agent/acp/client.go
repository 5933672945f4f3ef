package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bnema/kiro-chat-gateway/internal/domain"
	"github.com/bnema/kiro-chat-gateway/internal/ports"
	"github.com/bnema/kiro-chat-gateway/internal/version"
	"go.uber.org/zap"
)

const (
	defaultCommand          = "kiro-cli"
	defaultHandshakeTimeout = 30 * time.Second
	defaultRequestTimeout   = 300 * time.Second
	defaultPromptTimeout    = 300 * time.Second
	defaultStopGrace        = 5 * time.Second
	defaultClientName       = "kiro-chat-gateway"

	controlTimeout      = 15 * time.Second
	commandOptionsLimit = 10 * time.Second
	readerDrainGrace    = time.Second
)

var errClientUsed = errors.New("client already started once")

type Options struct {
	Command string
	Args    []string
	// Env entries are appended to the parent environment.
	Env []string

	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	PromptTimeout    time.Duration
	StopGrace        time.Duration

	ClientName    string
	ClientVersion string

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Command == "" {
		o.Command = defaultCommand
	}
	if o.Args == nil {
		o.Args = []string{"acp"}
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.PromptTimeout <= 0 {
		o.PromptTimeout = defaultPromptTimeout
	}
	if o.StopGrace <= 0 {
		o.StopGrace = defaultStopGrace
	}
	if o.ClientName == "" {
		o.ClientName = defaultClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = version.Version
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

// Client owns one agent subprocess speaking ACP over its standard streams.
// A Client is started at most once; restarts use a fresh Client.
type Client struct {
	opts   Options
	logger *zap.Logger
	nextID atomic.Int64

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu           sync.Mutex
	cmd          *exec.Cmd
	stdout       *os.File
	stderr       *os.File
	started      bool
	running      bool
	pending      map[int64]chan rpcReply
	updates      map[string][]json.RawMessage
	active       map[string]int64
	modes        map[string]domain.ModeState
	models       map[string]domain.ModelState
	commands     map[string][]domain.AgentCommand
	onPermission ports.PermissionHandler

	exited   chan struct{}
	readDone chan struct{}
	lifetime context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	readers  sync.WaitGroup
	handlers sync.WaitGroup
}

var _ ports.AgentClient = (*Client)(nil)

func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:     opts,
		logger:   opts.Logger.Named("acp"),
		pending:  make(map[int64]chan rpcReply),
		updates:  make(map[string][]json.RawMessage),
		active:   make(map[string]int64),
		modes:    make(map[string]domain.ModeState),
		models:   make(map[string]domain.ModelState),
		commands: make(map[string][]domain.AgentCommand),
		exited:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// NewFactory returns an AgentFactory building clients that share opts.
func NewFactory(opts Options) ports.AgentFactory {
	return func(platform domain.Platform) ports.AgentClient {
		scoped := opts
		if scoped.Logger != nil {
			scoped.Logger = scoped.Logger.With(zap.String("platform", string(platform)))
		}
		return New(scoped)
	}
}

// Start spawns the agent in cwd (empty means the current directory) and
// completes the initialize handshake.
func (c *Client) Start(ctx context.Context, cwd string) error {
	if err := c.spawn(cwd); err != nil {
		return &domain.StartupError{Command: c.opts.Command, Err: err}
	}

	raw, err := c.call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		ClientCapabilities: clientCapabilities{
			FS:       fsCapabilities{ReadTextFile: true, WriteTextFile: true},
			Terminal: true,
		},
		ClientInfo: clientInfo{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
	}, c.opts.HandshakeTimeout)
	if err != nil {
		c.Stop()
		return &domain.StartupError{Command: c.opts.Command, Err: fmt.Errorf("handshake: %w", err)}
	}

	c.logger.Info("agent initialized",
		zap.String("cwd", cwd),
		zap.ByteString("result", truncate(raw, 200)),
	)
	return nil
}

func (c *Client) spawn(cwd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errClientUsed
	}
	c.started = true

	cmd := exec.Command(c.opts.Command, c.opts.Args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), c.opts.Env...)
	configureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("open stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return fmt.Errorf("open stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return fmt.Errorf("exec %s: %w", c.opts.Command, err)
	}
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	c.writeMu.Lock()
	c.stdin = stdin
	c.writeMu.Unlock()

	c.cmd = cmd
	c.stdout = stdoutR
	c.stderr = stderrR
	c.running = true
	c.lifetime, c.cancel = context.WithCancel(context.Background())

	c.readers.Add(3)
	go c.readLoop(stdoutR)
	go c.logStderr(stderrR)
	go c.wait(cmd)

	c.logger.Info("agent process started",
		zap.String("command", c.opts.Command),
		zap.Strings("args", c.opts.Args),
		zap.Int("pid", cmd.Process.Pid),
	)
	return nil
}

func (c *Client) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// OnPermissionRequest registers the single handler for permission requests.
// Without one, requests are approved once.
func (c *Client) OnPermissionRequest(handler ports.PermissionHandler) {
	c.mu.Lock()
	c.onPermission = handler
	c.mu.Unlock()
}

func (c *Client) wait(cmd *exec.Cmd) {
	defer c.readers.Done()

	err := cmd.Wait()
	close(c.exited)

	// Let the reader deliver whatever the agent wrote before exiting.
	select {
	case <-c.readDone:
	case <-time.After(readerDrainGrace):
	}

	if err == nil {
		err = io.EOF
	}
	c.markStopped(&domain.TransportError{Op: "agent exited", Err: err})
	c.logger.Info("agent process exited", zap.Error(err))
}

// markStopped flags the client as not running and fails every outstanding call.
func (c *Client) markStopped(cause error) {
	c.mu.Lock()
	c.running = false
	pending := c.pending
	c.pending = make(map[int64]chan rpcReply)
	c.mu.Unlock()

	for _, reply := range pending {
		reply <- rpcReply{err: cause}
	}
}

func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	return c.callWithID(ctx, c.nextID.Add(1), method, params, timeout)
}

func (c *Client) callWithID(ctx context.Context, id int64, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	reply := make(chan rpcReply, 1)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil, &domain.TransportError{Op: method, Err: domain.ErrAgentNotRunning}
	}
	c.pending[id] = reply
	c.mu.Unlock()

	if err := c.write(wireRequest{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r.result, r.err
	case <-timer.C:
		c.forget(id)
		return nil, &domain.TimeoutError{Method: method, ID: id, Timeout: timeout}
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) notify(method string, params any) error {
	return c.write(wireNotification{JSONRPC: jsonrpcVersion, Method: method, Params: params})
}

func (c *Client) write(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.stdin == nil {
		return &domain.TransportError{Op: "write", Err: domain.ErrAgentNotRunning}
	}
	c.logger.Debug(">>>", zap.ByteString("frame", truncate(data, maxLoggedFrame)))
	if _, err := c.stdin.Write(data); err != nil {
		return &domain.TransportError{Op: "write", Err: err}
	}
	return nil
}

func (c *Client) closeStdin() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.stdin == nil {
		return
	}
	if err := c.stdin.Close(); err != nil {
		c.logger.Debug("close agent stdin", zap.Error(err))
	}
	c.stdin = nil
}

// Stop terminates the agent together with every descendant process. It is
// safe to call more than once and from any goroutine.
func (c *Client) Stop() {
	c.mu.Lock()
	cmd := c.cmd
	c.running = false
	c.mu.Unlock()

	if cmd == nil {
		return
	}
	c.stopOnce.Do(func() { c.terminate(cmd) })
}

func (c *Client) terminate(cmd *exec.Cmd) {
	pid := cmd.Process.Pid
	descendants := collectDescendants(int32(pid))

	select {
	case <-c.exited:
	default:
		for _, child := range descendants {
			signalProcess(child, sigTerm)
		}
		c.logger.Debug("signalled agent descendants", zap.Int32s("pids", descendants))
	}

	c.closeStdin()

	select {
	case <-c.exited:
	case <-time.After(c.opts.StopGrace):
		c.logger.Warn("agent did not exit in time, killing", zap.Int("pid", pid))
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			c.logger.Warn("kill agent", zap.Error(err))
		}
		select {
		case <-c.exited:
		case <-time.After(c.opts.StopGrace):
			c.logger.Error("agent still running after kill", zap.Int("pid", pid))
		}
	}

	killProcessGroup(pid)
	for _, child := range descendants {
		signalProcess(child, sigKill)
	}

	c.cancel()
	c.awaitReaders()
	c.markStopped(&domain.TransportError{Op: "stop", Err: domain.ErrAgentNotRunning})
	c.logger.Info("agent stopped", zap.Int("pid", pid))
}

func (c *Client) awaitReaders() {
	done := make(chan struct{})
	go func() {
		c.readers.Wait()
		c.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(c.opts.StopGrace):
	}

	// A leaked grandchild can hold the pipes open; closing our ends unblocks the readers.
	c.mu.Lock()
	closeAll(c.stdout, c.stderr)
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(c.opts.StopGrace):
		c.logger.Warn("agent readers did not finish")
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
