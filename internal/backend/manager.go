// Package backend drives the external processing engine: a child process that
// does the byte-level PDF and image work and speaks line-delimited JSON-RPC 2.0
// on stdio. Long conversions report completion through notifications, each of
// which is handed to one waiting subscriber.
package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/soamn/slicePDF/internal/logging"
)

const (
	jsonRPCVersion    = "2.0"
	maxMessageSize    = 12 * 1024 * 1024
	maxRestartAttempt = 3

	pathEnv    = "SLICEPDF_BACKEND_PATH"
	binaryName = "slicepdf-backend"
)

// Event is a completion signal emitted by the engine.
type Event struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

type Client interface {
	Call(ctx context.Context, method string, params any, result any) error
	// Subscribe delivers the named events until the returned func is called.
	Subscribe(names ...string) (<-chan Event, func())
	HealthCheck(ctx context.Context) error
	Close() error
}

type Options struct {
	Path   string
	Args   []string
	Env    []string
	Logger *slog.Logger
}

type Manager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	pending  map[int]chan response
	nextID   int
	failures int
	disabled bool
	starting bool
	closed   bool
	logger   *slog.Logger
	opts     Options
	events   *hub
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type inboundMessage struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type response struct {
	result json.RawMessage
	err    *rpcError
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	mgr := &Manager{
		pending: make(map[int]chan response),
		nextID:  1,
		logger:  opts.Logger,
		opts:    opts,
		events:  newHub(opts.Logger),
	}
	mgr.cond = sync.NewCond(&mgr.mu)
	return mgr
}

func (m *Manager) Start() error {
	return m.ensureRunning()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cmd := m.cmd
	m.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return nil
}

func (m *Manager) HealthCheck(ctx context.Context) error {
	var info struct {
		OK      bool   `json:"ok"`
		Engine  string `json:"engine"`
		Version string `json:"version"`
	}
	if err := m.Call(ctx, CmdGetInfo, map[string]any{}, &info); err != nil {
		return fmt.Errorf("engine health check failed: %w", err)
	}
	if !info.OK {
		return errors.New("engine health check returned not ok")
	}
	m.logger.Debug("backend.health_check_ok", "engine", info.Engine, "version", info.Version)
	return nil
}

// Reset clears the disabled state so the next call may start the engine again.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = false
	m.failures = 0
	m.logger.Info("backend.reset")
}

func (m *Manager) Status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"running":  m.cmd != nil,
		"disabled": m.disabled,
		"closed":   m.closed,
		"failures": m.failures,
	}
}

func (m *Manager) Subscribe(names ...string) (<-chan Event, func()) {
	return m.events.subscribe(names...)
}

func (m *Manager) Call(ctx context.Context, method string, params any, result any) error {
	if err := m.ensureRunning(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrUnavailable
	}
	id := m.nextID
	m.nextID++
	respCh := make(chan response, 1)
	m.pending[id] = respCh
	stdin := m.stdin
	m.mu.Unlock()

	if stdin == nil {
		m.removePending(id)
		return ErrUnavailable
	}

	payload, err := json.Marshal(rpcMessage{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params})
	if err != nil {
		m.removePending(id)
		return err
	}
	m.logger.Debug("backend.call", "method", method, "params", logging.RedactPayload(params))
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		m.removePending(id)
		m.mu.Lock()
		cmd := m.cmd
		m.mu.Unlock()
		m.handleProcessExit(cmd, err)
		return ErrUnavailable
	}

	select {
	case resp := <-respCh:
		if resp.err != nil {
			return mapRPCError(resp.err)
		}
		if result == nil || len(resp.result) == 0 {
			return nil
		}
		if raw, ok := result.(*json.RawMessage); ok {
			*raw = append((*raw)[:0], resp.result...)
			return nil
		}
		return json.Unmarshal(resp.result, result)
	case <-ctx.Done():
		m.removePending(id)
		return ctx.Err()
	}
}

func (m *Manager) ensureRunning() error {
	m.mu.Lock()
	for m.starting {
		m.cond.Wait()
	}
	if m.closed {
		m.mu.Unlock()
		return ErrUnavailable
	}
	if m.cmd != nil {
		m.mu.Unlock()
		return nil
	}
	if m.disabled {
		m.mu.Unlock()
		return ErrUnavailable
	}
	m.starting = true
	failures := m.failures
	m.mu.Unlock()

	if failures > 0 {
		backoff := time.Duration(1<<uint(failures-1)) * 100 * time.Millisecond
		time.Sleep(backoff)
	}

	err := m.startProcess()

	m.mu.Lock()
	m.starting = false
	m.cond.Broadcast()
	if err != nil {
		m.failures++
		if m.failures >= maxRestartAttempt {
			m.disabled = true
		}
	} else {
		m.failures = 0
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("backend.start_failed", "error", err.Error())
		return ErrUnavailable
	}
	return nil
}

func (m *Manager) startProcess() error {
	cmdPath, err := resolveCommand(m.opts.Path)
	if err != nil {
		return err
	}
	cmd := exec.Command(cmdPath, m.opts.Args...)
	cmd.Env = append(append([]string{}, os.Environ()...), m.opts.Env...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cmd = cmd
	m.stdin = stdin
	if m.pending == nil {
		m.pending = make(map[int]chan response)
	}
	m.mu.Unlock()

	m.logger.Debug("backend.started", "cmd", cmdPath)

	go m.readLoop(cmd, bufio.NewReader(stdout))
	go m.stderrLoop(stderr)
	go m.waitLoop(cmd)
	return nil
}

func (m *Manager) readLoop(cmd *exec.Cmd, reader *bufio.Reader) {
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			m.handleProcessExit(cmd, err)
			return
		}
		if len(line) > maxMessageSize {
			m.handleProcessExit(cmd, errors.New("message too large"))
			return
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var msg inboundMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			m.logger.Warn("backend.invalid_json", "error", err.Error())
			continue
		}
		if msg.ID == 0 {
			if msg.Method != "" {
				m.events.publish(Event{Name: msg.Method, Payload: eventPayload(msg.Params)})
			}
			continue
		}
		m.mu.Lock()
		ch := m.pending[msg.ID]
		delete(m.pending, msg.ID)
		m.mu.Unlock()
		if ch != nil {
			ch <- response{result: msg.Result, err: msg.Error}
			close(ch)
		}
	}
}

// eventPayload accepts a bare string or {"payload": "..."}.
func eventPayload(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Payload != "" {
		return obj.Payload
	}
	return string(raw)
}

func (m *Manager) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m.logEngineLine(line) {
			continue
		}
		m.logger.Warn("backend.stderr", "message", line)
	}
}

// logEngineLine forwards structured {"level","message",...} lines from the engine.
func (m *Manager) logEngineLine(line string) bool {
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		return false
	}
	levelRaw, _ := payload["level"].(string)
	message, _ := payload["message"].(string)
	if levelRaw == "" || message == "" {
		return false
	}
	attrs := make([]any, 0, len(payload)*2)
	for key, value := range payload {
		if key == "level" || key == "message" {
			continue
		}
		attrs = append(attrs, key, logging.RedactAny(value))
	}
	switch strings.ToLower(strings.TrimSpace(levelRaw)) {
	case "debug":
		m.logger.Debug(message, attrs...)
	case "info":
		m.logger.Info(message, attrs...)
	case "error":
		m.logger.Error(message, attrs...)
	default:
		m.logger.Warn(message, attrs...)
	}
	return true
}

func (m *Manager) waitLoop(cmd *exec.Cmd) {
	_ = cmd.Wait()
	m.handleProcessExit(cmd, errors.New("process exited"))
}

func (m *Manager) handleProcessExit(cmd *exec.Cmd, err error) {
	m.mu.Lock()
	if m.cmd != cmd {
		m.mu.Unlock()
		return
	}
	m.cmd = nil
	m.stdin = nil
	pending := m.pending
	m.pending = make(map[int]chan response)
	if !m.closed {
		m.failures++
		if m.failures >= maxRestartAttempt {
			m.disabled = true
		}
	}
	m.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: &rpcError{Message: CodeEngineUnavailable}}
		close(ch)
	}

	if err != nil && !errors.Is(err, io.EOF) {
		m.logger.Warn("backend.exited", "error", err.Error())
	}
}

func (m *Manager) removePending(id int) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func resolveCommand(configured string) (string, error) {
	for _, path := range []string{strings.TrimSpace(configured), strings.TrimSpace(os.Getenv(pathEnv))} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}

	name := binaryName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", errors.New("processing engine not found")
}

func mapRPCError(err *rpcError) error {
	if err == nil {
		return nil
	}
	code := ""
	if err.Data != nil {
		if value, ok := err.Data["error_code"].(string); ok {
			code = value
		}
	}
	if code == "" && strings.EqualFold(err.Message, CodeEngineUnavailable) {
		code = CodeEngineUnavailable
	}
	if code == CodeEngineUnavailable {
		return ErrUnavailable
	}
	return &RemoteError{Code: code, Message: err.Message}
}
