package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/config"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/secrets"
)

// DefaultRestartDelay is the pause between a child exit and its restart.
const DefaultRestartDelay = time.Second

// protocolVersion is offered in the initialize handshake.
const protocolVersion = "2025-06-18"

// State is the lifecycle state of the supervised child.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
	StateStopped  State = "stopped"
)

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Status is the externally visible child status.
type Status struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Command is the stdio server executable.
	Command string
	Args    []string

	// Env is appended to the inherited environment.
	Env []string

	// APIKey is passed to the child as DASHSCOPE_API_KEY when set.
	APIKey config.Secret

	// RestartDelay is the pause before respawning an exited child (default: 1s).
	RestartDelay time.Duration

	// StopTimeout bounds the graceful part of Stop before the child is killed
	// (default: 10s).
	StopTimeout time.Duration

	// ClientName and ClientVersion identify the proxy in the handshake.
	ClientName    string
	ClientVersion string

	Logger   *logging.Logger
	Scrubber secrets.Scrubber
	Metrics  *Metrics
}

// child is one running instance of the server process.
type child struct {
	id         string
	cmd        *exec.Cmd
	pid        int
	channel    *Channel
	stdout     *os.File
	stderr     *os.File
	readDone   chan struct{}
	stderrDone chan struct{}
	log        *logging.Logger
}

// Supervisor keeps one child process running and routes calls to it
// through a shared Session. State machine per instance:
// starting -> running -> exited -> (RestartDelay) -> starting.
type Supervisor struct {
	cfg      SupervisorConfig
	session  *Session
	logger   *logging.Logger
	scrubber secrets.Scrubber
	metrics  *Metrics

	mu       sync.Mutex
	state    State
	current  *child
	ready    bool
	started  bool
	stopping bool
	stopCh   chan struct{}
	done     chan struct{}
}

// NewSupervisor creates a supervisor that sends through session.
func NewSupervisor(cfg SupervisorConfig, session *Session) (*Supervisor, error) {
	if cfg.Command == "" {
		return nil, errors.New("server command is required")
	}
	if session == nil {
		return nil, errors.New("session is required")
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "dashscope-proxy"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "1.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Scrubber == nil {
		cfg.Scrubber = secrets.Noop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = session.metrics
	}

	return &Supervisor{
		cfg:      cfg,
		session:  session,
		logger:   cfg.Logger.Named("supervisor"),
		scrubber: cfg.Scrubber,
		metrics:  cfg.Metrics,
		state:    StateStopped,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start spawns the first child and keeps it running until Stop is called
// or ctx is done. A failure to spawn the first child is returned; later
// spawn failures are logged and retried after RestartDelay.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	c, err := s.spawn(ctx)
	if err != nil {
		close(s.done)
		return err
	}
	go s.loop(ctx, c)
	return nil
}

// Call sends a request to the connected child. It fails with a
// TransportError when no initialized child is available.
func (s *Supervisor) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if !ready {
		return nil, &TransportError{Op: "send " + method, Err: ErrNotRunning}
	}
	return s.session.Send(ctx, method, params)
}

// Status reports connected with the child pid once the handshake completed.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || !s.ready {
		return Status{Status: StatusDisconnected}
	}
	return Status{Status: StatusConnected, PID: s.current.pid}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restart kills the current child. The regular exit path respawns it.
func (s *Supervisor) Restart(ctx context.Context, reason string) {
	s.mu.Lock()
	c := s.current
	s.mu.Unlock()
	if c == nil {
		return
	}
	s.kill(ctx, c, reason)
}

func (s *Supervisor) kill(ctx context.Context, c *child, reason string) {
	ctx = logging.WithSessionID(ctx, c.id)
	c.log.Info(ctx, "restarting server process", zap.String("reason", reason))
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.log.Warn(ctx, "failed to kill server process", zap.Error(err))
	}
}

// Stop closes the child's stdin, waits up to StopTimeout for it to exit,
// then kills it. No restart follows.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	c := s.current
	s.mu.Unlock()

	if c != nil {
		_ = c.channel.Close()
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if c != nil {
		c.log.Warn(ctx, "server process did not exit in time, killing")
		_ = c.cmd.Process.Kill()
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(s.cfg.StopTimeout):
		return errors.New("server process did not exit after kill")
	}
}

// Done is closed when the supervisor has stopped for good.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) loop(ctx context.Context, c *child) {
	defer close(s.done)
	for {
		s.wait(ctx, c)

		var err error
		c, err = s.respawn(ctx)
		if err != nil {
			s.setState(StateStopped)
			return
		}
	}
}

// respawn waits RestartDelay and spawns a new child, retrying on spawn
// failure. It returns an error only when the supervisor is stopping.
func (s *Supervisor) respawn(ctx context.Context) (*child, error) {
	for {
		if s.isStopping() {
			return nil, ErrClosed
		}

		timer := time.NewTimer(s.cfg.RestartDelay)
		select {
		case <-timer.C:
		case <-s.stopCh:
			timer.Stop()
			return nil, ErrClosed
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}

		s.metrics.Restarts.Inc()
		c, err := s.spawn(ctx)
		if err == nil || errors.Is(err, ErrClosed) {
			return c, err
		}
		s.logger.Error(ctx, "failed to restart server process", zap.Error(err))
	}
}

func (s *Supervisor) spawn(ctx context.Context) (*child, error) {
	s.setState(StateStarting)

	cmd := exec.CommandContext(ctx, s.cfg.Command, s.cfg.Args...)
	cmd.Env = s.environ()
	cmd.WaitDelay = s.cfg.StopTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	// Plain os.Pipe ends instead of StdoutPipe/StderrPipe: cmd.Wait must not
	// close the read side under the reader goroutines, and a grandchild that
	// inherits the write side must not keep wait from seeing the exit.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdout, stderr)
		s.setState(StateExited)
		return nil, fmt.Errorf("failed to start %s: %w", s.cfg.Command, err)
	}

	c := &child{
		id:         uuid.NewString(),
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		channel:    NewChannel(stdout, stdin),
		stdout:     stdout,
		stderr:     stderr,
		readDone:   make(chan struct{}),
		stderrDone: make(chan struct{}),
		log:        s.logger.ForProcess(cmd.Process.Pid),
	}
	ctx = logging.WithSessionID(ctx, c.id)

	s.mu.Lock()
	stopping := s.stopping
	if !stopping {
		s.current = c
		s.ready = false
	}
	s.mu.Unlock()
	if stopping {
		// Stop already ran and will not see this child.
		c.log.Info(ctx, "supervisor stopping, discarding new server process")
		_ = c.channel.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		closeAll(stdout, stderr)
		return nil, ErrClosed
	}
	s.session.Attach(c.channel)

	c.log.Info(ctx, "server process started", zap.String("command", s.cfg.Command))

	go func() {
		defer close(c.readDone)
		if err := s.session.Serve(ctx, c.channel); err != nil {
			c.log.Warn(ctx, "server stdout closed with error", zap.Error(err))
		}
	}()
	go func() {
		defer close(c.stderrDone)
		s.forwardStderr(ctx, c.log, stderr)
	}()
	go s.initialize(ctx, c)

	return c, nil
}

// pipeDrainTimeout bounds how long wait lets the readers drain after the
// child exited. Output still held open by a grandchild is cut off after it.
var pipeDrainTimeout = time.Second

// wait blocks until c has exited and its pipes are drained.
func (s *Supervisor) wait(ctx context.Context, c *child) {
	ctx = logging.WithSessionID(ctx, c.id)

	err := c.cmd.Wait()

	drained := make(chan struct{})
	go func() {
		<-c.readDone
		<-c.stderrDone
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(pipeDrainTimeout):
		c.log.Warn(ctx, "server output still open after exit, closing it")
		closeAll(c.stdout, c.stderr)
		<-drained
	}
	closeAll(c.stdout, c.stderr)

	s.session.Detach(c.channel)
	s.mu.Lock()
	if s.current == c {
		s.current = nil
		s.ready = false
		s.state = StateExited
	}
	s.mu.Unlock()
	s.metrics.ChildUp.Set(0)

	exitCode := -1
	if c.cmd.ProcessState != nil {
		exitCode = c.cmd.ProcessState.ExitCode()
	}
	fields := []zap.Field{
		zap.Int("exit_code", exitCode),
		zap.Int("pending", s.session.Pending()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if s.isStopping() {
		c.log.Info(ctx, "server process stopped", fields...)
		return
	}
	c.log.Warn(ctx, "server process exited", append(fields, zap.Duration("restart_in", s.cfg.RestartDelay))...)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      implementation `json:"clientInfo"`
}

type implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      implementation `json:"serverInfo"`
}

// initialize performs the MCP handshake on c and marks it ready.
func (s *Supervisor) initialize(ctx context.Context, c *child) {
	raw, err := s.session.Send(ctx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      implementation{Name: s.cfg.ClientName, Version: s.cfg.ClientVersion},
	})
	if err != nil {
		s.handshakeFailed(ctx, c, err)
		return
	}

	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		c.log.Warn(ctx, "unexpected initialize result", zap.Error(err))
	}

	if err := s.session.Notify(ctx, "notifications/initialized", map[string]any{}); err != nil {
		s.handshakeFailed(ctx, c, err)
		return
	}

	s.mu.Lock()
	current := s.current == c
	if current {
		s.ready = true
		s.state = StateRunning
	}
	s.mu.Unlock()
	if !current {
		return
	}

	s.metrics.ChildUp.Set(1)
	c.log.Info(ctx, "server process connected",
		zap.String("server", res.ServerInfo.Name),
		zap.String("server_version", res.ServerInfo.Version),
		zap.String("protocol_version", res.ProtocolVersion),
	)
}

// handshakeFailed kills c so the exit path restarts it. A child that never
// completes the handshake would otherwise stay up but unusable.
func (s *Supervisor) handshakeFailed(ctx context.Context, c *child, err error) {
	c.log.Error(ctx, "server handshake failed", zap.Error(err))

	s.mu.Lock()
	current := s.current == c && !s.stopping
	s.mu.Unlock()
	if current {
		s.kill(ctx, c, "handshake failed")
	}
}

// forwardStderr logs each stderr line of the child after scrubbing.
func (s *Supervisor) forwardStderr(ctx context.Context, log *logging.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		log.Info(ctx, "server stderr", zap.String("line", s.scrubber.Scrub(line).Scrubbed))
	}
	if err := scanner.Err(); err != nil {
		log.Debug(ctx, "server stderr closed", zap.Error(err))
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *Supervisor) environ() []string {
	env := append(os.Environ(), s.cfg.Env...)
	if s.cfg.APIKey.IsSet() {
		env = append(env, "DASHSCOPE_API_KEY="+s.cfg.APIKey.Value())
	}
	return env
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
