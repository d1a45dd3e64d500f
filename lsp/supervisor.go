package lsp

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"interviewlab/lsp-gateway/logger"
)

const (
	// defaultStartupGrace is how long Start waits before checking that
	// the child has not already exited.
	defaultStartupGrace = 250 * time.Millisecond

	// shutdownRequestTimeout bounds the LSP shutdown request sent
	// during Stop.
	shutdownRequestTimeout = 5 * time.Second

	// exitGrace is how long Stop waits for a natural exit before
	// force-killing the child.
	exitGrace = 5 * time.Second

	readChunkSize = 4096
	stderrTailMax = 16
)

// NotificationSink receives every inbound server message that has no
// matching pending request id and carries a method: server-initiated
// requests and notifications. It is invoked from the stdout reader task
// and must not block.
type NotificationSink func(*Message)

// Supervisor owns one language server child process: it spawns it,
// frames traffic on stdin/stdout, demultiplexes responses to waiting
// callers by request id, and manages termination. Each session owns
// exactly one supervisor; nothing here is shared across sessions.
type Supervisor struct {
	command []string

	mu      sync.Mutex // guards proc, pending, stderrTail
	writeMu sync.Mutex // single-writer discipline on stdin
	proc    *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  io.ReadCloser

	pending    map[ID]chan *Message
	sink       NotificationSink
	onExit     func()
	stderrTail []string

	nextID   atomic.Int64
	running  atomic.Bool
	stopping atomic.Bool

	exited  chan struct{} // closed once the child has been reaped
	exitErr error

	startupGrace time.Duration
}

// NewSupervisor creates a supervisor for the given command vector. The
// process is not spawned until Start.
func NewSupervisor(command []string) *Supervisor {
	return &Supervisor{
		command:      command,
		pending:      make(map[ID]chan *Message),
		startupGrace: defaultStartupGrace,
	}
}

// SetNotificationSink installs the sink for unmatched inbound messages.
// Must be called before Start.
func (s *Supervisor) SetNotificationSink(sink NotificationSink) {
	s.sink = sink
}

// SetOnExit installs a hook invoked once when the child dies on its
// own. It does not fire for exits requested through Stop. Must be
// called before Start.
func (s *Supervisor) SetOnExit(hook func()) {
	s.onExit = hook
}

// Alive reports whether the child process is believed to be running.
func (s *Supervisor) Alive() bool {
	return s.running.Load()
}

// Pid returns the child process id, or 0 before Start.
func (s *Supervisor) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc == nil || s.proc.Process == nil {
		return 0
	}
	return s.proc.Process.Pid
}

// Start spawns the language server and launches the stdout and stderr
// reader tasks. It fails if the process cannot be spawned or exits
// within the startup grace period.
func (s *Supervisor) Start() error {
	if len(s.command) == 0 {
		return fmt.Errorf("empty language server command")
	}

	logger.Info(fmt.Sprintf("Starting language server: %s", strings.Join(s.command, " ")))

	cmd := exec.Command(s.command[0], s.command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("failed to start language server: %w", err)
	}

	s.mu.Lock()
	s.proc = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	s.exited = make(chan struct{})
	s.mu.Unlock()

	s.running.Store(true)

	go s.readStderr()
	go s.readStdout()
	go func() {
		s.exitErr = cmd.Wait()
		close(s.exited)
	}()

	// A server that dies immediately (bad jar, missing config dir)
	// should fail Start rather than the first request.
	select {
	case <-s.exited:
		s.running.Store(false)
		return fmt.Errorf("language server exited during startup: %v: %s", s.exitErr, s.stderrSnapshot())
	case <-time.After(s.startupGrace):
	}

	logger.Info(fmt.Sprintf("Language server started with PID %d", cmd.Process.Pid))

	return nil
}

// Send writes one message to the server without expecting a response.
func (s *Supervisor) Send(msg *Message) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	return s.write(msg.Raw())
}

// SendRaw forwards an already-serialized message body verbatim.
func (s *Supervisor) SendRaw(body []byte) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	return s.write(body)
}

// Notify sends a notification built from method and params.
func (s *Supervisor) Notify(method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.Send(msg)
}

// Request originates a request with a fresh monotonic id and waits up
// to timeout for the matching response. A timeout abandons the
// server-side work; it does not affect other in-flight requests.
func (s *Supervisor) Request(method string, params any, timeout time.Duration) (*Message, error) {
	if !s.running.Load() {
		return nil, ErrNotRunning
	}
	return s.request(method, params, timeout)
}

// ForwardRequest sends an already-serialized client request, keeping
// the client's own id, and waits for the matching response.
func (s *Supervisor) ForwardRequest(body []byte, id ID, timeout time.Duration) (*Message, error) {
	if !s.running.Load() {
		return nil, ErrNotRunning
	}

	ch, err := s.register(id)
	if err != nil {
		return nil, err
	}

	if err := s.write(body); err != nil {
		s.unregister(id)
		return nil, err
	}

	return s.await(id, ch, timeout)
}

// Stop terminates the child. It first attempts the LSP shutdown/exit
// handshake, then waits for a natural exit and finally force-kills.
// All pending requests fail with ErrServerTerminated. Stop is
// idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc == nil {
		return nil
	}

	s.stopping.Store(true)
	s.running.Store(false)

	if _, err := s.request("shutdown", nil, shutdownRequestTimeout); err != nil {
		logger.Debug(fmt.Sprintf("Graceful shutdown request failed: %v", err))
	}

	if msg, err := NewNotification("exit", nil); err == nil {
		if err := s.write(msg.Raw()); err != nil {
			logger.Debug(fmt.Sprintf("Exit notification failed: %v", err))
		}
	}

	s.writeMu.Lock()
	_ = s.stdin.Close()
	s.writeMu.Unlock()

	select {
	case <-s.exited:
	case <-time.After(exitGrace):
		logger.Warn(fmt.Sprintf("Language server PID %d did not exit, killing", proc.Process.Pid))
		_ = proc.Process.Kill()
		<-s.exited
	}

	s.failPending()

	logger.Info(fmt.Sprintf("Language server PID %d stopped", proc.Process.Pid))

	return nil
}

// request is the internal request path. It skips the running check so
// Stop can drive the shutdown handshake after public traffic is cut
// off. Registration precedes the write: a fast server reply must never
// race the pending entry.
func (s *Supervisor) request(method string, params any, timeout time.Duration) (*Message, error) {
	id := NumberID(s.nextID.Add(1))

	msg, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}

	ch, err := s.register(id)
	if err != nil {
		return nil, err
	}

	if err := s.write(msg.Raw()); err != nil {
		s.unregister(id)
		return nil, err
	}

	return s.await(id, ch, timeout)
}

func (s *Supervisor) write(body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.stdin == nil {
		return ErrNotRunning
	}

	return WriteFrame(s.stdin, body)
}

func (s *Supervisor) register(id ID) (chan *Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	ch := make(chan *Message, 1)
	s.pending[id] = ch

	return ch, nil
}

func (s *Supervisor) unregister(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, id)
}

func (s *Supervisor) await(id ID, ch chan *Message, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrServerTerminated
		}
		return msg, nil
	case <-timer.C:
		s.unregister(id)
		return nil, fmt.Errorf("request %s: %w", id, ErrRequestTimeout)
	}
}

// readStdout is the reader task: it feeds raw chunks to the stream
// decoder and dispatches every decoded message.
func (s *Supervisor) readStdout() {
	decoder := &StreamDecoder{}
	buf := make([]byte, readChunkSize)

	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			s.drain(decoder)
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn(fmt.Sprintf("Language server stdout read error: %v", err))
			}
			break
		}
	}

	s.running.Store(false)
	s.failPending()

	// A server that died on its own leaves an orphaned session behind;
	// the exit hook lets the owner tear it down.
	if !s.stopping.Load() && s.onExit != nil {
		s.onExit()
	}
}

func (s *Supervisor) drain(decoder *StreamDecoder) {
	for {
		msg, err := decoder.Next()
		if err != nil {
			logger.Warn(fmt.Sprintf("Dropping undecodable server output: %v", err))
			continue
		}
		if msg == nil {
			return
		}
		s.dispatch(msg)
	}
}

// dispatch routes one inbound message: a matching pending id completes
// exactly one waiter; anything else with a method goes to the sink;
// the rest is discarded with a log line. Unmatched responses are never
// queued for later; a put-back queue livelocks under concurrent
// waiters and reorders notifications.
func (s *Supervisor) dispatch(msg *Message) {
	if msg.ID != nil {
		s.mu.Lock()
		ch, found := s.pending[*msg.ID]
		if found {
			delete(s.pending, *msg.ID)
		}
		s.mu.Unlock()

		if found {
			ch <- msg
			return
		}
	}

	if msg.Method != "" {
		if s.sink != nil {
			s.sink(msg)
		}
		return
	}

	logger.Debug(fmt.Sprintf("Discarding response with no pending request, id=%v", msg.ID))
}

func (s *Supervisor) readStderr() {
	reader := bufio.NewReader(s.stderr)
	for {
		raw, err := reader.ReadString('\n')
		if line := strings.TrimRight(raw, "\r\n"); line != "" {
			logger.Warn(fmt.Sprintf("[language server stderr] %s", line))
			s.recordStderr(line)
		}
		if err != nil {
			return
		}
	}
}

func (s *Supervisor) recordStderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stderrTail = append(s.stderrTail, line)
	if len(s.stderrTail) > stderrTailMax {
		s.stderrTail = s.stderrTail[len(s.stderrTail)-stderrTailMax:]
	}
}

func (s *Supervisor) stderrSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return strings.Join(s.stderrTail, "\n")
}

// failPending closes every outstanding completion channel so waiters
// observe ErrServerTerminated.
func (s *Supervisor) failPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[ID]chan *Message)
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

