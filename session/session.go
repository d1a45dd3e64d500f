// Package session ties one client transport to one workspace and one
// language server process, and keeps the three consistent for the
// lifetime of the connection.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"interviewlab/lsp-gateway/logger"
	"interviewlab/lsp-gateway/lsp"
	"interviewlab/lsp-gateway/security"
	"interviewlab/lsp-gateway/utils"
	"interviewlab/lsp-gateway/workspace"
)

// Transport is the duplex text channel to the client. WriteText may be
// called concurrently from the router and the notification sink;
// implementations serialize writes. Close unblocks the client read
// loop.
type Transport interface {
	WriteText(data []byte) error
	Close() error
}

// CommandResolver maps a language tag and workspace directory to a
// language server command vector.
type CommandResolver func(language, workspaceDir string) ([]string, error)

// Config holds the session timeouts.
type Config struct {
	InitializeTimeout time.Duration
	ForwardTimeout    time.Duration
}

// DefaultConfig returns the standard timeouts.
func DefaultConfig() Config {
	return Config{
		InitializeTimeout: 30 * time.Second,
		ForwardTimeout:    15 * time.Second,
	}
}

// Params collects everything a new session needs.
type Params struct {
	ID           string
	Language     string
	WorkspaceDir string
	Transport    Transport
	Resolve      CommandResolver
	Config       Config
	OnCleanup    func(*Session)
}

// Session owns one supervisor, one workspace directory and the set of
// documents the client has declared open. It routes client traffic to
// the server and mirrors document state onto disk so the language
// server sees the same text the editor shows.
type Session struct {
	ID           string
	Language     string
	WorkspaceDir string

	transport Transport
	resolve   CommandResolver
	cfg       Config
	onCleanup func(*Session)

	sup *lsp.Supervisor

	mu       sync.Mutex // guards openDocs and workspace file writes
	openDocs map[string]struct{}

	initialized atomic.Bool
	cleanupOnce sync.Once
}

// New constructs a session. The language server is not spawned until
// Initialize.
func New(p Params) *Session {
	cfg := p.Config
	if cfg.InitializeTimeout <= 0 {
		cfg.InitializeTimeout = DefaultConfig().InitializeTimeout
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = DefaultConfig().ForwardTimeout
	}

	return &Session{
		ID:           p.ID,
		Language:     p.Language,
		WorkspaceDir: p.WorkspaceDir,
		transport:    p.Transport,
		resolve:      p.Resolve,
		cfg:          cfg,
		onCleanup:    p.OnCleanup,
		openDocs:     make(map[string]struct{}),
	}
}

// Initialized reports whether the LSP handshake has completed.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}

// Initialize materializes the workspace, spawns the language server and
// drives the LSP initialize handshake. On any failure the session is
// cleaned up before the error is returned.
func (s *Session) Initialize() error {
	if err := s.initialize(); err != nil {
		s.Cleanup()
		return fmt.Errorf("session %s: initialization failed: %w", s.ID, err)
	}
	return nil
}

func (s *Session) initialize() error {
	if err := workspace.Prepare(s.WorkspaceDir); err != nil {
		return err
	}

	mainFile, err := workspace.Scaffold(s.Language, s.WorkspaceDir, s.ID)
	if err != nil {
		return err
	}

	command, err := s.resolve(s.Language, s.WorkspaceDir)
	if err != nil {
		return err
	}

	s.sup = lsp.NewSupervisor(command)
	s.sup.SetNotificationSink(s.forwardServerMessage)
	s.sup.SetOnExit(s.handleServerExit)

	if err := s.sup.Start(); err != nil {
		return err
	}

	resp, err := s.sup.Request("initialize", initializeParams(s.WorkspaceDir, s.ID), s.cfg.InitializeTimeout)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize rejected: %w", resp.Error)
	}

	if err := s.transport.WriteText(resp.Raw()); err != nil {
		return fmt.Errorf("failed to deliver initialize response: %w", err)
	}

	if err := s.sup.Notify("initialized", struct{}{}); err != nil {
		return err
	}

	s.initialized.Store(true)

	s.warmUp(mainFile)

	logger.Info(fmt.Sprintf("[session=%s] language server initialized, PID %d", s.ID, s.sup.Pid()))

	return nil
}

// warmUp opens the scaffolded main file server-side so completion is
// responsive on the first real request. Best effort.
func (s *Session) warmUp(mainFile string) {
	text, err := os.ReadFile(mainFile)
	if err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] warm-up read failed: %v", s.ID, err))
		return
	}

	params := map[string]any{
		"textDocument": map[string]any{
			"uri":        utils.FilePathToURI(mainFile),
			"languageId": s.Language,
			"version":    1,
			"text":       string(text),
		},
	}

	if err := s.sup.Notify("textDocument/didOpen", params); err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] warm-up didOpen failed: %v", s.ID, err))
	}
}

func initializeParams(workspaceDir, sessionID string) map[string]any {
	rootURI := utils.FilePathToURI(workspaceDir)

	return map[string]any{
		"processId": nil,
		"rootUri":   rootURI,
		"capabilities": map[string]any{
			"textDocument": map[string]any{
				"synchronization": map[string]any{
					"openClose": true,
					"change":    2, // incremental
					"save":      map[string]any{"includeText": true},
				},
				"completion": map[string]any{
					"completionItem": map[string]any{"snippetSupport": true},
				},
				"publishDiagnostics": map[string]any{
					"relatedInformation": true,
				},
			},
			"workspace": map[string]any{
				"didChangeConfiguration": map[string]any{"dynamicRegistration": true},
				"workspaceFolders":       true,
			},
		},
		"workspaceFolders": []map[string]any{
			{"uri": rootURI, "name": sessionID},
		},
	}
}

// handleServerExit runs when the language server dies on its own. A
// session without its server cannot serve anything, so it is torn down
// and the client notified through the transport close.
func (s *Session) handleServerExit() {
	logger.Warn(fmt.Sprintf("[session=%s] language server exited unexpectedly", s.ID))
	s.Cleanup()
}

// forwardServerMessage is the supervisor's notification sink: every
// server message with no pending waiter goes to the client verbatim, in
// the order the server emitted it.
func (s *Session) forwardServerMessage(msg *lsp.Message) {
	if err := s.transport.WriteText(msg.Raw()); err != nil {
		logger.Debug(fmt.Sprintf("[session=%s] failed to forward %s to client: %v", s.ID, msg.Method, err))
	}
}

// HandleClientMessage routes one text frame from the client. A JSON
// array is a batch; each element is processed independently in order.
func (s *Session) HandleClientMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			s.reply(lsp.NewErrorReply(nil, lsp.CodeParseError, "invalid JSON"))
			return
		}
		for _, element := range batch {
			s.handleOne(element)
		}
		return
	}

	s.handleOne(trimmed)
}

func (s *Session) handleOne(raw []byte) {
	msg, err := lsp.DecodeMessage(raw)
	if err != nil {
		s.reply(lsp.NewErrorReply(nil, lsp.CodeParseError, "invalid JSON"))
		return
	}

	if msg.JSONRPC != "2.0" {
		s.reply(lsp.NewErrorReply(msg.ID, lsp.CodeInvalidRequest, "unsupported jsonrpc version"))
		return
	}

	if !s.initialized.Load() {
		s.reply(lsp.NewErrorReply(msg.ID, lsp.CodeServerNotInitialized, "server not initialized"))
		return
	}

	switch msg.Method {
	case "textDocument/didOpen":
		if s.applyDidOpen(msg) {
			s.forwardNotification(raw)
		}

	case "textDocument/didChange":
		if s.applyDidChange(msg) {
			s.forwardNotification(raw)
		}

	case "textDocument/didClose":
		empty := s.applyDidClose(msg)
		s.forwardNotification(raw)
		if empty {
			go s.Cleanup()
		}

	case "exit":
		if err := s.sup.SendRaw(raw); err != nil {
			logger.Debug(fmt.Sprintf("[session=%s] exit forward failed: %v", s.ID, err))
		}
		go s.Cleanup()

	case "shutdown":
		s.forwardRequest(raw, msg)
		go s.Cleanup()

	default:
		if msg.ID != nil {
			s.forwardRequest(raw, msg)
		} else {
			s.forwardNotification(raw)
		}
	}
}

// forwardRequest relays a client request under the client's own id and
// delivers the response or a synthetic error. A timeout answers this
// one request only; the session and all other in-flight requests keep
// going.
func (s *Session) forwardRequest(raw []byte, msg *lsp.Message) {
	if msg.ID == nil {
		s.forwardNotification(raw)
		return
	}

	resp, err := s.sup.ForwardRequest(raw, *msg.ID, s.cfg.ForwardTimeout)

	switch {
	case errors.Is(err, lsp.ErrDuplicateID):
		s.reply(lsp.NewErrorReply(msg.ID, lsp.CodeInvalidRequest, "request id already in flight"))
	case err != nil:
		logger.Warn(fmt.Sprintf("[session=%s] %s request %s failed: %v", s.ID, msg.Method, msg.ID, err))
		s.reply(lsp.NewErrorReply(msg.ID, lsp.CodeInternalError, "no response from language server"))
	default:
		if werr := s.transport.WriteText(resp.Raw()); werr != nil {
			logger.Debug(fmt.Sprintf("[session=%s] response delivery failed: %v", s.ID, werr))
		}
	}
}

func (s *Session) forwardNotification(raw []byte) {
	if err := s.sup.SendRaw(raw); err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] notification forward failed: %v", s.ID, err))
	}
}

type textDocumentParams struct {
	TextDocument struct {
		URI  string `json:"uri"`
		Text string `json:"text"`
	} `json:"textDocument"`
	ContentChanges []ContentChange `json:"contentChanges"`
}

// applyDidOpen records the document and materializes its content in the
// workspace. Reports whether the message should be forwarded.
func (s *Session) applyDidOpen(msg *lsp.Message) bool {
	var params textDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] bad didOpen params: %v", s.ID, err))
		return false
	}

	path, err := s.documentPath(params.TextDocument.URI)
	if err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] rejecting didOpen: %v", s.ID, err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, []byte(params.TextDocument.Text), 0o644); err != nil {
		logger.Error(fmt.Sprintf("[session=%s] failed to write %s: %v", s.ID, path, err))
		return false
	}

	s.openDocs[params.TextDocument.URI] = struct{}{}

	return true
}

// applyDidChange mirrors the client's edits onto the workspace file.
func (s *Session) applyDidChange(msg *lsp.Message) bool {
	var params textDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] bad didChange params: %v", s.ID, err))
		return false
	}

	path, err := s.documentPath(params.TextDocument.URI)
	if err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] rejecting didChange: %v", s.ID, err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		logger.Error(fmt.Sprintf("[session=%s] failed to read %s: %v", s.ID, path, err))
		return false
	}

	updated := ApplyChanges(string(current), params.ContentChanges)

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		logger.Error(fmt.Sprintf("[session=%s] failed to write %s: %v", s.ID, path, err))
		return false
	}

	return true
}

// applyDidClose drops the document from the open set and reports
// whether this close emptied it. Closing a document that was never
// opened never reports empty, so a stray close cannot tear down a
// session that has no documents yet.
func (s *Session) applyDidClose(msg *lsp.Message) bool {
	var params textDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] bad didClose params: %v", s.ID, err))
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, wasOpen := s.openDocs[params.TextDocument.URI]
	delete(s.openDocs, params.TextDocument.URI)

	return wasOpen && len(s.openDocs) == 0
}

// documentPath resolves a document URI to a path inside the session
// workspace. URIs pointing elsewhere are rejected.
func (s *Session) documentPath(uri string) (string, error) {
	path := utils.URIToFilePath(uri)
	if !security.IsWithinBase(path, s.WorkspaceDir) {
		return "", fmt.Errorf("uri %s resolves outside workspace", uri)
	}
	return path, nil
}

// OpenDocuments returns a snapshot of the open document URIs.
func (s *Session) OpenDocuments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	uris := make([]string, 0, len(s.openDocs))
	for uri := range s.openDocs {
		uris = append(uris, uri)
	}
	return uris
}

func (s *Session) reply(r *lsp.ErrorReply) {
	if err := s.transport.WriteText(r.Encode()); err != nil {
		logger.Debug(fmt.Sprintf("[session=%s] error reply delivery failed: %v", s.ID, err))
	}
}

// Cleanup tears the session down: the language server is stopped, the
// workspace removed, the registry entry dropped and the transport
// closed. Safe to call from any termination path, any number of times.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		logger.Info(fmt.Sprintf("[session=%s] cleaning up", s.ID))

		if s.sup != nil {
			if err := s.sup.Stop(); err != nil {
				logger.Warn(fmt.Sprintf("[session=%s] language server stop failed: %v", s.ID, err))
			}
		}

		if err := os.RemoveAll(s.WorkspaceDir); err != nil {
			logger.Error(fmt.Sprintf("[session=%s] workspace removal failed: %v", s.ID, err))
		}

		if s.onCleanup != nil {
			s.onCleanup(s)
		}

		if s.transport != nil {
			_ = s.transport.Close()
		}

		logger.Info(fmt.Sprintf("[session=%s] cleanup complete", s.ID))
	})
}
