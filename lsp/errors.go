package lsp

import "errors"

var (
	// ErrNotRunning is returned when a send is attempted against a
	// supervisor whose process is not alive.
	ErrNotRunning = errors.New("language server is not running")

	// ErrRequestTimeout is returned when a request's response did not
	// arrive in time. The timeout is observer-scoped: the server-side
	// work is not cancelled.
	ErrRequestTimeout = errors.New("timed out waiting for language server response")

	// ErrServerTerminated is returned to callers whose pending requests
	// were still in flight when the language server exited.
	ErrServerTerminated = errors.New("language server terminated")

	// ErrDuplicateID is returned when a request id is registered while
	// another request with the same id is still pending.
	ErrDuplicateID = errors.New("request id already in flight")

	// ErrMalformedHeader is returned by the stream decoder when a header
	// block cannot be parsed. The decoder drops its entire buffer to
	// resynchronize on the next frame.
	ErrMalformedHeader = errors.New("malformed LSP frame header")
)
