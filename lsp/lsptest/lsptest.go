// Package lsptest provides a scripted fake language server for tests.
// The test binary re-executes itself as the server: TestMain calls
// RunIfRequested first, and ServerCommand returns a command vector that
// spawns the same binary in server mode.
package lsptest

import (
	"encoding/json"
	"fmt"
	"os"

	"interviewlab/lsp-gateway/lsp"
)

const modeEnv = "LSP_GATEWAY_FAKE_SERVER"

// RunIfRequested turns the current process into the fake server when
// spawned by a test, and otherwise marks the environment so child
// processes will. Call it at the top of TestMain.
func RunIfRequested() {
	if os.Getenv(modeEnv) == "1" {
		runServer()
		os.Exit(0)
	}

	os.Setenv(modeEnv, "1")
}

// ServerCommand returns the command vector for spawning the fake
// server.
func ServerCommand() []string {
	return []string{os.Args[0]}
}

// runServer speaks just enough LSP over stdio to exercise the gateway:
// it answers initialize and shutdown, echoes request params back as the
// result, publishes a diagnostics notification for every opened
// document, and honors a few test-only methods.
//
//	test/ignore  request is never answered (timeout paths)
//	test/die     exits without responding (server-death paths)
//	test/emit    emits a window/logMessage notification, then responds
func runServer() {
	decoder := &lsp.StreamDecoder{}
	buf := make([]byte, 4096)

	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for {
				msg, derr := decoder.Next()
				if derr != nil {
					continue
				}
				if msg == nil {
					break
				}
				handle(msg)
			}
		}
		if err != nil {
			return
		}
	}
}

func handle(msg *lsp.Message) {
	switch msg.Method {
	case "exit":
		os.Exit(0)

	case "test/die":
		os.Exit(1)

	case "test/ignore":
		return

	case "test/emit":
		notify("window/logMessage", map[string]any{"type": 3, "message": "about to respond"})
		respond(msg)

	case "textDocument/didOpen":
		var params struct {
			TextDocument struct {
				URI string `json:"uri"`
			} `json:"textDocument"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		notify("textDocument/publishDiagnostics", map[string]any{
			"uri":         params.TextDocument.URI,
			"diagnostics": []any{},
		})

	case "initialize":
		write(map[string]any{
			"jsonrpc": "2.0",
			"id":      msg.ID,
			"result": map[string]any{
				"capabilities": map[string]any{
					"textDocumentSync":   2,
					"completionProvider": map[string]any{},
				},
			},
		})

	case "shutdown":
		write(map[string]any{"jsonrpc": "2.0", "id": msg.ID, "result": nil})

	default:
		if msg.ID != nil {
			respond(msg)
		}
	}
}

// respond echoes the request params back as the result.
func respond(msg *lsp.Message) {
	result := json.RawMessage(msg.Params)
	if result == nil {
		result = json.RawMessage(`{}`)
	}
	write(map[string]any{"jsonrpc": "2.0", "id": msg.ID, "result": result})
}

func notify(method string, params any) {
	write(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
}

func write(v any) {
	body, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake server marshal error: %v\n", err)
		return
	}
	_ = lsp.WriteFrame(os.Stdout, body)
}
