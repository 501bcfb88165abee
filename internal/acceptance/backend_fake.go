package acceptance

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/bilusteknoloji/pixi/internal/backend"
)

// fakeBackendCounts records how many times the fake backend child received
// each JSON-RPC call, so the source-build scenario can assert that a
// second, unchanged build skips the "build" call entirely.
type fakeBackendCounts struct {
	initialize int32
	build      int32
}

// newFakeBackendLaunch wires a backend.LaunchFunc over an in-memory pipe
// instead of a real subprocess. It speaks the same Content-Length-framed
// JSON-RPC 2.0 wire format internal/backend/rpc.go implements, reproduced
// here directly since rpc.go's request/response types are unexported and a
// separate package cannot launch a real backend executable in a test.
func newFakeBackendLaunch(counts *fakeBackendCounts, artifactPath string) backend.LaunchFunc {
	return func(_ context.Context, req backend.Request) (*backend.Dispatcher, error) {
		clientIn, serverOut := io.Pipe()
		serverIn, clientOut := io.Pipe()

		d := backend.NewFromTransport(req.Package.Build.Backend, clientOut, clientIn)

		go runFakeBackend(serverIn, serverOut, counts, artifactPath)

		return d, nil
	}
}

// runFakeBackend answers initialize/build/shutdown the way a minimal
// Python build backend would, serving a single fixed artifact path and a
// glob list scoped to *.py, until its client sends "shutdown" or the pipe
// closes.
func runFakeBackend(r io.Reader, w io.Writer, counts *fakeBackendCounts, artifactPath string) {
	br := bufio.NewReader(r)

	for {
		msg, err := readFramedMessage(br)
		if err != nil {
			return
		}

		method, _ := msg["method"].(string)
		id := msg["id"]

		switch method {
		case "initialize":
			atomic.AddInt32(&counts.initialize, 1)

			_ = writeFramedMessage(w, map[string]any{
				"jsonrpc": "2.0",
				"id":      id,
				"result": map[string]any{
					"backend_capabilities": map[string]bool{},
					"input_globs":          []string{"*.py"},
				},
			})
		case "build":
			atomic.AddInt32(&counts.build, 1)

			_ = writeFramedMessage(w, map[string]any{
				"jsonrpc": "2.0",
				"id":      id,
				"result": map[string]any{
					"artifact_path": artifactPath,
					"sha256":        "fakebuiltsha",
					"record": map[string]any{
						"Name": "foo", "Version": "1.0.0", "Build": "py_0", "BuildNumber": 0,
						"Subdir": "linux-64", "Channel": "local",
					},
				},
			})
		case "shutdown":
			_ = writeFramedMessage(w, map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{}})

			return
		default:
			_ = writeFramedMessage(w, map[string]any{
				"jsonrpc": "2.0", "id": id,
				"error": map[string]any{"code": -1, "message": "fake backend: unknown method " + method},
			})
		}
	}
}

const fakeContentLengthHeader = "Content-Length: "

func readFramedMessage(r *bufio.Reader) (map[string]any, error) {
	length := 0

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		if strings.HasPrefix(line, fakeContentLengthHeader) {
			n, err := strconv.Atoi(strings.TrimPrefix(line, fakeContentLengthHeader))
			if err != nil {
				return nil, fmt.Errorf("parsing Content-Length: %w", err)
			}

			length = n
		}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var msg map[string]any

	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}

	return msg, nil
}

func writeFramedMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	header := fmt.Sprintf("%s%d\r\n\r\n", fakeContentLengthHeader, len(body))

	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	_, err = w.Write(body)

	return err
}
