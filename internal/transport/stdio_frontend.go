package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
)

// StdioFrontend speaks line-delimited JSON-RPC over the process's own
// stdin/stdout, the mirror image of ChildStdio: where ChildStdio owns a
// spawned child's pipes, StdioFrontend owns the current process's, so
// mcpbridge itself can act as the stdio peer a host like Claude Desktop
// launches the CLI's URL-positional "SSE/StreamableHTTP client mode", which
// exposes a single remote backend over local stdio instead of an HTTP
// surface).
type StdioFrontend struct {
	logger *zap.Logger

	in io.Reader
	out io.Writer

	inbound chan *jsonrpc.Message

	writeMu sync.Mutex
	writer *bufio.Writer

	closeOnce sync.Once
	closed chan struct{}

	mu sync.Mutex
	err error
}

// NewStdioFrontend wraps in/out (normally os.Stdin/os.Stdout) and begins
// reading immediately.
func NewStdioFrontend(logger *zap.Logger, in io.Reader, out io.Writer) *StdioFrontend {
	t := &StdioFrontend{
		logger: logger.With(zap.String("transport", "stdio_frontend")),
		in: in,
		out: out,
		inbound: make(chan *jsonrpc.Message, 16),
		writer: bufio.NewWriter(out),
		closed: make(chan struct{}),
	}

	go t.readLoop()

	return t
}

func (t *StdioFrontend) Inbound() <-chan *jsonrpc.Message { return t.inbound }

func (t *StdioFrontend) Send(ctx context.Context, msg *jsonrpc.Message) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	data, err := encodeCompact(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		return t.fail(fmt.Errorf("write stdout: %w", err))
	}

	if err := t.writer.WriteByte('\n'); err != nil {
		return t.fail(fmt.Errorf("write stdout: %w", err))
	}

	return t.writer.Flush()
}

func (t *StdioFrontend) readLoop() {
	reader := bufio.NewReaderSize(t.in, 1<<20)

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if msg := t.decodeLine(line); msg != nil {
				t.inbound <- msg
			}
		}

		if err != nil {
			if err != io.EOF {
				t.setErr(fmt.Errorf("read stdin: %w", err))
			} else {
				t.setErr(io.EOF)
			}

			close(t.inbound)

			return
		}
	}
}

func (t *StdioFrontend) decodeLine(line string) *jsonrpc.Message {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}

	if line == "" {
		return nil
	}

	msg, err := jsonrpc.Parse([]byte(line))
	if err != nil {
		t.logger.Warn("dropping malformed line on stdin", zap.Error(err))
		return nil
	}

	return msg
}

func (t *StdioFrontend) setErr(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

func (t *StdioFrontend) fail(err error) error {
	t.setErr(err)
	return err
}

func (t *StdioFrontend) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *StdioFrontend) Close() error {
	t.closeOnce.Do(func() {
			close(t.closed)
	})

	return nil
}
