package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/halcyon-labs/mcpbridge/internal/jsonrpc"
	"github.com/halcyon-labs/mcpbridge/pkg/logging"
)

// StdioSpawnConfig describes the child process a ChildStdio transport spawns,
// mirroring the server descriptor's command/args/env/passEnvironment fields
//.
type StdioSpawnConfig struct {
	Command string
	Args []string
	Env map[string]string
	PassEnvironment bool
}

// ChildStdio spawns command/args and speaks line-delimited JSON over its
// stdin/stdout, forwarding stderr to the host logger without mixing it with
// protocol bytes. Grounded on stdio.Handler (reader/writer goroutines
// feeding channels) and direct.StdioClient (process lifecycle).
type ChildStdio struct {
	logger *zap.Logger
	server string

	cmd *exec.Cmd
	stdin io.WriteCloser
	stdout io.ReadCloser

	inbound chan *jsonrpc.Message

	writeMu sync.Mutex
	writer *bufio.Writer

	closeOnce sync.Once
	closed chan struct{}

	mu sync.Mutex
	err error
}

// StartChildStdio spawns the child process and begins reading its stdout.
// The child inherits no terminal; its stderr is forwarded line-by-line to
// logger at warn level
func StartChildStdio(ctx context.Context, logger *zap.Logger, server string, cfg StdioSpawnConfig) (*ChildStdio, error) {
	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = buildChildEnv(cfg)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe for %s: %w", server, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe for %s: %w", server, err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open stderr pipe for %s: %w", server, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", server, err)
	}

	t := &ChildStdio{
		logger: logger.With(zap.String(logging.FieldServer, server), zap.String(logging.FieldTransport, string(KindChildStdio))),
		server: server,
		cmd: cmd,
		stdin: stdin,
		stdout: stdout,
		inbound: make(chan *jsonrpc.Message, 16),
		writer: bufio.NewWriter(stdin),
		closed: make(chan struct{}),
	}

	go t.monitorStderr(stderr)
	go t.readLoop()

	return t, nil
}

func buildChildEnv(cfg StdioSpawnConfig) []string {
	var env []string
	if cfg.PassEnvironment {
		env = append(env, os.Environ()...)
	}

	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	return env
}

func (t *ChildStdio) Inbound() <-chan *jsonrpc.Message { return t.inbound }

func (t *ChildStdio) Send(ctx context.Context, msg *jsonrpc.Message) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	data, err := jsonEncode(msg)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", t.server, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		return t.fail(fmt.Errorf("write stdin for %s: %w", t.server, err))
	}

	if err := t.writer.WriteByte('\n'); err != nil {
		return t.fail(fmt.Errorf("write stdin for %s: %w", t.server, err))
	}

	if err := t.writer.Flush(); err != nil {
		return t.fail(fmt.Errorf("flush stdin for %s: %w", t.server, err))
	}

	return nil
}

func (t *ChildStdio) readLoop() {
	reader := bufio.NewReaderSize(t.stdout, 1<<20)

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if msg := t.decodeLine(line); msg != nil {
				t.inbound <- msg
			}
		}

		if err != nil {
			if err != io.EOF {
				t.setErr(fmt.Errorf("read stdout for %s: %w", t.server, err))
			} else {
				t.setErr(io.EOF)
			}

			close(t.inbound)
			return
		}
	}
}

func (t *ChildStdio) decodeLine(line string) *jsonrpc.Message {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}

	msg, err := jsonrpc.Parse([]byte(line))
	if err != nil {
		t.logger.Warn("dropping malformed line from child", zap.Error(err))
		return nil
	}

	return msg
}

func (t *ChildStdio) monitorStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		t.logger.Warn("backend stderr", zap.String("line", scanner.Text()))
	}
}

func (t *ChildStdio) setErr(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
}

func (t *ChildStdio) fail(err error) error {
	t.setErr(err)
	return err
}

func (t *ChildStdio) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

// Close closes stdin first so the child observes EOF, waits briefly for
// graceful exit, then kills the process. Grounded on the supervisor's
// graceful-shutdown sequence in
func (t *ChildStdio) Close() error {
	var closeErr error

	t.closeOnce.Do(func() {
			close(t.closed)
			_ = t.stdin.Close()

			done := make(chan error, 1)
			go func() { done <- t.cmd.Wait() }()

			select {
			case <-done:
			case <-waitTimer():
				_ = t.cmd.Process.Kill()
				<-done
			}
	})

	return closeErr
}

func jsonEncode(msg *jsonrpc.Message) ([]byte, error) {
	return encodeCompact(msg)
}
