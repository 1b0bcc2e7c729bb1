// Package transport implements the line-delimited JSON-RPC transport that
// wraps one downstream MCP child process.
//
// One Transport owns the child, its three pipes, a strictly increasing
// request-id counter, and a table of pending continuations keyed by id.
// Writes to the child's stdin are serialized; responses are dispatched
// asynchronously by a single reader goroutine, so any number of concurrent
// chains can share the transport. stdout framing is deliberately tolerant:
// real-world MCP servers interleave log lines, stack traces, and HTML error
// pages into stdout, and none of that may kill the connection.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
	"github.com/localSummer/mcp-tool-chainer/internal/observe"
)

// DefaultRequestTimeout bounds a single request when the caller does not
// override it.
const DefaultRequestTimeout = 30 * time.Second

// closeGrace is how long Close waits after SIGTERM before killing the child.
const closeGrace = 2 * time.Second

// Options configures a Transport.
type Options struct {
	// Key is the config key of the downstream server, used in logs and
	// metric attributes.
	Key string

	// Command is the executable to spawn.
	Command string

	// Args are the command arguments.
	Args []string

	// Env is merged over the parent environment when spawning. May be nil.
	Env map[string]string

	// RequestTimeout overrides [DefaultRequestTimeout] when positive.
	RequestTimeout time.Duration
}

// outcome is the one-shot resolution of a pending request.
type outcome struct {
	result json.RawMessage
	err    *mcp.Error
}

// Transport is a line-delimited JSON-RPC connection to one child process.
// Create with [New], connect with [Start]. All methods are safe for
// concurrent use.
type Transport struct {
	key            string
	command        string
	args           []string
	env            map[string]string
	requestTimeout time.Duration

	log     *slog.Logger
	metrics *observe.Metrics

	// writeMu serializes frame writes: JSON-RPC frames must not interleave
	// bytes on the child's stdin.
	writeMu sync.Mutex
	stdin   io.WriteCloser

	// mu guards pending and closed.
	mu      sync.Mutex
	pending map[int64]chan outcome
	closed  bool

	// nextID is the request-id allocator. Ids are strictly increasing and
	// never reused within the transport's lifetime.
	nextID atomic.Int64

	cmd       *exec.Cmd
	procDone  chan struct{}
	procErr   error
	closeOnce sync.Once
}

// New creates a Transport for the given child command. The child is not
// spawned until [Transport.Start].
func New(opts Options) *Transport {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Transport{
		key:            opts.Key,
		command:        opts.Command,
		args:           opts.Args,
		env:            opts.Env,
		requestTimeout: timeout,
		log:            slog.With("server", opts.Key),
		metrics:        observe.DefaultMetrics(),
		pending:        make(map[int64]chan outcome),
	}
}

// Start spawns the child process and begins reading its stdout and stderr.
// The child inherits the parent environment with the configured env merged
// over it. ctx bounds the spawn only; the child outlives it and is torn down
// by [Transport.Close].
func (t *Transport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return mcp.WrapErr(mcp.KindTransport, "start "+t.key, err)
	}

	cmd := exec.Command(t.command, t.args...)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return mcp.WrapErr(mcp.KindTransport, "stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return mcp.WrapErr(mcp.KindTransport, "stdout pipe", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return mcp.WrapErr(mcp.KindTransport, "stderr pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return mcp.WrapErr(mcp.KindTransport, "spawn "+t.command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.procDone = make(chan struct{})

	go func() {
		t.procErr = cmd.Wait()
		close(t.procDone)
	}()
	go t.readLoop(stdout)
	go t.relayStderr(stderr)

	t.metrics.DownstreamStarted(context.Background(), t.key)
	t.log.Debug("downstream started", "command", t.command, "pid", cmd.Process.Pid)
	return nil
}

// Request sends method with params and waits for the matching response. The
// wait is bounded by timeout (the configured default when zero) and by ctx.
// Exactly one thing happens to the pending continuation: it is resolved by a
// matching frame, rejected by the deadline, rejected when the transport
// closes, or dropped when ctx is cancelled.
func (t *Transport) Request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = t.requestTimeout
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, mcp.Errorf(mcp.KindTransport, "transport closed")
	}
	id := t.nextID.Add(1)
	ch := make(chan outcome, 1)
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.writeFrame(mcp.Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		t.removePending(id)
		return nil, mcp.WrapErr(mcp.KindTransport, "write "+method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		return out.result, nil
	case <-timer.C:
		t.removePending(id)
		return nil, mcp.Errorf(mcp.KindTimeout, "%s: no response within %s", method, timeout)
	case <-ctx.Done():
		// A later matching frame is spurious and will be discarded at debug.
		t.removePending(id)
		return nil, ctx.Err()
	}
}

// Notify sends a fire-and-forget notification frame (no id, no pending
// entry). Used for notifications/initialized after the handshake.
func (t *Transport) Notify(method string, params any) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return mcp.Errorf(mcp.KindTransport, "transport closed")
	}
	t.mu.Unlock()

	if err := t.writeFrame(mcp.Request{JSONRPC: "2.0", Method: method, Params: params}); err != nil {
		return mcp.WrapErr(mcp.KindTransport, "write "+method, err)
	}
	return nil
}

// writeFrame encodes req as a single line terminated by '\n' and writes it
// to the child's stdin under the write lock.
func (t *Transport) writeFrame(req mcp.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.stdin == nil {
		return errors.New("not started")
	}
	_, err = t.stdin.Write(data)
	return err
}

// readLoop is the single long-lived stdout reader. It feeds raw chunks into
// the frame scanner and dispatches every candidate line. When stdout closes
// (child exit), all pending continuations are rejected.
func (t *Transport) readLoop(r io.Reader) {
	var sc frameScanner
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range sc.feed(buf[:n]) {
				t.dispatch(line)
			}
		}
		if err != nil {
			break
		}
	}
	sc.reset()
	t.rejectPending(mcp.Errorf(mcp.KindTransport, "downstream closed stdout"))
}

// dispatch applies the frame acceptance rule to one candidate line. A line
// is a frame iff it looks like JSON, parses as JSON, and (as an object)
// carries a numeric id present in the pending table. Everything else is
// logged at debug and dropped; log noise must never be fatal.
func (t *Transport) dispatch(line []byte) {
	if !looksLikeFrame(line) {
		t.discard(line, "not a frame")
		return
	}

	var resp mcp.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.discard(line, "unparseable")
		return
	}

	id, ok := frameID(resp.ID)
	if !ok {
		t.discard(line, "no numeric id")
		return
	}

	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		t.discard(line, "no pending request")
		return
	}

	if resp.Error != nil {
		ch <- outcome{err: mcp.RemoteErr(resp.Error.Code, resp.Error.Message)}
		return
	}
	ch <- outcome{result: resp.Result}
}

// frameID extracts a numeric request id from the raw id field.
func frameID(raw json.RawMessage) (int64, bool) {
	s := string(raw)
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// discard logs a rejected stdout line at debug and bumps the counter.
func (t *Transport) discard(line []byte, reason string) {
	t.metrics.RecordDiscardedFrame(context.Background(), t.key)
	preview := string(line)
	if len(preview) > 200 {
		preview = preview[:200] + "…"
	}
	t.log.Debug("discarded stdout line", "reason", reason, "line", preview)
}

// removePending drops one pending entry, if still present.
func (t *Transport) removePending(id int64) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// rejectPending fails every pending continuation with err and marks the
// transport closed for new requests.
func (t *Transport) rejectPending(err *mcp.Error) {
	t.mu.Lock()
	t.closed = true
	pending := t.pending
	t.pending = make(map[int64]chan outcome)
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: err}
	}
}

// Connected reports whether the transport still accepts requests.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.stdin != nil
}

// Close tears the transport down: pending continuations are rejected, stdin
// is closed, and the child receives SIGTERM, escalating to SIGKILL after a
// grace period. Close is idempotent and always returns nil after the first
// call completes.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.rejectPending(mcp.Errorf(mcp.KindTransport, "transport closed"))

		t.writeMu.Lock()
		if t.stdin != nil {
			_ = t.stdin.Close()
		}
		t.writeMu.Unlock()

		if t.cmd != nil && t.cmd.Process != nil {
			if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
				_ = t.cmd.Process.Kill()
			}
			select {
			case <-t.procDone:
			case <-time.After(closeGrace):
				_ = t.cmd.Process.Kill()
				<-t.procDone
			}
			t.metrics.DownstreamStopped(context.Background(), t.key)
		}

		t.log.Debug("downstream stopped", "wait_err", t.procErr)
	})
	return nil
}
