package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dockerish/embedworker/pkg/internal/logsanitize"
	"github.com/dockerish/embedworker/pkg/logging"
)

// defaultShutdownGrace bounds how long the shutdown drain routine waits for
// the scheduler worker to stop, absent a SHUTDOWN_GRACE_PERIOD_SECONDS
// override.
const defaultShutdownGrace = 5 * time.Second

// maxShutdownGrace is the hard ceiling on the shutdown wait regardless of
// configuration: the process must wait up to min(caller_timeout, 5s) for
// its worker goroutines to stop, never longer.
const maxShutdownGrace = 5 * time.Second

// Dispatcher reads one JSON-RPC request per line from stdin, routes it to
// the matching handler, and writes one JSON-RPC reply per line to stdout.
// Notifications (requests with no id) never produce a reply. It shares its
// output mutex with a ProgressEmitter so that notifications and replies
// never interleave mid-line.
type Dispatcher struct {
	log           logging.Logger
	worker        *Worker
	in            *bufio.Scanner
	out           io.Writer
	outMu         *sync.Mutex
	shutdownGrace time.Duration

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewDispatcher creates a Dispatcher reading from in and writing replies to
// out, guarded by outMu (which must be the same mutex used to construct
// any ProgressEmitter sharing this stream).
func NewDispatcher(log logging.Logger, worker *Worker, in io.Reader, out io.Writer, outMu *sync.Mutex, shutdownGrace time.Duration) *Dispatcher {
	if shutdownGrace <= 0 {
		shutdownGrace = defaultShutdownGrace
	}
	if shutdownGrace > maxShutdownGrace {
		shutdownGrace = maxShutdownGrace
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Dispatcher{
		log:           log,
		worker:        worker,
		in:            scanner,
		out:           out,
		outMu:         outMu,
		shutdownGrace: shutdownGrace,
		shutdownCh:    make(chan struct{}),
	}
}

// Done returns a channel closed once the dispatcher has decided to
// terminate, either via EOF, the shutdown RPC, or an external cancellation
// of the context passed to Run.
func (d *Dispatcher) Done() <-chan struct{} { return d.shutdownCh }

// Run reads and serves requests until stdin reaches EOF, ctx is cancelled,
// or the shutdown RPC is received. It never returns an error for a
// malformed line — that is reported to the caller as a JSON-RPC error
// reply instead.
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.shutdownOnce.Do(func() { close(d.shutdownCh) })

	for d.in.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := d.in.Bytes()
		if len(line) == 0 {
			continue
		}

		req, parseErr := d.parse(line)
		if parseErr != nil {
			// A malformed line never yields an id, but a parse error must
			// still be reported — unlike writeError(nil, ...), which
			// suppresses the reply for a genuinely id-less notification,
			// a line that failed to parse is not a notification at all.
			d.write(Response{JSONRPC: "2.0", ID: nil, Error: newError(ErrCodeParseError, parseErr.Error())})
			continue
		}

		d.serve(ctx, req)

		if req.Method == "shutdown" {
			return
		}
	}
}

func (d *Dispatcher) parse(line []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &req, nil
}

// serve routes req to its handler and, unless req is a notification,
// writes a reply. It recovers any panic from handler code so that an
// unexpected failure inside a handler never escapes the dispatch loop —
// it is turned into a -32603 reply instead.
func (d *Dispatcher) serve(ctx context.Context, req *Request) {
	if req.Method == "shutdown" {
		d.handleShutdown(req)
		return
	}

	handler, ok := methodTable[req.Method]
	if !ok {
		d.writeError(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("unknown method %q", logsanitize.String(req.Method)))
		return
	}

	result, err := d.invoke(ctx, handler, req.Params)
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			d.writeError(req.ID, rpcErr.Code, rpcErr.Message)
			return
		}
		d.writeError(req.ID, ErrCodeInternalError, err.Error())
		return
	}
	d.writeResult(req.ID, result)
}

func (d *Dispatcher) invoke(ctx context.Context, handler handlerFunc, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("recovered panic in RPC handler: %v", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return handler(ctx, d.worker, params)
}

func (d *Dispatcher) handleShutdown(req *Request) {
	d.writeResult(req.ID, map[string]bool{"success": true})

	go func() {
		time.Sleep(200 * time.Millisecond)
		d.worker.Scheduler().Stop()
	}()
}

// WaitForShutdown blocks until the scheduler has drained or
// shutdownGrace elapses, whichever comes first, consistent with the
// partial-failure-tolerant shutdown handler: it always returns (never
// blocks indefinitely).
func (d *Dispatcher) WaitForShutdown(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(d.shutdownGrace):
		d.log.Warnf("shutdown grace period elapsed before scheduler drained")
	}
}

func (d *Dispatcher) writeResult(id any, result any) {
	if id == nil {
		return // notification: no reply
	}
	d.write(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (d *Dispatcher) writeError(id any, code int, message string) {
	if id == nil {
		d.log.Warnf("error on notification-style request, suppressing reply: %s", logsanitize.String(message))
		return
	}
	d.write(Response{JSONRPC: "2.0", ID: id, Error: newError(code, message)})
}

func (d *Dispatcher) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		d.log.Errorf("failed to marshal RPC response: %v", err)
		return
	}

	d.outMu.Lock()
	defer d.outMu.Unlock()
	if _, err := fmt.Fprintf(d.out, "%s\n", data); err != nil {
		d.log.Errorf("failed to write RPC response: %v", err)
	}
}
