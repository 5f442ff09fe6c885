package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a Bridge.
type State int32

// Bridge states.
const (
	StateStarting State = iota
	StateReady
	StateServing
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateServing:
		return "serving"
	case StateShuttingDown:
		return "shutting down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// BridgeOptions tunes a Bridge. Zero values pick the defaults.
type BridgeOptions struct {
	ReadyTimeout    time.Duration
	CallTimeout     time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

const (
	defaultReadyTimeout    = 30 * time.Second
	defaultCallTimeout     = 2 * time.Minute
	defaultShutdownTimeout = 5 * time.Second
)

type request struct {
	seq  uint64
	ctx  context.Context
	name string
	args map[string]any
	stop bool
}

type reply struct {
	seq     uint64
	payload string
	err     error
}

// Bridge runs one Session on a dedicated goroutine and offers blocking,
// serialized calls into it.
//
// The worker initializes the session, lists its tools, signals readiness and
// then serves one request at a time from the requests channel, answering on
// the results channel. A request with stop set ends the loop.
type Bridge struct {
	name    string
	session Session
	opts    BridgeOptions
	log     *slog.Logger

	requests chan request
	results  chan reply
	ready    chan struct{}
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Written by the worker before ready is closed.
	tools   []Tool
	initErr error
	// Written by the worker before done is closed.
	closeErr error

	state  atomic.Int32
	dead   atomic.Pointer[error]
	closed atomic.Bool

	callMu sync.Mutex
	seq    uint64

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewBridge starts the worker for session and returns immediately.
func NewBridge(name string, session Session, opts BridgeOptions) *Bridge {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		name:     name,
		session:  session,
		opts:     opts,
		log:      log.With("server", name),
		requests: make(chan request),
		results:  make(chan reply, 1),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	go b.run()
	return b
}

// Name returns the server name.
func (b *Bridge) Name() string { return b.name }

// State returns the current lifecycle stage.
func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) { b.state.Store(int32(s)) }

// Tools returns the catalog captured at startup. It is empty until the bridge
// is ready.
func (b *Bridge) Tools() []Tool {
	select {
	case <-b.ready:
		return b.tools
	default:
		return nil
	}
}

func (b *Bridge) run() {
	defer close(b.done)
	defer b.setState(StateStopped)

	if err := b.session.Initialize(b.ctx); err != nil {
		b.initErr = err
		close(b.ready)
		b.log.Warn("mcp server failed to start", "err", err)
		if cerr := b.session.Close(); cerr != nil {
			b.log.Debug("close after failed start", "err", cerr)
		}
		return
	}

	tools, err := b.session.ListTools(b.ctx)
	if err != nil {
		b.log.Warn("mcp server did not list its tools", "err", err)
		tools = nil
	}
	b.tools = tools
	b.setState(StateReady)
	close(b.ready)
	b.log.Debug("mcp server ready", "tools", len(tools))

	for {
		select {
		case req := <-b.requests:
			if req.stop {
				b.setState(StateShuttingDown)
				b.closeErr = b.session.Close()
				return
			}
			b.setState(StateServing)
			rep := b.serve(req)
			b.setState(StateReady)
			select {
			case b.results <- rep:
			case <-b.ctx.Done():
				b.closeErr = b.session.Close()
				return
			}
		case <-b.ctx.Done():
			b.setState(StateShuttingDown)
			b.closeErr = b.session.Close()
			return
		}
	}
}

func (b *Bridge) serve(req request) (rep reply) {
	rep.seq = req.seq
	defer func() {
		if r := recover(); r != nil {
			rep.payload = ""
			rep.err = fmt.Errorf("%w: session panicked: %v", ErrProtocol, r)
			b.log.Error("mcp session panicked", "tool", req.name, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(req.ctx, b.opts.CallTimeout)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	start := time.Now()
	rep.payload, rep.err = b.session.Invoke(ctx, req.name, req.args)
	if rep.err != nil && ctx.Err() != nil && !errors.Is(rep.err, ErrTimeout) {
		rep.err = fmt.Errorf("%w: %s after %s: %w", ErrTimeout, req.name, time.Since(start).Round(time.Millisecond), rep.err)
	}
	if errors.Is(rep.err, ErrConnection) {
		err := rep.err
		b.dead.Store(&err)
		b.log.Warn("mcp transport lost", "err", err)
	}
	b.log.Debug("mcp call", "tool", req.name, "took", time.Since(start), "err", rep.err)
	return rep
}

// WaitReady blocks until the session is ready, failed to start, or the ready
// bound elapsed.
func (b *Bridge) WaitReady(ctx context.Context) error {
	timer := time.NewTimer(b.opts.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-b.ready:
		return b.initErr
	case <-timer.C:
		return fmt.Errorf("%w: %s not ready after %s", ErrTimeout, b.name, b.opts.ReadyTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for %s: %w", ErrTimeout, b.name, ctx.Err())
	}
}

// CallTool runs a tool and blocks until its result arrives. Calls are
// resolved one at a time in submission order. Every failure is returned as a
// *ToolError.
func (b *Bridge) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	fail := func(err error) (string, error) {
		return "", &ToolError{Server: b.name, Tool: name, Err: err}
	}

	if b.closed.Load() {
		return fail(ErrSessionClosed)
	}
	if err := b.WaitReady(ctx); err != nil {
		return fail(err)
	}

	b.callMu.Lock()
	defer b.callMu.Unlock()

	if dead := b.dead.Load(); dead != nil {
		return fail(fmt.Errorf("%w: %w", ErrSessionClosed, *dead))
	}

	b.seq++
	req := request{seq: b.seq, ctx: ctx, name: name, args: args}

	select {
	case b.requests <- req:
	case <-b.done:
		return fail(ErrSessionClosed)
	case <-ctx.Done():
		return fail(fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
	}

	for {
		select {
		case rep := <-b.results:
			if rep.seq != req.seq {
				// Answer to an earlier caller that gave up waiting.
				continue
			}
			if rep.err != nil {
				return fail(rep.err)
			}
			return rep.payload, nil
		case <-b.done:
			return fail(ErrSessionClosed)
		case <-ctx.Done():
			return fail(fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
		}
	}
}

// Shutdown stops the worker and releases the session. It returns once the
// worker has exited, or fails with ErrTimeout when it did not exit within the
// shutdown bound. Only the first call has an effect.
func (b *Bridge) Shutdown() error {
	b.shutdownOnce.Do(func() {
		b.closed.Store(true)
		b.shutdownErr = b.shutdown()
	})
	return b.shutdownErr
}

func (b *Bridge) shutdown() error {
	defer b.cancel()

	select {
	case <-b.ready:
	default:
		// Still in the handshake: nothing to drain.
		b.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.ShutdownTimeout)
	defer cancel()

	select {
	case b.requests <- request{stop: true}:
	case <-b.done:
	case <-ctx.Done():
		b.cancel()
	}

	select {
	case <-b.done:
	case <-ctx.Done():
		b.cancel()
		select {
		case <-b.done:
		case <-time.After(b.opts.ShutdownTimeout):
			return fmt.Errorf("%w: %s did not stop after %s", ErrTimeout, b.name, 2*b.opts.ShutdownTimeout)
		}
	}

	if b.closeErr != nil {
		return fmt.Errorf("shutdown %s: %w", b.name, b.closeErr)
	}
	return nil
}
