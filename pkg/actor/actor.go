// Package actor implements the minimal actor runtime used throughout the
// conversation core (spec §5). Each Actor owns a mailbox processed by a
// single goroutine, so no actor ever observes two messages concurrently;
// different actors run on the shared Go scheduler, which plays the role
// of the "shared worker pool" described in the spec.
//
// Suspension points (LLM calls, persistence, push-channel writes) are
// modeled as an ordinary blocking call made from inside a handler: since
// each actor has its own goroutine, a slow handler only delays that one
// actor's own mailbox, never another actor's. A handler that itself
// needs a reply from another actor calls Ask, which blocks the caller's
// goroutine until the callee replies (or the context is done) — this is
// precisely what gives the Supervisor its "one turn in flight per
// conversation" guarantee (I1): while a turn's handler is blocked inside
// Ask, the Supervisor's own mailbox simply queues anything sent to it.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Request is one mailbox entry. Reply is non-nil for Ask-style sends;
// Stream is non-nil when the caller wants ordered partial results
// forwarded before the final Reply (used for agent streaming, §4.1).
type Request struct {
	Payload any
	Reply   chan Response
	Stream  chan any
}

// Response is what a handler produces for a Request.
type Response struct {
	Payload any
	Err     error
}

// Handler processes one Request and returns a Response. It may send any
// number of values on req.Stream before returning, if req.Stream != nil.
type Handler func(ctx context.Context, req Request) Response

// IdleHandler is invoked when no message arrives within the idle
// timeout. The default is a no-op — idle actors may legitimately stay
// alive (§5); specific actor types pass a non-nil IdleHandler to stop
// themselves instead.
type IdleHandler func()

// Actor is a single-goroutine message processor with an optional idle
// timeout.
type Actor struct {
	Name string

	mailbox     chan Request
	handle      Handler
	idleTimeout time.Duration
	onIdle      IdleHandler
	stop        chan struct{}
	stopped     chan struct{}
}

// Option configures an Actor at Spawn time.
type Option func(*Actor)

// WithIdleTimeout sets the receive timeout and the callback invoked when
// it elapses with no message processed (default: 60s, no-op callback).
func WithIdleTimeout(d time.Duration, onIdle IdleHandler) Option {
	return func(a *Actor) {
		a.idleTimeout = d
		a.onIdle = onIdle
	}
}

// WithMailboxSize overrides the default mailbox buffer size.
func WithMailboxSize(n int) Option {
	return func(a *Actor) { a.mailbox = make(chan Request, n) }
}

// Spawn starts an actor goroutine running handle, and returns a handle
// to it. Callers stop the actor with Stop.
func Spawn(name string, handle Handler, opts ...Option) *Actor {
	a := &Actor{
		Name:        name,
		mailbox:     make(chan Request, 32),
		handle:      handle,
		idleTimeout: 60 * time.Second,
		onIdle:      func() {},
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.loop()
	return a
}

func (a *Actor) loop() {
	defer close(a.stopped)
	for {
		timer := time.NewTimer(a.idleTimeout)
		select {
		case <-a.stop:
			timer.Stop()
			return
		case req := <-a.mailbox:
			timer.Stop()
			resp := a.safeHandle(req)
			if req.Reply != nil {
				req.Reply <- resp
			}
		case <-timer.C:
			// onIdle runs on its own goroutine so that it may Stop this actor.
			go a.onIdle()
		}
	}
}

func (a *Actor) safeHandle(req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("actor handler panicked", "actor", a.Name, "panic", r)
			resp = Response{Err: fmt.Errorf("actor %s: handler panic: %v", a.Name, r)}
		}
	}()
	return a.handle(context.Background(), req)
}

// Tell sends a fire-and-forget message; no reply is expected.
func (a *Actor) Tell(payload any) {
	select {
	case a.mailbox <- Request{Payload: payload}:
	case <-a.stopped:
	}
}

// Ask sends payload and blocks for a reply, honoring ctx's deadline.
func (a *Actor) Ask(ctx context.Context, payload any) (any, error) {
	reply := make(chan Response, 1)
	select {
	case a.mailbox <- Request{Payload: payload, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopped:
		return nil, fmt.Errorf("actor %s: stopped", a.Name)
	}

	select {
	case resp := <-reply:
		return resp.Payload, resp.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopped:
		return nil, fmt.Errorf("actor %s: stopped", a.Name)
	}
}

// AskStreaming is like Ask but also forwards any values the handler
// sends on the stream channel to onChunk, in emission order, resetting
// the deadline on every chunk the way the Supervisor's 90s timeout does
// while forwarding agent output (§4.1, §5).
func (a *Actor) AskStreaming(ctx context.Context, payload any, deadline time.Duration, onChunk func(any)) (any, error) {
	reply := make(chan Response, 1)
	stream := make(chan any, 16)
	req := Request{Payload: payload, Reply: reply, Stream: stream}

	select {
	case a.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopped:
		return nil, fmt.Errorf("actor %s: stopped", a.Name)
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				stream = nil
				continue
			}
			onChunk(chunk)
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(deadline)
		case resp := <-reply:
			return resp.Payload, resp.Err
		case <-timer.C:
			return nil, context.DeadlineExceeded
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.stopped:
			return nil, fmt.Errorf("actor %s: stopped", a.Name)
		}
	}
}

// Stop terminates the actor's goroutine. Any in-flight Ask/AskStreaming
// calls observe the stopped channel and return an error; their eventual
// reply, if any, is discarded (§5 cancellation policy).
func (a *Actor) Stop() {
	select {
	case <-a.stopped:
	default:
		close(a.stop)
		<-a.stopped
	}
}
