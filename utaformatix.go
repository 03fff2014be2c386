// Package utaformatix converts vocal synthesizer project files by running
// the UtaFormatix library inside an embedded JavaScript engine.
//
// Each UtaFormatix value owns one evaluator on a dedicated goroutine, so
// calls on one value are serialized. Use a Pool, or several values, for
// parallel conversions.
package utaformatix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/bundle"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/evaluator"
)

// request is one unit of work for the evaluator goroutine.
type request struct {
	nonce uuid.UUID
	ctx   context.Context
	op    string
	fn    func(h *evaluator.Host) error
	reply chan response
}

type response struct {
	nonce uuid.UUID
	err   error
}

// UtaFormatix is a converter backed by a single evaluator instance.
type UtaFormatix struct {
	cfg    evaluator.Config
	logger *slog.Logger
	// recreate replaces a failed evaluator before the next call.
	recreate bool

	requests  chan request
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex // guards the fields below
	host    *evaluator.Host
	current uuid.UUID // nonce of the request being served
	exports []string
}

// New loads the library and starts the evaluator. Without WithBundle or
// WithBundleFile the bundle embedded at build time is used. The module
// ships without one: either pass a bundle, or place a build of the library
// (`utaformatix bundle -o internal/bundle/dist/utaformatix.js ENTRY`) in
// internal/bundle/dist before compiling. Otherwise New fails with
// ErrNoBundle.
func New(opts ...Option) (*UtaFormatix, error) {
	s := settings{recreateOnFault: true}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	source := s.source
	switch {
	case source != "":
	case s.bundlePath != "":
		src, err := bundle.Load(s.bundlePath)
		if err != nil {
			return nil, err
		}
		source = src
	default:
		src, err := bundle.Default()
		if errors.Is(err, bundle.ErrNoBundle) {
			return nil, fmt.Errorf("%w: use WithBundle or WithBundleFile", err)
		}
		if err != nil {
			return nil, err
		}
		source = src
	}

	u := &UtaFormatix{
		cfg: evaluator.Config{
			Source:        source,
			GlobalName:    s.globalName,
			MemoryLimitMB: s.memoryLimitMB,
			Logger:        s.logger,
		},
		logger:   s.logger.With("component", "utaformatix"),
		recreate: s.recreateOnFault,
		requests: make(chan request),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}

	started := make(chan error, 1)
	go u.run(started)
	if err := <-started; err != nil {
		<-u.exited
		return nil, err
	}
	return u, nil
}

// run owns the evaluator. Engines that are bound to an OS thread need
// every call to come from the same one.
func (u *UtaFormatix) run(started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(u.exited)

	if err := u.startHost(); err != nil {
		started <- err
		return
	}
	started <- nil

	defer u.stopHost()
	for {
		select {
		case req := <-u.requests:
			req.reply <- response{nonce: req.nonce, err: u.serve(req)}
		case <-u.done:
			return
		}
	}
}

func (u *UtaFormatix) startHost() error {
	h, err := evaluator.New(u.cfg)
	if err != nil {
		return err
	}
	if err := h.Initialize(); err != nil {
		h.Teardown()
		return err
	}
	u.mu.Lock()
	u.host = h
	u.exports = h.Exports()
	u.mu.Unlock()
	u.logger.Debug("evaluator started", "engine", h.Engine(), "exports", len(u.exports))
	return nil
}

func (u *UtaFormatix) stopHost() {
	u.mu.Lock()
	h := u.host
	u.host = nil
	u.mu.Unlock()
	if h == nil {
		return
	}
	if err := h.Teardown(); err != nil {
		u.logger.Warn("tearing down evaluator", "error", err)
	}
}

func (u *UtaFormatix) serve(req request) (err error) {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	h, err := u.readyHost(req.op)
	if err != nil {
		return err
	}

	u.mu.Lock()
	u.current = req.nonce
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.current = uuid.Nil
		u.mu.Unlock()
		if p := recover(); p != nil {
			err = &FaultError{Op: req.op, Err: fmt.Errorf("panic: %v", p)}
		}
		// An interrupt that lands after the last script finished still
		// poisons the evaluator.
		if u.recreate && (h.State() == evaluator.StateFailed || h.Interrupted()) {
			u.stopHost()
		}
	}()
	// ctx may have ended before current was visible to interrupt.
	if err := req.ctx.Err(); err != nil {
		return err
	}
	u.logger.Debug("serving request", "op", req.op, "nonce", req.nonce)
	return req.fn(h)
}

// readyHost returns the evaluator, starting a fresh one if the previous
// one was discarded.
func (u *UtaFormatix) readyHost(op string) (*evaluator.Host, error) {
	u.mu.Lock()
	h := u.host
	u.mu.Unlock()
	if h != nil {
		return h, nil
	}
	if !u.recreate {
		return nil, fmt.Errorf("%s: %w", op, ErrNotReady)
	}
	u.logger.Info("recreating evaluator", "op", op)
	if err := u.startHost(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.host, nil
}

// call runs fn on the evaluator goroutine. If ctx ends first, the running
// evaluator is interrupted and the call fails with a fault wrapping both
// ctx.Err() and ErrInterrupted.
func (u *UtaFormatix) call(ctx context.Context, op string, fn func(h *evaluator.Host) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{
		nonce: uuid.New(),
		ctx:   ctx,
		op:    op,
		fn:    fn,
		reply: make(chan response, 1),
	}
	select {
	case u.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-u.done:
		return ErrClosed
	}

	var resp response
	select {
	case resp = <-req.reply:
	case <-ctx.Done():
		u.interrupt(req.nonce)
		resp = <-req.reply
		switch {
		case resp.err == nil:
		case errors.Is(resp.err, ctx.Err()):
			// picked up after ctx ended, nothing ran
			return resp.err
		default:
			return &FaultError{Op: op, Err: fmt.Errorf("%w: %w", ctx.Err(), ErrInterrupted)}
		}
	}
	if resp.nonce != req.nonce {
		return &FaultError{Op: op, Err: fmt.Errorf("response for request %s answered %s", req.nonce, resp.nonce)}
	}
	return resp.err
}

// interrupt aborts the request with the given nonce if it is running.
func (u *UtaFormatix) interrupt(nonce uuid.UUID) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.current != nonce || u.host == nil {
		return
	}
	u.logger.Warn("interrupting evaluator", "nonce", nonce)
	u.host.Interrupt()
}

// Engine names the JavaScript engine in use.
func (u *UtaFormatix) Engine() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.host == nil {
		return ""
	}
	return u.host.Engine()
}

// Close stops the evaluator, aborting a call in progress. It is safe to
// call more than once.
func (u *UtaFormatix) Close() error {
	u.closeOnce.Do(func() {
		close(u.done)
		u.mu.Lock()
		if u.host != nil && u.current != uuid.Nil {
			u.host.Interrupt()
		}
		u.mu.Unlock()
		<-u.exited
	})
	return nil
}

func (u *UtaFormatix) hasExport(name string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, e := range u.exports {
		if e == name {
			return true
		}
	}
	return false
}
