// Package evaluator hosts the conversion library inside an embedded
// JavaScript engine. A Host owns one engine and its timer queue, installs
// the polyfills, loads the library bundle and invokes its exports.
//
// A Host is not safe for concurrent use. Every method except Interrupt
// must be called from the goroutine that called Initialize.
package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/robbyt/go-fsm"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/backend"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/bundle"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/polyfill"
)

// Lifecycle states.
const (
	StateUninitialized = "uninitialized"
	StateInitializing  = "initializing"
	StateReady         = "ready"
	StateFailed        = "failed"
	StateTornDown      = "torn_down"
)

var transitions = map[string][]string{
	StateUninitialized: {StateInitializing, StateTornDown},
	StateInitializing:  {StateReady, StateFailed},
	StateReady:         {StateFailed, StateTornDown},
	StateFailed:        {StateTornDown},
	StateTornDown:      {},
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Config configures a Host.
type Config struct {
	// Source is the library bundle: a script defining
	// globalThis.<GlobalName>, or an ES module whose exports become it.
	Source string
	// GlobalName defaults to bundle.DefaultGlobalName.
	GlobalName    string
	MemoryLimitMB int
	// Logger receives host diagnostics and the script's console output.
	Logger *slog.Logger
	// NewRuntime defaults to the backend compiled into the binary.
	NewRuntime core.EngineFactory
}

// Host is a single evaluator instance.
type Host struct {
	cfg     Config
	logger  *slog.Logger
	machine *fsm.Machine

	mu sync.Mutex // guards rt and el against Interrupt
	rt core.Engine
	el *eventloop.EventLoop

	interrupted atomic.Bool
	exports     []string
}

// New validates cfg and returns an uninitialized Host.
func New(cfg Config) (*Host, error) {
	if cfg.GlobalName == "" {
		cfg.GlobalName = bundle.DefaultGlobalName
	}
	if !identifier.MatchString(cfg.GlobalName) {
		return nil, fmt.Errorf("invalid global name %q", cfg.GlobalName)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.NewRuntime == nil {
		cfg.NewRuntime = backend.New
	}
	machine, err := fsm.New(cfg.Logger.Handler(), StateUninitialized, transitions)
	if err != nil {
		return nil, fmt.Errorf("creating lifecycle machine: %w", err)
	}
	return &Host{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "evaluator"),
		machine: machine,
	}, nil
}

// State returns the current lifecycle state.
func (h *Host) State() string {
	return h.machine.GetState()
}

// Initialize creates the engine, installs the polyfills and evaluates the
// library. It can only succeed once; on failure the Host ends up in the
// failed state and must be torn down.
func (h *Host) Initialize() error {
	if err := h.machine.Transition(StateInitializing); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := h.initialize(); err != nil {
		h.release()
		if tErr := h.machine.Transition(StateFailed); tErr != nil {
			h.logger.Error("failed to record initialization failure", "error", tErr)
		}
		return &InitError{Err: err}
	}
	if err := h.machine.Transition(StateReady); err != nil {
		h.release()
		return &InitError{Err: err}
	}
	h.logger.Debug("evaluator ready", "engine", h.rt.Name(), "exports", len(h.exports))
	return nil
}

func (h *Host) initialize() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during initialization: %v", p)
		}
	}()
	if h.cfg.Source == "" {
		return errors.New("library source is empty")
	}

	rt, err := h.cfg.NewRuntime(core.Config{
		MemoryLimitMB: h.cfg.MemoryLimitMB,
		Logger:        h.cfg.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	el := eventloop.New()
	h.mu.Lock()
	h.rt, h.el = rt, el
	h.mu.Unlock()

	if err := polyfill.Install(rt, el, h.cfg.Logger); err != nil {
		return fmt.Errorf("installing polyfills: %w", err)
	}
	if err := rt.Eval(bundle.Wrap(h.cfg.Source, h.cfg.GlobalName)); err != nil {
		return fmt.Errorf("evaluating library: %w", err)
	}
	rt.RunMicrotasks()

	ok, err := rt.EvalBool(fmt.Sprintf(
		"(function(v) { return v !== null && (typeof v === 'object' || typeof v === 'function'); })(globalThis[%q])",
		h.cfg.GlobalName))
	if err != nil {
		return fmt.Errorf("inspecting library: %w", err)
	}
	if !ok {
		return fmt.Errorf("library did not define globalThis.%s", h.cfg.GlobalName)
	}

	raw, err := rt.EvalString(fmt.Sprintf(`(function(lib) {
		var names = [];
		for (var k in lib) {
			try { if (typeof lib[k] === 'function') names.push(k); } catch (e) {}
		}
		return JSON.stringify(names.sort());
	})(globalThis[%q])`, h.cfg.GlobalName))
	if err != nil {
		return fmt.Errorf("listing exports: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &h.exports); err != nil {
		return fmt.Errorf("listing exports: %w", err)
	}
	return nil
}

// Exports returns the sorted names of the library's callable exports.
func (h *Host) Exports() []string {
	out := make([]string, len(h.exports))
	copy(out, h.exports)
	return out
}

// HasExport reports whether name is a callable export.
func (h *Host) HasExport(name string) bool {
	for _, e := range h.exports {
		if e == name {
			return true
		}
	}
	return false
}

// Engine returns the name of the engine backing this Host, or "" before
// initialization.
func (h *Host) Engine() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rt == nil {
		return ""
	}
	return h.rt.Name()
}

// Interrupt aborts the script currently running in Invoke. The interrupted
// call returns a *FaultError wrapping ErrInterrupted and the Host moves to
// the failed state. Safe to call from any goroutine.
func (h *Host) Interrupt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rt == nil {
		return
	}
	h.interrupted.Store(true)
	h.rt.Interrupt()
	h.el.Abort()
}

// Interrupted reports whether Interrupt has been called. An interrupted
// Host fails its next Invoke even if nothing was running at the time.
func (h *Host) Interrupted() bool {
	return h.interrupted.Load()
}

// Teardown releases the engine. It is idempotent.
func (h *Host) Teardown() error {
	if h.machine.GetState() == StateTornDown {
		return nil
	}
	if h.machine.GetState() == StateInitializing {
		return fmt.Errorf("teardown: %w", ErrNotReady)
	}
	h.release()
	if err := h.machine.Transition(StateTornDown); err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	return nil
}

func (h *Host) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.el != nil {
		h.el.Reset()
		h.el = nil
	}
	if h.rt != nil {
		h.rt.Close()
		h.rt = nil
	}
}

// fail moves a ready Host to the failed state after a fatal fault.
func (h *Host) fail(cause error) {
	if err := h.machine.TransitionIfCurrentState(StateReady, StateFailed); err != nil {
		h.logger.Error("failed to record evaluator fault", "error", err)
		return
	}
	h.logger.Warn("evaluator instance failed", "error", cause)
}
