// Package polyfill installs the browser-flavored globals the conversion
// library expects into a bare evaluator: text encoding, Blob and File,
// timers, console, and the self/window aliases.
package polyfill

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
)

// SetupFunc installs one group of globals into an engine.
type SetupFunc func(rt core.Engine, el *eventloop.EventLoop) error

// ErrMissingGlobal is returned by CheckInstalled.
var ErrMissingGlobal = errors.New("required global not installed")

// RequiredGlobals must all be functions once setup has run.
var RequiredGlobals = []string{"Blob", "File", "TextEncoder", "TextDecoder", "__encode", "__decode", "__sleep", "setTimeout"}

const globalsJS = `
(function() {
	if (typeof globalThis.self === 'undefined') globalThis.self = globalThis;
	if (typeof globalThis.window === 'undefined') globalThis.window = globalThis;
})();
`

// SetupGlobals aliases self and window to globalThis.
func SetupGlobals(rt core.Engine, _ *eventloop.EventLoop) error {
	if err := rt.Eval(globalsJS); err != nil {
		return fmt.Errorf("evaluating globals: %w", err)
	}
	return nil
}

// Setups returns every setup function in installation order.
func Setups(logger *slog.Logger) []SetupFunc {
	return []SetupFunc{
		SetupGlobals,
		ConsoleSetup(logger),
		SetupEncoding,
		SetupBlob,
		SetupTimers,
	}
}

// Install runs all setup functions and then CheckInstalled.
func Install(rt core.Engine, el *eventloop.EventLoop, logger *slog.Logger) error {
	for _, setup := range Setups(logger) {
		if err := setup(rt, el); err != nil {
			return err
		}
	}
	return CheckInstalled(rt)
}

// CheckInstalled verifies that every name in RequiredGlobals is a function.
func CheckInstalled(rt core.JSRuntime) error {
	var missing []string
	for _, name := range RequiredGlobals {
		ok, err := rt.EvalBool(fmt.Sprintf("typeof globalThis[%q] === 'function'", name))
		if err != nil {
			return fmt.Errorf("checking %s: %w", name, err)
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingGlobal, strings.Join(missing, ", "))
	}
	return nil
}
