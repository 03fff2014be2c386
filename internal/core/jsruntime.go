package core

// JSRuntime abstracts the JavaScript engine (QuickJS, V8 or goja) behind a
// common interface used by the polyfill setup functions in internal/polyfill,
// the timer queue in internal/eventloop and the host in internal/evaluator.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Arguments and results are limited to string, int, float64 and bool.
	// On error return, the JS wrapper throws a TypeError instead of
	// returning an array.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.)
	// until it is empty.
	RunMicrotasks()
}

// BinaryTransferer moves byte sequences between Go and JS as ArrayBuffers.
// Bytes never travel as JS strings, so payloads containing zero bytes or
// invalid UTF-8 arrive unchanged.
type BinaryTransferer interface {
	// ReadBinaryFromJS reads the ArrayBuffer stored at the given global,
	// deletes the global and returns a copy of its contents.
	ReadBinaryFromJS(globalName string) ([]byte, error)

	// WriteBinaryToJS stores a copy of data as an ArrayBuffer at the given
	// global.
	WriteBinaryToJS(globalName string, data []byte) error
}

// Engine is a JSRuntime that owns its underlying VM. Every backend returns
// one of these from its constructor.
type Engine interface {
	JSRuntime
	BinaryTransferer

	// Interrupt asks the engine to abort the script that is currently
	// running. It is safe to call from any goroutine. An interrupted engine
	// must not be reused.
	Interrupt()

	// Close releases the VM. Close must not be called while a script is
	// running.
	Close()

	// Name identifies the backend ("quickjs", "v8", "goja").
	Name() string
}

// EngineFactory creates a fresh Engine. Backends expose one of these as
// their New function.
type EngineFactory func(cfg Config) (Engine, error)
