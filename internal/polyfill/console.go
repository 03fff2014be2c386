package polyfill

import (
	"context"
	"log/slog"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
)

const consoleJS = `
(function() {
	function format(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return arg.stack ? String(arg.stack) : String(arg);
		if (typeof arg === 'object' && arg !== null) {
			try { return JSON.stringify(arg); } catch (e) { return String(arg); }
		}
		return String(arg);
	}
	var con = {};
	['log', 'info', 'warn', 'error', 'debug', 'trace'].forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var i = 0; i < arguments.length; i++) parts.push(format(arguments[i]));
			__console(lvl, parts.join(' '));
		};
	});
	globalThis.console = con;
})();
`

// consoleLevels maps console methods to slog levels.
var consoleLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"trace": slog.LevelDebug,
	"log":   slog.LevelInfo,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ConsoleSetup returns a setup function that forwards console output to
// logger, tagged with source=js.
func ConsoleSetup(logger *slog.Logger) SetupFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("source", "js")
	return func(rt core.Engine, _ *eventloop.EventLoop) error {
		if err := rt.RegisterFunc("__console", func(level, message string) {
			lvl, ok := consoleLevels[level]
			if !ok {
				lvl = slog.LevelInfo
			}
			logger.Log(context.Background(), lvl, message)
		}); err != nil {
			return err
		}
		return rt.Eval(consoleJS)
	}
}
