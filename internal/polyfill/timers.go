package polyfill

import (
	"time"

	"github.com/sevenc-nanashi/utaformatix-lib/internal/core"
	"github.com/sevenc-nanashi/utaformatix-lib/internal/eventloop"
)

// timersJS implements setTimeout/setInterval/clearTimeout/clearInterval on
// top of the Go timer queue, plus the promise-returning __sleep the library
// awaits between conversion steps.
const timersJS = `
(function() {
	globalThis.__timerCallbacks = {};

	function toDelay(d) {
		d = Math.trunc(Number(d));
		return isFinite(d) && d > 0 ? d : 0;
	}

	function schedule(fn, delay, rest, interval) {
		if (typeof fn !== 'function') return 0;
		var id = __timerRegister(toDelay(delay), interval);
		globalThis.__timerCallbacks[id] = { fn: fn, args: rest, interval: interval };
		return id;
	}

	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number') return;
		__timerClear(id);
		delete globalThis.__timerCallbacks[id];
	};

	globalThis.__sleep = function(ms) {
		return new Promise(function(resolve) { setTimeout(resolve, ms); });
	};
	globalThis.sleep = globalThis.__sleep;
})();
`

// SetupTimers registers Go-backed timers and __sleep.
func SetupTimers(rt core.Engine, el *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__timerRegister", func(delayMs int, isInterval bool) int {
		return el.RegisterTimer(time.Duration(delayMs)*time.Millisecond, isInterval)
	}); err != nil {
		return err
	}
	if err := rt.RegisterFunc("__timerClear", func(id int) {
		el.ClearTimer(id)
	}); err != nil {
		return err
	}
	return rt.Eval(timersJS)
}
