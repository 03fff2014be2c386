package eventloop

import (
	"errors"
	"regexp"
	"strconv"
	"testing"
	"time"
)

// recordingRuntime captures the timer IDs fired through Eval.
type recordingRuntime struct {
	fired      []int
	microtasks int
}

var firedIDRe = regexp.MustCompile(`__timerCallbacks\[(\d+)\];`)

func (r *recordingRuntime) Eval(js string) error {
	if m := firedIDRe.FindStringSubmatch(js); m != nil {
		id, _ := strconv.Atoi(m[1])
		r.fired = append(r.fired, id)
	}
	return nil
}
func (r *recordingRuntime) EvalString(string) (string, error) { return "", nil }
func (r *recordingRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (r *recordingRuntime) EvalInt(string) (int, error)       { return 0, nil }
func (r *recordingRuntime) RegisterFunc(string, any) error    { return nil }
func (r *recordingRuntime) SetGlobal(string, any) error       { return nil }
func (r *recordingRuntime) RunMicrotasks()                    { r.microtasks++ }

func TestEventLoop_FiresInDeadlineOrder(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}

	slow := el.RegisterTimer(30*time.Millisecond, false)
	fast := el.RegisterTimer(5*time.Millisecond, false)
	now := el.RegisterTimer(0, false)

	if err := el.Drain(rt); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	want := []int{now, fast, slow}
	if len(rt.fired) != len(want) {
		t.Fatalf("fired %v, want %v", rt.fired, want)
	}
	for i := range want {
		if rt.fired[i] != want[i] {
			t.Fatalf("fired %v, want %v", rt.fired, want)
		}
	}
	if rt.microtasks != len(want) {
		t.Errorf("microtask pumps = %d, want %d", rt.microtasks, len(want))
	}
}

func TestEventLoop_EqualDeadlinesKeepRegistrationOrder(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}

	var ids []int
	for i := 0; i < 5; i++ {
		ids = append(ids, el.RegisterTimer(0, false))
	}
	// Force identical deadlines so only the ID breaks ties.
	deadline := time.Now()
	for _, tm := range el.timers {
		tm.deadline = deadline
	}

	if err := el.Drain(rt); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	for i := range ids {
		if rt.fired[i] != ids[i] {
			t.Fatalf("fired %v, want %v", rt.fired, ids)
		}
	}
}

func TestEventLoop_NegativeDelayFiresImmediately(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}

	el.RegisterTimer(-50*time.Millisecond, false)
	start := time.Now()
	ran, err := el.RunNext(rt)
	if err != nil || !ran {
		t.Fatalf("RunNext = %v, %v", ran, err)
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("negative delay waited %v", elapsed)
	}
}

func TestEventLoop_ClearTimer(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}

	id := el.RegisterTimer(0, false)
	el.ClearTimer(id)
	if el.HasPending() {
		t.Fatal("cleared timer still pending")
	}
	ran, err := el.RunNext(rt)
	if err != nil || ran {
		t.Fatalf("RunNext = %v, %v; want false, nil", ran, err)
	}
	if len(rt.fired) != 0 {
		t.Errorf("cleared timer fired: %v", rt.fired)
	}
}

func TestEventLoop_IntervalReschedules(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}

	id := el.RegisterTimer(0, true)
	for i := 0; i < 3; i++ {
		if _, err := el.RunNext(rt); err != nil {
			t.Fatalf("RunNext: %v", err)
		}
	}
	if !el.HasPending() {
		t.Fatal("interval timer should stay scheduled")
	}
	el.ClearTimer(id)
	if len(rt.fired) != 3 {
		t.Errorf("fired %d times, want 3", len(rt.fired))
	}
}

func TestEventLoop_AbortWakesWaiter(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(time.Hour, false)

	go func() {
		time.Sleep(10 * time.Millisecond)
		el.Abort()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := el.RunNext(rt)
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("RunNext error = %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Abort did not wake RunNext")
	}

	// Abort is sticky and idempotent.
	el.Abort()
	if _, err := el.RunNext(rt); !errors.Is(err, ErrAborted) {
		t.Fatalf("second RunNext error = %v, want ErrAborted", err)
	}
}

func TestEventLoop_Reset(t *testing.T) {
	el := New()
	el.RegisterTimer(time.Minute, false)
	el.RegisterTimer(time.Minute, true)
	el.Reset()
	if el.HasPending() {
		t.Fatal("Reset left timers behind")
	}
	if id := el.RegisterTimer(0, false); id != 3 {
		t.Errorf("first ID after Reset = %d, want 3", id)
	}
}

func TestEventLoop_StaleClearAfterReset(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	stale := el.RegisterTimer(time.Minute, false)
	el.Reset()

	fresh := el.RegisterTimer(0, false)
	el.ClearTimer(stale)
	if err := el.Drain(rt); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(rt.fired) != 1 || rt.fired[0] != fresh {
		t.Fatalf("fired %v, want [%d]", rt.fired, fresh)
	}
}
