package relay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haivivi/chatrelay/pkg/relay"
)

// trace records task starts and ends in global order.
type trace struct {
	mu     sync.Mutex
	events []string
}

func (tr *trace) add(ev string) {
	tr.mu.Lock()
	tr.events = append(tr.events, ev)
	tr.mu.Unlock()
}

func (tr *trace) snapshot() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.events...)
}

// perKey returns the entries started for key, in global order, and checks
// that every start of key is followed by its own end before the next start.
func (tr *trace) perKey(t *testing.T, key string) []string {
	t.Helper()
	var (
		order   []string
		running string
	)
	for _, ev := range tr.snapshot() {
		var kind, k, e string
		fmt.Sscanf(ev, "%s %s %s", &kind, &k, &e)
		if k != key {
			continue
		}
		switch kind {
		case "start":
			if running != "" {
				t.Fatalf("key %s: %s started while %s in flight", key, e, running)
			}
			running = e
			order = append(order, e)
		case "end":
			if running != e {
				t.Fatalf("key %s: end of %s while %q in flight", key, e, running)
			}
			running = ""
		}
	}
	return order
}

func shutdown[K comparable, E any](t *testing.T, d *relay.Dispatcher[K, E]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func tracingTask(tr *trace, delay time.Duration) relay.TaskFunc[string, string] {
	return func(ctx context.Context, key, entry string) error {
		tr.add("start " + key + " " + entry)
		if delay > 0 {
			time.Sleep(delay)
		}
		tr.add("end " + key + " " + entry)
		return nil
	}
}

func TestDispatcherScenario(t *testing.T) {
	tr := &trace{}
	d := relay.New(relay.Config[string, string]{Task: tracingTask(tr, time.Millisecond)})

	for _, e := range []string{"A", "B", "C"} {
		if err := d.Admit("u1", e); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	if err := d.Admit("u2", "X", "Y"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := d.Admit("u1", "D"); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	shutdown(t, d)

	if got := fmt.Sprint(tr.perKey(t, "u1")); got != "[A B C D]" {
		t.Errorf("u1 order = %s, want [A B C D]", got)
	}
	if got := fmt.Sprint(tr.perKey(t, "u2")); got != "[X Y]" {
		t.Errorf("u2 order = %s, want [X Y]", got)
	}
	if n := d.Registry().Len(); n != 0 {
		t.Errorf("registry holds %d keys after drain, want 0", n)
	}
}

func TestDispatcherFIFOPerKey(t *testing.T) {
	tr := &trace{}
	d := relay.New(relay.Config[string, string]{Task: tracingTask(tr, 0)})

	const n = 200
	var want []string
	for i := range n {
		e := fmt.Sprintf("e%03d", i)
		want = append(want, e)
		if err := d.Admit("k", e); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	shutdown(t, d)

	if got := tr.perKey(t, "k"); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("order mismatch:\n got %v\nwant %v", got, want)
	}
}

func TestDispatcherCrossKeyIndependence(t *testing.T) {
	release := make(chan struct{})
	bDone := make(chan struct{})
	d := relay.New(relay.Config[string, string]{
		Task: relay.TaskFunc[string, string](func(ctx context.Context, key, entry string) error {
			switch key {
			case "A":
				<-release
			case "B":
				close(bDone)
			}
			return nil
		}),
	})

	if err := d.Admit("A", "slow"); err != nil {
		t.Fatal(err)
	}
	if err := d.Admit("B", "fast"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-bDone:
	case <-time.After(2 * time.Second):
		t.Fatal("task for B was delayed by a slow task for A")
	}
	if got := d.Registry().Pending("A"); got != 1 {
		t.Errorf("A pending = %d while in flight, want 1", got)
	}
	close(release)
	shutdown(t, d)
}

func TestDispatcherAtMostOneInFlight(t *testing.T) {
	var (
		mu        sync.Mutex
		inflight  = map[string]int{}
		violation atomic.Bool
		processed atomic.Int64
	)
	d := relay.New(relay.Config[string, int]{
		Task: relay.TaskFunc[string, int](func(ctx context.Context, key string, entry int) error {
			mu.Lock()
			inflight[key]++
			if inflight[key] > 1 {
				violation.Store(true)
			}
			mu.Unlock()

			time.Sleep(50 * time.Microsecond)

			mu.Lock()
			inflight[key]--
			mu.Unlock()
			processed.Add(1)
			return nil
		}),
	})

	const (
		keys    = 16
		perKey  = 50
		writers = 4
	)
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perKey {
				for k := range keys {
					if err := d.Admit(fmt.Sprintf("k%d", k), w*perKey+i); err != nil {
						t.Errorf("Admit: %v", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	shutdown(t, d)

	if violation.Load() {
		t.Fatal("more than one task in flight for a key")
	}
	if got, want := processed.Load(), int64(keys*perKey*writers); got != want {
		t.Fatalf("processed %d entries, want %d", got, want)
	}
	st := d.Stats()
	if st.Keys != 0 || st.Pending != 0 || st.Running != 0 {
		t.Fatalf("stats after drain = %+v, want no keys, pending or running", st)
	}
	if st.Completed != int64(keys*perKey*writers) || st.Failed != 0 {
		t.Fatalf("stats counters = %+v", st)
	}
}

type sinkRecorder struct {
	mu   sync.Mutex
	errs map[string][]error
}

func (s *sinkRecorder) ReportError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = map[string][]error{}
	}
	s.errs[key] = append(s.errs[key], err)
}

func (s *sinkRecorder) get(key string) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[key]
}

func TestDispatcherFailureIsolation(t *testing.T) {
	errBoom := errors.New("boom")
	tr := &trace{}
	sink := &sinkRecorder{}
	d := relay.New(relay.Config[string, string]{
		ErrorSink: sink,
		Task: relay.TaskFunc[string, string](func(ctx context.Context, key, entry string) error {
			tr.add("start " + key + " " + entry)
			defer tr.add("end " + key + " " + entry)
			if key == "K" && entry == "2" {
				return errBoom
			}
			time.Sleep(time.Millisecond)
			return nil
		}),
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, e := range []string{"a", "b", "c", "d"} {
			if err := d.Admit("L", e); err != nil {
				t.Errorf("Admit: %v", err)
			}
		}
	}()
	for _, e := range []string{"1", "2", "3"} {
		if err := d.Admit("K", e); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	wg.Wait()
	shutdown(t, d)

	if got := fmt.Sprint(tr.perKey(t, "K")); got != "[1 2 3]" {
		t.Errorf("K order = %s, want [1 2 3]", got)
	}
	if got := fmt.Sprint(tr.perKey(t, "L")); got != "[a b c d]" {
		t.Errorf("L order = %s, want [a b c d]", got)
	}
	errs := sink.get("K")
	if len(errs) != 1 || !errors.Is(errs[0], errBoom) {
		t.Errorf("K errors = %v, want exactly [boom]", errs)
	}
	if errs := sink.get("L"); len(errs) != 0 {
		t.Errorf("L errors = %v, want none", errs)
	}
	if st := d.Stats(); st.Failed != 1 || st.Completed != 6 {
		t.Errorf("stats = %+v, want 1 failed and 6 completed", st)
	}
}

func TestDispatcherPanicRecovered(t *testing.T) {
	sink := &sinkRecorder{}
	var after atomic.Bool
	d := relay.New(relay.Config[string, string]{
		ErrorSink: sink,
		Task: relay.TaskFunc[string, string](func(ctx context.Context, key, entry string) error {
			if entry == "bad" {
				panic("kaboom")
			}
			after.Store(true)
			return nil
		}),
	})
	d.Admit("k", "bad", "good")
	shutdown(t, d)

	errs := sink.get("k")
	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one", errs)
	}
	var pe *relay.TaskPanicError
	if !errors.As(errs[0], &pe) {
		t.Fatalf("error %v is not a TaskPanicError", errs[0])
	}
	if pe.Value != "kaboom" || len(pe.Stack) == 0 {
		t.Errorf("panic error = %v, stack %d bytes", pe.Value, len(pe.Stack))
	}
	if !after.Load() {
		t.Error("entry after the panic was not processed")
	}
}

func TestDispatcherSinkPanicReleasesKey(t *testing.T) {
	var done atomic.Int32
	d := relay.New(relay.Config[string, string]{
		ErrorSink: relay.ErrorSinkFunc[string](func(key string, err error) {
			panic("sink down")
		}),
		Task: relay.TaskFunc[string, string](func(ctx context.Context, key, entry string) error {
			done.Add(1)
			if entry == "bad" {
				return errors.New("failed")
			}
			return nil
		}),
	})
	if err := d.Admit("k", "bad", "good"); err != nil {
		t.Fatal(err)
	}
	shutdown(t, d)

	if n := done.Load(); n != 2 {
		t.Fatalf("processed %d entries, want 2", n)
	}
	if n := d.Registry().Len(); n != 0 {
		t.Fatalf("registry holds %d keys after drain", n)
	}
	if st := d.Stats(); st.Failed != 1 || st.Completed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestDispatcherTaskTimeout(t *testing.T) {
	sink := &sinkRecorder{}
	d := relay.New(relay.Config[string, string]{
		ErrorSink:   sink,
		TaskTimeout: 20 * time.Millisecond,
		Task: relay.TaskFunc[string, string](func(ctx context.Context, key, entry string) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	})
	d.Admit("k", "hang")
	shutdown(t, d)

	errs := sink.get("k")
	if len(errs) != 1 || !errors.Is(errs[0], context.DeadlineExceeded) {
		t.Fatalf("errors = %v, want DeadlineExceeded", errs)
	}
}

func TestDispatcherAdmitZeroEntries(t *testing.T) {
	var calls atomic.Int32
	d := relay.New(relay.Config[string, string]{
		Task: relay.TaskFunc[string, string](func(context.Context, string, string) error {
			calls.Add(1)
			return nil
		}),
	})
	if err := d.Admit("k"); err != nil {
		t.Fatalf("Admit(): %v", err)
	}
	if n := d.Registry().Len(); n != 0 {
		t.Fatalf("registry holds %d keys, want 0", n)
	}
	shutdown(t, d)
	if calls.Load() != 0 {
		t.Fatal("task ran for an empty admission")
	}
}

func TestDispatcherCapacity(t *testing.T) {
	release := make(chan struct{})
	d := relay.New(relay.Config[string, string]{
		Capacity: 2,
		Task: relay.TaskFunc[string, string](func(context.Context, string, string) error {
			<-release
			return nil
		}),
	})
	if err := d.Admit("k", "1"); err != nil {
		t.Fatal(err)
	}
	if err := d.Admit("k", "2"); err != nil {
		t.Fatal(err)
	}
	if err := d.Admit("k", "3"); !errors.Is(err, relay.ErrQueueFull) {
		t.Fatalf("Admit over capacity: got %v, want ErrQueueFull", err)
	}
	if err := d.Admit("other", "1"); err != nil {
		t.Fatalf("Admit on another key: %v", err)
	}
	close(release)
	shutdown(t, d)
}

func TestDispatcherClose(t *testing.T) {
	d := relay.New(relay.Config[string, string]{
		Task: relay.TaskFunc[string, string](func(context.Context, string, string) error { return nil }),
	})
	if err := d.Wait(context.Background()); err == nil {
		t.Fatal("Wait before Close should fail")
	}
	d.Close()
	if err := d.Admit("k", "x"); !errors.Is(err, relay.ErrClosed) {
		t.Fatalf("Admit after Close: got %v, want ErrClosed", err)
	}
	if err := d.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestDispatcherWaitDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	d := relay.New(relay.Config[string, string]{
		Task: relay.TaskFunc[string, string](func(context.Context, string, string) error {
			<-release
			return nil
		}),
	})
	d.Admit("k", "stuck")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown: got %v, want DeadlineExceeded", err)
	}
}
