package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type countingFetch struct {
	calls atomic.Int32

	mu    sync.Mutex
	value string
	err   error
}

func (f *countingFetch) set(value string, err error) {
	f.mu.Lock()
	f.value, f.err = value, err
	f.mu.Unlock()
}

func (f *countingFetch) fetch(context.Context) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.value, nil
}

func TestConcurrentReadsShareOneFetch(t *testing.T) {
	c := New(time.Minute)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) ([]int, error) {
		calls.Add(1)
		<-release
		return []int{1, 2, 3}, nil
	}

	const readers = 20
	var wg sync.WaitGroup
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := Get(context.Background(), c, Key{"devices"}, fetch)
			if err == nil && len(got) != 3 {
				err = errors.New("short result")
			}
			errs <- err
		}()
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
}

func TestStaleReadRefetchesAndKeepsValueOnFailure(t *testing.T) {
	clock := newFakeClock()
	c := New(5*time.Minute, WithClock(clock.Now))
	f := &countingFetch{}
	f.set("v1", nil)
	ctx := context.Background()
	key := Key{"users"}

	if got, err := Get(ctx, c, key, f.fetch); err != nil || got != "v1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	clock.Advance(4 * time.Minute)
	if _, err := Get(ctx, c, key, f.fetch); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("calls inside window = %d, want 1", n)
	}

	clock.Advance(2 * time.Minute)
	f.set("", errors.New("backend down"))
	if _, err := Get(ctx, c, key, f.fetch); err == nil {
		t.Fatal("expected fetch error")
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("calls after window = %d, want 2", n)
	}
	snap, ok := c.Peek(key)
	if !ok || snap.Value != "v1" || snap.Fresh {
		t.Fatalf("Peek after failure = %+v, %v; want stale v1", snap, ok)
	}

	// failures are not cached
	f.set("v2", nil)
	if got, err := Get(ctx, c, key, f.fetch); err != nil || got != "v2" {
		t.Fatalf("Get after recovery = %q, %v", got, err)
	}
	if n := f.calls.Load(); n != 3 {
		t.Fatalf("calls = %d, want 3", n)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	c := New(time.Hour)
	f := &countingFetch{}
	f.set("a", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := Get(ctx, c, Key{"users"}, f.fetch); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if n := c.Invalidate(Key{"users"}); n != 1 {
		t.Fatalf("Invalidate = %d, want 1", n)
	}
	if _, err := Get(ctx, c, Key{"users"}, f.fetch); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Fatalf("calls = %d, want 2", n)
	}
}

func TestInvalidateMatchesPrefix(t *testing.T) {
	c := New(time.Hour)
	for _, k := range []Key{{"users"}, {"users", "table"}, {"devices"}} {
		c.Set(k, "x")
	}
	if n := c.Invalidate(Key{"users"}); n != 2 {
		t.Fatalf("Invalidate = %d, want 2", n)
	}
	tests := []struct {
		key   Key
		fresh bool
	}{
		{Key{"users"}, false},
		{Key{"users", "table"}, false},
		{Key{"devices"}, true},
	}
	for _, tt := range tests {
		snap, ok := c.Peek(tt.key)
		if !ok {
			t.Fatalf("Peek(%v) missing", tt.key)
		}
		if snap.Fresh != tt.fresh {
			t.Fatalf("Peek(%v).Fresh = %v, want %v", tt.key, snap.Fresh, tt.fresh)
		}
	}
}

func TestInvalidateDuringFlightLeavesEntryStale(t *testing.T) {
	c := New(time.Hour)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(context.Context) (int, error) {
		n := calls.Add(1)
		if n == 1 {
			<-release
		}
		return int(n), nil
	}

	done := make(chan int)
	go func() {
		v, _ := Get(context.Background(), c, Key{"users"}, fetch)
		done <- v
	}()
	waitFor(t, func() bool { return calls.Load() == 1 })

	c.Invalidate(Key{"users"})
	close(release)
	if v := <-done; v != 1 {
		t.Fatalf("first read = %d, want 1", v)
	}

	v, err := Get(context.Background(), c, Key{"users"}, fetch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 2 || calls.Load() != 2 {
		t.Fatalf("read after invalidation = %d (calls %d), want a fresh fetch", v, calls.Load())
	}
}

func TestCallerCancellationDoesNotAbortFetch(t *testing.T) {
	c := New(time.Hour)
	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "done", ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Get(ctx, c, Key{"notifications"}, fetch)
		errc <- err
	}()
	waitFor(t, func() bool { return calls.Load() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	close(release)
	got, err := Get(context.Background(), c, Key{"notifications"}, fetch)
	if err != nil || got != "done" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}

func TestRemoveDuringFlightIsNotRestored(t *testing.T) {
	c := New(time.Hour)
	release := make(chan struct{})
	started := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		close(started)
		<-release
		return "late", nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Get(context.Background(), c, Key{"devices"}, fetch)
	}()
	<-started
	c.Remove(Key{"devices"})
	close(release)
	<-done

	if _, ok := c.Peek(Key{"devices"}); ok {
		t.Fatal("removed key restored by in-flight fetch")
	}
}

func TestSubscribeAndHooks(t *testing.T) {
	c := New(time.Hour)
	events, cancel := c.Subscribe(8)
	defer cancel()

	var hooked []string
	c.OnInvalidate(func(k Key) { hooked = append(hooked, k.String()) })

	c.Set(Key{"users"}, 1)
	c.Invalidate(Key{"users"})
	c.InvalidateRemote(Key{"devices"})

	want := []struct {
		kind   EventKind
		key    string
		remote bool
	}{
		{EventUpdated, "users", false},
		{EventInvalidated, "users", false},
		{EventInvalidated, "devices", true},
	}
	for i, w := range want {
		ev := <-events
		if ev.Kind != w.kind || ev.Key.String() != w.key || ev.Remote != w.remote {
			t.Fatalf("event %d = %+v, want %+v", i, ev, w)
		}
	}
	if len(hooked) != 1 || hooked[0] != "users" {
		t.Fatalf("hooks = %v, want [users]", hooked)
	}
}

func TestCloseEndsSubscriptionsAndReads(t *testing.T) {
	c := New(time.Hour)
	events, _ := c.Subscribe(1)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-events; ok {
		t.Fatal("subscription still open after Close")
	}
	_, err := Get(context.Background(), c, Key{"users"}, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestGetTypeMismatch(t *testing.T) {
	c := New(time.Hour)
	c.Set(Key{"users"}, "not a slice")
	_, err := Get(context.Background(), c, Key{"users"}, func(context.Context) ([]int, error) { return nil, nil })
	if err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestKeyHasPrefix(t *testing.T) {
	tests := []struct {
		key, prefix Key
		want        bool
	}{
		{Key{"users"}, Key{"users"}, true},
		{Key{"users", "table"}, Key{"users"}, true},
		{Key{"users"}, Key{"users", "table"}, false},
		{Key{"usersx"}, Key{"users"}, false},
		{Key{"devices"}, nil, true},
	}
	for _, tt := range tests {
		if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
			t.Fatalf("%v.HasPrefix(%v) = %v, want %v", tt.key, tt.prefix, got, tt.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
