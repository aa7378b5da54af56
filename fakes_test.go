package gxserialsession

import (
	"io"
	"sync"
	"testing"
	"time"
)

type readResult struct {
	data []byte
	err  error
}

// fakeTransport is a scripted Transport. Reads are fed through reads.
type fakeTransport struct {
	name     string
	openErr  error
	closeErr error
	// openGate blocks Open until it is closed.
	openGate chan struct{}
	// writeGate blocks every Write until a value is received.
	writeGate chan struct{}

	reads chan readResult

	mu         sync.Mutex
	writeErr   error
	opened     []Settings
	closeCalls int
	closed     chan struct{}
	written    [][]byte
	inWrite    int
	maxInWrite int
	unwritable bool
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{
		name:   name,
		reads:  make(chan readResult),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) GetName() string {
	return f.name
}

func (f *fakeTransport) Open(settings Settings) error {
	if f.openGate != nil {
		<-f.openGate
	}
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.opened = append(f.opened, settings)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Read() ([]byte, error) {
	select {
	case r := <-f.reads:
		return r.data, r.err
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	f.inWrite++
	if f.inWrite > f.maxInWrite {
		f.maxInWrite = f.inWrite
	}
	gate := f.writeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inWrite--
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Writable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unwritable
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return f.closeErr
}

func (f *fakeTransport) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeTransport) writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

// push hands a chunk to the read loop. It returns when the chunk was read.
func (f *fakeTransport) push(t *testing.T, data string) {
	t.Helper()
	select {
	case f.reads <- readResult{data: []byte(data)}:
	case <-time.After(time.Second):
		t.Fatalf("read loop did not read %q", data)
	}
}

func (f *fakeTransport) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case f.reads <- readResult{err: err}:
	case <-time.After(time.Second):
		t.Fatalf("read loop did not read the error")
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	// armed receives a value every time a timer is started.
	armed chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		now:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		armed: make(chan struct{}, 64),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) timer {
	c.mu.Lock()
	t := &fakeTimer{c: c, ch: make(chan time.Time, 1), deadline: c.now.Add(d), active: true}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	c.armed <- struct{}{}
	return t
}

// Advance moves the clock and fires the timers that are due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, t := range c.timers {
		if t.active && !t.deadline.After(c.now) {
			t.active = false
			select {
			case t.ch <- c.now:
			default:
			}
		}
	}
}

// waitArmed waits until a timer has been started or reset.
func (c *fakeClock) waitArmed(t *testing.T) {
	t.Helper()
	select {
	case <-c.armed:
	case <-time.After(time.Second):
		t.Fatal("timer was not armed")
	}
}

type fakeTimer struct {
	c        *fakeClock
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := t.active
	t.active = false
	select {
	case <-t.ch:
	default:
	}
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.c.mu.Lock()
	was := t.active
	t.active = true
	t.deadline = t.c.now.Add(d)
	select {
	case <-t.ch:
	default:
	}
	t.c.mu.Unlock()
	t.c.armed <- struct{}{}
	return was
}
