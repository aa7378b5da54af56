package gxserialsession

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func newTestSession(t *testing.T, timeout int) (*GXSession, *fakeClock) {
	t.Helper()
	s := NewGXSession()
	clk := newFakeClock()
	s.clock = clk
	require.NoError(t, s.UpdateSettings(SettingsUpdate{PackageTimeout: Value(timeout)}))
	t.Cleanup(func() {
		_ = s.Disconnect()
	})
	return s, clk
}

func connected(t *testing.T, timeout int) (*GXSession, *fakeClock, *fakeTransport) {
	t.Helper()
	s, clk := newTestSession(t, timeout)
	ft := newFakeTransport("COM1")
	require.NoError(t, s.Connect(ft))
	return s, clk, ft
}

func waitLogs(t *testing.T, s *GXSession, count int) []LogEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	entries, err := s.WaitForLogs(ctx, count)
	require.NoError(t, err)
	return entries
}

func TestConnectOpensWithCurrentSettings(t *testing.T) {
	s, _ := newTestSession(t, 0)
	require.NoError(t, s.UpdateSettings(SettingsUpdate{
		BaudRate: Value(gxcommon.BaudRate(9600)),
		DataBits: Value(7),
		Parity:   Value(gxcommon.ParityEven),
	}))
	ft := newFakeTransport("COM1")
	require.NoError(t, s.Connect(ft))

	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.IsConnected())
	require.Len(t, ft.opened, 1)
	assert.Equal(t, gxcommon.BaudRate(9600), ft.opened[0].BaudRate)
	assert.Equal(t, 7, ft.opened[0].DataBits)
	assert.Equal(t, gxcommon.ParityEven, ft.opened[0].Parity)

	active, ok := s.ActiveSettings()
	require.True(t, ok)
	assert.Equal(t, ft.opened[0], active)
}

func TestConnectFailureStaysDisconnected(t *testing.T) {
	s, _ := newTestSession(t, 0)
	openErr := errors.New("access denied")
	ft := newFakeTransport("COM1")
	ft.openErr = openErr

	err := s.Connect(ft)
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "open", cerr.Op)
	assert.Equal(t, "COM1", cerr.Port)
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, StateDisconnected, s.State())

	// A later connect works.
	require.NoError(t, s.Connect(newFakeTransport("COM2")))
}

func TestConnectWithoutTransport(t *testing.T) {
	s, _ := newTestSession(t, 0)
	assert.ErrorIs(t, s.Connect(nil), ErrNoTransport)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectWhileConnectedIsRejected(t *testing.T) {
	s, _, ft := connected(t, 0)
	other := newFakeTransport("COM2")

	err := s.Connect(other)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Empty(t, other.opened)
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 0, ft.closes())
}

func TestConnectWhileConnectingIsRejected(t *testing.T) {
	s, _ := newTestSession(t, 0)
	ft := newFakeTransport("COM1")
	ft.openGate = make(chan struct{})

	result := make(chan error, 1)
	go func() {
		result <- s.Connect(ft)
	}()
	require.Eventually(t, func() bool {
		return s.State() == StateConnecting
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, s.Connect(newFakeTransport("COM2")), ErrInvalidState)

	close(ft.openGate)
	require.NoError(t, <-result)
	assert.Equal(t, StateConnected, s.State())
}

func TestDisconnectWhileConnectingAbortsConnect(t *testing.T) {
	s, _ := newTestSession(t, 0)
	ft := newFakeTransport("COM1")
	ft.openGate = make(chan struct{})

	result := make(chan error, 1)
	go func() {
		result <- s.Connect(ft)
	}()
	require.Eventually(t, func() bool {
		return s.State() == StateConnecting
	}, time.Second, time.Millisecond)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())

	close(ft.openGate)
	err := <-result
	assert.ErrorIs(t, err, ErrConnectAborted)
	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, 1, ft.closes())
}

func TestDisconnectFromAnyState(t *testing.T) {
	s, _ := newTestSession(t, 0)
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())

	ft := newFakeTransport("COM1")
	require.NoError(t, s.Connect(ft))
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.IsConnected())
	assert.Equal(t, 1, ft.closes())
	_, ok := s.ActiveSettings()
	assert.False(t, ok)
}

func TestConcurrentDisconnect(t *testing.T) {
	s, _, ft := connected(t, 0)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Disconnect())
			assert.Equal(t, StateDisconnected, s.State())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ft.closes())
}

func TestDisconnectCloseFailure(t *testing.T) {
	s, _, ft := connected(t, 0)
	closeErr := errors.New("device busy")
	ft.closeErr = closeErr

	var reported error
	s.SetOnError(func(_ *GXSession, err error) {
		reported = err
	})
	err := s.Disconnect()
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "close", cerr.Op)
	assert.ErrorIs(t, err, closeErr)
	assert.ErrorIs(t, reported, closeErr)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestDisconnectDropsPendingData(t *testing.T) {
	s, clk, ft := connected(t, 100)
	ft.push(t, "AB")
	clk.waitArmed(t)

	require.NoError(t, s.Disconnect())
	clk.Advance(time.Second)
	assert.Empty(t, s.Logs())
	assert.Equal(t, StateDisconnected, s.State())
}

func TestReceiveWithoutPackageTimeout(t *testing.T) {
	s, clk, ft := connected(t, 0)
	start := clk.Now()

	ft.push(t, "AB")
	waitLogs(t, s, 1)
	clk.Advance(50 * time.Millisecond)
	ft.push(t, "CD")

	entries := waitLogs(t, s, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, "AB", entries[0].Text())
	assert.Equal(t, start, entries[0].Timestamp)
	assert.Equal(t, "CD", entries[1].Text())
	assert.Equal(t, start.Add(50*time.Millisecond), entries[1].Timestamp)
	for _, e := range entries {
		assert.Equal(t, DirectionReceive, e.Direction)
	}
	assert.Equal(t, uint64(4), s.GetBytesReceived())
}

func TestReceiveSkipsEmptyChunks(t *testing.T) {
	s, _, ft := connected(t, 0)
	ft.push(t, "")
	ft.push(t, "x")

	entries := waitLogs(t, s, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Text())
	assert.Equal(t, uint64(1), s.GetBytesReceived())
}

func TestReceiveWithPackageTimeout(t *testing.T) {
	s, clk, ft := connected(t, 100)
	start := clk.Now()

	ft.push(t, "AB")
	clk.waitArmed(t)
	clk.Advance(50 * time.Millisecond)
	ft.push(t, "CD")
	clk.waitArmed(t)
	clk.Advance(99 * time.Millisecond)
	assert.Empty(t, s.Logs())
	clk.Advance(time.Millisecond)

	entries := waitLogs(t, s, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "ABCD", entries[0].Text())
	assert.Equal(t, start.Add(150*time.Millisecond), entries[0].Timestamp)
	assert.Equal(t, int64(entries[0].Timestamp.UnixMilli()), entries[0].TimestampMillis())
}

func TestReadErrorDisconnects(t *testing.T) {
	s, _, ft := connected(t, 0)
	var mu sync.Mutex
	var reported error
	s.SetOnError(func(_ *GXSession, err error) {
		mu.Lock()
		reported = err
		mu.Unlock()
	})

	readErr := errors.New("device removed")
	ft.fail(t, readErr)
	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, ft.closes())

	mu.Lock()
	defer mu.Unlock()
	var rerr *ReadError
	require.ErrorAs(t, reported, &rerr)
	assert.ErrorIs(t, reported, readErr)
}

func TestDisconnectFromErrorHandler(t *testing.T) {
	s, _, ft := connected(t, 0)
	done := make(chan error, 1)
	s.SetOnError(func(g *GXSession, err error) {
		done <- g.Disconnect()
	})

	ft.fail(t, errors.New("device removed"))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("Disconnect from the error handler did not return, state %s", s.State())
	}
	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, ft.closes())

	// The session can be used again.
	require.NoError(t, s.Connect(newFakeTransport("COM2")))
	assert.Equal(t, StateConnected, s.State())
}

func TestLocalizedTraces(t *testing.T) {
	tests := []struct {
		tag  language.Tag
		want string
	}{
		{language.AmericanEnglish, "Connected to COM1"},
		{language.German, "Verbunden mit COM1"},
		{language.Finnish, "Yhdistetty kohteeseen COM1"},
		{language.Swedish, "Ansluten till COM1"},
		{language.Spanish, "Conectado a COM1"},
		{language.Estonian, "Ühendatud sihtkohta COM1"},
	}
	for _, tt := range tests {
		t.Run(tt.tag.String(), func(t *testing.T) {
			p := message.NewPrinter(tt.tag)
			assert.Equal(t, tt.want, p.Sprintf("msg.connected_to", "COM1"))
		})
	}
}

func TestEndOfStreamDisconnects(t *testing.T) {
	s, _, ft := connected(t, 0)
	ft.fail(t, io.EOF)
	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.SendData(context.Background(), "x"), ErrNotReady)
}

func TestSendWhileDisconnected(t *testing.T) {
	s, _ := newTestSession(t, 0)
	err := s.SendData(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Empty(t, s.Logs())
}

func TestSendWhenSinkUnavailable(t *testing.T) {
	s, _, ft := connected(t, 0)
	ft.unwritable = true
	assert.ErrorIs(t, s.SendData(context.Background(), "hi"), ErrNotReady)
	assert.Empty(t, ft.writes())
	assert.Empty(t, s.Logs())
}

func TestSendLogsAfterWrite(t *testing.T) {
	s, clk, ft := connected(t, 0)
	clk.Advance(time.Second)

	require.NoError(t, s.SendData(context.Background(), "hello"))
	require.NoError(t, s.SendBytes(context.Background(), []byte{0x01, 0x02}))

	assert.Equal(t, [][]byte{[]byte("hello"), {0x01, 0x02}}, ft.writes())
	entries := s.Logs()
	require.Len(t, entries, 2)
	assert.Equal(t, DirectionSend, entries[0].Direction)
	assert.Equal(t, "hello", entries[0].Text())
	assert.Equal(t, clk.Now(), entries[0].Timestamp)
	assert.Equal(t, uint64(7), s.GetBytesSent())

	s.ResetByteCounters()
	assert.Zero(t, s.GetBytesSent())
	assert.Zero(t, s.GetBytesReceived())
}

func TestSendWriteFailure(t *testing.T) {
	s, _, ft := connected(t, 0)
	writeErr := errors.New("write timeout")
	ft.mu.Lock()
	ft.writeErr = writeErr
	ft.mu.Unlock()

	err := s.SendData(context.Background(), "hi")
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.ErrorIs(t, err, writeErr)
	assert.Empty(t, s.Logs())

	// The write path is released after the failure.
	ft.mu.Lock()
	ft.writeErr = nil
	ft.mu.Unlock()
	require.NoError(t, s.SendData(context.Background(), "again"))
	assert.Len(t, s.Logs(), 1)
}

func TestSendIsSerialized(t *testing.T) {
	s, _, ft := connected(t, 0)
	ft.writeGate = make(chan struct{})

	const n = 3
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- s.SendData(context.Background(), "x")
		}()
	}
	for i := 0; i < n; i++ {
		ft.writeGate <- struct{}{}
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}
	ft.mu.Lock()
	assert.Equal(t, 1, ft.maxInWrite)
	ft.mu.Unlock()
	assert.Len(t, s.Logs(), n)
}

func TestSendWaitHonorsContext(t *testing.T) {
	s, _, ft := connected(t, 0)
	ft.writeGate = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		first <- s.SendData(context.Background(), "first")
	}()
	require.Eventually(t, func() bool {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		return ft.inWrite == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.SendData(ctx, "second"), context.DeadlineExceeded)

	ft.writeGate <- struct{}{}
	require.NoError(t, <-first)
	entries := s.Logs()
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Text())
}

func TestSendAndReceiveShareLog(t *testing.T) {
	s, _, ft := connected(t, 0)
	require.NoError(t, s.SendData(context.Background(), "AT\r\n"))
	ft.push(t, "OK\r\n")

	entries := waitLogs(t, s, 2)
	assert.Equal(t, DirectionSend, entries[0].Direction)
	assert.Equal(t, DirectionReceive, entries[1].Direction)
	assert.Equal(t, "OK\r\n", entries[1].Text())
}

func TestClearLogs(t *testing.T) {
	s, _, ft := connected(t, 0)
	require.NoError(t, s.SendData(context.Background(), "one"))
	require.NoError(t, s.SendData(context.Background(), "two"))
	s.ClearLogs()
	assert.Empty(t, s.Logs())

	ft.push(t, "three")
	entries := waitLogs(t, s, 1)
	require.Len(t, entries, 1)
	assert.Equal(t, "three", entries[0].Text())
}

func TestUpdateSettingsWhileConnected(t *testing.T) {
	s, _, ft := connected(t, 0)
	require.NoError(t, s.UpdateSettings(SettingsUpdate{BaudRate: Value(gxcommon.BaudRate(9600))}))

	active, ok := s.ActiveSettings()
	require.True(t, ok)
	assert.Equal(t, gxcommon.BaudRate(115200), active.BaudRate)
	assert.Equal(t, gxcommon.BaudRate(9600), s.Settings().BaudRate)

	require.NoError(t, s.Disconnect())
	next := newFakeTransport("COM1")
	require.NoError(t, s.Connect(next))
	assert.Equal(t, gxcommon.BaudRate(115200), ft.opened[0].BaudRate)
	assert.Equal(t, gxcommon.BaudRate(9600), next.opened[0].BaudRate)
}

func TestUpdateSettingsRejectsInvalid(t *testing.T) {
	s, _ := newTestSession(t, 0)
	before := s.Settings()
	err := s.UpdateSettings(SettingsUpdate{BufferSize: Value(16)})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.Equal(t, before, s.Settings())
}

func TestMediaStateEvents(t *testing.T) {
	s, _ := newTestSession(t, 0)
	var mu sync.Mutex
	var states []gxcommon.MediaState
	s.SetOnMediaStateChange(func(_ *GXSession, e gxcommon.MediaStateEventArgs) {
		mu.Lock()
		states = append(states, e.State())
		mu.Unlock()
	})
	require.NoError(t, s.Connect(newFakeTransport("COM1")))
	require.NoError(t, s.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []gxcommon.MediaState{
		gxcommon.MediaStateOpening,
		gxcommon.MediaStateOpen,
		gxcommon.MediaStateClosing,
		gxcommon.MediaStateClosed,
	}, states)
}

func TestOnLogFollowsLogOrder(t *testing.T) {
	s, _, ft := connected(t, 0)
	var mu sync.Mutex
	var seen []string
	s.SetOnLog(func(e LogEntry) {
		mu.Lock()
		seen = append(seen, e.Direction.String()+":"+e.Text())
		mu.Unlock()
	})
	ft.push(t, "a")
	waitLogs(t, s, 1)
	require.NoError(t, s.SendData(context.Background(), "b"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"receive:a", "send:b"}, seen)
}
