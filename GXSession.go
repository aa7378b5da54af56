package gxserialsession

// --------------------------------------------------------------------------
//
//	Gurux Ltd
//
// Filename:        $HeadURL$
//
// Version:         $Revision$,
//
//	$Date$
//	$Author$
//
// # Copyright (c) Gurux Ltd
//
// ---------------------------------------------------------------------------
//
//	DESCRIPTION
//
// This file is a part of Gurux Device Framework.
//
// Gurux Device Framework is Open Source software; you can redistribute it
// and/or modify it under the terms of the GNU General Public License
// as published by the Free Software Foundation; version 2 of the License.
// Gurux Device Framework is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU General Public License for more details.
//
// More information of Gurux products: https://www.gurux.org
//
// This code is licensed under the GNU General Public License v2.
// Full text may be retrieved at http://www.gnu.org/licenses/gpl-2.0.txt
// ---------------------------------------------------------------------------

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/charmbracelet/log"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// State is the connection state of the session.
type State int

const (
	// StateDisconnected is the initial and terminal state.
	StateDisconnected State = iota
	// StateConnecting is set while the transport is opening.
	StateConnecting
	// StateConnected is set while the read and write loops are running.
	StateConnected
	// StateDisconnecting is set while the connection is torn down.
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) mediaState() gxcommon.MediaState {
	switch s {
	case StateConnecting:
		return gxcommon.MediaStateOpening
	case StateConnected:
		return gxcommon.MediaStateOpen
	case StateDisconnecting:
		return gxcommon.MediaStateClosing
	}
	return gxcommon.MediaStateClosed
}

// MediaStateHandler is called when the session state changes.
type MediaStateHandler func(s *GXSession, e gxcommon.MediaStateEventArgs)

// TraceHandler is called for trace messages allowed by the trace level.
type TraceHandler func(s *GXSession, e gxcommon.TraceEventArgs)

// ErrorHandler is called for errors that have no caller to return to,
// such as read errors.
type ErrorHandler func(s *GXSession, err error)

// GXSession manages the connection to a serial device and keeps the log of
// the data exchanged with it.
type GXSession struct {
	mu       sync.Mutex
	state    State
	settings Settings
	current  *session
	// attempt identifies the latest Connect call.
	attempt uint64
	// closed is closed when the running teardown has finished.
	closed chan struct{}

	logs  *logSink
	clock clock

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	hmu        sync.RWMutex
	traceLevel gxcommon.TraceLevel
	onState    MediaStateHandler
	onTrace    TraceHandler
	onErr      ErrorHandler
	logger     *log.Logger
	p          *message.Printer
}

// NewGXSession creates a disconnected session with default settings.
func NewGXSession() *GXSession {
	g := &GXSession{
		settings: DefaultSettings(),
		logs:     newLogSink(),
		clock:    systemClock{},
		logger:   log.Default().WithPrefix("gxserialsession"),
	}
	g.Localize(language.AmericanEnglish)
	return g
}

// Localize trace messages for the specified language.
// No errors is returned if language is not supported.
func (g *GXSession) Localize(tag language.Tag) {
	g.hmu.Lock()
	g.p = message.NewPrinter(tag)
	g.hmu.Unlock()
}

// SetLogger sets the logger used for diagnostics.
func (g *GXSession) SetLogger(logger *log.Logger) {
	g.hmu.Lock()
	g.logger = logger
	g.hmu.Unlock()
}

// State returns the connection state.
func (g *GXSession) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// IsConnected returns true when the session is connected.
func (g *GXSession) IsConnected() bool {
	return g.State() == StateConnected
}

// Settings returns the settings used on the next connect.
func (g *GXSession) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// ActiveSettings returns the settings of the current connection.
func (g *GXSession) ActiveSettings() (Settings, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Settings{}, false
	}
	return g.current.settings, true
}

// UpdateSettings merges u into the settings. The connection in use keeps its
// settings; the merged settings are used on the next connect.
func (g *GXSession) UpdateSettings(u SettingsUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	merged := g.settings.Merge(u)
	if err := merged.Validate(); err != nil {
		return err
	}
	g.settings = merged
	return nil
}

// GetTrace returns the trace level.
func (g *GXSession) GetTrace() gxcommon.TraceLevel {
	g.hmu.RLock()
	defer g.hmu.RUnlock()
	return g.traceLevel
}

// SetTrace sets the trace level.
func (g *GXSession) SetTrace(traceLevel gxcommon.TraceLevel) {
	g.hmu.Lock()
	g.traceLevel = traceLevel
	g.hmu.Unlock()
}

// SetOnMediaStateChange sets the state change handler.
func (g *GXSession) SetOnMediaStateChange(value MediaStateHandler) {
	g.hmu.Lock()
	g.onState = value
	g.hmu.Unlock()
}

// SetOnTrace sets the trace handler.
// RX and TX traces are called from the read and write loops, so the handler
// must not call Disconnect.
func (g *GXSession) SetOnTrace(value TraceHandler) {
	g.hmu.Lock()
	g.onTrace = value
	g.hmu.Unlock()
}

// SetOnError sets the error handler.
// Read errors are reported after the read loop has stopped and before the
// session disconnects itself. The handler may call Disconnect.
func (g *GXSession) SetOnError(value ErrorHandler) {
	g.hmu.Lock()
	g.onErr = value
	g.hmu.Unlock()
}

// SetOnLog sets the handler called for every new log entry, in log order.
// The handler is called from the session goroutines. It must not block and
// must not call Disconnect.
func (g *GXSession) SetOnLog(value func(LogEntry)) {
	g.logs.setOnLog(value)
}

// Logs returns a copy of the log.
func (g *GXSession) Logs() []LogEntry {
	return g.logs.snapshot()
}

// ClearLogs empties the log.
func (g *GXSession) ClearLogs() {
	g.logs.clear()
}

// WaitForLogs blocks until the log holds at least count entries and returns them.
func (g *GXSession) WaitForLogs(ctx context.Context, count int) ([]LogEntry, error) {
	return g.logs.waitFor(ctx, count)
}

// GetBytesSent returns the amount of bytes written to the device.
func (g *GXSession) GetBytesSent() uint64 {
	return g.bytesSent.Load()
}

// GetBytesReceived returns the amount of bytes read from the device.
func (g *GXSession) GetBytesReceived() uint64 {
	return g.bytesReceived.Load()
}

// ResetByteCounters resets the sent and received byte counters.
func (g *GXSession) ResetByteCounters() {
	g.bytesSent.Store(0)
	g.bytesReceived.Store(0)
}

// Connect opens the transport with the current settings and starts reading.
// Connect is only valid while disconnected.
func (g *GXSession) Connect(t Transport) error {
	if t == nil {
		return &ConnectionError{Op: "open", Err: ErrNoTransport}
	}
	name := transportName(t)
	g.mu.Lock()
	if g.state != StateDisconnected {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, state)
	}
	settings := g.settings
	if err := settings.Validate(); err != nil {
		g.mu.Unlock()
		return err
	}
	g.attempt++
	attempt := g.attempt
	g.state = StateConnecting
	g.mu.Unlock()

	g.statef(StateConnecting)
	g.trace(gxcommon.TraceTypesInfo, "msg.connecting_to", name, settings)
	if err := t.Open(settings); err != nil {
		cerr := &ConnectionError{Op: "open", Port: name, Err: err}
		g.mu.Lock()
		current := g.attempt == attempt
		if current {
			g.state = StateDisconnected
		}
		g.mu.Unlock()
		g.trace(gxcommon.TraceTypesError, "msg.connect_failed", name, err)
		if current {
			g.statef(StateDisconnected)
		}
		return cerr
	}

	g.mu.Lock()
	if g.attempt != attempt || g.state != StateConnecting {
		g.mu.Unlock()
		if err := t.Close(); err != nil {
			g.diagnostic().Warn("close after aborted connect", "port", name, "err", err)
		}
		g.trace(gxcommon.TraceTypesError, "msg.connect_aborted", name)
		return &ConnectionError{Op: "open", Port: name, Err: ErrConnectAborted}
	}
	s := newSession(g, t, settings)
	g.current = s
	g.state = StateConnected
	s.start()
	g.mu.Unlock()

	g.trace(gxcommon.TraceTypesInfo, "msg.connected_to", name)
	g.statef(StateConnected)
	return nil
}

// Disconnect stops the connection and closes the transport.
// It can be called in any state and the session is always disconnected
// when it returns. Received data that is still waiting for the package
// timeout is dropped.
func (g *GXSession) Disconnect() error {
	g.mu.Lock()
	switch g.state {
	case StateDisconnected:
		g.mu.Unlock()
		return nil
	case StateConnecting:
		// Connect closes the transport when Open returns.
		g.attempt++
		g.state = StateDisconnected
		g.mu.Unlock()
		g.statef(StateDisconnected)
		return nil
	case StateDisconnecting:
		done := g.closed
		g.mu.Unlock()
		<-done
		return nil
	}
	return g.teardown(g.current)
}

// reconcile reports why the read loop of s stopped on its own and then
// disconnects s. It runs after the read loop has returned so the handlers
// can call Disconnect.
func (g *GXSession) reconcile(s *session, cause error) {
	if errors.Is(cause, io.EOF) {
		g.trace(gxcommon.TraceTypesInfo, "msg.end_of_stream", s.name)
	} else {
		g.diagnostic().Error("read failed", "port", s.name, "err", cause)
		g.trace(gxcommon.TraceTypesError, "msg.connection_failed", cause)
		g.errorf(&ReadError{Err: cause})
	}
	g.mu.Lock()
	if g.current != s || g.state != StateConnected {
		g.mu.Unlock()
		return
	}
	if err := g.teardown(s); err != nil {
		g.diagnostic().Error("disconnect after read loop end", "port", s.name, "err", err)
	}
}

// teardown must be called with g.mu held and s as the current session.
// It releases g.mu.
func (g *GXSession) teardown(s *session) error {
	g.current = nil
	g.state = StateDisconnecting
	done := make(chan struct{})
	g.closed = done
	g.mu.Unlock()

	g.trace(gxcommon.TraceTypesInfo, "msg.closing_connection", s.name)
	g.statef(StateDisconnecting)
	err := s.close()

	g.mu.Lock()
	g.state = StateDisconnected
	g.closed = nil
	g.mu.Unlock()
	close(done)

	if err != nil {
		g.trace(gxcommon.TraceTypesError, "msg.close_failed", s.name, err)
		g.errorf(err)
	}
	g.trace(gxcommon.TraceTypesInfo, "msg.connection_closed", s.name)
	g.statef(StateDisconnected)
	return err
}

// SendData writes text to the device and logs it once the write succeeds.
// Concurrent calls are written one at a time. ctx bounds the wait for the
// previous write; a write in progress is not interrupted.
func (g *GXSession) SendData(ctx context.Context, text string) error {
	return g.send(ctx, []byte(text))
}

// SendBytes writes raw bytes to the device. See SendData.
func (g *GXSession) SendBytes(ctx context.Context, data []byte) error {
	return g.send(ctx, append([]byte(nil), data...))
}

func (g *GXSession) send(ctx context.Context, data []byte) error {
	g.mu.Lock()
	s := g.current
	ready := g.state == StateConnected && s != nil
	g.mu.Unlock()
	if !ready {
		return ErrNotReady
	}
	if w, ok := s.transport.(WritableReporter); ok && !w.Writable() {
		return ErrNotReady
	}
	req := &writeRequest{data: data, result: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.stop:
		return ErrNotReady
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-req.result
}

func (g *GXSession) diagnostic() *log.Logger {
	g.hmu.RLock()
	defer g.hmu.RUnlock()
	return g.logger
}

func (g *GXSession) statef(state State) {
	g.hmu.RLock()
	cb := g.onState
	g.hmu.RUnlock()
	if cb != nil {
		cb(g, *gxcommon.NewMediaStateEventArgs(state.mediaState()))
	}
}

func (g *GXSession) errorf(err error) {
	g.hmu.RLock()
	cb := g.onErr
	g.hmu.RUnlock()
	if cb != nil {
		cb(g, err)
	}
}

func (g *GXSession) trace(traceType gxcommon.TraceTypes, key string, a ...any) {
	g.hmu.RLock()
	trace := !(int(g.traceLevel) < int(traceType))
	cb := g.onTrace
	p := g.p
	g.hmu.RUnlock()
	if cb != nil && trace {
		cb(g, *gxcommon.NewTraceEventArgs(traceType, p.Sprintf(key, a...), ""))
	}
}

func (g *GXSession) tracef(traceType gxcommon.TraceTypes, format string, a ...any) {
	g.hmu.RLock()
	trace := !(int(g.traceLevel) < int(traceType))
	cb := g.onTrace
	g.hmu.RUnlock()
	if cb != nil && trace {
		cb(g, *gxcommon.NewTraceEventArgs(traceType, fmt.Sprintf(format, a...), ""))
	}
}

// inboundQueueSize is the number of chunks buffered between the read loop
// and the coalescer.
const inboundQueueSize = 16

// session is the state of one connection. It is created on connect and
// dropped on disconnect.
type session struct {
	owner     *GXSession
	transport Transport
	name      string
	settings  Settings
	stop      chan struct{}
	chunks    chan []byte
	requests  chan *writeRequest
	buffer    *coalescer
	wg        sync.WaitGroup
}

type writeRequest struct {
	data   []byte
	result chan error
}

func newSession(owner *GXSession, t Transport, settings Settings) *session {
	s := &session{
		owner:     owner,
		transport: t,
		name:      transportName(t),
		settings:  settings,
		stop:      make(chan struct{}),
		chunks:    make(chan []byte, inboundQueueSize),
		requests:  make(chan *writeRequest),
	}
	s.buffer = newCoalescer(settings.PackageTimeoutDuration(), owner.clock, func(data []byte, at time.Time) {
		owner.logs.append(DirectionReceive, data, at)
	})
	return s
}

func (s *session) start() {
	s.wg.Add(3)
	go s.readLoop()
	go func() {
		defer s.wg.Done()
		s.buffer.run(s.chunks, s.stop)
	}()
	go s.writeLoop()
}

// close stops the loops, closes the transport and waits for the loops to end.
func (s *session) close() error {
	close(s.stop)
	if c, ok := s.transport.(ReadCanceler); ok {
		if err := c.CancelRead(); err != nil {
			s.owner.diagnostic().Debug("cancel read", "port", s.name, "err", err)
		}
	}
	err := s.transport.Close()
	s.wg.Wait()
	if err != nil {
		return &ConnectionError{Op: "close", Port: s.name, Err: err}
	}
	return nil
}

func (s *session) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()
	g := s.owner
	for {
		data, err := s.transport.Read()
		if s.stopped() {
			return
		}
		if err != nil {
			go g.reconcile(s, err)
			return
		}
		if len(data) == 0 {
			continue
		}
		g.bytesReceived.Add(uint64(len(data)))
		g.tracef(gxcommon.TraceTypesReceived, "RX: % X", data)
		select {
		case s.chunks <- data:
		case <-s.stop:
			return
		}
	}
}

func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case req := <-s.requests:
			req.result <- s.write(req.data)
		}
	}
}

func (s *session) write(data []byte) error {
	g := s.owner
	g.tracef(gxcommon.TraceTypesSent, "TX: % X", data)
	if err := s.transport.Write(data); err != nil {
		g.trace(gxcommon.TraceTypesError, "msg.write_failed", s.name, err)
		return &WriteError{Err: err}
	}
	g.bytesSent.Add(uint64(len(data)))
	g.logs.append(DirectionSend, data, g.clock.Now())
	return nil
}

//nolint:errcheck
func init() {
	// --- English (default) ---
	message.SetString(language.AmericanEnglish, "msg.connecting_to", "Connecting to %s: %v")
	message.SetString(language.AmericanEnglish, "msg.connected_to", "Connected to %s")
	message.SetString(language.AmericanEnglish, "msg.connect_failed", "Connect to %s failed: %v")
	message.SetString(language.AmericanEnglish, "msg.connect_aborted", "Connect to %s aborted")
	message.SetString(language.AmericanEnglish, "msg.closing_connection", "Closing connection to %s")
	message.SetString(language.AmericanEnglish, "msg.connection_closed", "Connection closed to %s")
	message.SetString(language.AmericanEnglish, "msg.close_failed", "Closing %s failed: %v")
	message.SetString(language.AmericanEnglish, "msg.connection_failed", "Connection failed: %v")
	message.SetString(language.AmericanEnglish, "msg.end_of_stream", "%s closed the stream")
	message.SetString(language.AmericanEnglish, "msg.write_failed", "Write to %s failed: %v")

	// --- German (de) ---
	message.SetString(language.German, "msg.connecting_to", "Verbindung zu %s: %v wird aufgebaut")
	message.SetString(language.German, "msg.connected_to", "Verbunden mit %s")
	message.SetString(language.German, "msg.connect_failed", "Verbindung zu %s fehlgeschlagen: %v")
	message.SetString(language.German, "msg.connect_aborted", "Verbindung zu %s abgebrochen")
	message.SetString(language.German, "msg.closing_connection", "Verbindung zu %s wird geschlossen")
	message.SetString(language.German, "msg.connection_closed", "Verbindung zu %s wurde geschlossen")
	message.SetString(language.German, "msg.close_failed", "Schließen von %s fehlgeschlagen: %v")
	message.SetString(language.German, "msg.connection_failed", "Verbindung fehlgeschlagen: %v")
	message.SetString(language.German, "msg.end_of_stream", "%s hat den Datenstrom beendet")
	message.SetString(language.German, "msg.write_failed", "Schreiben an %s fehlgeschlagen: %v")

	// --- Finnish (fi) ---
	message.SetString(language.Finnish, "msg.connecting_to", "Yhdistetään kohteeseen %s: %v")
	message.SetString(language.Finnish, "msg.connected_to", "Yhdistetty kohteeseen %s")
	message.SetString(language.Finnish, "msg.connect_failed", "Yhteyden muodostus kohteeseen %s epäonnistui: %v")
	message.SetString(language.Finnish, "msg.connect_aborted", "Yhteyden muodostus kohteeseen %s keskeytettiin")
	message.SetString(language.Finnish, "msg.closing_connection", "Suljetaan yhteys kohteeseen %s")
	message.SetString(language.Finnish, "msg.connection_closed", "Yhteys suljettu kohteeseen %s")
	message.SetString(language.Finnish, "msg.close_failed", "Kohteen %s sulkeminen epäonnistui: %v")
	message.SetString(language.Finnish, "msg.connection_failed", "Yhteys epäonnistui: %v")
	message.SetString(language.Finnish, "msg.end_of_stream", "%s sulki tietovirran")
	message.SetString(language.Finnish, "msg.write_failed", "Kirjoitus kohteeseen %s epäonnistui: %v")

	// --- Swedish (sv) ---
	message.SetString(language.Swedish, "msg.connecting_to", "Ansluter till %s: %v")
	message.SetString(language.Swedish, "msg.connected_to", "Ansluten till %s")
	message.SetString(language.Swedish, "msg.connect_failed", "Anslutning till %s misslyckades: %v")
	message.SetString(language.Swedish, "msg.connect_aborted", "Anslutning till %s avbröts")
	message.SetString(language.Swedish, "msg.closing_connection", "Stänger anslutning till %s")
	message.SetString(language.Swedish, "msg.connection_closed", "Anslutning stängd till %s")
	message.SetString(language.Swedish, "msg.close_failed", "Stängning av %s misslyckades: %v")
	message.SetString(language.Swedish, "msg.connection_failed", "Anslutningen misslyckades: %v")
	message.SetString(language.Swedish, "msg.end_of_stream", "%s stängde dataströmmen")
	message.SetString(language.Swedish, "msg.write_failed", "Skrivning till %s misslyckades: %v")

	// --- Spanish (es) ---
	message.SetString(language.Spanish, "msg.connecting_to", "Conectando a %s: %v")
	message.SetString(language.Spanish, "msg.connected_to", "Conectado a %s")
	message.SetString(language.Spanish, "msg.connect_failed", "Error al conectar con %s: %v")
	message.SetString(language.Spanish, "msg.connect_aborted", "Conexión con %s cancelada")
	message.SetString(language.Spanish, "msg.closing_connection", "Cerrando conexión con %s")
	message.SetString(language.Spanish, "msg.connection_closed", "Conexión cerrada con %s")
	message.SetString(language.Spanish, "msg.close_failed", "Error al cerrar %s: %v")
	message.SetString(language.Spanish, "msg.connection_failed", "Error de conexión: %v")
	message.SetString(language.Spanish, "msg.end_of_stream", "%s cerró el flujo de datos")
	message.SetString(language.Spanish, "msg.write_failed", "Error al escribir en %s: %v")

	// --- Estonian (et) ---
	message.SetString(language.Estonian, "msg.connecting_to", "Ühendatakse sihtkohta %s: %v")
	message.SetString(language.Estonian, "msg.connected_to", "Ühendatud sihtkohta %s")
	message.SetString(language.Estonian, "msg.connect_failed", "Ühendamine sihtkohta %s ebaõnnestus: %v")
	message.SetString(language.Estonian, "msg.connect_aborted", "Ühendamine sihtkohta %s katkestati")
	message.SetString(language.Estonian, "msg.closing_connection", "Suletakse ühendus sihtkohta %s")
	message.SetString(language.Estonian, "msg.connection_closed", "Ühendus suleti sihtkohta %s")
	message.SetString(language.Estonian, "msg.close_failed", "%s sulgemine ebaõnnestus: %v")
	message.SetString(language.Estonian, "msg.connection_failed", "Ühendus ebaõnnestus: %v")
	message.SetString(language.Estonian, "msg.end_of_stream", "%s sulges andmevoo")
	message.SetString(language.Estonian, "msg.write_failed", "Kirjutamine sihtkohta %s ebaõnnestus: %v")
}
