// Package gxserialsession provides a serial session engine for Gurux components.
// It connects to a serial device, reads the data it sends, writes data to it
// and keeps a time-ordered log of the exchange.
//
// Features
//
//   - Connection state machine: Disconnected, Connecting, Connected, Disconnecting.
//   - Read loop: one goroutine per connection reads chunks from the transport.
//   - Package timeout: received chunks that follow each other closer than the
//     timeout are joined into one log entry.
//   - Serialized writes: concurrent SendData calls are written one at a time.
//   - Log: ordered, append-only list of sent and received data.
//   - Events: MediaState, Trace, Error and Log callbacks.
//   - Settings: baud rate, data bits, stop bits, parity, flow control,
//     buffer size and package timeout.
//
// # Construction
//
// Use NewGXSession to create a session and NewGXSerialPort to create the
// transport for a serial port. Any type implementing Transport can be used.
//
// Example
//
//	session := gxserialsession.NewGXSession()
//	_ = session.UpdateSettings(gxserialsession.SettingsUpdate{
//	    BaudRate: gxserialsession.Value(gxcommon.BaudRate(9600)),
//	})
//	session.SetOnLog(func(e gxserialsession.LogEntry) {
//	    fmt.Println(e)
//	})
//	if err := session.Connect(gxserialsession.NewGXSerialPort("/dev/ttyUSB0")); err != nil {
//	    // handle connect error
//	}
//	defer session.Disconnect()
//	_ = session.SendData(ctx, "AT\r\n")
//
// # Package timeout
//
// When PackageTimeout is zero every chunk read from the device is logged as
// is. Otherwise the chunks are collected until no new data has arrived for
// PackageTimeout milliseconds and then logged as one entry, timestamped when
// it is logged. Data still collected on disconnect is dropped.
//
// # Errors
//
// Open and close failures are returned as *ConnectionError, write failures as
// *WriteError. A read failure ends the connection; it is reported as
// *ReadError to the Error handler and the session disconnects itself.
// Nothing is retried automatically.
//
// # Notes
//
// The zero value of GXSession is not ready for use; always construct via
// NewGXSession. Log, trace and state handlers are called from the session
// goroutines and must not block or call Disconnect. The Error handler may
// call Disconnect.
package gxserialsession
