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
	"fmt"
	"sync"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// Direction tells if the log entry was sent or received.
type Direction int

const (
	// DirectionSend is data written to the device.
	DirectionSend Direction = iota
	// DirectionReceive is data read from the device.
	DirectionReceive
)

func (d Direction) String() string {
	switch d {
	case DirectionSend:
		return "send"
	case DirectionReceive:
		return "receive"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// LogEntry is one timestamped record of bytes exchanged with the device.
type LogEntry struct {
	Direction Direction
	Data      []byte
	Timestamp time.Time
}

// Text returns the payload decoded as UTF-8.
// Invalid sequences are replaced with U+FFFD.
func (e LogEntry) Text() string {
	ret, err := unicode.UTF8.NewDecoder().Bytes(e.Data)
	if err != nil {
		return string(e.Data)
	}
	return string(ret)
}

// TimestampMillis returns the timestamp as Unix milliseconds.
func (e LogEntry) TimestampMillis() int64 {
	return e.Timestamp.UnixMilli()
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s %s: %s", e.Timestamp.Format("15:04:05.000"), e.Direction, e.Text())
}

// logSink is the ordered, append-only log of the session.
// Entries are never evicted.
type logSink struct {
	// emit keeps observer calls in append order.
	emit    sync.Mutex
	mu      sync.RWMutex
	entries []LogEntry
	// wait is closed and replaced on every append.
	wait  chan struct{}
	onLog func(LogEntry)
}

func newLogSink() *logSink {
	return &logSink{wait: make(chan struct{})}
}

func (l *logSink) append(direction Direction, data []byte, at time.Time) {
	e := LogEntry{Direction: direction, Data: append([]byte(nil), data...), Timestamp: at}
	l.emit.Lock()
	defer l.emit.Unlock()
	l.mu.Lock()
	l.entries = append(l.entries, e)
	old := l.wait
	l.wait = make(chan struct{})
	cb := l.onLog
	l.mu.Unlock()
	close(old)
	if cb != nil {
		e.Data = append([]byte(nil), e.Data...)
		cb(e)
	}
}

func (l *logSink) setOnLog(cb func(LogEntry)) {
	l.mu.Lock()
	l.onLog = cb
	l.mu.Unlock()
}

func (l *logSink) snapshot() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ret := make([]LogEntry, len(l.entries))
	for i, e := range l.entries {
		e.Data = append([]byte(nil), e.Data...)
		ret[i] = e
	}
	return ret
}

func (l *logSink) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *logSink) clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// waitFor blocks until the log holds at least count entries.
func (l *logSink) waitFor(ctx context.Context, count int) ([]LogEntry, error) {
	for {
		l.mu.RLock()
		n := len(l.entries)
		ch := l.wait
		l.mu.RUnlock()
		if n >= count {
			return l.snapshot(), nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
