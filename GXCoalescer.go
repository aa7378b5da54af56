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
	"time"

	"github.com/eapache/queue"
)

// clock is the time source of the session.
type clock interface {
	Now() time.Time
	NewTimer(d time.Duration) timer
}

type timer interface {
	C() <-chan time.Time
	Stop() bool
	Reset(d time.Duration) bool
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) NewTimer(d time.Duration) timer {
	return systemTimer{time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (t systemTimer) C() <-chan time.Time {
	return t.t.C
}

func (t systemTimer) Stop() bool {
	return t.t.Stop()
}

func (t systemTimer) Reset(d time.Duration) bool {
	return t.t.Reset(d)
}

// coalescer joins received chunks that arrive within the package timeout
// of each other into one log entry.
//
// The pending window is owned by the run goroutine.
type coalescer struct {
	timeout time.Duration
	clock   clock
	emit    func(data []byte, at time.Time)
	pending *queue.Queue
	size    int
}

func newCoalescer(timeout time.Duration, c clock, emit func(data []byte, at time.Time)) *coalescer {
	return &coalescer{timeout: timeout, clock: c, emit: emit, pending: queue.New()}
}

// run consumes chunks until stop is closed or chunks is closed.
// Data still pending at that point is dropped.
func (c *coalescer) run(chunks <-chan []byte, stop <-chan struct{}) {
	var deadline timer
	var fire <-chan time.Time
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
		c.reset()
	}()
	for {
		select {
		case <-stop:
			return
		default:
		}
		select {
		case <-stop:
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if c.timeout <= 0 {
				c.emit(chunk, c.clock.Now())
				continue
			}
			c.pending.Add(chunk)
			c.size += len(chunk)
			// Window slides from the most recent chunk.
			if deadline == nil {
				deadline = c.clock.NewTimer(c.timeout)
			} else {
				deadline.Stop()
				deadline.Reset(c.timeout)
			}
			fire = deadline.C()
		case <-fire:
			fire = nil
			c.flush()
		}
	}
}

func (c *coalescer) flush() {
	if c.pending.Length() == 0 {
		return
	}
	data := make([]byte, 0, c.size)
	for c.pending.Length() != 0 {
		data = append(data, c.pending.Remove().([]byte)...)
	}
	c.size = 0
	c.emit(data, c.clock.Now())
}

func (c *coalescer) reset() {
	for c.pending.Length() != 0 {
		c.pending.Remove()
	}
	c.size = 0
}

func (c *coalescer) pendingLen() int {
	return c.pending.Length()
}
