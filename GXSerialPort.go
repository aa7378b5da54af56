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
	"errors"
	"fmt"
	"io"
	"sync"
)

// GXSerialPort is a Transport for a local serial port.
type GXSerialPort struct {
	// Port is the device name, for example /dev/ttyUSB0 or COM1.
	Port string

	// mu is held for reading during I/O and for writing while opening or closing.
	mu sync.RWMutex
	// cmu guards the cancel signal against close.
	cmu        sync.Mutex
	s          port
	bufferSize int
}

// NewGXSerialPort creates a serial port transport for the named device.
func NewGXSerialPort(name string) *GXSerialPort {
	return &GXSerialPort{Port: name}
}

// GetPortNames returns list of available serial ports.
func GetPortNames() ([]string, error) {
	return getPortNames()
}

// GetName returns the device name.
func (g *GXSerialPort) GetName() string {
	return g.Port
}

func (g *GXSerialPort) String() string {
	return g.Port
}

// IsOpen returns true when the device is open.
func (g *GXSerialPort) IsOpen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.s.isOpen()
}

// Open implements Transport.
func (g *GXSerialPort) Open(settings Settings) error {
	if g.Port == "" {
		return errors.New("no serial port selected")
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.s.isOpen() {
		return fmt.Errorf("serial port %s is already open", g.Port)
	}
	if err := openPort(&g.s, g.Port, settings); err != nil {
		return err
	}
	g.bufferSize = settings.BufferSize
	return nil
}

// Read implements Transport. At most BufferSize bytes are returned at a time.
func (g *GXSerialPort) Read() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.s.isOpen() {
		return nil, io.EOF
	}
	return g.s.read(g.bufferSize)
}

// Write implements Transport.
func (g *GXSerialPort) Write(data []byte) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for len(data) != 0 {
		n, err := g.s.write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}

// Writable implements WritableReporter.
func (g *GXSerialPort) Writable() bool {
	return g.IsOpen()
}

// CancelRead implements ReadCanceler. The pending Read returns io.EOF.
func (g *GXSerialPort) CancelRead() error {
	g.cmu.Lock()
	defer g.cmu.Unlock()
	return g.s.cancel()
}

// Close implements Transport.
func (g *GXSerialPort) Close() error {
	// Wake up the reader before waiting for it.
	_ = g.CancelRead()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cmu.Lock()
	defer g.cmu.Unlock()
	return g.s.close()
}

// GetBytesToRead returns the number of bytes currently available to read.
func (g *GXSerialPort) GetBytesToRead() (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.s.isOpen() {
		return g.s.getBytesToRead()
	}
	return 0, nil
}

// GetBytesToWrite returns the number of bytes waiting to be written.
func (g *GXSerialPort) GetBytesToWrite() (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.s.isOpen() {
		return g.s.getBytesToWrite()
	}
	return 0, nil
}
