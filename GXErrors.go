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
)

var (
	// ErrNotReady is returned when data is sent while the session is not connected
	// or the transport cannot accept writes.
	ErrNotReady = errors.New("serial port is not ready for writing")
	// ErrInvalidState is returned when an operation is not valid in the current state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrInvalidSettings is returned when settings are out of range.
	ErrInvalidSettings = errors.New("invalid serial settings")
	// ErrConnectAborted is returned by Connect when Disconnect was called while the transport was opening.
	ErrConnectAborted = errors.New("connect aborted")
	// ErrNoTransport is returned by Connect when no transport is given.
	ErrNoTransport = errors.New("no transport")
)

// ConnectionError is returned when the transport can't be opened or closed.
type ConnectionError struct {
	// Op is either "open" or "close".
	Op   string
	Port string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Port, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ReadError is reported when the transport read fails.
// Read errors end the read loop and the session is disconnected.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return "read failed: " + e.Err.Error()
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WriteError is returned from SendData when the transport write fails.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return "write failed: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
