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

// Transport is the device connection used by the session.
//
// The session owns the transport while connected. Read is only called from
// the read loop and Write only from the write loop, so a transport does not
// need to serialize them on its own.
type Transport interface {
	// Open opens the device with the given settings.
	Open(settings Settings) error
	// Read blocks until the next chunk of data is available.
	// io.EOF is returned at the end of stream.
	Read() ([]byte, error)
	// Write writes all the data.
	Write(data []byte) error
	// Close closes the device. Closing a closed transport is not an error.
	Close() error
}

// ReadCanceler is implemented by transports that can unblock a pending Read
// without closing the device.
type ReadCanceler interface {
	CancelRead() error
}

// WritableReporter is implemented by transports whose write side can become
// unavailable while the device is open.
type WritableReporter interface {
	Writable() bool
}

// transportName returns the name used in traces and errors.
func transportName(t Transport) string {
	if n, ok := t.(interface{ GetName() string }); ok {
		return n.GetName()
	}
	return ""
}
