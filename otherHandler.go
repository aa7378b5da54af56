//go:build !linux && !darwin && !windows

package gxserialsession

import (
	"errors"
	"io"
)

var errUnsupported = errors.New("serial ports are not supported on this platform")

type port struct{}

func (p *port) isOpen() bool {
	return false
}

func getPortNames() ([]string, error) {
	return nil, errUnsupported
}

func openPort(p *port, name string, settings Settings) error {
	return errUnsupported
}

func (p *port) read(max int) ([]byte, error) {
	return nil, io.EOF
}

func (p *port) write(data []byte) (int, error) {
	return 0, errUnsupported
}

func (p *port) cancel() error {
	return nil
}

func (p *port) close() error {
	return nil
}

func (p *port) getBytesToRead() (int, error) {
	return 0, errUnsupported
}

func (p *port) getBytesToWrite() (int, error) {
	return 0, errUnsupported
}
