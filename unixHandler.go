//go:build linux || darwin

package gxserialsession

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Gurux/gxcommon-go"
	"golang.org/x/sys/unix"
)

type port struct {
	fd int
	// r and w form the pipe used to wake up a blocked read.
	r *os.File
	w *os.File
}

func (p *port) isOpen() bool {
	return p.r != nil
}

func openPort(p *port, name string, settings Settings) error {
	speed, ok := toUnixBaudRate[int(settings.BaudRate)]
	if !ok {
		return fmt.Errorf("unsupported baud rate: %d", settings.BaudRate)
	}
	fd, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0666)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	*p = port{fd: fd}
	fail := func(err error) error {
		_ = unix.Close(fd)
		*p = port{}
		return err
	}

	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return fail(fmt.Errorf("tcgetattr failed: %w", err))
	}
	t.Cflag |= unix.CLOCAL | unix.CREAD
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ECHOK | unix.ECHONL | unix.ISIG | unix.IEXTEN
	t.Oflag &^= unix.OPOST | unix.ONLCR | unix.OCRNL
	t.Iflag &^= unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IGNBRK
	setSpeed(t, speed)

	t.Cflag &^= unix.CSIZE
	switch settings.DataBits {
	case 7:
		t.Cflag |= unix.CS7
	case 8:
		t.Cflag |= unix.CS8
	default:
		return fail(fmt.Errorf("invalid data bits: %d", settings.DataBits))
	}

	t.Cflag &^= unix.CSTOPB
	if settings.StopBits == gxcommon.StopBitsTwo {
		t.Cflag |= unix.CSTOPB
	}

	t.Iflag &^= unix.INPCK | unix.ISTRIP
	t.Cflag &^= unix.PARENB | unix.PARODD
	switch settings.Parity {
	case gxcommon.ParityNone:
	case gxcommon.ParityEven:
		t.Cflag |= unix.PARENB
	case gxcommon.ParityOdd:
		t.Cflag |= unix.PARENB | unix.PARODD
	default:
		return fail(errors.New("invalid parity"))
	}

	t.Iflag &^= unix.IXON | unix.IXOFF
	t.Cflag &^= unix.CRTSCTS
	if settings.FlowControl == FlowControlHardware {
		t.Cflag |= unix.CRTSCTS
	}
	// Reads return whatever is available.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return fail(fmt.Errorf("tcsetattr failed: %w", err))
	}
	if err := flushInput(fd); err != nil {
		return fail(err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return fail(err)
	}
	if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
		_ = r.Close()
		_ = w.Close()
		return fail(err)
	}
	p.r, p.w = r, w
	return nil
}

func (p *port) cancel() error {
	if p.w == nil {
		return nil
	}
	_, err := p.w.Write([]byte{0})
	return err
}

func (p *port) close() error {
	if !p.isOpen() {
		return nil
	}
	_ = p.r.Close()
	_ = p.w.Close()
	err := unix.Close(p.fd)
	*p = port{}
	return err
}

func (p *port) read(max int) ([]byte, error) {
	if !p.isOpen() {
		return nil, io.EOF
	}
	pfds := []unix.PollFd{
		{Fd: int32(p.fd), Events: unix.POLLIN},
		{Fd: int32(p.r.Fd()), Events: unix.POLLIN},
	}
	for {
		pfds[0].Revents, pfds[1].Revents = 0, 0
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if pfds[1].Revents != 0 {
			return nil, io.EOF
		}
		if pfds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 && pfds[0].Revents&unix.POLLIN == 0 {
			return nil, io.EOF
		}
		cnt, _ := p.getBytesToRead()
		if cnt <= 0 {
			cnt = 1
		}
		if max > 0 && cnt > max {
			cnt = max
		}
		buf := make([]byte, cnt)
		n, err := unix.Read(p.fd, buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Device was removed.
			return nil, io.EOF
		}
		return buf[:n], nil
	}
}

func (p *port) write(data []byte) (int, error) {
	if !p.isOpen() {
		return 0, errors.New("serial port not open")
	}
	for {
		n, err := unix.Write(p.fd, data)
		if err == unix.EINTR {
			continue
		}
		if err != unix.EAGAIN {
			if n < 0 {
				n = 0
			}
			return n, err
		}
		// Output buffer is full, for example when CTS is low.
		pfds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLOUT}}
		if _, err := unix.Poll(pfds, -1); err != nil && err != unix.EINTR {
			return 0, err
		}
	}
}

func (p *port) getBytesToWrite() (int, error) {
	if !p.isOpen() {
		return 0, errors.New("serial port not open")
	}
	n, err := unix.IoctlGetInt(p.fd, unix.TIOCOUTQ)
	if err != nil {
		return 0, fmt.Errorf("getBytesToWrite failed: %w", err)
	}
	return n, nil
}
