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
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gurux/gxcommon-go"
	"gopkg.in/yaml.v3"
)

// Allowed setting ranges.
const (
	MinBufferSize     = 64
	MaxBufferSize     = 4096
	MaxPackageTimeout = 5000
)

// SupportedBaudRates lists the conventional baud rates offered to the user.
// Other positive values are accepted as long as the transport supports them.
var SupportedBaudRates = []gxcommon.BaudRate{
	300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600,
}

// FlowControl is the serial line flow control.
type FlowControl int

const (
	// FlowControlNone disables flow control.
	FlowControlNone FlowControl = iota
	// FlowControlHardware enables RTS/CTS flow control.
	FlowControlHardware
)

func (f FlowControl) String() string {
	switch f {
	case FlowControlNone:
		return "none"
	case FlowControlHardware:
		return "hardware"
	}
	return fmt.Sprintf("FlowControl(%d)", int(f))
}

// FlowControlParse parses flow control from the string.
func FlowControlParse(value string) (FlowControl, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return FlowControlNone, nil
	case "hardware", "rtscts":
		return FlowControlHardware, nil
	}
	return FlowControlNone, fmt.Errorf("invalid flow control: %q", value)
}

// StopBitsParse parses the number of stop bits ("1" or "2").
func StopBitsParse(value string) (gxcommon.StopBits, error) {
	switch strings.TrimSpace(value) {
	case "1":
		return gxcommon.StopBitsOne, nil
	case "2":
		return gxcommon.StopBitsTwo, nil
	}
	return gxcommon.StopBitsOne, fmt.Errorf("invalid stop bits: %q", value)
}

func stopBitsCount(value gxcommon.StopBits) int {
	if value == gxcommon.StopBitsTwo {
		return 2
	}
	return 1
}

// Settings holds the serial line configuration of the session.
//
// Settings are captured by value when the session connects.
// Later changes are used on the next connect.
type Settings struct {
	BaudRate    gxcommon.BaudRate
	DataBits    int
	StopBits    gxcommon.StopBits
	Parity      gxcommon.Parity
	FlowControl FlowControl
	// BufferSize is the maximum size of a single read in bytes.
	BufferSize int
	// PackageTimeout is the coalescing window in milliseconds.
	// Zero logs every received chunk on its own.
	PackageTimeout int
}

// DefaultSettings returns the settings used by a new session.
func DefaultSettings() Settings {
	return Settings{
		BaudRate:       115200,
		DataBits:       8,
		StopBits:       gxcommon.StopBitsOne,
		Parity:         gxcommon.ParityNone,
		FlowControl:    FlowControlNone,
		BufferSize:     1024,
		PackageTimeout: 100,
	}
}

// PackageTimeoutDuration returns the coalescing window as a duration.
func (s Settings) PackageTimeoutDuration() time.Duration {
	return time.Duration(s.PackageTimeout) * time.Millisecond
}

// Validate checks that all values are inside the allowed ranges.
func (s Settings) Validate() error {
	var errs []error
	if int64(s.BaudRate) <= 0 {
		errs = append(errs, fmt.Errorf("baud rate must be positive: %d", s.BaudRate))
	}
	if s.DataBits != 7 && s.DataBits != 8 {
		errs = append(errs, fmt.Errorf("data bits must be 7 or 8: %d", s.DataBits))
	}
	if s.StopBits != gxcommon.StopBitsOne && s.StopBits != gxcommon.StopBitsTwo {
		errs = append(errs, fmt.Errorf("stop bits must be 1 or 2: %d", s.StopBits))
	}
	switch s.Parity {
	case gxcommon.ParityNone, gxcommon.ParityEven, gxcommon.ParityOdd:
	default:
		errs = append(errs, fmt.Errorf("parity must be none, even or odd: %d", s.Parity))
	}
	if s.FlowControl != FlowControlNone && s.FlowControl != FlowControlHardware {
		errs = append(errs, fmt.Errorf("flow control must be none or hardware: %d", s.FlowControl))
	}
	if s.BufferSize < MinBufferSize || s.BufferSize > MaxBufferSize {
		errs = append(errs, fmt.Errorf("buffer size must be in [%d, %d]: %d", MinBufferSize, MaxBufferSize, s.BufferSize))
	}
	if s.PackageTimeout < 0 || s.PackageTimeout > MaxPackageTimeout {
		errs = append(errs, fmt.Errorf("package timeout must be in [0, %d] ms: %d", MaxPackageTimeout, s.PackageTimeout))
	}
	if len(errs) != 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// String implements fmt.Stringer.
func (s Settings) String() string {
	return fmt.Sprintf("%d %d %d %s %s", s.BaudRate, s.DataBits, stopBitsCount(s.StopBits), parityName(s.Parity), s.FlowControl)
}

// SettingsUpdate is a partial settings change. Nil fields keep the current value.
type SettingsUpdate struct {
	BaudRate       *gxcommon.BaudRate
	DataBits       *int
	StopBits       *gxcommon.StopBits
	Parity         *gxcommon.Parity
	FlowControl    *FlowControl
	BufferSize     *int
	PackageTimeout *int
}

// Value returns a pointer to v. It is used to fill SettingsUpdate fields.
func Value[T any](v T) *T {
	return &v
}

// Merge returns a copy of s with the non-nil fields of u applied.
func (s Settings) Merge(u SettingsUpdate) Settings {
	if u.BaudRate != nil {
		s.BaudRate = *u.BaudRate
	}
	if u.DataBits != nil {
		s.DataBits = *u.DataBits
	}
	if u.StopBits != nil {
		s.StopBits = *u.StopBits
	}
	if u.Parity != nil {
		s.Parity = *u.Parity
	}
	if u.FlowControl != nil {
		s.FlowControl = *u.FlowControl
	}
	if u.BufferSize != nil {
		s.BufferSize = *u.BufferSize
	}
	if u.PackageTimeout != nil {
		s.PackageTimeout = *u.PackageTimeout
	}
	return s
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

// GetSettings returns the settings as XML elements.
func (s Settings) GetSettings() string {
	var b strings.Builder
	if s.BaudRate != 0 {
		fmt.Fprintf(&b, "<Bps>%d</Bps>\n", s.BaudRate)
	}
	if s.DataBits != 0 {
		fmt.Fprintf(&b, "<ByteSize>%d</ByteSize>\n", s.DataBits)
	}
	fmt.Fprintf(&b, "<StopBits>%d</StopBits>\n", stopBitsCount(s.StopBits))
	if s.Parity != gxcommon.ParityNone {
		fmt.Fprintf(&b, "<Parity>%s</Parity>\n", xmlEscape(parityName(s.Parity)))
	}
	if s.FlowControl != FlowControlNone {
		fmt.Fprintf(&b, "<FlowControl>%s</FlowControl>\n", s.FlowControl)
	}
	if s.BufferSize != 0 {
		fmt.Fprintf(&b, "<BufferSize>%d</BufferSize>\n", s.BufferSize)
	}
	fmt.Fprintf(&b, "<PackageTimeout>%d</PackageTimeout>\n", s.PackageTimeout)
	return b.String()
}

// SetSettings updates the settings from XML elements written by GetSettings.
// Unknown elements are ignored.
func (s *Settings) SetSettings(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	dec := xml.NewDecoder(strings.NewReader("<root>" + value + "</root>"))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		var v string
		switch se.Name.Local {
		case "Bps", "ByteSize", "StopBits", "Parity", "FlowControl", "BufferSize", "PackageTimeout":
			if err := dec.DecodeElement(&v, &se); err != nil {
				return err
			}
		default:
			continue
		}
		v = strings.TrimSpace(v)
		switch se.Name.Local {
		case "Bps":
			s.BaudRate, err = gxcommon.BaudRateParse(v)
		case "ByteSize":
			s.DataBits, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("invalid ByteSize value: %w", err)
			}
		case "StopBits":
			s.StopBits, err = StopBitsParse(v)
		case "Parity":
			s.Parity, err = ParityParse(v)
		case "FlowControl":
			s.FlowControl, err = FlowControlParse(v)
		case "BufferSize":
			s.BufferSize, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("invalid BufferSize value: %w", err)
			}
		case "PackageTimeout":
			s.PackageTimeout, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("invalid PackageTimeout value: %w", err)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// settingsFile is the YAML form of the settings.
type settingsFile struct {
	Port           string `yaml:"port"`
	BaudRate       *int   `yaml:"baudRate"`
	DataBits       *int   `yaml:"dataBits"`
	StopBits       *int   `yaml:"stopBits"`
	Parity         string `yaml:"parity"`
	FlowControl    string `yaml:"flowControl"`
	BufferSize     *int   `yaml:"bufferSize"`
	PackageTimeout *int   `yaml:"packageTimeout"`
}

// ParseSettings reads YAML settings on top of the defaults.
// The port name is returned separately since it belongs to the transport.
func ParseSettings(data []byte) (Settings, string, error) {
	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Settings{}, "", fmt.Errorf("parse settings: %w", err)
	}
	var u SettingsUpdate
	if f.BaudRate != nil {
		u.BaudRate = Value(gxcommon.BaudRate(*f.BaudRate))
	}
	u.DataBits = f.DataBits
	if f.StopBits != nil {
		sb, err := StopBitsParse(strconv.Itoa(*f.StopBits))
		if err != nil {
			return Settings{}, "", err
		}
		u.StopBits = &sb
	}
	if f.Parity != "" {
		p, err := ParityParse(f.Parity)
		if err != nil {
			return Settings{}, "", err
		}
		u.Parity = &p
	}
	if f.FlowControl != "" {
		fc, err := FlowControlParse(f.FlowControl)
		if err != nil {
			return Settings{}, "", err
		}
		u.FlowControl = &fc
	}
	u.BufferSize = f.BufferSize
	u.PackageTimeout = f.PackageTimeout
	s := DefaultSettings().Merge(u)
	if err := s.Validate(); err != nil {
		return Settings{}, "", err
	}
	return s, f.Port, nil
}

// LoadSettingsFile reads YAML settings from the file.
func LoadSettingsFile(path string) (Settings, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, "", err
	}
	return ParseSettings(data)
}

func parityName(value gxcommon.Parity) string {
	switch value {
	case gxcommon.ParityNone:
		return "none"
	case gxcommon.ParityEven:
		return "even"
	case gxcommon.ParityOdd:
		return "odd"
	}
	return fmt.Sprint(value)
}

// ParityParse parses parity. Lower case names are accepted in addition to the
// names accepted by gxcommon.ParityParse.
func ParityParse(value string) (gxcommon.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "none":
		return gxcommon.ParityNone, nil
	case "even":
		return gxcommon.ParityEven, nil
	case "odd":
		return gxcommon.ParityOdd, nil
	}
	return gxcommon.ParityParse(value)
}
