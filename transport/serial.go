package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Config holds the serial port settings. Magstim units are fixed at
// 9600 8N1, so only the device path normally varies; the remaining fields
// exist for bench setups behind adapters that re-rate the link.
type Config struct {
	Device   string `toml:"device"`
	BaudRate int    `toml:"baud_rate"`
	DataBits int    `toml:"data_bits"`
	StopBits int    `toml:"stop_bits"`
	Parity   string `toml:"parity"`
}

// DefaultConfig returns the standard Magstim port settings.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:   device,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
	}
}

func (c *Config) mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
	}

	switch c.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %d", c.StopBits)
	}

	switch c.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "even":
		mode.Parity = serial.EvenParity
	case "odd":
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", c.Parity)
	}

	return mode, nil
}

// SerialChannel is a Channel over a local serial port.
type SerialChannel struct {
	port serial.Port
}

// Open opens the configured serial port. RTS is driven low after opening:
// some Magstim front panels treat an asserted RTS as a trigger line.
func Open(cfg *Config) (*SerialChannel, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, fmt.Errorf("serial config: %w", err)
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}

	if err := port.SetRTS(false); err != nil {
		port.Close()
		return nil, fmt.Errorf("deassert RTS on %s: %w", cfg.Device, err)
	}

	return &SerialChannel{port: port}, nil
}

func (s *SerialChannel) Write(frame []byte) error {
	n, err := s.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	return nil
}

func (s *SerialChannel) Read(max int, timeout time.Duration) ([]byte, error) {
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return nil, err
	}

	buf := make([]byte, max)
	n, err := s.port.Read(buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// go.bug.st/serial signals a timeout as a zero-byte read.
		return nil, ErrReadTimeout
	}
	return buf[:n], nil
}

// SetTriggerPin drives the RTS line, which the unit's front panel reads as a
// hardware trigger input. Open leaves the line deasserted.
func (s *SerialChannel) SetTriggerPin(high bool) error {
	return s.port.SetRTS(high)
}

func (s *SerialChannel) Flush() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialChannel) Close() error {
	return s.port.Close()
}
