// Package serial is the physical layer: a UART carrying stuffed frames.
package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds a single Read when none is configured.
const DefaultReadTimeout = 100 * time.Millisecond

// Port wraps a serial port opened 8N1.
type Port struct {
	port        serial.Port
	portName    string
	baudRate    int
	readTimeout time.Duration
}

// Open opens a serial port with the specified baud rate. A zero readTimeout
// uses DefaultReadTimeout.
func Open(portName string, baudRate int, readTimeout time.Duration) (*Port, error) {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:        port,
		portName:    portName,
		baudRate:    baudRate,
		readTimeout: readTimeout,
	}, nil
}

// Close closes the serial port.
func (p *Port) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Transmit writes one stuffed frame, failing on a short write.
func (p *Port) Transmit(stuffed []byte) error {
	n, err := p.port.Write(stuffed)
	if err != nil {
		return fmt.Errorf("write %s: %w", p.portName, err)
	}
	if n != len(stuffed) {
		return fmt.Errorf("write %s: short write %d of %d bytes", p.portName, n, len(stuffed))
	}
	return nil
}

// ReadWithTimeout reads data with a specific timeout. It returns 0, nil when
// the timeout expires with nothing received.
func (p *Port) ReadWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if err := p.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	defer p.port.SetReadTimeout(p.readTimeout)

	return p.port.Read(buf)
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// Drain waits until all written data has left the port.
func (p *Port) Drain() error {
	return p.port.Drain()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	return p.baudRate
}

// ListPorts returns a list of available serial ports.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return ports, nil
}
