// Package detect finds serial ports that carry link traffic.
package detect

import (
	"fmt"
	"time"

	"github.com/bigbag/dllink/internal/link"
	"github.com/bigbag/dllink/internal/serial"
	"github.com/bigbag/dllink/internal/station"
)

// DefaultWindow is how long each port is listened to.
const DefaultWindow = 2 * time.Second

// Result describes the traffic seen on one port.
type Result struct {
	Port      string
	Frames    int // well-formed frames for any destination
	Malformed int
	Delivered int
}

// Active reports whether any well-formed frame was seen.
func (r Result) Active() bool {
	return r.Frames > 0
}

// DetectPort listens on every available port and returns the first one
// carrying link traffic.
func DetectPort(baudRate int, window time.Duration) (*Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("no serial ports found")
	}

	var lastErr error
	for _, portName := range ports {
		result, err := DetectOnPort(portName, baudRate, window)
		if err != nil {
			lastErr = err
			continue
		}
		if result.Active() {
			return result, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("no link traffic found (last error: %w)", lastErr)
	}
	return nil, fmt.Errorf("no link traffic found")
}

// DetectOnPort listens on a specific port for window.
func DetectOnPort(portName string, baudRate int, window time.Duration) (*Result, error) {
	port, err := serial.Open(portName, baudRate, 0)
	if err != nil {
		return nil, err
	}
	defer port.Close()

	return probe(port, portName, window)
}

// ListActive scans all ports and returns every one carrying link traffic.
func ListActive(baudRate int, window time.Duration) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, portName := range ports {
		result, err := DetectOnPort(portName, baudRate, window)
		if err == nil && result.Active() {
			results = append(results, *result)
		}
	}

	return results, nil
}

func probe(port station.Port, portName string, window time.Duration) (*Result, error) {
	// Receive-only: the local address only decides what counts as delivered
	s, err := station.New(port, link.DefaultConfig())
	if err != nil {
		return nil, err
	}

	result := &Result{Port: portName}
	buf := make([]byte, 256)
	deadline := time.Now().Add(window)

	for time.Now().Before(deadline) {
		n, err := port.ReadWithTimeout(buf, station.DefaultPollTimeout)
		for _, o := range s.Feed(buf[:n]) {
			switch o {
			case link.Malformed:
				result.Malformed++
			case link.Delivered:
				result.Delivered++
				result.Frames++
			default:
				result.Frames++
			}
		}
		if err != nil {
			return result, fmt.Errorf("read %s: %w", portName, err)
		}
	}

	return result, nil
}
