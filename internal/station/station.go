// Package station runs one Link over a physical port: it serialises access to
// the link, turns the raw byte stream into frames and reports send progress.
package station

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/dllink/internal/frame"
	"github.com/bigbag/dllink/internal/link"
	"github.com/bigbag/dllink/internal/stuff"
)

// MaxStuffedSize is the longest a stuffed frame can be: every message byte
// escaped, plus both Flags.
const MaxStuffedSize = 2 + 2*(frame.MinMessageSize+frame.MaxCapacity)

// DefaultPollTimeout bounds each port read in Listen.
const DefaultPollTimeout = 100 * time.Millisecond

// ErrNoPort is returned by Listen on a decode-only station.
var ErrNoPort = errors.New("station: no port")

// Port is the part of the physical layer a Station needs.
type Port interface {
	Transmit(stuffed []byte) error
	ReadWithTimeout(buf []byte, timeout time.Duration) (int, error)
}

// ProgressCallback is called after each frame of a packet is written.
type ProgressCallback func(current, total int)

// Handler receives completed packets. It runs without the station lock held.
type Handler func(payload []byte, src byte)

// Option configures a Station.
type Option func(*Station)

// WithLogger sets the logger for the station and its link.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Station) {
		s.log = log
	}
}

// WithRecorder passes a traffic recorder to the link.
func WithRecorder(r link.Recorder) Option {
	return func(s *Station) {
		s.rec = r
	}
}

// WithHandler sets the callback for completed packets.
func WithHandler(h Handler) Option {
	return func(s *Station) {
		s.handler = h
	}
}

// WithPollTimeout sets how long each read in Listen waits for data.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Station) {
		s.poll = d
	}
}

type delivery struct {
	payload []byte
	src     byte
}

// Station owns one Link and the port it runs over.
type Station struct {
	mu   sync.Mutex
	port Port
	link *link.Link

	handler  Handler
	progress ProgressCallback
	rec      link.Recorder
	log      zerolog.Logger
	poll     time.Duration

	// Guarded by mu.
	buffer []byte
	inbox  []delivery
	sent   int
	total  int
}

// New creates a Station for the given port. port may be nil for a station
// that only decodes input passed to Feed or Receive; Send on it returns
// link.ErrNoTransmitter.
func New(port Port, cfg link.Config, opts ...Option) (*Station, error) {
	s := &Station{
		port: port,
		log:  zerolog.Nop(),
		poll: DefaultPollTimeout,
	}
	for _, o := range opts {
		o(s)
	}

	linkOpts := []link.Option{
		link.WithLogger(s.log),
		link.WithDeliverer(s.enqueue),
	}
	if s.rec != nil {
		linkOpts = append(linkOpts, link.WithRecorder(s.rec))
	}

	var tx link.Transmitter
	if port != nil {
		tx = link.TransmitFunc(s.transmit)
	}

	l, err := link.New(cfg, tx, linkOpts...)
	if err != nil {
		return nil, err
	}
	s.link = l

	return s, nil
}

// SetProgressCallback sets the progress callback function. The callback runs
// with the station lock held and must not call back into the Station.
func (s *Station) SetProgressCallback(cb ProgressCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = cb
}

// reportProgress calls the progress callback if set.
func (s *Station) reportProgress(current, total int) {
	if s.progress != nil {
		s.progress(current, total)
	}
}

// Address returns the station's link address.
func (s *Station) Address() byte {
	return s.link.Address()
}

// Send fragments payload and writes every frame to the port.
func (s *Station) Send(payload []byte, dst byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent = 0
	s.total = link.FrameCount(len(payload), s.link.Capacity())

	if err := s.link.Send(payload, dst); err != nil {
		return fmt.Errorf("send to 0x%02X: %w", dst, err)
	}

	s.log.Debug().
		Uint8("dst", dst).
		Int("length", len(payload)).
		Int("frames", s.total).
		Msg("packet sent")
	return nil
}

func (s *Station) transmit(stuffed []byte) error {
	if err := s.port.Transmit(stuffed); err != nil {
		return err
	}

	s.sent++
	s.reportProgress(s.sent, s.total)
	return nil
}

// Receive processes one stuffed frame.
func (s *Station) Receive(raw []byte) (link.Outcome, error) {
	s.mu.Lock()
	o, err := s.link.Receive(raw)
	ready := s.takeInbox()
	s.mu.Unlock()

	s.dispatch(ready)
	return o, err
}

// Feed appends a chunk of the raw byte stream and processes every complete
// frame it finishes. Partial frames are kept for the next call.
func (s *Station) Feed(chunk []byte) []link.Outcome {
	s.mu.Lock()
	outcomes := s.feed(chunk)
	ready := s.takeInbox()
	s.mu.Unlock()

	s.dispatch(ready)
	return outcomes
}

func (s *Station) feed(chunk []byte) []link.Outcome {
	s.buffer = append(s.buffer, chunk...)

	var outcomes []link.Outcome
	for {
		raw, remaining := stuff.ReadFrame(s.buffer)
		s.buffer = remaining
		if raw == nil {
			break
		}

		// Malformed frames are already counted and logged by the link
		o, _ := s.link.Receive(raw)
		outcomes = append(outcomes, o)
	}

	if len(s.buffer) > MaxStuffedSize {
		s.log.Debug().Int("size", len(s.buffer)).Msg("discarding unterminated frame")
		s.buffer = nil
	}
	// Keep the backing array from growing with the stream
	if len(s.buffer) == 0 {
		s.buffer = nil
	}

	return outcomes
}

// Listen reads the port until ctx is done, feeding everything it reads to
// the link. It returns nil on cancellation and the read error otherwise.
func (s *Station) Listen(ctx context.Context) error {
	if s.port == nil {
		return ErrNoPort
	}
	chunk := make([]byte, 256)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		n, err := s.port.ReadWithTimeout(chunk, s.poll)
		if n > 0 {
			s.Feed(chunk[:n])
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// Stats returns the link counters.
func (s *Station) Stats() link.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.Stats()
}

// Errored reports whether the link is quarantining a broken sequence.
func (s *Station) Errored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link.Errored()
}

// Reset drops partial input and clears the link's error state.
func (s *Station) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
	s.link.Reset()
}

func (s *Station) enqueue(payload []byte, src byte) {
	s.inbox = append(s.inbox, delivery{payload: payload, src: src})
}

func (s *Station) takeInbox() []delivery {
	ready := s.inbox
	s.inbox = nil
	return ready
}

func (s *Station) dispatch(ready []delivery) {
	if s.handler == nil {
		return
	}
	for _, d := range ready {
		s.handler(d.payload, d.src)
	}
}
