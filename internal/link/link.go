// Package link is the data-link layer: it fragments outbound packets into
// checksummed, byte-stuffed frames and reassembles inbound frames into packets.
//
// A Link is not safe for concurrent use. Its error flag and reassembly buffer
// persist across calls, so every Send and Receive on one Link must come from
// one goroutine at a time (see package station).
package link

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bigbag/dllink/internal/frame"
	"github.com/bigbag/dllink/internal/stuff"
)

var (
	ErrMalformed      = errors.New("link: malformed frame")
	ErrPacketTooLarge = errors.New("link: packet needs too many frames")
	ErrNoTransmitter  = errors.New("link: no transmitter")
	ErrInvalidConfig  = errors.New("link: invalid config")
)

// Transmitter hands stuffed frames to the physical layer.
type Transmitter interface {
	Transmit(stuffed []byte) error
}

// TransmitFunc adapts a function to Transmitter.
type TransmitFunc func(stuffed []byte) error

// Transmit calls fn(stuffed).
func (fn TransmitFunc) Transmit(stuffed []byte) error { return fn(stuffed) }

// Deliverer receives every completed packet together with its sender address.
// The payload is owned by the callee.
type Deliverer func(payload []byte, src byte)

// Recorder observes link traffic, typically for metrics.
type Recorder interface {
	FrameSent(size int)
	FrameReceived(outcome string)
	PacketDelivered(size int)
}

type nopRecorder struct{}

func (nopRecorder) FrameSent(int)        {}
func (nopRecorder) FrameReceived(string) {}
func (nopRecorder) PacketDelivered(int)  {}

// Config holds per-link settings.
type Config struct {
	// Address is this station's one-byte address.
	Address byte
	// Capacity is the payload size of a full frame.
	Capacity int
	// MaxFragments bounds how many frames an inbound packet may announce.
	MaxFragments int
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Address:      frame.DefaultAddress,
		Capacity:     frame.DefaultCapacity,
		MaxFragments: 32,
	}
}

// Validate checks the config against the wire format's limits.
func (c Config) Validate() error {
	if c.Capacity < 1 || c.Capacity > frame.MaxCapacity {
		return fmt.Errorf("%w: capacity %d outside 1..%d", ErrInvalidConfig, c.Capacity, frame.MaxCapacity)
	}
	if c.MaxFragments < 1 || c.MaxFragments > frame.MaxFrames {
		return fmt.Errorf("%w: max fragments %d outside 1..%d", ErrInvalidConfig, c.MaxFragments, frame.MaxFrames)
	}
	if c.Address == frame.Broadcast {
		return fmt.Errorf("%w: address 0x%02X is the broadcast address", ErrInvalidConfig, c.Address)
	}
	return nil
}

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the logger used for drop and delivery events.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Link) {
		l.log = log
	}
}

// WithDeliverer sets the callback for completed packets.
func WithDeliverer(d Deliverer) Option {
	return func(l *Link) {
		l.deliver = d
	}
}

// WithRecorder sets the traffic recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Link) {
		l.rec = r
	}
}

// Stats counts link activity since creation.
type Stats struct {
	FramesSent       uint64
	BytesSent        uint64
	PacketsSent      uint64
	PacketsDelivered uint64
	BytesDelivered   uint64
	Received         map[Outcome]uint64
}

// Link is one data-link endpoint.
type Link struct {
	cfg     Config
	tx      Transmitter
	deliver Deliverer
	rec     Recorder
	log     zerolog.Logger

	// errored is set by a checksum failure and cleared at the end of the
	// broken sequence.
	errored bool

	// Reassembly state for one multi-frame packet.
	assembling bool
	pending    []byte
	nextIndex  byte
	lastIndex  byte
	pendingSrc byte

	stats    Stats
	received [numOutcomes]uint64
}

// New creates a Link. tx may be nil for a receive-only link.
func New(cfg Config, tx Transmitter, opts ...Option) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Link{
		cfg: cfg,
		tx:  tx,
		rec: nopRecorder{},
		log: zerolog.Nop(),
	}
	for _, o := range opts {
		o(l)
	}

	return l, nil
}

// Address returns the local station address.
func (l *Link) Address() byte { return l.cfg.Address }

// Capacity returns the per-frame payload capacity.
func (l *Link) Capacity() int { return l.cfg.Capacity }

// Errored reports whether the link is quarantining a broken sequence.
func (l *Link) Errored() bool { return l.errored }

// Pending returns a copy of the partially reassembled packet.
func (l *Link) Pending() []byte {
	if !l.assembling {
		return nil
	}
	return append([]byte{}, l.pending...)
}

// PendingFragments returns how many fragments of the current packet have been buffered.
func (l *Link) PendingFragments() int {
	if !l.assembling {
		return 0
	}
	return int(l.nextIndex)
}

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	s := l.stats
	s.Received = make(map[Outcome]uint64, numOutcomes)
	for i, n := range l.received {
		s.Received[Outcome(i)] = n
	}
	return s
}

// Reset drops any pending packet and clears the error flag.
func (l *Link) Reset() {
	l.discardPending()
	l.errored = false
}

// Send fragments payload and transmits one stuffed frame per fragment to dst.
func (l *Link) Send(payload []byte, dst byte) error {
	if l.tx == nil {
		return ErrNoTransmitter
	}

	count := FrameCount(len(payload), l.cfg.Capacity)
	if count > frame.MaxFrames {
		return fmt.Errorf("%w: %d bytes need %d frames, max %d",
			ErrPacketTooLarge, len(payload), count, frame.MaxFrames)
	}

	f := frame.New()
	for i, chunk := range Fragment(payload, l.cfg.Capacity) {
		f.Control = [2]byte{byte(i), byte(count - 1)}
		f.Addressing = [2]byte{l.cfg.Address, dst}
		if err := f.SetPayload(append([]byte{}, chunk...)); err != nil {
			return err
		}
		f.Seal()

		stuffed := stuff.Stuff(f.Message())
		if err := l.tx.Transmit(stuffed); err != nil {
			l.log.Warn().Err(err).
				Uint8("index", f.Index()).
				Uint8("last", f.Last()).
				Uint8("dst", dst).
				Msg("transmit failed")
			f.Release()
			return fmt.Errorf("transmit frame %d/%d: %w", i, count-1, err)
		}

		l.stats.FramesSent++
		l.stats.BytesSent += uint64(len(stuffed))
		l.rec.FrameSent(len(stuffed))
		f.Release()
	}

	l.stats.PacketsSent++
	return nil
}

// Receive processes one stuffed frame. The error is non-nil only when raw is
// not a well-formed frame; every other drop is reported through the Outcome.
func (l *Link) Receive(raw []byte) (Outcome, error) {
	msg, err := stuff.Unstuff(raw)
	if err != nil {
		return l.malformed(raw, err)
	}
	f, err := frame.ParseMessage(msg)
	if err != nil {
		return l.malformed(raw, err)
	}

	dst := f.Destination()
	if dst != l.cfg.Address && dst != frame.Broadcast {
		return l.drop(f, Filtered), nil
	}

	// Rest of a sequence already known to be broken
	if !f.IsSingle() && l.errored {
		if f.IsFinal() {
			l.errored = false
		}
		return l.drop(f, Quarantined), nil
	}

	if !f.Verify() {
		l.errored = true
		l.discardPending()
		return l.drop(f, Corrupt), nil
	}

	if f.IsSingle() {
		l.handUp(f.Payload, f.Source())
		return l.accept(Delivered), nil
	}

	return l.reassemble(f), nil
}

func (l *Link) reassemble(f *frame.Frame) Outcome {
	if f.Index() == 0 {
		if int(f.Last())+1 > l.cfg.MaxFragments {
			l.discardPending()
			l.errored = true
			return l.drop(f, OutOfSequence)
		}
		if l.assembling {
			l.log.Debug().
				Int("fragments", int(l.nextIndex)).
				Msg("abandoning unfinished packet")
		}

		l.assembling = true
		l.pending = append(make([]byte, 0, int(f.Length)*(int(f.Last())+1)), f.Payload...)
		l.nextIndex = 1
		l.lastIndex = f.Last()
		l.pendingSrc = f.Source()
		return l.accept(Buffered)
	}

	if !l.assembling || f.Index() != l.nextIndex || f.Last() != l.lastIndex || f.Source() != l.pendingSrc {
		l.discardPending()
		if !f.IsFinal() {
			l.errored = true
		}
		return l.drop(f, OutOfSequence)
	}

	l.pending = append(l.pending, f.Payload...)
	l.nextIndex++

	if !f.IsFinal() {
		return l.accept(Buffered)
	}

	packet := l.pending
	l.discardPending()
	l.handUp(packet, f.Source())
	return l.accept(Delivered)
}

func (l *Link) discardPending() {
	l.assembling = false
	l.pending = nil
	l.nextIndex = 0
	l.lastIndex = 0
	l.pendingSrc = 0
}

func (l *Link) handUp(packet []byte, src byte) {
	l.stats.PacketsDelivered++
	l.stats.BytesDelivered += uint64(len(packet))
	l.rec.PacketDelivered(len(packet))
	l.log.Debug().
		Uint8("src", src).
		Int("length", len(packet)).
		Msg("packet delivered")

	if l.deliver != nil {
		l.deliver(packet, src)
	}
}

func (l *Link) accept(o Outcome) Outcome {
	l.count(o)
	return o
}

func (l *Link) drop(f *frame.Frame, o Outcome) Outcome {
	l.count(o)
	l.log.Debug().
		Str("reason", o.String()).
		Uint8("index", f.Index()).
		Uint8("last", f.Last()).
		Uint8("src", f.Source()).
		Uint8("dst", f.Destination()).
		Bool("errored", l.errored).
		Msg("frame dropped")
	return o
}

func (l *Link) malformed(raw []byte, err error) (Outcome, error) {
	l.count(Malformed)
	l.log.Debug().Err(err).Int("size", len(raw)).Msg("frame dropped")
	return Malformed, fmt.Errorf("%w: %w", ErrMalformed, err)
}

func (l *Link) count(o Outcome) {
	l.received[o]++
	l.rec.FrameReceived(o.String())
}
