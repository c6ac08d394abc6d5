package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dllink",
			Name:      "frames_sent_total",
			Help:      "Stuffed frames handed to the physical layer.",
		},
		[]string{"link"},
	)
	bytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dllink",
			Name:      "bytes_sent_total",
			Help:      "Stuffed bytes handed to the physical layer.",
		},
		[]string{"link"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dllink",
			Name:      "frames_received_total",
			Help:      "Frames processed by the receive path, by outcome.",
		},
		[]string{"link", "outcome"},
	)
	packetsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dllink",
			Name:      "packets_delivered_total",
			Help:      "Packets reassembled and handed upward.",
		},
		[]string{"link"},
	)
	bytesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dllink",
			Name:      "bytes_delivered_total",
			Help:      "Payload bytes handed upward.",
		},
		[]string{"link"},
	)
)

// RegisterMetrics registers the link collectors with the default registry.
// Safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesSent, bytesSent, framesReceived, packetsDelivered, bytesDelivered)
	})
}

// Recorder feeds link traffic into the prometheus counters under one link label.
type Recorder struct {
	name string
}

// NewRecorder registers the collectors and returns a recorder for the named link.
func NewRecorder(name string) *Recorder {
	RegisterMetrics()
	return &Recorder{name: name}
}

// FrameSent counts one stuffed frame of size bytes.
func (r *Recorder) FrameSent(size int) {
	framesSent.WithLabelValues(r.name).Inc()
	bytesSent.WithLabelValues(r.name).Add(float64(size))
}

// FrameReceived counts one received frame under its outcome label.
func (r *Recorder) FrameReceived(outcome string) {
	framesReceived.WithLabelValues(r.name, outcome).Inc()
}

// PacketDelivered counts one packet of size payload bytes handed upward.
func (r *Recorder) PacketDelivered(size int) {
	packetsDelivered.WithLabelValues(r.name).Inc()
	bytesDelivered.WithLabelValues(r.name).Add(float64(size))
}
