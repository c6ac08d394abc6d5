package link

// Outcome reports what Receive did with one frame.
type Outcome int

const (
	// Delivered: the frame completed a packet, which was handed upward.
	Delivered Outcome = iota
	// Buffered: the frame was appended to a pending multi-frame packet.
	Buffered
	// Filtered: the frame was addressed to another station.
	Filtered
	// Corrupt: the checksum did not match; the link entered the error state.
	Corrupt
	// Quarantined: the frame belongs to a sequence broken by an earlier error.
	Quarantined
	// OutOfSequence: the fragment did not continue the pending packet.
	OutOfSequence
	// Malformed: the raw bytes did not form a frame.
	Malformed

	numOutcomes
)

var outcomeNames = [numOutcomes]string{
	Delivered:     "delivered",
	Buffered:      "buffered",
	Filtered:      "filtered",
	Corrupt:       "corrupt",
	Quarantined:   "quarantined",
	OutOfSequence: "out_of_sequence",
	Malformed:     "malformed",
}

// String returns the outcome's label, as used in logs and metrics.
func (o Outcome) String() string {
	if o < 0 || o >= numOutcomes {
		return "unknown"
	}
	return outcomeNames[o]
}

// Accepted reports whether the frame passed every check.
func (o Outcome) Accepted() bool {
	return o == Delivered || o == Buffered
}

// Outcomes lists every outcome in declaration order.
func Outcomes() []Outcome {
	out := make([]Outcome, numOutcomes)
	for i := range out {
		out[i] = Outcome(i)
	}
	return out
}
