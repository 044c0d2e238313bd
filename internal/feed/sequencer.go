package feed

// Sequencer drops updates whose composite sequence is not strictly greater
// than the last accepted one. It is owned by a single consumer goroutine.
type Sequencer struct {
	last uint64
	seen bool
}

// Accept reports whether seq should be processed and records it if so
func (s *Sequencer) Accept(seq uint64) bool {
	if s.seen && seq <= s.last {
		return false
	}
	s.last = seq
	s.seen = true
	return true
}

// Last returns the last accepted sequence
func (s *Sequencer) Last() uint64 {
	return s.last
}
