package signer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrPhaseOrder is returned when the sequencer is asked to move to a
	// protocol phase that does not follow the current one.
	ErrPhaseOrder = errors.New("signing phase out of order")
)

// phase is a phase of the signing protocol.
type phase uint32

const (
	// phaseIdle is the phase before any device round trip.
	phaseIdle phase = iota

	// phaseRegistering is the phase in which every input is registered
	// with the device in order.
	phaseRegistering

	// phaseFinalized is the phase after the device committed to the
	// outputs and the change path.
	phaseFinalized

	// phaseSigning is the phase in which every input is primed and signed
	// in order.
	phaseSigning

	// phaseDone is the phase after the last signature was collected.
	phaseDone
)

// String returns the string representation of a phase.
func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"

	case phaseRegistering:
		return "registering"

	case phaseFinalized:
		return "finalized"

	case phaseSigning:
		return "signing"

	case phaseDone:
		return "done"

	default:
		return "unknown phase"
	}
}

// sequencerState tracks the progress of one signing operation:
//
//	Idle -> Registering(0..n-1) -> Finalized -> Signing(0..n-1) -> Done
//
// Every transition checks that it directly follows the current position, so
// no phase can be skipped, repeated or reordered.
type sequencerState struct {
	// phase is the current phase.
	phase atomic.Uint32

	// next is the index of the input expected by the next registration
	// or signing step.
	next atomic.Uint32

	// numInputs is the number of inputs of the transaction.
	numInputs uint32
}

// newSequencerState returns the state of an operation over numInputs
// inputs, in the Idle phase.
func newSequencerState(numInputs int) *sequencerState {
	return &sequencerState{numInputs: uint32(numInputs)}
}

// String returns a summary of the state.
func (s *sequencerState) String() string {
	return fmt.Sprintf("phase=%v, next=%d/%d", phase(s.phase.Load()),
		s.next.Load(), s.numInputs)
}

// current returns the current phase.
func (s *sequencerState) current() phase {
	return phase(s.phase.Load())
}

// toRegistering moves to the registration of input i. Input 0 must be
// registered from Idle and every other input right after its predecessor.
func (s *sequencerState) toRegistering(i int) error {
	return s.step(phaseIdle, phaseRegistering, i)
}

// toFinalized moves to Finalized once every input has been registered.
func (s *sequencerState) toFinalized() error {
	return s.complete(phaseRegistering, phaseFinalized)
}

// toSigning moves to the signing of input i. Input 0 must be signed right
// after finalization and every other input right after its predecessor.
func (s *sequencerState) toSigning(i int) error {
	return s.step(phaseFinalized, phaseSigning, i)
}

// toDone moves to Done once every input has been signed.
func (s *sequencerState) toDone() error {
	return s.complete(phaseSigning, phaseDone)
}

// step implements the indexed transitions: index 0 enters to from the
// preceding phase from, any other index must be the next one within to.
func (s *sequencerState) step(from, to phase, i int) error {
	cur := s.current()

	switch {
	case i == 0 && cur == from && s.numInputs > 0:
		s.phase.Store(uint32(to))
		s.next.Store(1)

		return nil

	case i > 0 && cur == to && uint32(i) == s.next.Load() &&
		uint32(i) < s.numInputs:

		s.next.Add(1)

		return nil

	default:
		return fmt.Errorf("%w: cannot enter %v(%d) from %v", ErrPhaseOrder,
			to, i, s)
	}
}

// complete implements the transitions that require every input to have
// gone through phase from.
func (s *sequencerState) complete(from, to phase) error {
	if s.current() != from || s.next.Load() != s.numInputs {
		return fmt.Errorf("%w: cannot enter %v from %v", ErrPhaseOrder,
			to, s)
	}

	s.phase.Store(uint32(to))
	s.next.Store(0)

	return nil
}
