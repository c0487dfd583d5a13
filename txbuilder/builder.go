package txbuilder

import (
	"bytes"
	"slices"

	"github.com/btcsuite/btcd/wire"
)

// Builder accumulates the inputs and outputs of a transaction. It has value
// semantics: every Add method returns a new Builder and leaves the receiver
// untouched, so a partially built transaction can be shared and extended in
// different directions without aliasing.
type Builder struct {
	version  int32
	lockTime uint32
	inputs   []*wire.TxIn
	outputs  []*wire.TxOut
}

// NewBuilder returns an empty builder for a transaction with the given
// version and lock time.
func NewBuilder(version int32, lockTime uint32) Builder {
	return Builder{version: version, lockTime: lockTime}
}

// AddInput returns a builder with a copy of in appended to the inputs.
func (b Builder) AddInput(in *wire.TxIn) Builder {
	b.inputs = append(slices.Clip(b.inputs), copyTxIn(in))
	return b
}

// AddOutput returns a builder with a copy of out appended to the outputs.
func (b Builder) AddOutput(out *wire.TxOut) Builder {
	b.outputs = append(slices.Clip(b.outputs), copyTxOut(out))
	return b
}

// NumInputs returns the number of inputs added so far.
func (b Builder) NumInputs() int {
	return len(b.inputs)
}

// NumOutputs returns the number of outputs added so far.
func (b Builder) NumOutputs() int {
	return len(b.outputs)
}

// Build returns a freshly allocated transaction holding the accumulated
// inputs and outputs in insertion order.
func (b Builder) Build() *wire.MsgTx {
	tx := wire.NewMsgTx(b.version)
	tx.LockTime = b.lockTime

	for _, in := range b.inputs {
		tx.AddTxIn(copyTxIn(in))
	}
	for _, out := range b.outputs {
		tx.AddTxOut(copyTxOut(out))
	}

	return tx
}

func copyTxIn(in *wire.TxIn) *wire.TxIn {
	var witness wire.TxWitness
	for _, item := range in.Witness {
		witness = append(witness, bytes.Clone(item))
	}

	return &wire.TxIn{
		PreviousOutPoint: in.PreviousOutPoint,
		SignatureScript:  bytes.Clone(in.SignatureScript),
		Witness:          witness,
		Sequence:         in.Sequence,
	}
}

func copyTxOut(out *wire.TxOut) *wire.TxOut {
	return wire.NewTxOut(out.Value, bytes.Clone(out.PkScript))
}
