// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txbuilder assembles the unsigned transaction that is later fed to
// the hardware signer. Inputs carry the signing placeholder script in their
// scriptSig, an optional change output precedes the payment output, and the
// resulting output order is fixed for every later protocol round.
package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/hwsign/addrscript"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// TxVersion is the version of every assembled transaction.
	TxVersion = 2

	// InputSequence is the sequence number of every assembled input. It
	// signals replaceability and enables relative lock times.
	InputSequence = wire.MaxTxInSequenceNum - 2
)

var (
	// ErrInsufficientFunds is returned when the inputs cannot cover the
	// payment amount plus the fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrMissingChangeScript is returned when the inputs leave a remainder
	// that requires a change output but no change script was supplied.
	ErrMissingChangeScript = errors.New("change required but no change " +
		"script given")

	// ErrNoInputs is returned when a request carries no inputs.
	ErrNoInputs = errors.New("no inputs")

	// ErrDuplicateInput is returned when the same outpoint is spent twice.
	ErrDuplicateInput = errors.New("duplicate input")

	// ErrInvalidAmount is returned when the payment amount is not positive
	// or the fee is negative.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidUTXO is returned when a UTXO record does not reference an
	// existing output.
	ErrInvalidUTXO = errors.New("invalid utxo")
)

// Input is one output to spend together with the device material needed to
// sign for it.
type Input struct {
	// UTXO is the spent output.
	UTXO *UTXO

	// TrustedInput is the validated trusted input token for UTXO.
	TrustedInput []byte

	// SignerPubKey is the compressed public key of the key that signs
	// this input.
	SignerPubKey []byte
}

// Request describes the transaction to assemble.
type Request struct {
	// DestinationScript is the locking script of the payment output.
	DestinationScript []byte

	// Amount is the value of the payment output.
	Amount btcutil.Amount

	// Fee is the absolute fee the transaction pays.
	Fee btcutil.Amount

	// ChangeScript is the locking script of the change output. It is only
	// consulted when NeedsChange reports that a change output is needed.
	ChangeScript fn.Option[[]byte]

	// Inputs are the outputs to spend, in input order.
	Inputs []Input

	// LockTime is the lock time of the transaction.
	LockTime uint32
}

// UnsignedTx is an assembled transaction whose scriptSigs still hold the
// signing placeholder scripts. It is the only form the signing sequencer
// accepts for a newly assembled transaction.
type UnsignedTx struct {
	// Tx is the assembled transaction.
	Tx *wire.MsgTx

	// Inputs are the inputs of Tx in order.
	Inputs []Input

	// Fee is the absolute fee paid by Tx.
	Fee btcutil.Amount

	// ChangeIndex is the index of the change output, if one was added.
	ChangeIndex fn.Option[uint32]
}

// NeedsChange reports whether spending available to pay amount with fee
// leaves a remainder that warrants a change output.
func NeedsChange(available, amount, fee btcutil.Amount) bool {
	return available-fee > amount
}

// Assemble builds the unsigned transaction described by req. Each input
// carries its signing placeholder script and the fixed sequence number. The
// change output, if any, is added before the payment output, which is always
// last.
//
// Every input UTXO must pass UTXO.Validate. The payment output must also pass
// txrules.CheckOutput at txrules.DefaultRelayFeePerKb: a payment below the
// dust limit of its destination script fails with txrules.ErrOutputIsDust
// even when the inputs cover it.
func Assemble(req *Request) (*UnsignedTx, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	builder := NewBuilder(TxVersion, req.LockTime)

	var available btcutil.Amount
	for i, in := range req.Inputs {
		script, err := addrscript.SigningScript(
			in.UTXO.PkScript(), in.SignerPubKey,
			in.UTXO.HasWitness(),
		)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}

		builder = builder.AddInput(&wire.TxIn{
			PreviousOutPoint: in.UTXO.OutPoint(),
			SignatureScript:  script,
			Sequence:         InputSequence,
		})

		available += in.UTXO.Value
	}

	if available < req.Amount+req.Fee {
		return nil, fmt.Errorf("%w: have %v, need %v (amount %v + "+
			"fee %v)", ErrInsufficientFunds, available,
			req.Amount+req.Fee, req.Amount, req.Fee)
	}

	changeIndex := fn.None[uint32]()
	if NeedsChange(available, req.Amount, req.Fee) {
		changeScript := req.ChangeScript.UnwrapOr(nil)
		if len(changeScript) == 0 {
			return nil, fmt.Errorf("%w: remainder %v",
				ErrMissingChangeScript,
				available-req.Fee-req.Amount)
		}

		changeIndex = fn.Some(uint32(builder.NumOutputs()))
		builder = builder.AddOutput(wire.NewTxOut(
			int64(available-req.Fee-req.Amount), changeScript,
		))
	}

	payment := wire.NewTxOut(int64(req.Amount), req.DestinationScript)
	err := txrules.CheckOutput(payment, txrules.DefaultRelayFeePerKb)
	if err != nil {
		return nil, fmt.Errorf("payment output: %w", err)
	}
	builder = builder.AddOutput(payment)

	tx := builder.Build()

	log.Debugf("Assembled tx %v: %d inputs, %d outputs, available=%v, "+
		"amount=%v, fee=%v", tx.TxHash(), len(tx.TxIn), len(tx.TxOut),
		available, req.Amount, req.Fee)
	log.Tracef("Assembled tx: %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	return &UnsignedTx{
		Tx:          tx,
		Inputs:      req.Inputs,
		Fee:         req.Fee,
		ChangeIndex: changeIndex,
	}, nil
}

// validateRequest checks the request for the conditions that are knowable
// before any script is built.
func validateRequest(req *Request) error {
	if len(req.Inputs) == 0 {
		return ErrNoInputs
	}

	if req.Amount <= 0 {
		return fmt.Errorf("%w: amount %v", ErrInvalidAmount, req.Amount)
	}

	if req.Fee < 0 {
		return fmt.Errorf("%w: fee %v", ErrInvalidAmount, req.Fee)
	}

	outPoints := make([]wire.OutPoint, 0, len(req.Inputs))
	for i, in := range req.Inputs {
		if in.UTXO == nil {
			return fmt.Errorf("%w: input %d has no utxo",
				ErrInvalidUTXO, i)
		}

		if err := in.UTXO.Validate(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}

		outPoints = append(outPoints, in.UTXO.OutPoint())
	}

	if len(fn.NewSet(outPoints...)) != len(outPoints) {
		return fmt.Errorf("%w: inputs spend the same outpoint twice",
			ErrDuplicateInput)
	}

	return nil
}
