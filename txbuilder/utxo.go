// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// UTXO is an output of a previous transaction that the caller wants to spend.
// The previous transaction is kept in full because the device needs it to
// issue a trusted input. NewUTXO caches the value and the transaction id, so
// later phases never need to re-derive them. Records assembled by hand are
// checked with Validate before they are spent.
type UTXO struct {
	// Tx is the transaction that created the output.
	Tx *wire.MsgTx

	// Index is the index of the output within Tx.
	Index uint32

	// Value is the amount held by the output.
	Value btcutil.Amount

	txid chainhash.Hash
}

// NewUTXO creates a UTXO record for output index of tx.
func NewUTXO(tx *wire.MsgTx, index uint32) (*UTXO, error) {
	if err := checkOutput(tx, index); err != nil {
		return nil, err
	}

	return &UTXO{
		Tx:    tx,
		Index: index,
		Value: btcutil.Amount(tx.TxOut[index].Value),
		txid:  tx.TxHash(),
	}, nil
}

// Validate checks that the record references an existing output and that
// Value is the value of that output. Records built by NewUTXO always pass;
// the check matters for records assembled by hand.
func (u *UTXO) Validate() error {
	if err := checkOutput(u.Tx, u.Index); err != nil {
		return err
	}

	outValue := btcutil.Amount(u.Tx.TxOut[u.Index].Value)
	if u.Value != outValue {
		return fmt.Errorf("%w: value %v of %v does not match output "+
			"value %v", ErrInvalidUTXO, u.Value, u.OutPoint(),
			outValue)
	}

	return nil
}

// OutPoint returns the outpoint that references this output.
func (u *UTXO) OutPoint() wire.OutPoint {
	txid := u.txid
	if txid == (chainhash.Hash{}) {
		txid = u.Tx.TxHash()
	}

	return wire.OutPoint{Hash: txid, Index: u.Index}
}

// checkOutput checks that tx has an output at index.
func checkOutput(tx *wire.MsgTx, index uint32) error {
	if tx == nil {
		return fmt.Errorf("%w: nil previous tx", ErrInvalidUTXO)
	}

	if uint64(index) >= uint64(len(tx.TxOut)) {
		return fmt.Errorf("%w: index %d, tx %v has %d outputs",
			ErrInvalidUTXO, index, tx.TxHash(), len(tx.TxOut))
	}

	return nil
}

// PkScript returns the locking script of the output.
func (u *UTXO) PkScript() []byte {
	return u.Tx.TxOut[u.Index].PkScript
}

// HasWitness reports whether the previous transaction carries witness data.
func (u *UTXO) HasWitness() bool {
	return u.Tx.HasWitness()
}

// TxOut returns the spent output.
func (u *UTXO) TxOut() *wire.TxOut {
	return u.Tx.TxOut[u.Index]
}
