package signer

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwsign/device"
)

var (
	// ErrSignatureMismatch is returned when a device signature does not
	// verify against the host computed digest and the signer public key.
	ErrSignatureMismatch = errors.New("device signature does not match " +
		"digest")
)

// digester computes BIP143 signature hashes of the inputs of one
// transaction. The shared midstate is computed once.
type digester struct {
	tx        *wire.MsgTx
	prevOuts  []*wire.TxOut
	sigHashes *txscript.TxSigHashes
}

// newDigester prepares the digests of tx, whose inputs spend prevOuts in
// order.
func newDigester(tx *wire.MsgTx, prevOuts []*wire.TxOut) *digester {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		fetcher.AddPrevOut(in.PreviousOutPoint, prevOuts[i])
	}

	return &digester{
		tx:        tx,
		prevOuts:  prevOuts,
		sigHashes: txscript.NewTxSigHashes(tx, fetcher),
	}
}

// digest returns the BIP143 SIGHASH_ALL digest of input idx. The signing
// placeholder held in the input scriptSig is the script code, and the value
// is the value of the spent output.
func (d *digester) digest(idx int) ([]byte, error) {
	digest, err := txscript.CalcWitnessSigHash(
		d.tx.TxIn[idx].SignatureScript, d.sigHashes,
		txscript.SigHashAll, d.tx, idx, d.prevOuts[idx].Value,
	)
	if err != nil {
		return nil, fmt.Errorf("digest of input %d: %w", idx, err)
	}

	return digest, nil
}

// verifySignature checks that sig is a valid SIGHASH_ALL signature of digest
// by pubKey.
func verifySignature(digest, pubKey []byte, sig *device.Signature) error {
	if sig.HashType != txscript.SigHashAll {
		return fmt.Errorf("%w: sighash type %v", ErrSignatureMismatch,
			sig.HashType)
	}

	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrSignatureMismatch,
			err)
	}

	parsed, err := ecdsa.ParseDERSignature(sig.DER)
	if err != nil {
		return fmt.Errorf("%w: signature: %v", ErrSignatureMismatch,
			err)
	}

	if !parsed.Verify(digest, key) {
		return fmt.Errorf("%w: digest %x", ErrSignatureMismatch, digest)
	}

	return nil
}
