package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// Packet exports the result as a PSBT carrying the device signatures as
// partial signatures, so that another signer or a finalizer can complete the
// transaction. fingerprint is the master key fingerprint of the device and
// is recorded in every BIP32 derivation.
func (r *Result) Packet(fingerprint uint32) (*psbt.Packet, error) {
	if len(r.Signatures) != len(r.Tx.TxIn) {
		return nil, fmt.Errorf("%w: %d signatures for %d inputs",
			ErrSignPathCount, len(r.Signatures), len(r.Tx.TxIn))
	}

	// The unsigned transaction of a PSBT must not carry any scriptSig, so
	// the signing placeholders are dropped from a copy.
	unsigned := r.Tx.Copy()
	for _, in := range unsigned.TxIn {
		in.SignatureScript = nil
		in.Witness = nil
	}

	packet, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, fmt.Errorf("create psbt: %w", err)
	}

	for i := range packet.Inputs {
		pIn := &packet.Inputs[i]
		utxo := r.UTXOs[i]
		tuple := r.Signatures[i]

		if txscript.IsWitnessProgram(utxo.PkScript()) {
			pIn.WitnessUtxo = utxo.TxOut()
		} else {
			pIn.NonWitnessUtxo = utxo.Tx
		}

		pIn.SighashType = tuple.Signature.HashType
		pIn.PartialSigs = []*psbt.PartialSig{{
			PubKey:    tuple.PubKey,
			Signature: tuple.Signature.Serialize(),
		}}
		pIn.Bip32Derivation = []*psbt.Bip32Derivation{{
			PubKey:               tuple.PubKey,
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            r.SignPaths[i],
		}}
	}

	r.ChangeIndex.WhenSome(func(idx uint32) {
		packet.Outputs[idx].Bip32Derivation = []*psbt.Bip32Derivation{{
			PubKey:               r.ChangePubKey,
			MasterKeyFingerprint: fingerprint,
			Bip32Path:            r.ChangePath,
		}}
	})

	return packet, nil
}
