// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package device defines the contract of a hardware signer that implements
// the trusted input and untrusted hash signing protocol, together with the
// derivation path type, the status word error taxonomy and an exclusive
// session wrapper that keeps signing operations from interleaving.
package device

import (
	"context"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// MaxRandomSize is the largest number of random bytes a device returns in a
// single request.
const MaxRandomSize = 248

// PublicKeyInfo is the answer to a public key request.
type PublicKeyInfo struct {
	// PubKey is the compressed public key at the requested path.
	PubKey []byte

	// ChainCode is the BIP32 chain code at the requested path.
	ChainCode []byte

	// Address is the address the device derives for the key.
	Address string
}

// HashInput is one input as sent to the device during an untrusted hash
// round.
type HashInput struct {
	// TrustedInput is the trusted input token previously issued by the
	// device for the spent output.
	TrustedInput []byte

	// Sequence is the sequence number of the input.
	Sequence uint32
}

// Signature is a signature produced by the device.
type Signature struct {
	// V is the parity of the signature nonce point, as reported by the
	// device in the low bit of the first response byte.
	V byte

	// DER is the DER encoded signature.
	DER []byte

	// HashType is the sighash type the signature commits to.
	HashType txscript.SigHashType
}

// Serialize returns the DER signature followed by the sighash type byte, the
// form in which it is pushed in a scriptSig or witness.
func (s *Signature) Serialize() []byte {
	sig := make([]byte, 0, len(s.DER)+1)
	sig = append(sig, s.DER...)

	return append(sig, byte(s.HashType))
}

// CoinVersion describes the coin application running on the device.
type CoinVersion struct {
	// PubKeyHashAddrID is the version byte of pay-to-pubkey-hash
	// addresses.
	PubKeyHashAddrID byte

	// ScriptHashAddrID is the version byte of pay-to-script-hash
	// addresses.
	ScriptHashAddrID byte

	// Family identifies the coin family. Bitcoin derived coins use 0x01.
	Family byte

	// CoinName is the display name of the coin.
	CoinName string

	// Ticker is the ticker of the coin.
	Ticker string
}

// Service is the set of device requests the signing protocol relies on.
// Every method is a blocking round trip. The untrusted hash methods mutate a
// single signing context held by the device, so calls from different signing
// operations must never interleave; see Session.
type Service interface {
	// GetPublicKey returns the public key at path, optionally asking the
	// device to display the derived address.
	GetPublicKey(ctx context.Context, path Path,
		display bool) (*PublicKeyInfo, error)

	// GetTrustedInput returns the trusted input token for output index
	// of prevTx.
	GetTrustedInput(ctx context.Context, prevTx *wire.MsgTx,
		index uint32) ([]byte, error)

	// UntrustedHashTxInputStart streams the transaction metadata and the
	// given inputs to the device. The input at inputIndex carries script,
	// every other input an empty script. newTx resets the device signing
	// context.
	UntrustedHashTxInputStart(ctx context.Context, tx *wire.MsgTx,
		inputs []HashInput, inputIndex int, script []byte,
		newTx bool) error

	// UntrustedHashTxInputFinalize commits the outputs of tx and the
	// change derivation path. An empty change path means no change.
	UntrustedHashTxInputFinalize(ctx context.Context, tx *wire.MsgTx,
		changePath Path) error

	// UntrustedHashSign signs the input most recently primed with a
	// single-input start round using the key at path.
	UntrustedHashSign(ctx context.Context, path Path, lockTime uint32,
		hashType txscript.SigHashType) (*Signature, error)

	// GetCoinVersion describes the coin application of the device.
	GetCoinVersion(ctx context.Context) (*CoinVersion, error)

	// GetRandom returns n random bytes, where n must not exceed
	// MaxRandomSize.
	GetRandom(ctx context.Context, n int) ([]byte, error)
}
