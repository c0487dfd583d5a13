// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package trustedinput decodes and checks the trusted input tokens a hardware
// signer issues for the outputs it is asked to spend. A token binds an
// outpoint and its value under a device-held integrity tag, so that the
// device can later trust the input amounts without re-parsing the previous
// transactions. The host cannot check the tag, but it can and must check that
// the token describes the output it asked about.
package trustedinput

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// Magic is the marker byte every trusted input token starts with.
	Magic byte = 0x32

	// NonceSize is the size of the random marker drawn by the device.
	NonceSize = 2

	// MACSize is the size of the trailing integrity tag.
	MACSize = 8

	// PayloadSize is the size of the tagged part of a token: magic, flags,
	// nonce, previous hash, index and value.
	PayloadSize = 2 + NonceSize + chainhash.HashSize + 4 + 8

	// TokenSize is the full serialized size of a trusted input token.
	TokenSize = PayloadSize + MACSize
)

var (
	// ErrMalformedToken is returned when a token has the wrong length or
	// does not start with the trusted input magic.
	ErrMalformedToken = errors.New("malformed trusted input token")

	// ErrTrustedInputMismatch is returned when the outpoint or value bound
	// by a token differs from the output it was requested for. It signals
	// either a device or transport fault or a substituted previous
	// transaction and must never be ignored.
	ErrTrustedInputMismatch = errors.New("trusted input mismatch")

	// ErrOutputIndex is returned when the requested output does not exist
	// in the previous transaction.
	ErrOutputIndex = errors.New("output index out of range")
)

// TrustedInput is the decoded form of a trusted input token.
type TrustedInput struct {
	// Flags is the byte that follows the magic. Devices currently always
	// set it to zero.
	Flags byte

	// Nonce is the random marker drawn by the device for this token.
	Nonce [NonceSize]byte

	// PrevHash is the id of the previous transaction in internal byte
	// order.
	PrevHash chainhash.Hash

	// Index is the spent output index.
	Index uint32

	// Value is the amount of the spent output.
	Value btcutil.Amount

	// MAC is the device's integrity tag over the payload.
	MAC [MACSize]byte
}

// OutPoint returns the outpoint bound by the token.
func (t *TrustedInput) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: t.PrevHash, Index: t.Index}
}

// Payload serializes every field of the token except the integrity tag. This
// is the message the tag is computed over.
func (t *TrustedInput) Payload() []byte {
	b := make([]byte, PayloadSize, TokenSize)
	b[0] = Magic
	b[1] = t.Flags
	copy(b[2:2+NonceSize], t.Nonce[:])

	offset := 2 + NonceSize
	copy(b[offset:offset+chainhash.HashSize], t.PrevHash[:])
	offset += chainhash.HashSize

	binary.LittleEndian.PutUint32(b[offset:offset+4], t.Index)
	offset += 4

	binary.LittleEndian.PutUint64(b[offset:offset+8], uint64(t.Value))

	return b
}

// Encode serializes the token into its 56 byte wire format.
func (t *TrustedInput) Encode() []byte {
	return append(t.Payload(), t.MAC[:]...)
}

// Decode parses a serialized trusted input token.
func Decode(b []byte) (*TrustedInput, error) {
	if len(b) != TokenSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d",
			ErrMalformedToken, len(b), TokenSize)
	}

	if b[0] != Magic {
		return nil, fmt.Errorf("%w: magic 0x%02x", ErrMalformedToken,
			b[0])
	}

	t := &TrustedInput{Flags: b[1]}
	copy(t.Nonce[:], b[2:2+NonceSize])

	offset := 2 + NonceSize
	copy(t.PrevHash[:], b[offset:offset+chainhash.HashSize])
	offset += chainhash.HashSize

	t.Index = binary.LittleEndian.Uint32(b[offset : offset+4])
	offset += 4

	t.Value = btcutil.Amount(
		int64(binary.LittleEndian.Uint64(b[offset : offset+8])),
	)
	offset += 8

	copy(t.MAC[:], b[offset:])

	return t, nil
}

// Validate decodes token and checks that it binds output index of prevTx:
// the previous hash must equal the independently computed id of prevTx, and
// the index and value must match the referenced output.
func Validate(token []byte, prevTx *wire.MsgTx, index uint32) error {
	if uint64(index) >= uint64(len(prevTx.TxOut)) {
		return fmt.Errorf("%w: index %d, tx %v has %d outputs",
			ErrOutputIndex, index, prevTx.TxHash(),
			len(prevTx.TxOut))
	}

	t, err := Decode(token)
	if err != nil {
		return err
	}

	txid := prevTx.TxHash()
	if t.PrevHash != txid {
		return fmt.Errorf("%w: token bound to tx %v, expected %v",
			ErrTrustedInputMismatch, t.PrevHash, txid)
	}

	if t.Index != index {
		return fmt.Errorf("%w: token bound to index %d, expected %d",
			ErrTrustedInputMismatch, t.Index, index)
	}

	value := btcutil.Amount(prevTx.TxOut[index].Value)
	if t.Value != value {
		return fmt.Errorf("%w: token bound to value %v, expected %v",
			ErrTrustedInputMismatch, t.Value, value)
	}

	return nil
}
