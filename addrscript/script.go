// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrscript

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// hash160Size is the size of a RIPEMD160(SHA256(x)) digest.
	hash160Size = 20

	// maxWitnessVersion is the highest witness version defined by BIP141.
	maxWitnessVersion = 16

	// minWitnessProgramSize and maxWitnessProgramSize bound the witness
	// program length as defined by BIP141.
	minWitnessProgramSize = 2
	maxWitnessProgramSize = 40
)

// witnessHRPs are the bech32 human readable parts that map onto the
// "bc1"/"tb1" prefixes accepted by Classify.
var witnessHRPs = map[string]struct{}{
	chaincfg.MainNetParams.Bech32HRPSegwit:  {},
	chaincfg.TestNet3Params.Bech32HRPSegwit: {},
}

// PayToAddrScript returns the locking script paying to addr. The address
// family is determined by Classify, and the payload is decoded with the
// bech32 or base58check codec accordingly.
func PayToAddrScript(addr string) ([]byte, error) {
	kind, err := Classify(addr)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindWitness:
		return witnessScript(addr)

	case KindScriptHash:
		hash, err := decodeBase58Hash(
			addr, chaincfg.MainNetParams.ScriptHashAddrID,
			chaincfg.TestNet3Params.ScriptHashAddrID,
		)
		if err != nil {
			return nil, err
		}

		return payToScriptHashScript(hash)

	case KindPubKeyHash:
		hash, err := decodeBase58Hash(
			addr, chaincfg.MainNetParams.PubKeyHashAddrID,
			chaincfg.TestNet3Params.PubKeyHashAddrID,
		)
		if err != nil {
			return nil, err
		}

		return payToPubKeyHashScript(hash)

	default:
		return nil, fmt.Errorf("%w: '%s'", ErrUnsupportedAddress, addr)
	}
}

// ChangeScript derives the change locking script for the given compressed
// public key. The script family follows kind, which is the classification of
// the payment address:
//   - KindWitness: P2WPKH.
//   - KindScriptHash: P2SH wrapping a P2WPKH redeem script.
//   - KindPubKeyHash: P2PKH.
func ChangeScript(kind Kind, compressedPubKey []byte) ([]byte, error) {
	pubKeyHash, err := compressedPubKeyHash(compressedPubKey)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindWitness:
		return payToWitnessPubKeyHashScript(pubKeyHash)

	case KindScriptHash:
		redeemScript, err := payToWitnessPubKeyHashScript(pubKeyHash)
		if err != nil {
			return nil, err
		}

		return payToScriptHashScript(btcutil.Hash160(redeemScript))

	case KindPubKeyHash:
		return payToPubKeyHashScript(pubKeyHash)

	default:
		return nil, fmt.Errorf("%w: no change script for kind %v",
			ErrUnsupportedAddress, kind)
	}
}

// SigningScript returns the script that stands in for the scriptSig of an
// input while its signature is being computed. prevPkScript is the locking
// script of the output being spent and prevHasWitness reports whether the
// transaction that created it carries witness data.
//
// P2WPKH outputs are first rewritten into the equivalent P2PKH script. P2PKH
// outputs, and P2SH outputs of witness transactions, are then keyed to the
// signer's own public key hash, so that ownership is proven by the key rather
// than by the embedded hash. Any other script is returned unchanged.
func SigningScript(prevPkScript, signerPubKey []byte,
	prevHasWitness bool) ([]byte, error) {

	script := prevPkScript

	if txscript.IsPayToWitnessPubKeyHash(script) {
		rewritten, err := payToPubKeyHashScript(script[2:])
		if err != nil {
			return nil, err
		}

		script = rewritten
	}

	keyed := txscript.IsPayToPubKeyHash(script) ||
		(txscript.IsPayToScriptHash(script) && prevHasWitness)
	if !keyed {
		return script, nil
	}

	pubKeyHash, err := compressedPubKeyHash(signerPubKey)
	if err != nil {
		return nil, err
	}

	log.Tracef("Keying signing script to signer pubkey hash %x",
		pubKeyHash)

	return payToPubKeyHashScript(pubKeyHash)
}

// witnessScript decodes a bech32 or bech32m segwit address and returns the
// witness output script: the version opcode, followed by a push of the
// witness program.
func witnessScript(addr string) ([]byte, error) {
	hrp, data, encoding, err := bech32.DecodeGeneric(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if _, ok := witnessHRPs[strings.ToLower(hrp)]; !ok {
		return nil, fmt.Errorf("%w: unknown segwit hrp %q",
			ErrInvalidAddress, hrp)
	}

	if len(data) < 1 {
		return nil, fmt.Errorf("%w: missing witness version",
			ErrInvalidAddress)
	}

	version := data[0]
	if version > maxWitnessVersion {
		return nil, fmt.Errorf("%w: witness version %d",
			ErrInvalidAddress, version)
	}

	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if len(program) < minWitnessProgramSize ||
		len(program) > maxWitnessProgramSize {

		return nil, fmt.Errorf("%w: witness program of %d bytes",
			ErrInvalidAddress, len(program))
	}

	// BIP350: version 0 programs use bech32, everything above uses
	// bech32m.
	switch {
	case version == 0 && encoding != bech32.Version0:
		return nil, fmt.Errorf("%w: v0 program must use bech32",
			ErrInvalidAddress)

	case version == 0 && len(program) != hash160Size &&
		len(program) != 32:

		return nil, fmt.Errorf("%w: v0 program of %d bytes",
			ErrInvalidAddress, len(program))

	case version != 0 && encoding != bech32.VersionM:
		return nil, fmt.Errorf("%w: v%d program must use bech32m",
			ErrInvalidAddress, version)
	}

	versionOp := byte(txscript.OP_0)
	if version != 0 {
		versionOp = txscript.OP_1 + version - 1
	}

	return txscript.NewScriptBuilder().
		AddOp(versionOp).
		AddData(program).
		Script()
}

// decodeBase58Hash decodes a base58check address, checks that its version
// byte is one of the accepted ids and returns the 20-byte hash payload with
// the version byte and checksum stripped.
func decodeBase58Hash(addr string, ids ...byte) ([]byte, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	known := false
	for _, id := range ids {
		if version == id {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: unexpected version byte 0x%02x",
			ErrInvalidAddress, version)
	}

	if len(payload) != hash160Size {
		return nil, fmt.Errorf("%w: payload of %d bytes",
			ErrInvalidAddress, len(payload))
	}

	return payload, nil
}

// compressedPubKeyHash validates a compressed public key and returns its
// hash160.
func compressedPubKeyHash(pubKey []byte) ([]byte, error) {
	if len(pubKey) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPubKey,
			len(pubKey))
	}

	if _, err := btcec.ParsePubKey(pubKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
	}

	return btcutil.Hash160(pubKey), nil
}

// payToPubKeyHashScript builds
// OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG.
func payToPubKeyHashScript(pubKeyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubKeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// payToScriptHashScript builds OP_HASH160 <hash> OP_EQUAL.
func payToScriptHashScript(scriptHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(scriptHash).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// payToWitnessPubKeyHashScript builds OP_0 <hash>.
func payToWitnessPubKeyHashScript(pubKeyHash []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(pubKeyHash).
		Script()
}
