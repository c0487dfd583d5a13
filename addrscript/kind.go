// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrscript turns destination addresses and signer public keys into
// locking scripts. Every address is first mapped onto a closed set of script
// families by Classify, and both the payment script and the change script are
// derived from that single classification so that change always uses the same
// script family as the payment.
package addrscript

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupportedAddress is returned when an address does not start with
	// any of the recognized mainnet or testnet prefixes.
	ErrUnsupportedAddress = errors.New("unsupported address")

	// ErrInvalidAddress is returned when an address carries a recognized
	// prefix but fails to decode into a well-formed script payload.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidPubKey is returned when a change script is requested for a
	// public key that is not a 33-byte compressed key.
	ErrInvalidPubKey = errors.New("invalid compressed public key")
)

// Kind identifies the script family an address belongs to.
type Kind uint8

const (
	// KindUnknown is the zero value and never returned with a nil error.
	KindUnknown Kind = iota

	// KindWitness is a native segwit address (bech32 or bech32m) with the
	// "bc1" or "tb1" prefix.
	KindWitness

	// KindScriptHash is a base58check pay-to-script-hash address with the
	// "3" or "2" prefix.
	KindScriptHash

	// KindPubKeyHash is a base58check pay-to-pubkey-hash address with the
	// "1", "m" or "n" prefix.
	KindPubKeyHash
)

// String returns a human readable name of the script family.
func (k Kind) String() string {
	switch k {
	case KindWitness:
		return "witness"

	case KindScriptHash:
		return "script-hash"

	case KindPubKeyHash:
		return "pubkey-hash"

	default:
		return "unknown"
	}
}

// witnessPrefixes are the human readable parts, including the separator, of
// the supported segwit networks.
var witnessPrefixes = []string{"bc1", "tb1"}

// Classify maps an address onto its script family by inspecting its prefix.
// Both mainnet and testnet forms are accepted. No decoding happens here, so a
// successfully classified address may still fail in PayToAddrScript.
func Classify(addr string) (Kind, error) {
	lower := strings.ToLower(addr)
	for _, prefix := range witnessPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return KindWitness, nil
		}
	}

	switch {
	case strings.HasPrefix(addr, "3"), strings.HasPrefix(addr, "2"):
		return KindScriptHash, nil

	case strings.HasPrefix(addr, "1"), strings.HasPrefix(addr, "m"),
		strings.HasPrefix(addr, "n"):

		return KindPubKeyHash, nil

	default:
		return KindUnknown, fmt.Errorf("%w: '%s'", ErrUnsupportedAddress,
			addr)
	}
}
