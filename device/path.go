// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

const (
	// MaxPathDepth is the maximum number of levels in a derivation path
	// accepted by the device.
	MaxPathDepth = 10

	// bip44Depth is the depth of a purpose/coin/account/change/index path.
	bip44Depth = 5

	// maxRecommendedAccount and maxRecommendedIndex bound the account and
	// address index of paths that are not flagged as unusual.
	maxRecommendedAccount = 100
	maxRecommendedIndex   = 50_000
)

var (
	// ErrInvalidPath is returned when a derivation path cannot be parsed
	// or serialized.
	ErrInvalidPath = errors.New("invalid derivation path")

	// ErrUnusualPath is returned by Guard for paths that do not follow
	// the BIP44 family layout for the expected coin.
	ErrUnusualPath = errors.New("unusual derivation path")
)

// bip44Purposes are the purposes of the BIP44, BIP49 and BIP84 layouts.
var bip44Purposes = []uint32{44, 49, 84}

// Path is a BIP32 derivation path. Hardened levels carry the
// hdkeychain.HardenedKeyStart bit.
type Path []uint32

// ParsePath parses a path of the form m/44'/0'/0'/0/5. The leading "m/" is
// optional and hardened levels may be marked with ', h or H.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return Path{}, nil
	}

	parts := strings.Split(s, "/")
	if len(parts) > MaxPathDepth {
		return nil, fmt.Errorf("%w: %d levels, max %d", ErrInvalidPath,
			len(parts), MaxPathDepth)
	}

	path := make(Path, 0, len(parts))
	for _, part := range parts {
		hardened := false
		if trimmed := strings.TrimRight(part, "'hH"); trimmed != part {
			if len(part)-len(trimmed) != 1 {
				return nil, fmt.Errorf("%w: level %q",
					ErrInvalidPath, part)
			}

			hardened = true
			part = trimmed
		}

		level, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w: level %q: %v",
				ErrInvalidPath, part, err)
		}

		if hardened {
			level += hdkeychain.HardenedKeyStart
		}

		path = append(path, uint32(level))
	}

	return path, nil
}

// MustParsePath is like ParsePath but panics on error. It is meant for
// constant paths.
func MustParsePath(s string) Path {
	path, err := ParsePath(s)
	if err != nil {
		panic(err)
	}

	return path
}

// String formats the path in m/44'/0'/0'/0/5 notation.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("m")

	for _, level := range p {
		b.WriteByte('/')
		b.WriteString(formatLevel(level))
	}

	return b.String()
}

// formatLevel formats a single path level, marking hardened levels with an
// apostrophe.
func formatLevel(level uint32) string {
	if level >= hdkeychain.HardenedKeyStart {
		return strconv.FormatUint(
			uint64(level-hdkeychain.HardenedKeyStart), 10,
		) + "'"
	}

	return strconv.FormatUint(uint64(level), 10)
}

// Serialize encodes the path the way the device expects it: a count byte
// followed by every level as a big endian uint32.
func (p Path) Serialize() ([]byte, error) {
	if len(p) > MaxPathDepth {
		return nil, fmt.Errorf("%w: %d levels, max %d", ErrInvalidPath,
			len(p), MaxPathDepth)
	}

	b := make([]byte, 1, 1+4*len(p))
	b[0] = byte(len(p))
	for _, level := range p {
		b = binary.BigEndian.AppendUint32(b, level)
	}

	return b, nil
}

// DeserializePath decodes a path encoded by Serialize.
func DeserializePath(b []byte) (Path, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}

	depth := int(b[0])
	if depth > MaxPathDepth || len(b) != 1+4*depth {
		return nil, fmt.Errorf("%w: %d levels in %d bytes",
			ErrInvalidPath, depth, len(b))
	}

	path := make(Path, depth)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(b[1+4*i:])
	}

	return path, nil
}

// Guard checks that the path follows the BIP44 family layout
// purpose'/coin'/account'/change/index with a purpose of 44, 49 or 84, a
// coin type among coinTypes (any when empty), an account of at most 100, the
// change branch selected by isChange and an index of at most 50000. Paths
// that do not are not invalid, but deserve a warning.
func (p Path) Guard(isChange bool, coinTypes ...uint32) error {
	if len(p) != bip44Depth {
		return fmt.Errorf("%w: %v has %d levels", ErrUnusualPath, p,
			len(p))
	}

	if !slices.Contains(bip44Purposes, p[0]^hdkeychain.HardenedKeyStart) {
		return fmt.Errorf("%w: %v has purpose %s", ErrUnusualPath, p,
			formatLevel(p[0]))
	}

	coinType := p[1] ^ hdkeychain.HardenedKeyStart
	if len(coinTypes) > 0 && !slices.Contains(coinTypes, coinType) {
		return fmt.Errorf("%w: %v has coin type %s", ErrUnusualPath, p,
			formatLevel(p[1]))
	}

	if p[2]^hdkeychain.HardenedKeyStart > maxRecommendedAccount {
		return fmt.Errorf("%w: %v has account %s", ErrUnusualPath, p,
			formatLevel(p[2]))
	}

	var wantBranch uint32
	if isChange {
		wantBranch = 1
	}
	if p[3] != wantBranch {
		return fmt.Errorf("%w: %v is not on branch %d", ErrUnusualPath,
			p, wantBranch)
	}

	if p[4] > maxRecommendedIndex {
		return fmt.Errorf("%w: %v has index %s", ErrUnusualPath, p,
			formatLevel(p[4]))
	}

	return nil
}

// CoinTypeAllowed reports whether the path may be used without an explicit
// user confirmation. With no coinTypes every path is allowed. Paths that are
// too short or that do not use a BIP44 family purpose are only allowed for
// public key export. Otherwise the hardened coin type must be one of
// coinTypes.
func (p Path) CoinTypeAllowed(forPubKey bool, coinTypes ...uint32) bool {
	if len(coinTypes) == 0 {
		return true
	}

	if len(p) < 2 {
		return forPubKey
	}

	if !slices.Contains(bip44Purposes, p[0]^hdkeychain.HardenedKeyStart) {
		return forPubKey
	}

	return slices.Contains(coinTypes, p[1]^hdkeychain.HardenedKeyStart)
}

// IsEmpty reports whether the path has no levels.
func (p Path) IsEmpty() bool {
	return len(p) == 0
}
