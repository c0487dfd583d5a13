// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hwsign/pkg/btcunit"
	"github.com/btcsuite/hwsign/txbuilder"
)

const (
	// DefaultRoundTripTimeout is the default time a single device request
	// may take, which leaves room for a user confirmation on the device.
	DefaultRoundTripTimeout = 2 * time.Minute
)

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config holds the parameters of an Orchestrator.
type Config struct {
	// ChainParams is the network addresses and device are expected to be
	// on.
	ChainParams *chaincfg.Params

	// RoundTripTimeout bounds every single device request. A request
	// that times out aborts the whole signing operation.
	RoundTripTimeout time.Duration

	// VerifySignatures makes the sequencer check every device signature
	// against the host computed digest and the signer public key.
	VerifySignatures bool

	// MaxFeeRate is the highest fee rate a new transaction may pay.
	MaxFeeRate btcunit.SatPerVByte

	// CoinTypes are the BIP44 coin types signing and change paths are
	// expected to use. Paths outside them are logged as unusual. It
	// defaults to the coin type of ChainParams.
	CoinTypes []uint32
}

// DefaultConfig returns the default configuration for params.
func DefaultConfig(params *chaincfg.Params) *Config {
	return &Config{
		ChainParams:      params,
		RoundTripTimeout: DefaultRoundTripTimeout,
		VerifySignatures: true,
		MaxFeeRate:       txbuilder.DefaultMaxFeeRate,
		CoinTypes:        []uint32{params.HDCoinType},
	}
}

// validate checks the configuration.
func (c *Config) validate() error {
	if c.ChainParams == nil {
		return fmt.Errorf("%w: missing chain params", ErrInvalidConfig)
	}

	if c.RoundTripTimeout <= 0 {
		return fmt.Errorf("%w: round trip timeout must be positive, "+
			"got %v", ErrInvalidConfig, c.RoundTripTimeout)
	}

	if !c.MaxFeeRate.GreaterThan(btcunit.NewSatPerVByte(0)) {
		return fmt.Errorf("%w: max fee rate must be positive, got %v",
			ErrInvalidConfig, c.MaxFeeRate)
	}

	return nil
}
