// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package softdevice implements device.Service in process. It holds a BIP32
// master key derived from a seed and follows the same request ordering
// rules as a hardware signer, which makes it usable both as a test double
// and as a signer for software wallets.
package softdevice

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/hwsign/device"
	"golang.org/x/crypto/hkdf"
)

const (
	// bitcoinFamily is the coin family reported by GetCoinVersion.
	bitcoinFamily = 0x01

	// macKeySize is the size of the siphash key tagging trusted inputs.
	macKeySize = 16
)

var (
	// ErrMissingSeed is returned when no seed is configured.
	ErrMissingSeed = errors.New("missing seed")

	// macKeyInfo is the hkdf info string of the trusted input key.
	macKeyInfo = []byte("hwsign softdevice trusted input key")
)

// Config holds the parameters of a software device.
type Config struct {
	// Seed is the BIP32 seed of the device.
	Seed []byte

	// ChainParams selects the network of derived addresses and the coin
	// version reported by the device.
	ChainParams *chaincfg.Params

	// CoinName and Ticker describe the coin. They default to Bitcoin
	// names matching ChainParams.
	CoinName string
	Ticker   string

	// Rand is the source of trusted input nonces and of GetRandom. It
	// defaults to crypto/rand.
	Rand io.Reader
}

// Device is a software implementation of device.Service.
type Device struct {
	cfg    Config
	master *hdkeychain.ExtendedKey
	macKey [macKeySize]byte

	mtx   sync.Mutex
	state hashState
}

// A compile-time assertion to ensure Device implements device.Service.
var _ device.Service = (*Device)(nil)

// New creates a software device from cfg.
func New(cfg *Config) (*Device, error) {
	if len(cfg.Seed) == 0 {
		return nil, ErrMissingSeed
	}

	c := *cfg
	if c.ChainParams == nil {
		c.ChainParams = &chaincfg.MainNetParams
	}
	if c.CoinName == "" {
		c.CoinName, c.Ticker = defaultCoin(c.ChainParams)
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}

	master, err := hdkeychain.NewMaster(c.Seed, c.ChainParams)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	d := &Device{cfg: c, master: master}

	kdf := hkdf.New(sha256.New, c.Seed, nil, macKeyInfo)
	if _, err := io.ReadFull(kdf, d.macKey[:]); err != nil {
		return nil, fmt.Errorf("derive mac key: %w", err)
	}

	log.Infof("Software device ready on %v (master fingerprint %08x)",
		c.ChainParams.Name, d.MasterFingerprint())

	return d, nil
}

// defaultCoin returns the coin name and ticker for params.
func defaultCoin(params *chaincfg.Params) (string, string) {
	if params.Net == chaincfg.MainNetParams.Net {
		return "Bitcoin", "BTC"
	}

	return "Bitcoin Test", "TEST"
}

// MasterFingerprint returns the BIP32 fingerprint of the master key, the
// first four bytes of the hash160 of its public key read as a little endian
// uint32, which is the form PSBT derivation records use.
func (d *Device) MasterFingerprint() uint32 {
	pub, err := d.master.ECPubKey()
	if err != nil {
		return 0
	}

	id := btcutil.Hash160(pub.SerializeCompressed())

	return binary.LittleEndian.Uint32(id[:4])
}

// derive returns the extended key at path.
func (d *Device) derive(path device.Path) (*hdkeychain.ExtendedKey, error) {
	if len(path) > device.MaxPathDepth {
		return nil, device.NewStatusError(device.SWIncorrectLength,
			"path %v too deep", path)
	}

	key := d.master
	for _, level := range path {
		child, err := key.Derive(level)
		if err != nil {
			return nil, device.NewStatusError(
				device.SWIncorrectData, "derive %v: %v", path,
				err,
			)
		}

		key = child
	}

	return key, nil
}

// GetPublicKey returns the compressed public key, the chain code and the
// P2PKH address at path.
func (d *Device) GetPublicKey(ctx context.Context, path device.Path,
	display bool) (*device.PublicKeyInfo, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := d.derive(path)
	if err != nil {
		return nil, err
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, device.NewStatusError(device.SWTechnicalProblem,
			"public key: %v", err)
	}
	pubKey := pub.SerializeCompressed()

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pubKey), d.cfg.ChainParams,
	)
	if err != nil {
		return nil, device.NewStatusError(device.SWTechnicalProblem,
			"address: %v", err)
	}

	if display {
		log.Infof("Displaying address %v for %v", addr, path)
	}

	log.Debugf("Exported public key for %v", path)

	return &device.PublicKeyInfo{
		PubKey:    pubKey,
		ChainCode: key.ChainCode(),
		Address:   addr.EncodeAddress(),
	}, nil
}

// GetCoinVersion reports the address version bytes and names of the coin.
func (d *Device) GetCoinVersion(ctx context.Context) (*device.CoinVersion,
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &device.CoinVersion{
		PubKeyHashAddrID: d.cfg.ChainParams.PubKeyHashAddrID,
		ScriptHashAddrID: d.cfg.ChainParams.ScriptHashAddrID,
		Family:           bitcoinFamily,
		CoinName:         d.cfg.CoinName,
		Ticker:           d.cfg.Ticker,
	}, nil
}

// GetRandom returns n random bytes. Requests above device.MaxRandomSize fail
// with an incorrect length status.
func (d *Device) GetRandom(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if n < 0 || n > device.MaxRandomSize {
		return nil, device.NewStatusError(device.SWIncorrectLength,
			"random of %d bytes, max %d", n, device.MaxRandomSize)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(d.cfg.Rand, b); err != nil {
		return nil, device.NewStatusError(device.SWTechnicalProblem,
			"random: %v", err)
	}

	return b, nil
}
