// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package signer composes address resolution, trusted input collection,
// transaction assembly and the device signing protocol into the two
// operations offered to callers: signing a transaction assembled from a
// destination and a set of outputs, and signing an existing transaction.
package signer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwsign/addrscript"
	"github.com/btcsuite/hwsign/device"
	"github.com/btcsuite/hwsign/trustedinput"
	"github.com/btcsuite/hwsign/txbuilder"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNetworkMismatch is returned when the device serves a different
	// network than the configured one.
	ErrNetworkMismatch = errors.New("device network mismatch")

	// ErrUTXOMismatch is returned when the outputs supplied for an
	// existing transaction are not the ones it spends.
	ErrUTXOMismatch = errors.New("utxo does not match tx input")

	// ErrInvalidDeviceKey is returned when the device answers a public key
	// request with something that is not a compressed public key.
	ErrInvalidDeviceKey = errors.New("invalid device public key")
)

// NewTxRequest describes a payment to assemble and sign.
type NewTxRequest struct {
	// Destination is the address to pay.
	Destination string

	// Amount is the value paid to Destination.
	Amount btcutil.Amount

	// Fee is the absolute fee of the transaction.
	Fee btcutil.Amount

	// UTXOs are the outputs to spend, in input order.
	UTXOs []*txbuilder.UTXO

	// SignPaths are the derivation paths of the keys signing each UTXO.
	SignPaths []device.Path

	// ChangePath is the derivation path of the change key. It is only
	// used when the inputs leave a change remainder.
	ChangePath device.Path

	// LockTime is the lock time of the transaction.
	LockTime uint32
}

// ExistingTxRequest describes a transaction built elsewhere, for example one
// that is partially co-signed.
type ExistingTxRequest struct {
	// Tx is the transaction to sign. Inputs whose scriptSig is empty are
	// given the signing placeholder derived from the spent output.
	Tx *wire.MsgTx

	// UTXOs are the outputs spent by Tx, in input order.
	UTXOs []*txbuilder.UTXO

	// SignPaths are the derivation paths of the keys signing each input.
	SignPaths []device.Path

	// ChangePath is the derivation path of the change output of Tx, if it
	// has one.
	ChangePath device.Path
}

// Result is the outcome of a successful signing operation.
type Result struct {
	// Tx is the signed-over transaction. Its scriptSigs still hold the
	// signing placeholders.
	Tx *wire.MsgTx

	// ChangeIndex is the index of the change output, if any.
	ChangeIndex fn.Option[uint32]

	// Signatures holds one tuple per input, in input order.
	Signatures []SignatureTuple

	// UTXOs are the spent outputs, in input order.
	UTXOs []*txbuilder.UTXO

	// SignPaths are the signing paths, in input order.
	SignPaths []device.Path

	// ChangePath and ChangePubKey identify the change key, if any.
	ChangePath   device.Path
	ChangePubKey []byte
}

// Orchestrator signs transactions with a device held through an exclusive
// session.
type Orchestrator struct {
	cfg     *Config
	session *device.Session
}

// New creates an orchestrator signing with the device behind session.
func New(cfg *Config, session *device.Session) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if len(cfg.CoinTypes) == 0 {
		c := *cfg
		c.CoinTypes = []uint32{c.ChainParams.HDCoinType}
		cfg = &c
	}

	return &Orchestrator{cfg: cfg, session: session}, nil
}

// roundTrip runs a single device request under the round trip timeout.
func (o *Orchestrator) roundTrip(ctx context.Context, name string,
	req func(ctx context.Context) error) error {

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RoundTripTimeout)
	defer cancel()

	if err := req(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// SignNewTransaction assembles a transaction paying req.Amount to
// req.Destination from req.UTXOs and signs every input with the device.
//
// The destination is resolved and the request validated before the device
// is touched, so an unsupported address or insufficient funds never cause a
// device round trip. The device session is then held for the whole
// operation: public keys, trusted inputs, the change key when change is
// needed, and the signing protocol.
func (o *Orchestrator) SignNewTransaction(ctx context.Context,
	req *NewTxRequest) (*Result, error) {

	kind, err := addrscript.Classify(req.Destination)
	if err != nil {
		return nil, err
	}

	destScript, err := addrscript.PayToAddrScript(req.Destination)
	if err != nil {
		return nil, err
	}

	if err := checkPaths(req.UTXOs, req.SignPaths); err != nil {
		return nil, err
	}

	var available btcutil.Amount
	for _, utxo := range req.UTXOs {
		available += utxo.Value
	}
	if available < req.Amount+req.Fee {
		return nil, fmt.Errorf("%w: have %v, need %v",
			txbuilder.ErrInsufficientFunds, available,
			req.Amount+req.Fee)
	}

	needsChange := txbuilder.NeedsChange(available, req.Amount, req.Fee)
	if needsChange && req.ChangePath.IsEmpty() {
		return nil, fmt.Errorf("%w: no change path for remainder %v",
			txbuilder.ErrMissingChangeScript,
			available-req.Fee-req.Amount)
	}

	o.guardPaths(req.SignPaths, req.ChangePath, needsChange)

	dev, release, err := o.session.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	pubKeys, err := o.fetchPubKeys(ctx, dev, req.SignPaths)
	if err != nil {
		return nil, err
	}

	tokens, err := o.obtainTrustedInputs(ctx, dev, req.UTXOs)
	if err != nil {
		return nil, err
	}

	var (
		changeScript = fn.None[[]byte]()
		changePath   device.Path
		changePubKey []byte
	)
	if needsChange {
		keys, err := o.fetchPubKeys(
			ctx, dev, []device.Path{req.ChangePath},
		)
		if err != nil {
			return nil, err
		}

		script, err := addrscript.ChangeScript(kind, keys[0])
		if err != nil {
			return nil, err
		}

		changeScript = fn.Some(script)
		changePath = req.ChangePath
		changePubKey = keys[0]
	}

	inputs := make([]txbuilder.Input, len(req.UTXOs))
	for i, utxo := range req.UTXOs {
		inputs[i] = txbuilder.Input{
			UTXO:         utxo,
			TrustedInput: tokens[i],
			SignerPubKey: pubKeys[i],
		}
	}

	unsigned, err := txbuilder.Assemble(&txbuilder.Request{
		DestinationScript: destScript,
		Amount:            req.Amount,
		Fee:               req.Fee,
		ChangeScript:      changeScript,
		Inputs:            inputs,
		LockTime:          req.LockTime,
	})
	if err != nil {
		return nil, err
	}

	if err := unsigned.CheckFeeRate(o.cfg.MaxFeeRate); err != nil {
		return nil, err
	}

	sigs, err := o.sequence(ctx, dev, unsigned.Tx, req.UTXOs, tokens,
		req.SignPaths, pubKeys, changePath)
	if err != nil {
		return nil, err
	}

	return &Result{
		Tx:           unsigned.Tx,
		ChangeIndex:  unsigned.ChangeIndex,
		Signatures:   sigs,
		UTXOs:        req.UTXOs,
		SignPaths:    req.SignPaths,
		ChangePath:   changePath,
		ChangePubKey: changePubKey,
	}, nil
}

// SignExistingTransaction signs every input of req.Tx with the device,
// skipping address resolution and assembly. The transaction is not
// modified; signing works on a copy.
func (o *Orchestrator) SignExistingTransaction(ctx context.Context,
	req *ExistingTxRequest) (*Result, error) {

	if err := checkPaths(req.UTXOs, req.SignPaths); err != nil {
		return nil, err
	}

	if len(req.UTXOs) != len(req.Tx.TxIn) {
		return nil, fmt.Errorf("%w: %d utxos for %d tx inputs",
			ErrSignPathCount, len(req.UTXOs), len(req.Tx.TxIn))
	}

	for i, utxo := range req.UTXOs {
		if utxo.OutPoint() != req.Tx.TxIn[i].PreviousOutPoint {
			return nil, fmt.Errorf("%w: input %d spends %v, utxo "+
				"is %v", ErrUTXOMismatch, i,
				req.Tx.TxIn[i].PreviousOutPoint,
				utxo.OutPoint())
		}
	}

	o.guardPaths(req.SignPaths, req.ChangePath, !req.ChangePath.IsEmpty())

	dev, release, err := o.session.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	pubKeys, err := o.fetchPubKeys(ctx, dev, req.SignPaths)
	if err != nil {
		return nil, err
	}

	tx := req.Tx.Copy()
	for i, in := range tx.TxIn {
		if len(in.SignatureScript) > 0 {
			continue
		}

		script, err := addrscript.SigningScript(
			req.UTXOs[i].PkScript(), pubKeys[i],
			req.UTXOs[i].HasWitness(),
		)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		in.SignatureScript = script
	}

	tokens, err := o.obtainTrustedInputs(ctx, dev, req.UTXOs)
	if err != nil {
		return nil, err
	}

	sigs, err := o.sequence(ctx, dev, tx, req.UTXOs, tokens,
		req.SignPaths, pubKeys, req.ChangePath)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Tx:          tx,
		ChangeIndex: fn.None[uint32](),
		Signatures:  sigs,
		UTXOs:       req.UTXOs,
		SignPaths:   req.SignPaths,
		ChangePath:  req.ChangePath,
	}

	if !req.ChangePath.IsEmpty() {
		keys, err := o.fetchPubKeys(
			ctx, dev, []device.Path{req.ChangePath},
		)
		if err != nil {
			return nil, err
		}

		result.ChangePubKey = keys[0]
		result.ChangeIndex = findChange(tx, keys[0])
	}

	return result, nil
}

// CheckNetwork compares the address versions reported by the device with
// the configured network.
func (o *Orchestrator) CheckNetwork(ctx context.Context) (*device.CoinVersion,
	error) {

	dev, release, err := o.session.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var version *device.CoinVersion
	err = o.roundTrip(ctx, "get coin version",
		func(ctx context.Context) error {
			var err error
			version, err = dev.GetCoinVersion(ctx)

			return err
		},
	)
	if err != nil {
		return nil, err
	}

	params := o.cfg.ChainParams
	if version.PubKeyHashAddrID != params.PubKeyHashAddrID ||
		version.ScriptHashAddrID != params.ScriptHashAddrID {

		return nil, fmt.Errorf("%w: device %s uses versions "+
			"0x%02x/0x%02x, %s uses 0x%02x/0x%02x",
			ErrNetworkMismatch, version.CoinName,
			version.PubKeyHashAddrID, version.ScriptHashAddrID,
			params.Name, params.PubKeyHashAddrID,
			params.ScriptHashAddrID)
	}

	log.Infof("Device runs %s (%s) on %s", version.CoinName,
		version.Ticker, params.Name)

	return version, nil
}

// sequence runs the signing protocol on tx.
func (o *Orchestrator) sequence(ctx context.Context, dev device.Service,
	tx *wire.MsgTx, utxos []*txbuilder.UTXO, tokens [][]byte,
	paths []device.Path, pubKeys [][]byte,
	changePath device.Path) ([]SignatureTuple, error) {

	inputs := make([]SigningInput, len(utxos))
	for i, utxo := range utxos {
		inputs[i] = SigningInput{
			TrustedInput: tokens[i],
			PrevOut:      utxo.TxOut(),
			Path:         paths[i],
			PubKey:       pubKeys[i],
		}
	}

	sequencer := NewSequencer(
		dev, o.cfg.RoundTripTimeout, o.cfg.VerifySignatures,
	)

	return sequencer.Run(ctx, &Job{
		Tx:         tx,
		Inputs:     inputs,
		ChangePath: changePath,
	})
}

// fetchPubKeys returns the compressed public keys at paths.
func (o *Orchestrator) fetchPubKeys(ctx context.Context, dev device.Service,
	paths []device.Path) ([][]byte, error) {

	pubKeys := make([][]byte, len(paths))
	for i, path := range paths {
		var info *device.PublicKeyInfo
		err := o.roundTrip(ctx, fmt.Sprintf("get public key %v", path),
			func(ctx context.Context) error {
				var err error
				info, err = dev.GetPublicKey(ctx, path, false)

				return err
			},
		)
		if err != nil {
			return nil, err
		}

		if len(info.PubKey) != btcec.PubKeyBytesLenCompressed {
			return nil, fmt.Errorf("%w: %d bytes at %v",
				ErrInvalidDeviceKey, len(info.PubKey), path)
		}
		if _, err := btcec.ParsePubKey(info.PubKey); err != nil {
			return nil, fmt.Errorf("%w: %v at %v",
				ErrInvalidDeviceKey, err, path)
		}

		pubKeys[i] = info.PubKey
	}

	return pubKeys, nil
}

// obtainTrustedInputs collects and validates a trusted input per UTXO.
func (o *Orchestrator) obtainTrustedInputs(ctx context.Context,
	dev device.Service, utxos []*txbuilder.UTXO) ([][]byte, error) {

	gate := trustedinput.NewGate(dev)

	tokens := make([][]byte, len(utxos))
	for i, utxo := range utxos {
		err := o.roundTrip(ctx, fmt.Sprintf("trusted input %d", i),
			func(ctx context.Context) error {
				var err error
				tokens[i], err = gate.Obtain(
					ctx, utxo.Tx, utxo.Index,
				)

				return err
			},
		)
		if err != nil {
			return nil, err
		}
	}

	return tokens, nil
}

// guardPaths logs a warning for every path that does not follow the
// expected BIP44 layout.
func (o *Orchestrator) guardPaths(signPaths []device.Path,
	changePath device.Path, withChange bool) {

	for _, path := range signPaths {
		if err := path.Guard(false, o.cfg.CoinTypes...); err != nil {
			log.Warnf("Signing with %v", err)
		}
	}

	if withChange {
		err := changePath.Guard(true, o.cfg.CoinTypes...)
		if err != nil {
			log.Warnf("Change to %v", err)
		}
	}
}

// checkPaths checks that there is one signing path per UTXO and that every
// UTXO record is consistent with its previous transaction.
func checkPaths(utxos []*txbuilder.UTXO, paths []device.Path) error {
	if len(utxos) == 0 {
		return txbuilder.ErrNoInputs
	}

	if len(paths) != len(utxos) {
		return fmt.Errorf("%w: %d paths for %d utxos", ErrSignPathCount,
			len(paths), len(utxos))
	}

	for i, utxo := range utxos {
		if utxo == nil {
			return fmt.Errorf("%w: utxo %d is nil",
				txbuilder.ErrInvalidUTXO, i)
		}

		if err := utxo.Validate(); err != nil {
			return fmt.Errorf("utxo %d: %w", i, err)
		}
	}

	return nil
}

// findChange returns the index of the first output of tx paying to pubKey
// with any of the change script families.
func findChange(tx *wire.MsgTx, pubKey []byte) fn.Option[uint32] {
	kinds := []addrscript.Kind{
		addrscript.KindWitness, addrscript.KindScriptHash,
		addrscript.KindPubKeyHash,
	}

	for i, out := range tx.TxOut {
		for _, kind := range kinds {
			script, err := addrscript.ChangeScript(kind, pubKey)
			if err != nil {
				continue
			}

			if bytes.Equal(out.PkScript, script) {
				return fn.Some(uint32(i))
			}
		}
	}

	return fn.None[uint32]()
}
