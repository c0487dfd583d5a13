// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command hwsign builds a payment, or takes an existing transaction, and has
// every input signed by a software signing device through the trusted input
// and untrusted hash protocol.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/hwsign/device"
	"github.com/btcsuite/hwsign/device/softdevice"
	"github.com/btcsuite/hwsign/signer"
)

func main() {
	if err := hwsignMain(); err != nil {
		os.Exit(1)
	}
}

// hwsignMain is a work-around main function that is required since deferred
// functions (such as log flushing) are not called with calls to os.Exit.
// Instead, main runs this function and checks for a non-nil error, at which
// point any defers have already run, and if the error is non-nil, the program
// can be exited with an error exit status.
func hwsignMain() error {
	cfg, _, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return err
	}

	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return err
	}
	defer logRotator.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	dev, err := softdevice.New(&softdevice.Config{
		Seed:        cfg.seed,
		ChainParams: cfg.chainParams,
	})
	if err != nil {
		log.Errorf("Unable to create device: %v", err)

		return err
	}

	orch, err := signer.New(cfg.signerConfig(), device.NewSession(dev))
	if err != nil {
		log.Errorf("Unable to create signer: %v", err)

		return err
	}

	version, err := orch.CheckNetwork(ctx)
	if err != nil {
		log.Errorf("Device check failed: %v", err)

		return err
	}
	if cfg.CheckDevice {
		fmt.Printf("%s (%s), p2pkh version 0x%02x, p2sh version 0x%02x\n",
			version.CoinName, version.Ticker,
			version.PubKeyHashAddrID, version.ScriptHashAddrID)

		return nil
	}

	var result *signer.Result
	if cfg.existingTx != nil {
		result, err = orch.SignExistingTransaction(
			ctx, &signer.ExistingTxRequest{
				Tx:         cfg.existingTx,
				UTXOs:      cfg.utxos,
				SignPaths:  cfg.signPaths,
				ChangePath: cfg.changePath,
			},
		)
	} else {
		result, err = orch.SignNewTransaction(ctx, &signer.NewTxRequest{
			Destination: cfg.Destination,
			Amount:      btcutil.Amount(cfg.Amount),
			Fee:         btcutil.Amount(cfg.Fee),
			UTXOs:       cfg.utxos,
			SignPaths:   cfg.signPaths,
			ChangePath:  cfg.changePath,
			LockTime:    cfg.LockTime,
		})
	}
	if err != nil {
		log.Errorf("Signing failed: %v", err)

		return err
	}

	return printResult(result, cfg.PSBT, dev.MasterFingerprint())
}

// printResult writes the signed-over transaction and its signatures to
// standard output.
func printResult(result *signer.Result, withPSBT bool,
	fingerprint uint32) error {

	var buf bytes.Buffer
	if err := result.Tx.Serialize(&buf); err != nil {
		return err
	}

	fmt.Printf("txid: %v\n", result.Tx.TxHash())
	fmt.Printf("tx: %x\n", buf.Bytes())
	result.ChangeIndex.WhenSome(func(idx uint32) {
		fmt.Printf("change: output %d\n", idx)
	})

	for i, tuple := range result.Signatures {
		fmt.Printf("input %d: pubkey=%s sig=%s\n", i,
			hex.EncodeToString(tuple.PubKey),
			hex.EncodeToString(tuple.Signature.Serialize()))
	}

	if !withPSBT {
		return nil
	}

	packet, err := result.Packet(fingerprint)
	if err != nil {
		log.Errorf("Unable to create PSBT: %v", err)

		return err
	}

	encoded, err := packet.B64Encode()
	if err != nil {
		return err
	}

	fmt.Printf("psbt: %s\n", encoded)

	return nil
}
