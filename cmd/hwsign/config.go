// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwsign/device"
	"github.com/btcsuite/hwsign/pkg/btcunit"
	"github.com/btcsuite/hwsign/signer"
	"github.com/btcsuite/hwsign/txbuilder"
	flags "github.com/jessevdk/go-flags"
	"golang.org/x/term"
)

const (
	defaultConfigFilename = "hwsign.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "hwsign.log"
	defaultMaxFeeRate     = 1_000
)

var (
	defaultAppDataDir = btcutil.AppDataDir("hwsign", false)
	defaultConfigFile = filepath.Join(
		defaultAppDataDir, defaultConfigFilename,
	)
	defaultLogDir = filepath.Join(defaultAppDataDir, defaultLogDirname)

	errNoUTXOs = errors.New("at least one --utxo is required")
)

type config struct {
	// General application behavior.
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} or <subsystem>=<level>,..."`
	TestNet3    bool   `long:"testnet" description:"Use the test Bitcoin network (version 3)"`
	SimNet      bool   `long:"simnet" description:"Use the simulation test network"`
	Seed        string `long:"seed" description:"Hex encoded BIP32 seed of the software device; prompted for when empty"`
	CheckDevice bool   `long:"checkdevice" description:"Only check that the device serves the selected network"`

	// Payment.
	Destination string   `long:"dest" description:"Address to pay"`
	Amount      int64    `long:"amount" description:"Amount to pay in satoshi"`
	Fee         int64    `long:"fee" description:"Absolute fee in satoshi"`
	UTXOs       []string `long:"utxo" description:"Output to spend as <raw prev tx hex>:<index>; may be repeated"`
	SignPaths   []string `long:"path" description:"Derivation path signing the matching --utxo; may be repeated"`
	ChangePath  string   `long:"changepath" description:"Derivation path of the change output"`
	LockTime    uint32   `long:"locktime" description:"Lock time of the transaction"`
	ExistingTx  string   `long:"tx" description:"Raw hex of an existing transaction to sign instead of building a payment"`

	// Signing behavior.
	Timeout    time.Duration `long:"timeout" description:"Maximum duration of a single device request"`
	NoVerify   bool          `long:"noverify" description:"Do not check device signatures against the host computed digests"`
	MaxFeeRate int64         `long:"maxfeerate" description:"Highest fee rate in sat/vB a new transaction may pay"`
	PSBT       bool          `long:"psbt" description:"Also print the result as a base64 PSBT"`

	chainParams *chaincfg.Params
	seed        []byte
	utxos       []*txbuilder.UTXO
	signPaths   []device.Path
	changePath  device.Path
	existingTx  *wire.MsgTx
}

// signerConfig returns the orchestrator configuration selected by cfg.
func (c *config) signerConfig() *signer.Config {
	sc := signer.DefaultConfig(c.chainParams)
	sc.RoundTripTimeout = c.Timeout
	sc.VerifySignatures = !c.NoVerify
	sc.MaxFeeRate = btcunit.NewSatPerVByte(btcutil.Amount(c.MaxFeeRate))

	return sc
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile: defaultConfigFile,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Timeout:    signer.DefaultRoundTripTimeout,
		MaxFeeRate: defaultMaxFeeRate,
	}

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}

		return nil, nil, err
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, nil, fmt.Errorf("error parsing config "+
				"file: %w", err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}

// validate checks the options and decodes them into their typed forms.
func (c *config) validate() error {
	switch {
	case c.TestNet3 && c.SimNet:
		return errors.New("the testnet and simnet params can't be " +
			"used together, choose one of the two")

	case c.TestNet3:
		c.chainParams = &chaincfg.TestNet3Params

	case c.SimNet:
		c.chainParams = &chaincfg.SimNetParams

	default:
		c.chainParams = &chaincfg.MainNetParams
	}

	c.LogDir = filepath.Join(c.LogDir, c.chainParams.Name)

	if err := parseAndSetDebugLevels(c.DebugLevel); err != nil {
		return err
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}

	seed, err := readSeed(c.Seed)
	if err != nil {
		return err
	}
	c.seed = seed

	if c.CheckDevice {
		return nil
	}

	if len(c.UTXOs) == 0 {
		return errNoUTXOs
	}

	for _, s := range c.UTXOs {
		utxo, err := parseUTXO(s)
		if err != nil {
			return err
		}
		c.utxos = append(c.utxos, utxo)
	}

	for _, s := range c.SignPaths {
		path, err := device.ParsePath(s)
		if err != nil {
			return err
		}
		c.signPaths = append(c.signPaths, path)
	}

	if c.ChangePath != "" {
		c.changePath, err = device.ParsePath(c.ChangePath)
		if err != nil {
			return err
		}
	}

	if c.ExistingTx != "" {
		c.existingTx, err = decodeTx(c.ExistingTx)
		if err != nil {
			return fmt.Errorf("invalid --tx: %w", err)
		}
	}

	return nil
}

// readSeed decodes the hex seed, prompting for it on the terminal when it is
// not given.
func readSeed(seedHex string) ([]byte, error) {
	if seedHex == "" {
		fmt.Fprint(os.Stderr, "Enter device seed (hex): ")
		input, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read seed: %w", err)
		}

		seedHex = strings.TrimSpace(string(input))
	}

	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}

	return seed, nil
}

// parseUTXO parses an output given as <raw prev tx hex>:<index>.
func parseUTXO(s string) (*txbuilder.UTXO, error) {
	rawHex, indexStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid utxo %q: expected "+
			"<raw tx hex>:<index>", s)
	}

	index, err := strconv.ParseUint(indexStr, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid utxo index %q: %w", indexStr,
			err)
	}

	tx, err := decodeTx(rawHex)
	if err != nil {
		return nil, fmt.Errorf("invalid utxo tx: %w", err)
	}

	return txbuilder.NewUTXO(tx, uint32(index))
}

// decodeTx decodes a raw hex transaction.
func decodeTx(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, err
	}

	tx, err := btcutil.NewTxFromBytes(raw)
	if err != nil {
		return nil, err
	}

	return tx.MsgTx(), nil
}
