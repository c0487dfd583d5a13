// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package signer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwsign/device"
	"github.com/davecgh/go-spew/spew"
)

var (
	// ErrSignPathCount is returned when the number of signing paths, or of
	// spent outputs, differs from the number of transaction inputs.
	ErrSignPathCount = errors.New("signing path count mismatch")
)

// SignatureTuple is the result of signing one input.
type SignatureTuple struct {
	// Digest is the host computed BIP143 digest of the input.
	Digest []byte

	// PubKey is the compressed public key of the signer.
	PubKey []byte

	// Signature is the signature returned by the device.
	Signature device.Signature
}

// SigningInput is everything the sequencer needs to know about one input
// besides the transaction itself.
type SigningInput struct {
	// TrustedInput is the validated trusted input token of the spent
	// output.
	TrustedInput []byte

	// PrevOut is the spent output. Its value enters the digest.
	PrevOut *wire.TxOut

	// Path is the derivation path of the signing key.
	Path device.Path

	// PubKey is the compressed public key at Path.
	PubKey []byte
}

// Job is one run of the signing protocol.
type Job struct {
	// Tx is the transaction to sign. The scriptSig of every input holds
	// its signing placeholder script.
	Tx *wire.MsgTx

	// Inputs describe the inputs of Tx in order.
	Inputs []SigningInput

	// ChangePath is the derivation path of the change output, empty when
	// the transaction has no change.
	ChangePath device.Path
}

// Sequencer drives a device through the untrusted hash signing protocol.
// The device must be held exclusively for the duration of Run.
type Sequencer struct {
	dev     device.Service
	timeout time.Duration
	verify  bool
}

// NewSequencer returns a sequencer talking to dev. Every request is bounded
// by timeout, and signatures are checked against the host digests when
// verify is set.
func NewSequencer(dev device.Service, timeout time.Duration,
	verify bool) *Sequencer {

	return &Sequencer{
		dev:     dev,
		timeout: timeout,
		verify:  verify,
	}
}

// roundTrip runs a single device request under the round trip timeout.
func (s *Sequencer) roundTrip(ctx context.Context, name string,
	req func(ctx context.Context) error) error {

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := req(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// Run executes the four protocol phases on job and returns one signature
// tuple per input, in input order:
//   - Registration: every input is streamed together with all trusted
//     inputs, the first one resetting the device signing context.
//   - Finalization: the outputs and the change path are committed.
//   - Signing: every input is primed with a single-input round and signed
//     with its path, the lock time and SIGHASH_ALL, while the host computes
//     the matching BIP143 digest.
//   - Collection: the tuples are returned once every input is signed.
//
// Any failure aborts the run and no tuple is returned. The device state is
// then stale and a new run starts from scratch.
func (s *Sequencer) Run(ctx context.Context, job *Job) ([]SignatureTuple,
	error) {

	tx := job.Tx
	if len(job.Inputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("%w: %d signing inputs for %d tx inputs",
			ErrSignPathCount, len(job.Inputs), len(tx.TxIn))
	}

	state := newSequencerState(len(tx.TxIn))

	hashInputs := make([]device.HashInput, len(tx.TxIn))
	prevOuts := make([]*wire.TxOut, len(tx.TxIn))
	for i, in := range job.Inputs {
		hashInputs[i] = device.HashInput{
			TrustedInput: in.TrustedInput,
			Sequence:     tx.TxIn[i].Sequence,
		}
		prevOuts[i] = in.PrevOut
	}

	log.Debugf("Signing tx %v with %d inputs", tx.TxHash(), len(tx.TxIn))
	log.Tracef("Tx to sign: %v", newLogClosure(func() string {
		return spew.Sdump(tx)
	}))

	// Registration.
	for i, in := range tx.TxIn {
		if err := state.toRegistering(i); err != nil {
			return nil, err
		}

		err := s.roundTrip(ctx, fmt.Sprintf("register input %d", i),
			func(ctx context.Context) error {
				return s.dev.UntrustedHashTxInputStart(
					ctx, tx, hashInputs, i,
					in.SignatureScript, i == 0,
				)
			},
		)
		if err != nil {
			return nil, err
		}
	}

	// Finalization.
	if err := state.toFinalized(); err != nil {
		return nil, err
	}

	err := s.roundTrip(ctx, "finalize", func(ctx context.Context) error {
		return s.dev.UntrustedHashTxInputFinalize(
			ctx, tx, job.ChangePath,
		)
	})
	if err != nil {
		return nil, err
	}

	// Signing.
	digests := newDigester(tx, prevOuts)
	tuples := make([]SignatureTuple, 0, len(tx.TxIn))
	for i, in := range tx.TxIn {
		if err := state.toSigning(i); err != nil {
			return nil, err
		}

		tuple, err := s.signInput(ctx, tx, digests, i, hashInputs[i],
			in.SignatureScript, &job.Inputs[i])
		if err != nil {
			return nil, err
		}

		tuples = append(tuples, *tuple)
	}

	// Collection.
	if err := state.toDone(); err != nil {
		return nil, err
	}

	log.Infof("Collected %d signatures for tx %v", len(tuples),
		tx.TxHash())

	return tuples, nil
}

// signInput primes the device for input idx, requests its signature and
// pairs it with the host digest.
func (s *Sequencer) signInput(ctx context.Context, tx *wire.MsgTx,
	digests *digester, idx int, hashInput device.HashInput, script []byte,
	in *SigningInput) (*SignatureTuple, error) {

	err := s.roundTrip(ctx, fmt.Sprintf("prime input %d", idx),
		func(ctx context.Context) error {
			return s.dev.UntrustedHashTxInputStart(
				ctx, tx, []device.HashInput{hashInput}, 0,
				script, false,
			)
		},
	)
	if err != nil {
		return nil, err
	}

	digest, err := digests.digest(idx)
	if err != nil {
		return nil, err
	}

	var sig *device.Signature
	err = s.roundTrip(ctx, fmt.Sprintf("sign input %d", idx),
		func(ctx context.Context) error {
			var err error
			sig, err = s.dev.UntrustedHashSign(
				ctx, in.Path, tx.LockTime, txscript.SigHashAll,
			)

			return err
		},
	)
	if err != nil {
		return nil, err
	}

	if s.verify {
		if err := verifySignature(digest, in.PubKey, sig); err != nil {
			return nil, fmt.Errorf("input %d signed with %v: %w", idx,
				in.Path, err)
		}
	}

	log.Debugf("Signed input %d with %v", idx, in.Path)

	return &SignatureTuple{
		Digest:    digest,
		PubKey:    in.PubKey,
		Signature: *sig,
	}, nil
}
