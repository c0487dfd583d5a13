package softdevice

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwsign/addrscript"
	"github.com/btcsuite/hwsign/device"
)

// hashPhase is the phase of the device signing context.
type hashPhase uint8

const (
	// phaseIdle means no transaction is being hashed.
	phaseIdle hashPhase = iota

	// phaseRegistering means a new transaction was started and inputs
	// are being registered in order.
	phaseRegistering

	// phaseFinalized means every input was registered and the outputs are
	// committed.
	phaseFinalized

	// phasePrimed means a single-input round selected the input that the
	// next sign request signs.
	phasePrimed
)

// String returns a human readable name of the phase.
func (p hashPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"

	case phaseRegistering:
		return "registering"

	case phaseFinalized:
		return "finalized"

	case phasePrimed:
		return "primed"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// hashInput is an input as committed by the device.
type hashInput struct {
	outPoint wire.OutPoint
	value    btcutil.Amount
	sequence uint32
}

// hashState is the single signing context of the device.
type hashState struct {
	phase      hashPhase
	version    int32
	lockTime   uint32
	inputs     []hashInput
	registered int
	outputs    []*wire.TxOut

	primed       int
	primedScript []byte
}

// tx rebuilds the committed transaction.
func (s *hashState) tx() *wire.MsgTx {
	tx := wire.NewMsgTx(s.version)
	tx.LockTime = s.lockTime

	for _, in := range s.inputs {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: in.outPoint,
			Sequence:         in.sequence,
		})
	}
	for _, out := range s.outputs {
		tx.AddTxOut(out)
	}

	return tx
}

// conditionsNotSatisfied returns the status a device answers to a request
// issued out of order.
func conditionsNotSatisfied(format string, args ...any) error {
	return device.NewStatusError(
		device.SWConditionsNotSatisfied, format, args...,
	)
}

// UntrustedHashTxInputStart registers inputs with the signing context. A
// newTx round resets the context and registers input 0. Further rounds
// before finalization register the following inputs in order. After
// finalization, a single-input round primes the context for signing that
// input.
func (d *Device) UntrustedHashTxInputStart(ctx context.Context,
	tx *wire.MsgTx, inputs []device.HashInput, inputIndex int,
	script []byte, newTx bool) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	err := d.start(tx, inputs, inputIndex, script, newTx)
	if err != nil {
		log.Debugf("Resetting signing context after failed start: %v",
			err)
		d.state = hashState{}

		return err
	}

	return nil
}

func (d *Device) start(tx *wire.MsgTx, inputs []device.HashInput,
	inputIndex int, script []byte, newTx bool) error {

	if inputIndex < 0 || inputIndex >= len(inputs) {
		return device.NewStatusError(device.SWIncorrectP1P2,
			"input index %d of %d", inputIndex, len(inputs))
	}

	opened := make([]hashInput, len(inputs))
	for i, in := range inputs {
		ti, err := d.openTrustedInput(in.TrustedInput)
		if err != nil {
			return err
		}

		opened[i] = hashInput{
			outPoint: ti.OutPoint(),
			value:    ti.Value,
			sequence: in.Sequence,
		}
	}

	switch {
	case newTx:
		if inputIndex != 0 {
			return conditionsNotSatisfied("new transaction must "+
				"start at input 0, got %d", inputIndex)
		}

		if err := matchOutPoints(tx, opened); err != nil {
			return err
		}

		d.state = hashState{
			phase:      phaseRegistering,
			version:    tx.Version,
			lockTime:   tx.LockTime,
			inputs:     opened,
			registered: 1,
		}

		log.Debugf("Started hashing tx with %d inputs", len(opened))

	case d.state.phase == phaseRegistering:
		if len(opened) != len(d.state.inputs) ||
			inputIndex != d.state.registered {

			return conditionsNotSatisfied("expected registration "+
				"of input %d of %d, got %d of %d",
				d.state.registered, len(d.state.inputs),
				inputIndex, len(opened))
		}

		for i, in := range opened {
			if in != d.state.inputs[i] {
				return device.NewStatusError(
					device.SWIncorrectData, "input %d "+
						"changed during registration",
					i,
				)
			}
		}

		d.state.registered++

	case d.state.phase == phaseFinalized ||
		d.state.phase == phasePrimed:

		if len(opened) != 1 {
			return conditionsNotSatisfied("signing round with %d "+
				"inputs", len(opened))
		}

		position := -1
		for i, in := range d.state.inputs {
			if in == opened[0] {
				position = i
				break
			}
		}
		if position < 0 {
			return device.NewStatusError(device.SWIncorrectData,
				"input %v was not registered",
				opened[0].outPoint)
		}

		d.state.phase = phasePrimed
		d.state.primed = position
		d.state.primedScript = bytes.Clone(script)

		log.Tracef("Primed input %d for signing", position)

	default:
		return conditionsNotSatisfied("start in phase %v without new "+
			"transaction", d.state.phase)
	}

	return nil
}

// matchOutPoints checks that the trusted inputs are the inputs of tx.
func matchOutPoints(tx *wire.MsgTx, inputs []hashInput) error {
	if len(inputs) != len(tx.TxIn) {
		return device.NewStatusError(device.SWIncorrectData,
			"%d trusted inputs for %d tx inputs", len(inputs),
			len(tx.TxIn))
	}

	for i, in := range inputs {
		if in.outPoint != tx.TxIn[i].PreviousOutPoint {
			return device.NewStatusError(device.SWIncorrectData,
				"trusted input %d is %v, tx spends %v", i,
				in.outPoint, tx.TxIn[i].PreviousOutPoint)
		}
	}

	return nil
}

// UntrustedHashTxInputFinalize commits the outputs of tx once every input
// has been registered. A non-empty change path must derive a key paid by
// one of the outputs.
func (d *Device) UntrustedHashTxInputFinalize(ctx context.Context,
	tx *wire.MsgTx, changePath device.Path) error {

	if err := ctx.Err(); err != nil {
		return err
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	err := d.finalize(tx, changePath)
	if err != nil {
		log.Debugf("Resetting signing context after failed "+
			"finalize: %v", err)
		d.state = hashState{}

		return err
	}

	return nil
}

func (d *Device) finalize(tx *wire.MsgTx, changePath device.Path) error {
	if d.state.phase != phaseRegistering ||
		d.state.registered != len(d.state.inputs) {

		return conditionsNotSatisfied("finalize in phase %v after "+
			"%d of %d inputs", d.state.phase, d.state.registered,
			len(d.state.inputs))
	}

	if len(tx.TxOut) == 0 {
		return device.NewStatusError(device.SWIncorrectData,
			"no outputs")
	}

	if !changePath.IsEmpty() {
		if err := d.checkChange(tx.TxOut, changePath); err != nil {
			return err
		}
	}

	outputs := make([]*wire.TxOut, len(tx.TxOut))
	for i, out := range tx.TxOut {
		outputs[i] = wire.NewTxOut(out.Value, bytes.Clone(out.PkScript))
	}

	d.state.outputs = outputs
	d.state.phase = phaseFinalized

	log.Debugf("Committed %d outputs", len(outputs))

	return nil
}

// checkChange verifies that one of outputs pays to the key at changePath.
func (d *Device) checkChange(outputs []*wire.TxOut,
	changePath device.Path) error {

	if err := changePath.Guard(true); err != nil {
		log.Warnf("Change path: %v", err)
	}

	key, err := d.derive(changePath)
	if err != nil {
		return err
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return device.NewStatusError(device.SWTechnicalProblem,
			"change key: %v", err)
	}
	pubKey := pub.SerializeCompressed()

	kinds := []addrscript.Kind{
		addrscript.KindWitness, addrscript.KindScriptHash,
		addrscript.KindPubKeyHash,
	}
	for _, kind := range kinds {
		script, err := addrscript.ChangeScript(kind, pubKey)
		if err != nil {
			return device.NewStatusError(
				device.SWTechnicalProblem, "change script: %v",
				err,
			)
		}

		for _, out := range outputs {
			if bytes.Equal(out.PkScript, script) {
				return nil
			}
		}
	}

	return device.NewStatusError(device.SWIncorrectData,
		"no output pays to change path %v", changePath)
}

// UntrustedHashSign signs the primed input with the key at path. The digest
// is the BIP143 signature hash of the committed transaction, using the
// primed script as script code and the value bound by the trusted input.
func (d *Device) UntrustedHashSign(ctx context.Context, path device.Path,
	lockTime uint32, hashType txscript.SigHashType) (*device.Signature,
	error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	sig, err := d.sign(path, lockTime, hashType)
	if err != nil {
		log.Debugf("Resetting signing context after failed sign: %v",
			err)
		d.state = hashState{}

		return nil, err
	}

	return sig, nil
}

func (d *Device) sign(path device.Path, lockTime uint32,
	hashType txscript.SigHashType) (*device.Signature, error) {

	if d.state.phase != phasePrimed {
		return nil, conditionsNotSatisfied("sign in phase %v",
			d.state.phase)
	}

	if hashType != txscript.SigHashAll {
		return nil, device.NewStatusError(device.SWIncorrectP1P2,
			"sighash type %v", hashType)
	}

	if lockTime != d.state.lockTime {
		return nil, device.NewStatusError(device.SWIncorrectData,
			"lock time %d, committed %d", lockTime,
			d.state.lockTime)
	}

	tx := d.state.tx()
	idx := d.state.primed
	value := int64(d.state.inputs[idx].value)

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for _, in := range d.state.inputs {
		fetcher.AddPrevOut(in.outPoint, &wire.TxOut{
			Value: int64(in.value),
		})
	}

	digest, err := txscript.CalcWitnessSigHash(
		d.state.primedScript, txscript.NewTxSigHashes(tx, fetcher),
		hashType, tx, idx, value,
	)
	if err != nil {
		return nil, device.NewStatusError(device.SWIncorrectData,
			"sighash: %v", err)
	}

	key, err := d.derive(path)
	if err != nil {
		return nil, err
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, device.NewStatusError(device.SWSecurityStatus,
			"private key: %v", err)
	}

	sig := signDigest(priv, digest)
	sig.HashType = hashType

	// The context stays finalized so the next input can be primed.
	d.state.phase = phaseFinalized
	d.state.primedScript = nil

	log.Debugf("Signed input %d with %v", idx, path)

	return sig, nil
}

// signDigest produces a deterministic RFC6979 signature of digest and the
// parity of its nonce point.
func signDigest(priv *btcec.PrivateKey, digest []byte) *device.Signature {
	compact := ecdsa.SignCompact(priv, digest, true)

	// The compact form is <27 + 4 + recovery code> <r> <s>, where bit 0
	// of the recovery code is the parity of the nonce point.
	var r, s btcec.ModNScalar
	r.SetByteSlice(compact[1:33])
	s.SetByteSlice(compact[33:65])

	return &device.Signature{
		V:   (compact[0] - 27) & 1,
		DER: ecdsa.NewSignature(&r, &s).Serialize(),
	}
}
