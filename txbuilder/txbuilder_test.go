package txbuilder

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/hwsign/pkg/btcunit"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

var (
	// testDestScript is a P2PKH script used as payment destination.
	testDestScript = p2pkhScript(bytes.Repeat([]byte{0xde}, 20))

	// testChangeScript is a P2PKH script used as change destination.
	testChangeScript = p2pkhScript(bytes.Repeat([]byte{0xc4}, 20))
)

func p2pkhScript(hash []byte) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		panic(err)
	}

	return script
}

// testSignerPubKey returns a deterministic compressed public key.
func testSignerPubKey() []byte {
	_, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x22}, 32))
	return pub.SerializeCompressed()
}

// testInput creates an input spending a fresh P2PKH output of the given
// value. The seed makes the previous transaction unique.
func testInput(t *testing.T, seed byte, value btcutil.Amount) Input {
	t.Helper()

	signerPubKey := testSignerPubKey()

	prevTx := wire.NewMsgTx(1)
	prevTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{seed}},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	prevTx.AddTxOut(wire.NewTxOut(
		int64(value), p2pkhScript(btcutil.Hash160(signerPubKey)),
	))

	utxo, err := NewUTXO(prevTx, 0)
	require.NoError(t, err)

	return Input{
		UTXO:         utxo,
		TrustedInput: []byte{seed},
		SignerPubKey: signerPubKey,
	}
}

// sumOutputs returns the total value of the outputs of tx.
func sumOutputs(tx *wire.MsgTx) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range tx.TxOut {
		total += btcutil.Amount(out.Value)
	}

	return total
}

// TestNewUTXO checks that a UTXO record caches the output value and rejects
// indices that do not exist.
func TestNewUTXO(t *testing.T) {
	t.Parallel()

	in := testInput(t, 1, 42_000)
	require.Equal(t, btcutil.Amount(42_000), in.UTXO.Value)
	require.Equal(t, in.UTXO.Tx.TxHash(), in.UTXO.OutPoint().Hash)
	require.False(t, in.UTXO.HasWitness())
	require.Equal(t, in.UTXO.Tx.TxOut[0], in.UTXO.TxOut())
	require.NoError(t, in.UTXO.Validate())

	_, err := NewUTXO(in.UTXO.Tx, 1)
	require.ErrorIs(t, err, ErrInvalidUTXO)

	_, err = NewUTXO(in.UTXO.Tx, math.MaxUint32)
	require.ErrorIs(t, err, ErrInvalidUTXO)

	_, err = NewUTXO(nil, 0)
	require.ErrorIs(t, err, ErrInvalidUTXO)
}

// TestUTXOLiteral checks that a record built without NewUTXO still
// references the right outpoint and is only accepted when it agrees with its
// previous transaction.
func TestUTXOLiteral(t *testing.T) {
	t.Parallel()

	prevTx := testInput(t, 3, 25_000).UTXO.Tx

	testCases := []struct {
		name    string
		utxo    *UTXO
		wantErr error
	}{{
		name: "consistent",
		utxo: &UTXO{Tx: prevTx, Index: 0, Value: 25_000},
	}, {
		name:    "value above output",
		utxo:    &UTXO{Tx: prevTx, Index: 0, Value: 90_000},
		wantErr: ErrInvalidUTXO,
	}, {
		name:    "value below output",
		utxo:    &UTXO{Tx: prevTx, Index: 0, Value: 1_000},
		wantErr: ErrInvalidUTXO,
	}, {
		name:    "index out of range",
		utxo:    &UTXO{Tx: prevTx, Index: 1, Value: 25_000},
		wantErr: ErrInvalidUTXO,
	}, {
		name:    "no previous tx",
		utxo:    &UTXO{Index: 0, Value: 25_000},
		wantErr: ErrInvalidUTXO,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.utxo.Validate()
			require.ErrorIs(t, err, tc.wantErr)

			if tc.wantErr != nil {
				return
			}

			// The outpoint is derived from the previous tx even
			// though no txid was cached.
			require.Equal(t, wire.OutPoint{
				Hash: prevTx.TxHash(), Index: 0,
			}, tc.utxo.OutPoint())
		})
	}
}

// TestBuilderValueSemantics checks that extending a builder never changes a
// previously obtained builder or transaction.
func TestBuilderValueSemantics(t *testing.T) {
	t.Parallel()

	// Arrange: Create a base builder with one output.
	base := NewBuilder(TxVersion, 7).
		AddOutput(wire.NewTxOut(1, []byte{0x51}))

	// Act: Extend it twice in different directions.
	left := base.AddOutput(wire.NewTxOut(2, []byte{0x52}))
	right := base.AddOutput(wire.NewTxOut(3, []byte{0x53}))
	withInput := base.AddInput(&wire.TxIn{Sequence: 5})

	// Assert: Every builder keeps its own outputs.
	require.Equal(t, 1, base.NumOutputs())
	require.Equal(t, 0, base.NumInputs())
	require.Equal(t, 1, withInput.NumInputs())

	leftTx := left.Build()
	rightTx := right.Build()
	require.Len(t, leftTx.TxOut, 2)
	require.Len(t, rightTx.TxOut, 2)
	require.EqualValues(t, 2, leftTx.TxOut[1].Value)
	require.EqualValues(t, 3, rightTx.TxOut[1].Value)
	require.EqualValues(t, TxVersion, leftTx.Version)
	require.EqualValues(t, 7, leftTx.LockTime)

	// Mutating a built transaction does not leak into the builder.
	leftTx.TxOut[0].PkScript[0] = 0x00
	require.Equal(t, []byte{0x51}, left.Build().TxOut[0].PkScript)
}

// TestAssembleChange checks amount conservation and output ordering with
// and without a change output.
func TestAssembleChange(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		values      []btcutil.Amount
		amount      btcutil.Amount
		fee         btcutil.Amount
		wantOutputs int
		wantChange  btcutil.Amount
	}{{
		name:        "single input with change",
		values:      []btcutil.Amount{100_000},
		amount:      50_000,
		fee:         1_000,
		wantOutputs: 2,
		wantChange:  49_000,
	}, {
		name:        "exact spend without change",
		values:      []btcutil.Amount{10_000},
		amount:      1_000,
		fee:         9_000,
		wantOutputs: 1,
	}, {
		name:        "multiple inputs with change",
		values:      []btcutil.Amount{30_000, 20_000, 5_000},
		amount:      40_000,
		fee:         2_000,
		wantOutputs: 2,
		wantChange:  13_000,
	}, {
		name:        "one satoshi change",
		values:      []btcutil.Amount{10_001},
		amount:      1_000,
		fee:         9_000,
		wantOutputs: 2,
		wantChange:  1,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: Create the inputs.
			var (
				inputs    []Input
				available btcutil.Amount
			)
			for i, value := range tc.values {
				inputs = append(
					inputs, testInput(t, byte(i+1), value),
				)
				available += value
			}

			// Act: Assemble the transaction.
			unsigned, err := Assemble(&Request{
				DestinationScript: testDestScript,
				Amount:            tc.amount,
				Fee:               tc.fee,
				ChangeScript:      fn.Some(testChangeScript),
				Inputs:            inputs,
				LockTime:          500_000,
			})
			require.NoError(t, err)

			// Assert: The payment is last, change precedes it
			// and value is conserved.
			tx := unsigned.Tx
			require.Len(t, tx.TxOut, tc.wantOutputs)
			require.Len(t, tx.TxIn, len(tc.values))
			require.EqualValues(t, TxVersion, tx.Version)
			require.EqualValues(t, 500_000, tx.LockTime)

			payment := tx.TxOut[len(tx.TxOut)-1]
			require.EqualValues(t, tc.amount, payment.Value)
			require.Equal(t, testDestScript, payment.PkScript)

			if tc.wantOutputs == 2 {
				require.Equal(
					t, fn.Some(uint32(0)),
					unsigned.ChangeIndex,
				)
				require.EqualValues(
					t, tc.wantChange, tx.TxOut[0].Value,
				)
				require.Equal(
					t, testChangeScript,
					tx.TxOut[0].PkScript,
				)
				require.Equal(
					t, available, sumOutputs(tx)+tc.fee,
				)
			} else {
				require.True(t, unsigned.ChangeIndex.IsNone())
				require.LessOrEqual(
					t, sumOutputs(tx)+tc.fee, available,
				)
				require.False(t, NeedsChange(
					available, tc.amount, tc.fee,
				))
			}

			for i, in := range tx.TxIn {
				require.Equal(t, InputSequence, in.Sequence)
				require.Equal(
					t, inputs[i].UTXO.OutPoint(),
					in.PreviousOutPoint,
				)
				require.Equal(
					t, inputs[i].UTXO.PkScript(),
					in.SignatureScript,
				)
			}
		})
	}
}

// TestAssembleErrors checks the rejected requests.
func TestAssembleErrors(t *testing.T) {
	t.Parallel()

	in := testInput(t, 1, 10_000)
	other := testInput(t, 2, 10_000)

	testCases := []struct {
		name    string
		req     *Request
		wantErr error
	}{{
		name: "insufficient funds",
		req: &Request{
			DestinationScript: testDestScript,
			Amount:            9_500,
			Fee:               1_000,
			Inputs:            []Input{in},
		},
		wantErr: ErrInsufficientFunds,
	}, {
		name: "change needed without change script",
		req: &Request{
			DestinationScript: testDestScript,
			Amount:            5_000,
			Fee:               1_000,
			Inputs:            []Input{in},
		},
		wantErr: ErrMissingChangeScript,
	}, {
		name: "no inputs",
		req: &Request{
			DestinationScript: testDestScript,
			Amount:            5_000,
		},
		wantErr: ErrNoInputs,
	}, {
		name: "duplicate outpoint",
		req: &Request{
			DestinationScript: testDestScript,
			Amount:            5_000,
			Fee:               1_000,
			ChangeScript:      fn.Some(testChangeScript),
			Inputs:            []Input{in, other, in},
		},
		wantErr: ErrDuplicateInput,
	}, {
		name: "zero amount",
		req: &Request{
			DestinationScript: testDestScript,
			Inputs:            []Input{in},
		},
		wantErr: ErrInvalidAmount,
	}, {
		name: "negative fee",
		req: &Request{
			DestinationScript: testDestScript,
			Amount:            5_000,
			Fee:               -1,
			Inputs:            []Input{in},
		},
		wantErr: ErrInvalidAmount,
	}, {
		name: "dust payment",
		req: &Request{
			DestinationScript: testDestScript,
			Amount:            100,
			Fee:               9_900,
			Inputs:            []Input{in},
		},
		wantErr: txrules.ErrOutputIsDust,
	}, {
		name: "utxo value differs from its output",
		req: &Request{
			DestinationScript: testDestScript,
			Amount:            9_000,
			Fee:               1_000,
			Inputs: []Input{{
				UTXO: &UTXO{
					Tx:    in.UTXO.Tx,
					Index: in.UTXO.Index,
					Value: 20_000,
				},
				TrustedInput: in.TrustedInput,
				SignerPubKey: in.SignerPubKey,
			}},
		},
		wantErr: ErrInvalidUTXO,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			unsigned, err := Assemble(tc.req)
			require.ErrorIs(t, err, tc.wantErr)
			require.Nil(t, unsigned)
		})
	}
}

// TestAssembleSigningScript checks that a P2WPKH input is given a P2PKH
// placeholder keyed to the signer.
func TestAssembleSigningScript(t *testing.T) {
	t.Parallel()

	// Arrange: Spend a P2WPKH output from a witness transaction.
	signerPubKey := testSignerPubKey()
	pubKeyHash := btcutil.Hash160(signerPubKey)

	witnessProgram, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(pubKeyHash).
		Script()
	require.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{9}},
		Witness:          wire.TxWitness{{0x01}, {0x02}},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	prevTx.AddTxOut(wire.NewTxOut(20_000, witnessProgram))

	utxo, err := NewUTXO(prevTx, 0)
	require.NoError(t, err)
	require.True(t, utxo.HasWitness())

	// Act: Assemble a spend without change.
	unsigned, err := Assemble(&Request{
		DestinationScript: testDestScript,
		Amount:            19_000,
		Fee:               1_000,
		Inputs: []Input{{
			UTXO:         utxo,
			SignerPubKey: signerPubKey,
		}},
	})
	require.NoError(t, err)

	// Assert: The placeholder is the P2PKH form of the key.
	require.Equal(t, p2pkhScript(pubKeyHash),
		unsigned.Tx.TxIn[0].SignatureScript)
}

// TestCheckFeeRate checks the fee rate sanity guard.
func TestCheckFeeRate(t *testing.T) {
	t.Parallel()

	in := testInput(t, 1, 1_000_000)

	testCases := []struct {
		name    string
		fee     btcutil.Amount
		maxRate btcunit.SatPerVByte
		wantErr error
	}{{
		name:    "sane fee",
		fee:     1_000,
		maxRate: DefaultMaxFeeRate,
	}, {
		name:    "absurd fee",
		fee:     900_000,
		maxRate: DefaultMaxFeeRate,
		wantErr: ErrFeeRateTooLarge,
	}, {
		name:    "low custom maximum",
		fee:     1_000,
		maxRate: btcunit.NewSatPerVByte(1),
		wantErr: ErrFeeRateTooLarge,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			unsigned, err := Assemble(&Request{
				DestinationScript: testDestScript,
				Amount:            50_000,
				Fee:               tc.fee,
				ChangeScript:      fn.Some(testChangeScript),
				Inputs:            []Input{in},
			})
			require.NoError(t, err)
			require.Positive(t, uint64(unsigned.EstimateVirtualSize()))

			err = unsigned.CheckFeeRate(tc.maxRate)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, tc.wantErr)

			// The error names the size and the fee the maximum
			// rate would allow for it.
			vsize := unsigned.EstimateVirtualSize()
			require.ErrorContains(t, err, vsize.String())
			require.ErrorContains(t, err, fmt.Sprintf("(fee %v)",
				tc.maxRate.FeeForVByte(vsize)))
		})
	}
}
