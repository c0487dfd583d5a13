package signer

import (
	"testing"

	"github.com/btcsuite/hwsign/addrscript"
	"github.com/btcsuite/hwsign/device"
	"github.com/btcsuite/hwsign/txbuilder"
	"github.com/stretchr/testify/require"
)

// TestResultPacket checks the PSBT export of a signed payment.
func TestResultPacket(t *testing.T) {
	t.Parallel()

	// Arrange: Sign a payment from a legacy and a segwit output.
	h := newTestHarness(t)
	utxos := []*txbuilder.UTXO{
		h.fund(t, testSignPath(0), 30_000, addrscript.KindPubKeyHash),
		h.fund(t, testSignPath(1), 40_000, addrscript.KindWitness),
	}
	paths := []device.Path{testSignPath(0), testSignPath(1)}

	result, err := h.orch.SignNewTransaction(t.Context(), &NewTxRequest{
		Destination: testDestination(t),
		Amount:      60_000,
		Fee:         2_000,
		UTXOs:       utxos,
		SignPaths:   paths,
		ChangePath:  testChangePath,
	})
	require.NoError(t, err)

	fingerprint := h.dev.MasterFingerprint()

	// Act: Export the result.
	packet, err := result.Packet(fingerprint)

	// Assert: Every input carries its device signature and derivation.
	require.NoError(t, err)
	require.Len(t, packet.UnsignedTx.TxIn, len(result.Tx.TxIn))
	for i, in := range packet.UnsignedTx.TxIn {
		// The signing placeholders are not part of the export.
		require.Empty(t, in.SignatureScript)
		require.Equal(t, result.Tx.TxIn[i].PreviousOutPoint,
			in.PreviousOutPoint)
	}
	require.Equal(t, result.Tx.TxOut, packet.UnsignedTx.TxOut)

	require.Nil(t, packet.Inputs[0].WitnessUtxo)
	require.Equal(t, utxos[0].Tx, packet.Inputs[0].NonWitnessUtxo)
	require.Nil(t, packet.Inputs[1].NonWitnessUtxo)
	require.Equal(t, utxos[1].TxOut(), packet.Inputs[1].WitnessUtxo)

	for i, pIn := range packet.Inputs {
		tuple := result.Signatures[i]

		require.Len(t, pIn.PartialSigs, 1)
		require.Equal(t, tuple.PubKey, pIn.PartialSigs[0].PubKey)
		require.Equal(t, tuple.Signature.Serialize(),
			pIn.PartialSigs[0].Signature)
		require.Equal(t, tuple.Signature.HashType, pIn.SighashType)

		require.Len(t, pIn.Bip32Derivation, 1)
		require.Equal(t, fingerprint,
			pIn.Bip32Derivation[0].MasterKeyFingerprint)
		require.Equal(t, []uint32(paths[i]),
			pIn.Bip32Derivation[0].Bip32Path)
	}

	changeIdx := result.ChangeIndex.UnwrapOr(uint32(len(packet.Outputs)))
	require.Less(t, int(changeIdx), len(packet.Outputs))
	require.Len(t, packet.Outputs[changeIdx].Bip32Derivation, 1)
	require.Equal(t, result.ChangePubKey,
		packet.Outputs[changeIdx].Bip32Derivation[0].PubKey)
	require.Empty(t, packet.Outputs[1-changeIdx].Bip32Derivation)

	encoded, err := packet.B64Encode()
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	// The result itself is left untouched.
	require.NotEmpty(t, result.Tx.TxIn[0].SignatureScript)
}

// TestResultPacketIncomplete checks that a result without every signature
// cannot be exported.
func TestResultPacketIncomplete(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	utxo := h.fund(t, testSignPath(0), 10_000, addrscript.KindWitness)

	result, err := h.orch.SignNewTransaction(t.Context(), &NewTxRequest{
		Destination: testDestination(t),
		Amount:      9_000,
		Fee:         1_000,
		UTXOs:       []*txbuilder.UTXO{utxo},
		SignPaths:   []device.Path{testSignPath(0)},
	})
	require.NoError(t, err)

	result.Signatures = nil
	_, err = result.Packet(0)
	require.ErrorIs(t, err, ErrSignPathCount)
}
