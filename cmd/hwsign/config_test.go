package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestParseUTXO checks the <raw tx hex>:<index> form.
func TestParseUTXO(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: chainhash.Hash{1}}, nil,
		nil))
	tx.AddTxOut(wire.NewTxOut(1_000, []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(2_000, []byte{0x51}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	rawHex := hex.EncodeToString(buf.Bytes())

	utxo, err := parseUTXO(rawHex + ":1")
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), utxo.OutPoint().Hash)
	require.EqualValues(t, 2_000, utxo.Value)

	for _, s := range []string{
		rawHex, rawHex + ":2", rawHex + ":x", "zz:0", rawHex[:10] + ":0",
	} {
		_, err := parseUTXO(s)
		require.Error(t, err, s)
	}
}

// TestParseAndSetDebugLevels checks the accepted debug level forms.
func TestParseAndSetDebugLevels(t *testing.T) {
	require.NoError(t, parseAndSetDebugLevels("debug"))
	require.NoError(t, parseAndSetDebugLevels("SGNR=trace,DEVC=info"))

	require.Error(t, parseAndSetDebugLevels("loud"))
	require.Error(t, parseAndSetDebugLevels("NOPE=info"))
	require.Error(t, parseAndSetDebugLevels("SGNR=loud"))
	require.Error(t, parseAndSetDebugLevels("SGNR=info,debug"))

	require.NoError(t, parseAndSetDebugLevels(defaultLogLevel))
}
