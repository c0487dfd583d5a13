package softdevice

import (
	"bytes"
	"math"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwsign/addrscript"
	"github.com/btcsuite/hwsign/device"
	"github.com/btcsuite/hwsign/trustedinput"
	"github.com/stretchr/testify/require"
)

var (
	testSeed = bytes.Repeat([]byte{0x5e}, 32)

	testSignPath   = device.MustParsePath("m/44'/1'/0'/0/0")
	testChangePath = device.MustParsePath("m/44'/1'/0'/1/0")
)

// newTestDevice creates a testnet software device.
func newTestDevice(t *testing.T) *Device {
	t.Helper()

	d, err := New(&Config{
		Seed:        testSeed,
		ChainParams: &chaincfg.TestNet3Params,
	})
	require.NoError(t, err)

	return d
}

// pubKeyAt returns the compressed public key of the device at path.
func pubKeyAt(t *testing.T, d *Device, path device.Path) []byte {
	t.Helper()

	info, err := d.GetPublicKey(t.Context(), path, false)
	require.NoError(t, err)

	return info.PubKey
}

// protocolFixture is a one-input spend ready to be streamed to a device.
type protocolFixture struct {
	prevTx       *wire.MsgTx
	tx           *wire.MsgTx
	inputs       []device.HashInput
	script       []byte
	pubKey       []byte
	changeScript []byte
}

// newProtocolFixture creates a previous transaction paying to the key at
// testSignPath and a spend with a change output to testChangePath.
func newProtocolFixture(t *testing.T, d *Device) *protocolFixture {
	t.Helper()

	pubKey := pubKeyAt(t, d, testSignPath)
	script, err := addrscript.ChangeScript(addrscript.KindPubKeyHash, pubKey)
	require.NoError(t, err)

	prevTx := wire.NewMsgTx(2)
	prevTx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x77}},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	prevTx.AddTxOut(wire.NewTxOut(100_000, script))

	token, err := d.GetTrustedInput(t.Context(), prevTx, 0)
	require.NoError(t, err)

	changeScript, err := addrscript.ChangeScript(
		addrscript.KindPubKeyHash, pubKeyAt(t, d, testChangePath),
	)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.LockTime = 10
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prevTx.TxHash()},
		SignatureScript:  script,
		Sequence:         wire.MaxTxInSequenceNum - 2,
	})
	tx.AddTxOut(wire.NewTxOut(49_000, changeScript))
	tx.AddTxOut(wire.NewTxOut(50_000, bytes.Repeat([]byte{0x51}, 1)))

	return &protocolFixture{
		prevTx: prevTx,
		tx:     tx,
		inputs: []device.HashInput{{
			TrustedInput: token,
			Sequence:     wire.MaxTxInSequenceNum - 2,
		}},
		script:       script,
		pubKey:       pubKey,
		changeScript: changeScript,
	}
}

// TestNewRequiresSeed checks that a device cannot be created without seed.
func TestNewRequiresSeed(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{})
	require.ErrorIs(t, err, ErrMissingSeed)

	_, err = New(&Config{Seed: []byte{0x01}})
	require.Error(t, err)
}

// TestGetRandom checks that random requests are limited to 248 bytes.
func TestGetRandom(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)

	for _, n := range []int{0, 5, 32, device.MaxRandomSize} {
		r, err := d.GetRandom(t.Context(), n)
		require.NoError(t, err)
		require.Len(t, r, n)
	}

	_, err := d.GetRandom(t.Context(), device.MaxRandomSize+1)
	require.ErrorIs(t, err, device.ErrIncorrectLength)
	require.ErrorIs(t, err, device.ErrProtocol)
}

// TestGetCoinVersion checks the reported coin description per network.
func TestGetCoinVersion(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		params   *chaincfg.Params
		expected device.CoinVersion
	}{{
		params: &chaincfg.MainNetParams,
		expected: device.CoinVersion{
			PubKeyHashAddrID: 0x00,
			ScriptHashAddrID: 0x05,
			Family:           0x01,
			CoinName:         "Bitcoin",
			Ticker:           "BTC",
		},
	}, {
		params: &chaincfg.TestNet3Params,
		expected: device.CoinVersion{
			PubKeyHashAddrID: 0x6f,
			ScriptHashAddrID: 0xc4,
			Family:           0x01,
			CoinName:         "Bitcoin Test",
			Ticker:           "TEST",
		},
	}}

	for _, tc := range testCases {
		t.Run(tc.params.Name, func(t *testing.T) {
			t.Parallel()

			d, err := New(&Config{
				Seed:        testSeed,
				ChainParams: tc.params,
			})
			require.NoError(t, err)

			version, err := d.GetCoinVersion(t.Context())
			require.NoError(t, err)
			require.Equal(t, &tc.expected, version)
		})
	}
}

// TestGetPublicKey checks the exported key against an independent BIP32
// derivation.
func TestGetPublicKey(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)

	info, err := d.GetPublicKey(t.Context(), testSignPath, true)
	require.NoError(t, err)

	key, err := hdkeychain.NewMaster(testSeed, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	for _, level := range testSignPath {
		key, err = key.Derive(level)
		require.NoError(t, err)
	}

	pub, err := key.ECPubKey()
	require.NoError(t, err)
	require.Equal(t, pub.SerializeCompressed(), info.PubKey)
	require.Equal(t, key.ChainCode(), info.ChainCode)

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(info.PubKey), &chaincfg.TestNet3Params,
	)
	require.NoError(t, err)
	require.Equal(t, addr.EncodeAddress(), info.Address)

	require.NotZero(t, d.MasterFingerprint())
	require.Equal(t, d.MasterFingerprint(), newTestDevice(t).
		MasterFingerprint())
}

// TestGetTrustedInput checks that issued tokens bind the requested output
// and carry a tag the device accepts.
func TestGetTrustedInput(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	fixture := newProtocolFixture(t, d)
	token := fixture.inputs[0].TrustedInput

	require.NoError(t, trustedinput.Validate(token, fixture.prevTx, 0))

	ti, err := d.openTrustedInput(token)
	require.NoError(t, err)
	require.EqualValues(t, 100_000, ti.Value)

	// A token from another device is refused.
	other, err := New(&Config{
		Seed:        bytes.Repeat([]byte{0x01}, 32),
		ChainParams: &chaincfg.TestNet3Params,
	})
	require.NoError(t, err)

	_, err = other.openTrustedInput(token)
	require.ErrorIs(t, err, device.ErrIncorrectData)

	// A tampered value is refused.
	ti.Value++
	_, err = d.openTrustedInput(ti.Encode())
	require.ErrorIs(t, err, device.ErrIncorrectData)

	_, err = d.GetTrustedInput(t.Context(), fixture.prevTx, 1)
	require.ErrorIs(t, err, device.ErrIncorrectData)

	_, err = d.GetTrustedInput(t.Context(), fixture.prevTx, math.MaxUint32)
	require.ErrorIs(t, err, device.ErrIncorrectData)
}

// TestSignProtocol runs the full registration, finalization and signing
// sequence and checks the produced signature.
func TestSignProtocol(t *testing.T) {
	t.Parallel()

	// Arrange: Create a device and a spend of one of its outputs.
	d := newTestDevice(t)
	f := newProtocolFixture(t, d)
	ctx := t.Context()

	// Act: Register, finalize, prime and sign.
	err := d.UntrustedHashTxInputStart(ctx, f.tx, f.inputs, 0, f.script,
		true)
	require.NoError(t, err)

	err = d.UntrustedHashTxInputFinalize(ctx, f.tx, testChangePath)
	require.NoError(t, err)

	err = d.UntrustedHashTxInputStart(ctx, f.tx, f.inputs, 0, f.script,
		false)
	require.NoError(t, err)

	sig, err := d.UntrustedHashSign(ctx, testSignPath, f.tx.LockTime,
		txscript.SigHashAll)
	require.NoError(t, err)

	// Assert: The signature verifies against the BIP143 digest.
	fetcher := txscript.NewCannedPrevOutputFetcher(nil, 100_000)
	digest, err := txscript.CalcWitnessSigHash(
		f.script, txscript.NewTxSigHashes(f.tx, fetcher),
		txscript.SigHashAll, f.tx, 0, 100_000,
	)
	require.NoError(t, err)

	parsed, err := ecdsa.ParseDERSignature(sig.DER)
	require.NoError(t, err)

	pub, err := btcec.ParsePubKey(f.pubKey)
	require.NoError(t, err)
	require.True(t, parsed.Verify(digest, pub))
	require.Equal(t, txscript.SigHashAll, sig.HashType)
	require.LessOrEqual(t, sig.V, byte(1))

	// Signing again requires priming again.
	_, err = d.UntrustedHashSign(ctx, testSignPath, f.tx.LockTime,
		txscript.SigHashAll)
	require.ErrorIs(t, err, device.ErrConditionsNotSatisfied)
}

// TestSignDigest checks that a digest signature verifies and that its parity
// bit recovers the signing key.
func TestSignDigest(t *testing.T) {
	t.Parallel()

	// Arrange: Derive a key and hash a message.
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x42}, 32))
	digest := chainhash.DoubleHashB([]byte("hwsign"))

	// Act: Sign the digest twice.
	sig := signDigest(priv, digest)
	again := signDigest(priv, digest)

	// Assert: The signature is deterministic and verifies.
	require.Equal(t, sig, again)
	require.LessOrEqual(t, sig.V, byte(1))

	parsed, err := ecdsa.ParseDERSignature(sig.DER)
	require.NoError(t, err)
	require.True(t, parsed.Verify(digest, priv.PubKey()))

	// The parity selects the key among the recovery candidates.
	r, s := splitDER(t, sig.DER)
	compact := append([]byte{27 + 4 + sig.V}, r...)
	compact = append(compact, s...)

	pub, compressed, err := ecdsa.RecoverCompact(compact, digest)
	require.NoError(t, err)
	require.True(t, compressed)
	require.True(t, pub.IsEqual(priv.PubKey()))

	compact[0] = 27 + 4 + (sig.V ^ 1)
	pub, _, err = ecdsa.RecoverCompact(compact, digest)
	if err == nil {
		require.False(t, pub.IsEqual(priv.PubKey()))
	}
}

// splitDER returns the 32 byte big endian r and s of a DER signature.
func splitDER(t *testing.T, der []byte) ([]byte, []byte) {
	t.Helper()

	require.Greater(t, len(der), 8)
	require.Equal(t, byte(0x30), der[0])

	readInt := func(b []byte) ([]byte, []byte) {
		require.Equal(t, byte(0x02), b[0])
		n := int(b[1])
		v := bytes.TrimLeft(b[2:2+n], "\x00")
		require.LessOrEqual(t, len(v), 32)

		padded := make([]byte, 32)
		copy(padded[32-len(v):], v)

		return padded, b[2+n:]
	}

	r, rest := readInt(der[2:])
	s, _ := readInt(rest)

	return r, s
}

// TestProtocolOrder checks that out of order requests are refused with a
// conditions-not-satisfied status.
func TestProtocolOrder(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	f := newProtocolFixture(t, d)
	ctx := t.Context()

	// Nothing started yet.
	_, err := d.UntrustedHashSign(ctx, testSignPath, f.tx.LockTime,
		txscript.SigHashAll)
	require.ErrorIs(t, err, device.ErrConditionsNotSatisfied)

	err = d.UntrustedHashTxInputFinalize(ctx, f.tx, nil)
	require.ErrorIs(t, err, device.ErrConditionsNotSatisfied)

	err = d.UntrustedHashTxInputStart(ctx, f.tx, f.inputs, 0, f.script,
		false)
	require.ErrorIs(t, err, device.ErrConditionsNotSatisfied)

	// Registered but not finalized: no priming, no signing.
	err = d.UntrustedHashTxInputStart(ctx, f.tx, f.inputs, 0, f.script,
		true)
	require.NoError(t, err)

	err = d.UntrustedHashTxInputStart(ctx, f.tx, f.inputs, 0, f.script,
		false)
	require.ErrorIs(t, err, device.ErrConditionsNotSatisfied)

	// The failure reset the context, so finalize is refused as well.
	err = d.UntrustedHashTxInputFinalize(ctx, f.tx, nil)
	require.ErrorIs(t, err, device.ErrConditionsNotSatisfied)
}

// TestSignRejectsMismatches checks the finalize and sign argument checks.
func TestSignRejectsMismatches(t *testing.T) {
	t.Parallel()

	d := newTestDevice(t)
	f := newProtocolFixture(t, d)
	ctx := t.Context()

	register := func() {
		err := d.UntrustedHashTxInputStart(
			ctx, f.tx, f.inputs, 0, f.script, true,
		)
		require.NoError(t, err)
	}

	// A change path that no output pays to.
	register()
	err := d.UntrustedHashTxInputFinalize(
		ctx, f.tx, device.MustParsePath("m/44'/1'/0'/1/9"),
	)
	require.ErrorIs(t, err, device.ErrIncorrectData)

	// A lock time that differs from the committed one.
	register()
	require.NoError(t, d.UntrustedHashTxInputFinalize(ctx, f.tx, nil))
	require.NoError(t, d.UntrustedHashTxInputStart(
		ctx, f.tx, f.inputs, 0, f.script, false,
	))
	_, err = d.UntrustedHashSign(ctx, testSignPath, f.tx.LockTime+1,
		txscript.SigHashAll)
	require.ErrorIs(t, err, device.ErrIncorrectData)

	// Unsupported sighash types.
	register()
	require.NoError(t, d.UntrustedHashTxInputFinalize(ctx, f.tx, nil))
	require.NoError(t, d.UntrustedHashTxInputStart(
		ctx, f.tx, f.inputs, 0, f.script, false,
	))
	_, err = d.UntrustedHashSign(ctx, testSignPath, f.tx.LockTime,
		txscript.SigHashNone)
	require.ErrorIs(t, err, device.ErrIncorrectP1P2)

	// A transaction spending something else than the trusted inputs.
	other := f.tx.Copy()
	other.TxIn[0].PreviousOutPoint.Index = 1
	err = d.UntrustedHashTxInputStart(ctx, other, f.inputs, 0, f.script,
		true)
	require.ErrorIs(t, err, device.ErrIncorrectData)
}
