package txbuilder

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/hwsign/pkg/btcunit"
)

var (
	// ErrFeeRateTooLarge is returned when the fee of an assembled
	// transaction implies a fee rate above the configured maximum.
	ErrFeeRateTooLarge = errors.New("fee rate too large")

	// DefaultMaxFeeRate is the default maximum fee rate considered sane,
	// 1000 sat/vb.
	DefaultMaxFeeRate = btcunit.NewSatPerVByte(1_000)
)

// EstimateVirtualSize estimates the virtual size of the transaction once all
// inputs are signed. Inputs whose script type cannot be sized are counted as
// P2PKH, the largest of the single-key spends.
func (u *UnsignedTx) EstimateVirtualSize() btcunit.VByte {
	var numP2PKH, numP2TR, numP2WPKH, numNested int
	for _, in := range u.Inputs {
		script := in.UTXO.PkScript()

		switch {
		case txscript.IsPayToWitnessPubKeyHash(script):
			numP2WPKH++

		case txscript.IsPayToScriptHash(script):
			numNested++

		case txscript.IsPayToTaproot(script):
			numP2TR++

		default:
			numP2PKH++
		}
	}

	return btcunit.VByte(txsizes.EstimateVirtualSize(
		numP2PKH, numP2TR, numP2WPKH, numNested, u.Tx.TxOut, 0,
	))
}

// FeeRate returns the fee rate paid by the transaction once signed.
func (u *UnsignedTx) FeeRate() btcunit.SatPerVByte {
	return btcunit.CalcSatPerVByte(u.Fee, u.EstimateVirtualSize())
}

// CheckFeeRate returns ErrFeeRateTooLarge if the fee rate paid by the
// transaction exceeds maxRate.
func (u *UnsignedTx) CheckFeeRate(maxRate btcunit.SatPerVByte) error {
	rate := u.FeeRate()
	vsize := u.EstimateVirtualSize()
	if rate.GreaterThan(maxRate) {
		return fmt.Errorf("%w: fee %v over %s is a fee rate of %s, "+
			"max sane fee rate is %s (fee %v)", ErrFeeRateTooLarge,
			u.Fee, vsize, rate, maxRate, maxRate.FeeForVByte(vsize))
	}

	log.Debugf("Fee rate of tx %v is %s (estimated %s, %s)", u.Tx.TxHash(),
		rate, vsize, vsize.ToWU())

	return nil
}
