package btcunit

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestSizeConversion checks the conversion of virtual bytes into weight
// units.
func TestSizeConversion(t *testing.T) {
	t.Parallel()

	require.Equal(t, WeightUnit(400), VByte(100).ToWU())
	require.Equal(t, "401 wu", WeightUnit(401).String())
	require.Equal(t, "100 vb", VByte(100).String())
}

// TestSatPerVByte checks fee rate calculation and comparison.
func TestSatPerVByte(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		fee      btcutil.Amount
		size     VByte
		expected string
		fee1k    btcutil.Amount
	}{{
		name:     "whole rate",
		fee:      1_000,
		size:     200,
		expected: "5.000 sat/vb",
		fee1k:    5_000,
	}, {
		name:     "fractional rate",
		fee:      1,
		size:     1_000,
		expected: "0.001 sat/vb",
		fee1k:    1,
	}, {
		name:     "zero size",
		fee:      1_000,
		size:     0,
		expected: "0.000 sat/vb",
		fee1k:    0,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rate := CalcSatPerVByte(tc.fee, tc.size)
			require.Equal(t, tc.expected, rate.String())
			require.Equal(t, tc.fee1k, rate.FeeForVByte(1_000))
		})
	}

	low := CalcSatPerVByte(999, 1_000)
	one := NewSatPerVByte(1)

	require.True(t, one.GreaterThan(low))
	require.False(t, low.GreaterThan(one))
	require.False(t, CalcSatPerVByte(1_000, 1_000).GreaterThan(one))
	require.False(t, SatPerVByte{}.GreaterThan(NewSatPerVByte(0)))
}
