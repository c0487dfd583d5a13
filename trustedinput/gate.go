package trustedinput

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// Fetcher is the device capability the gate needs: issuing a trusted input
// token for one output of a previous transaction.
type Fetcher interface {
	// GetTrustedInput returns the serialized trusted input token for
	// output index of prevTx.
	GetTrustedInput(ctx context.Context, prevTx *wire.MsgTx,
		index uint32) ([]byte, error)
}

// Gate obtains trusted input tokens from a device and refuses any token that
// does not bind the requested output.
type Gate struct {
	fetcher Fetcher
}

// NewGate returns a gate that requests tokens from fetcher.
func NewGate(fetcher Fetcher) *Gate {
	return &Gate{fetcher: fetcher}
}

// Obtain requests the trusted input for output index of prevTx and validates
// it before handing it out. A token is never returned unless Validate
// accepted it.
func (g *Gate) Obtain(ctx context.Context, prevTx *wire.MsgTx,
	index uint32) ([]byte, error) {

	if uint64(index) >= uint64(len(prevTx.TxOut)) {
		return nil, fmt.Errorf("%w: index %d, tx %v has %d outputs",
			ErrOutputIndex, index, prevTx.TxHash(),
			len(prevTx.TxOut))
	}

	outPoint := wire.OutPoint{Hash: prevTx.TxHash(), Index: index}

	token, err := g.fetcher.GetTrustedInput(ctx, prevTx, index)
	if err != nil {
		return nil, fmt.Errorf("get trusted input for %v: %w",
			outPoint, err)
	}

	if err := Validate(token, prevTx, index); err != nil {
		log.Errorf("Rejecting trusted input for %v: %v", outPoint, err)

		return nil, err
	}

	log.Debugf("Obtained trusted input for %v", outPoint)

	return token, nil
}
