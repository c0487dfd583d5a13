package softdevice

import (
	"context"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/aead/siphash"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/hwsign/device"
	"github.com/btcsuite/hwsign/trustedinput"
)

// GetTrustedInput issues a trusted input token for output index of prevTx.
// The token is tagged with a siphash keyed by a secret derived from the
// seed, so only this device can later accept it.
func (d *Device) GetTrustedInput(ctx context.Context, prevTx *wire.MsgTx,
	index uint32) ([]byte, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if uint64(index) >= uint64(len(prevTx.TxOut)) {
		return nil, device.NewStatusError(device.SWIncorrectData,
			"output %d of %d", index, len(prevTx.TxOut))
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()

	ti := &trustedinput.TrustedInput{
		PrevHash: prevTx.TxHash(),
		Index:    index,
		Value:    btcutil.Amount(prevTx.TxOut[index].Value),
	}
	if _, err := io.ReadFull(d.cfg.Rand, ti.Nonce[:]); err != nil {
		return nil, device.NewStatusError(device.SWTechnicalProblem,
			"nonce: %v", err)
	}
	ti.MAC = d.tag(ti)

	log.Debugf("Issued trusted input for %v", ti.OutPoint())

	return ti.Encode(), nil
}

// tag computes the integrity tag of a trusted input.
func (d *Device) tag(ti *trustedinput.TrustedInput) [trustedinput.MACSize]byte {
	var mac [trustedinput.MACSize]byte
	binary.LittleEndian.PutUint64(
		mac[:], siphash.Sum64(ti.Payload(), &d.macKey),
	)

	return mac
}

// openTrustedInput decodes a token and checks that this device issued it.
func (d *Device) openTrustedInput(token []byte) (*trustedinput.TrustedInput,
	error) {

	ti, err := trustedinput.Decode(token)
	if err != nil {
		return nil, device.NewStatusError(device.SWIncorrectData,
			"trusted input: %v", err)
	}

	mac := d.tag(ti)
	if subtle.ConstantTimeCompare(mac[:], ti.MAC[:]) != 1 {
		return nil, device.NewStatusError(device.SWIncorrectData,
			"trusted input for %v has an invalid tag",
			ti.OutPoint())
	}

	return ti, nil
}
