// Package payroll holds per-business balances of one asset and lets approved
// delegates pay out of them with a deterministic platform fee.
package payroll

import (
	"fmt"

	"lukechampine.com/blake3"

	"confio/core/types"
	"confio/crypto"
	"confio/native/common"
)

const ProgramName = "payroll"

const (
	MethodSetupAsset      = "setup_asset"
	MethodSetFeeRecipient = "set_fee_recipient"
	MethodPause           = "pause"
	MethodUnpause         = "unpause"
	MethodUpdateAdmin     = "update_admin"
	MethodDeposit         = "deposit"
	MethodSetDelegates    = "set_business_delegates"
	MethodPayout          = "payout"
	MethodWithdrawVault   = "withdraw_vault"
)

const (
	keyAdmin        = "admin"
	keyAsset        = "asset_id"
	keyFeeRecipient = "fee_recipient"
	keyPaused       = "is_paused"
	keyFeeBps       = "fee_bps"
	keyTotalPaid    = "total_paid"
	keyTotalFees    = "total_fees"
)

const (
	// FeeBps is the platform fee in basis points of the gross amount.
	FeeBps uint64 = 90
	// BpsScale is the basis point denominator.
	BpsScale uint64 = 10_000
	// ReceiptSize is recipient(32)||net(8)||fee(8)||gross(8)||sender(32)||ts(8).
	ReceiptSize = 96
	// MaxPayoutID bounds external ids.
	MaxPayoutID = 63
)

// Gross returns the amount that must leave a vault so that net reaches the
// recipient after a fee of feeBps of gross: ceil(net × 10⁴ / (10⁴ − feeBps)).
func Gross(net, feeBps uint64) (gross, fee uint64, err error) {
	if feeBps >= BpsScale {
		return 0, 0, fmt.Errorf("fee %d bps out of range", feeBps)
	}
	gross, err = common.MulDivCeil(net, BpsScale, BpsScale-feeBps)
	if err != nil {
		return 0, 0, err
	}
	return gross, gross - net, nil
}

// Sub-record names. Vaults are 'v'||business and delegates the 64-byte
// business||delegate pair. Receipts are 'r'||blake3(id), so no payout id can
// name a vault or delegate entry.
func VaultBox(business crypto.Address) []byte {
	return append([]byte{'v'}, business.Bytes()...)
}

func DelegateBox(business, delegate crypto.Address) []byte {
	return append(business.Bytes(), delegate.Bytes()...)
}

func ReceiptBox(id string) []byte {
	sum := blake3.Sum256([]byte(id))
	return append([]byte{'r'}, sum[:]...)
}

// Receipt is the immutable record of one payout.
type Receipt struct {
	Recipient crypto.Address
	Net       uint64
	Fee       uint64
	Gross     uint64
	Sender    crypto.Address
	Timestamp uint64
}

func (r Receipt) Encode() []byte {
	out := make([]byte, ReceiptSize)
	copy(out[0:32], r.Recipient.Bytes())
	common.PutUint64(out, 32, r.Net)
	common.PutUint64(out, 40, r.Fee)
	common.PutUint64(out, 48, r.Gross)
	copy(out[56:88], r.Sender.Bytes())
	common.PutUint64(out, 88, r.Timestamp)
	return out
}

func DecodeReceipt(raw []byte) (Receipt, error) {
	if len(raw) != ReceiptSize {
		return Receipt{}, fmt.Errorf("receipt is %d bytes, want %d", len(raw), ReceiptSize)
	}
	recipient, _ := crypto.AddressFromBytes(raw[0:32])
	sender, _ := crypto.AddressFromBytes(raw[56:88])
	return Receipt{
		Recipient: recipient,
		Net:       common.GetUint64(raw, 32),
		Fee:       common.GetUint64(raw, 40),
		Gross:     common.GetUint64(raw, 48),
		Sender:    sender,
		Timestamp: common.GetUint64(raw, 88),
	}, nil
}

// State is the decoded global state.
type State struct {
	Admin        crypto.Address
	AssetID      uint64
	FeeRecipient crypto.Address
	Paused       bool
	FeeBps       uint64
	TotalPaid    uint64
	TotalFees    uint64
}

func DecodeState(m types.StateMap) State {
	return State{
		Admin:        m.Address(keyAdmin),
		AssetID:      m.Uint(keyAsset),
		FeeRecipient: m.Address(keyFeeRecipient),
		Paused:       m.Uint(keyPaused) != 0,
		FeeBps:       m.Uint(keyFeeBps),
		TotalPaid:    m.Uint(keyTotalPaid),
		TotalFees:    m.Uint(keyTotalFees),
	}
}
