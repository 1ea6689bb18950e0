package common

import (
	"confio/core/ledger"
	"confio/core/types"
	"confio/crypto"
)

// Deposit describes a validated asset transfer into the application.
type Deposit struct {
	Sender crypto.Address
	Amount uint64
}

// AssetDeposit checks that the outer transaction at index is a plain transfer
// of asset into the application: no rekey, close-to or clawback and a non-zero
// amount.
func AssetDeposit(ctx *ledger.Context, op string, index int, asset uint64) (Deposit, error) {
	tx, err := ctx.GroupTxn(index)
	if err != nil {
		return Deposit{}, Fail(op, "%v", err)
	}
	if tx.Type != types.AssetTransferTx {
		return Deposit{}, Fail(op, "transaction %d must be an asset transfer", index)
	}
	if tx.XferAsset != asset {
		return Deposit{}, Fail(op, "transaction %d transfers asset %d, expected %d", index, tx.XferAsset, asset)
	}
	if tx.AssetReceiver != ctx.AppAddress() {
		return Deposit{}, Fail(op, "transaction %d receiver is not the application", index)
	}
	if tx.AssetAmount == 0 {
		return Deposit{}, Fail(op, "transaction %d amount must be positive", index)
	}
	if !tx.RekeyTo.IsZero() {
		return Deposit{}, Fail(op, "transaction %d rekey not allowed", index)
	}
	if !tx.AssetCloseTo.IsZero() {
		return Deposit{}, Fail(op, "transaction %d asset close_to not allowed", index)
	}
	if !tx.AssetSender.IsZero() {
		return Deposit{}, Fail(op, "transaction %d clawback transfer not allowed", index)
	}
	return Deposit{Sender: tx.Sender, Amount: tx.AssetAmount}, nil
}

// Payment checks that the outer transaction at index is a plain payment
// without rekey or close-to and returns it.
func Payment(ctx *ledger.Context, op string, index int) (*types.Transaction, error) {
	tx, err := ctx.GroupTxn(index)
	if err != nil {
		return nil, Fail(op, "%v", err)
	}
	if tx.Type != types.PaymentTx {
		return nil, Fail(op, "transaction %d must be a payment", index)
	}
	if !tx.RekeyTo.IsZero() {
		return nil, Fail(op, "transaction %d rekey not allowed", index)
	}
	if !tx.CloseRemainderTo.IsZero() {
		return nil, Fail(op, "transaction %d close_to not allowed", index)
	}
	return tx, nil
}

// SendAsset issues an inner transfer of amount of asset to receiver.
func SendAsset(ctx *ledger.Context, asset uint64, receiver crypto.Address, amount uint64) error {
	return ctx.Submit(&types.Transaction{
		Type:          types.AssetTransferTx,
		XferAsset:     asset,
		AssetReceiver: receiver,
		AssetAmount:   amount,
	})
}

// Clawback issues an inner clawback moving amount from holder to receiver.
func Clawback(ctx *ledger.Context, asset uint64, holder, receiver crypto.Address, amount uint64) error {
	return ctx.Submit(&types.Transaction{
		Type:          types.AssetTransferTx,
		XferAsset:     asset,
		AssetSender:   holder,
		AssetReceiver: receiver,
		AssetAmount:   amount,
	})
}

// OptInAsset opts the application account into asset.
func OptInAsset(ctx *ledger.Context, asset uint64) error {
	return SendAsset(ctx, asset, ctx.AppAddress(), 0)
}

// SetFrozen issues an inner asset freeze.
func SetFrozen(ctx *ledger.Context, asset uint64, account crypto.Address, frozen bool) error {
	return ctx.Submit(&types.Transaction{
		Type:          types.AssetFreezeTx,
		FreezeAsset:   asset,
		FreezeAccount: account,
		AssetFrozen:   frozen,
	})
}

// AppAssetBalance returns the application's holding of asset.
func AppAssetBalance(ctx *ledger.Context, asset uint64) (uint64, error) {
	h, ok, err := ctx.AssetHolding(ctx.AppAddress(), asset)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return h.Amount, nil
}

// SponsoredDeposit accepts either [deposit, call] or [sponsor_pay, deposit,
// call] with the call last. The sponsor payment must fund the depositor or
// the application, and the caller must be the depositor or sponsor.
func SponsoredDeposit(ctx *ledger.Context, op string, asset uint64, sponsor crypto.Address) (Deposit, error) {
	idx := ctx.GroupIndex()
	if idx != ctx.GroupSize()-1 || (idx != 1 && idx != 2) {
		return Deposit{}, Fail(op, "group size %d: expected [xfer, call] or [pay, xfer, call]", ctx.GroupSize())
	}
	deposit, err := AssetDeposit(ctx, op, idx-1, asset)
	if err != nil {
		return Deposit{}, err
	}
	if idx == 2 {
		pay, err := Payment(ctx, op, 0)
		if err != nil {
			return Deposit{}, err
		}
		if pay.Receiver != deposit.Sender && pay.Receiver != ctx.AppAddress() {
			return Deposit{}, Fail(op, "sponsor payment must go to the depositor or the application")
		}
	}
	if ctx.Sender() != deposit.Sender && (sponsor.IsZero() || ctx.Sender() != sponsor) {
		return Deposit{}, Fail(op, "unauthorized: caller is neither depositor nor sponsor")
	}
	if err := RequireNoRekey(ctx, op); err != nil {
		return Deposit{}, err
	}
	return deposit, nil
}
