package orchestrator

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/errs"
)

func requireShielding(h engine.Handle) error {
	if !h.Capabilities().Shielding {
		return errs.New(errs.KindEngineUnavailable, "privacy engine does not support shielding")
	}
	return nil
}

// Shield moves supply tokens from the public wallet into the private
// balance.
func (o *Orchestrator) Shield(ctx context.Context, amount *big.Int) (*Result, error) {
	const action = "shield"
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := positive(amount, "shield amount"); err != nil {
		return nil, err
	}
	token, err := o.deps.Addresses.SupplyToken()
	if err != nil {
		return nil, err
	}
	h, err := o.handle(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := requireShielding(h); err != nil {
		return nil, err
	}
	receipt, err := h.Shield(ctx, token, amount)
	if err != nil {
		return nil, o.submitFailed(ctx, a, action, err)
	}
	o.settle(a)
	return &Result{Action: action, TxHash: receipt.TxHash, Amount: amount}, nil
}

// Unshield moves supply tokens from the private balance to recipient, or to
// the connected wallet when recipient is zero.
func (o *Orchestrator) Unshield(ctx context.Context, amount *big.Int, recipient common.Address) (*Result, error) {
	const action = "unshield"
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := positive(amount, "unshield amount"); err != nil {
		return nil, err
	}
	token, err := o.deps.Addresses.SupplyToken()
	if err != nil {
		return nil, err
	}
	if recipient == (common.Address{}) {
		recipient = a.owner
	}
	h, err := o.handle(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := requireShielding(h); err != nil {
		return nil, err
	}
	if _, err := o.ensureFunds(ctx, a, h, gate{
		action:   action,
		feeToken: token,
		spend:    &spend{token: token, amount: amount},
	}); err != nil {
		return nil, err
	}
	receipt, err := h.Unshield(ctx, token, amount, recipient)
	if err != nil {
		return nil, o.submitFailed(ctx, a, action, err)
	}
	o.settle(a)
	return &Result{Action: action, TxHash: receipt.TxHash, Amount: amount}, nil
}

// Balances are the private spendable balances of the active identity.
type Balances struct {
	PrivateAddress string
	SupplyToken    common.Address
	Supply         *big.Int
	// Borrow is nil when no borrow token is configured.
	BorrowToken common.Address
	Borrow      *big.Int
}

// Balance reads fresh private balances.
func (o *Orchestrator) Balance(ctx context.Context) (*Balances, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	token, err := o.deps.Addresses.SupplyToken()
	if err != nil {
		return nil, err
	}
	h, err := o.handle(ctx, a)
	if err != nil {
		return nil, err
	}
	if !h.Capabilities().Balances {
		return nil, errs.New(errs.KindEngineUnavailable, "privacy engine does not report balances")
	}

	out := &Balances{PrivateAddress: a.sess.PrivateAddress, SupplyToken: token}
	if out.Supply, err = h.SpendableBalance(ctx, token, true); err != nil {
		return nil, engine.Unavailable(err, "balance read")
	}
	if borrow, err := o.deps.Addresses.BorrowToken(); err == nil {
		out.BorrowToken = borrow
		if out.Borrow, err = h.SpendableBalance(ctx, borrow, true); err != nil {
			return nil, engine.Unavailable(err, "balance read")
		}
	}
	return out, nil
}
