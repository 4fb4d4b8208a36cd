package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/adapter"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/fees"
	"github.com/ggoodman/hush/ledger"
)

// Result reports a confirmed action.
type Result struct {
	Action     string
	TxHash     common.Hash
	PositionID uint64
	// Detected is false when a supply confirmed but its position id could
	// not be identified.
	Detected bool
	Amount   *big.Int
	// Secret is the position's new current secret, to be backed up. Zero
	// when the position was closed.
	Secret ledger.Secret
	// Revealed is the secret spent by this action.
	Revealed ledger.Secret
	Closed   bool
	// Retried is set when a max withdrawal succeeded on the rounding retry.
	Retried bool
	Reserve *fees.Reserve
}

// contracts are the resolved and validated adapter bindings.
type contracts struct {
	adapter  common.Address
	executor common.Address
	token    common.Address
	borrow   common.Address
}

// validateAdapter checks the adapter's on-chain bindings against
// configuration before any call is built.
func (o *Orchestrator) validateAdapter(ctx context.Context, a *active, needBorrow bool) (contracts, error) {
	var c contracts
	var err error
	if c.adapter, err = o.deps.Addresses.Adapter(); err != nil {
		return c, err
	}
	if c.executor, err = o.deps.Addresses.Executor(); err != nil {
		return c, err
	}
	if c.token, err = o.deps.Addresses.SupplyToken(); err != nil {
		return c, err
	}
	if a.chainID != o.chainID {
		return c, errs.New(errs.KindConfiguration, "wrong chain: expected %d, got %d", o.chainID, a.chainID)
	}

	r := o.deps.Reader
	executor, err := r.PrivacyExecutor(ctx, c.adapter)
	if err != nil {
		return c, fmt.Errorf("read adapter privacyExecutor: %w", err)
	}
	if executor != c.executor {
		return c, errs.New(errs.KindConfiguration, "adapter privacyExecutor mismatch: expected %s, got %s", c.executor.Hex(), executor.Hex()).
			WithHint("Update the adapter via setPrivacyExecutor(address)")
	}
	token, err := r.SupplyToken(ctx, c.adapter)
	if err != nil {
		return c, fmt.Errorf("read adapter supplyToken: %w", err)
	}
	if token != c.token {
		return c, errs.New(errs.KindConfiguration, "adapter token mismatch: expected %s, got %s", c.token.Hex(), token.Hex())
	}

	if !needBorrow {
		return c, nil
	}
	if c.borrow, err = o.deps.Addresses.BorrowToken(); err != nil {
		return c, err
	}
	ok, err := r.IsBorrowTokenAllowed(ctx, c.adapter, c.borrow)
	if err != nil {
		return c, fmt.Errorf("read adapter isBorrowTokenAllowed: %w", err)
	}
	if !ok {
		return c, errs.New(errs.KindConfiguration, "borrow token %s is not enabled in adapter", c.borrow.Hex()).
			WithHint(fmt.Sprintf("Configure via setBorrowTokenAllowed(%s, true)", c.borrow.Hex()))
	}
	return c, nil
}

func positive(amount *big.Int, what string) error {
	if amount == nil || amount.Sign() <= 0 {
		return errs.New(errs.KindInvalidInput, "%s must be greater than zero", what)
	}
	return nil
}

// Supply opens a new position funded from the private balance.
func (o *Orchestrator) Supply(ctx context.Context, amount *big.Int) (*Result, error) {
	const action = "supply"
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := positive(amount, "supply amount"); err != nil {
		return nil, err
	}
	c, err := o.validateAdapter(ctx, a, false)
	if err != nil {
		return nil, err
	}

	owner := a.ownerCommitment()
	before, err := o.deps.Reader.OwnerPositionIDs(ctx, c.adapter, owner)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	secret, err := ledger.NewSecret()
	if err != nil {
		return nil, err
	}
	ops, err := adapter.Supply{
		Adapter:  c.adapter,
		Token:    c.token,
		Amount:   amount,
		Owner:    owner,
		AuthHash: secret.Hash(),
	}.Ops()
	if err != nil {
		return nil, err
	}

	h, err := o.handle(ctx, a)
	if err != nil {
		return nil, err
	}
	reserve, err := o.ensureFunds(ctx, a, h, gate{
		action:   action,
		ops:      ops,
		feeToken: c.token,
		spend:    &spend{token: c.token, amount: amount},
	})
	if err != nil {
		return nil, err
	}

	receipt, err := h.Submit(ctx, ops, c.token)
	if err != nil {
		return nil, o.submitFailed(ctx, a, action, err)
	}
	o.settle(a)

	res := &Result{Action: action, TxHash: receipt.TxHash, Amount: amount, Secret: secret, Reserve: reserve}
	id, ok, err := o.detectPosition(ctx, c.adapter, owner, before, secret)
	if err != nil {
		o.log.WarnContext(ctx, "orchestrator.supply.detect_failed", slog.String("err", err.Error()))
	}
	if !ok {
		o.emit(action, "Supply confirmed in %s but the new position id could not be detected. Back up the secret and run position-auth <id> <secret> once the id is known", receipt.TxHash.Hex())
		return res, nil
	}
	res.PositionID, res.Detected = id, true
	if err := a.ledger.Bind(ctx, id, secret); err != nil {
		return res, fmt.Errorf("supply confirmed in %s but the position secret was not saved: %w", receipt.TxHash.Hex(), err)
	}
	return res, nil
}

// detectPosition finds the id created by a supply: a new id whose
// authorization hash is the committed one, else the last listed id when the
// diff is empty.
func (o *Orchestrator) detectPosition(ctx context.Context, adapterAddr common.Address, owner common.Hash, before []uint64, secret ledger.Secret) (uint64, bool, error) {
	after, err := o.deps.Reader.OwnerPositionIDs(ctx, adapterAddr, owner)
	if err != nil {
		return 0, false, err
	}
	fresh := mapset.NewSet(after...).Difference(mapset.NewSet(before...)).ToSlice()
	slices.Sort(fresh)

	candidates := fresh
	if len(candidates) == 0 && len(after) > 0 {
		candidates = after[len(after)-1:]
	}
	want := secret.Hash()
	for i := len(candidates) - 1; i >= 0; i-- {
		pos, err := o.deps.Reader.Position(ctx, adapterAddr, candidates[i])
		if err != nil {
			return 0, false, err
		}
		if pos.AuthHash == want {
			return candidates[i], true, nil
		}
	}
	return 0, false, nil
}

// PositionAction names a position and, optionally, the secret to reveal
// instead of the stored one.
type PositionAction struct {
	PositionID uint64
	// Amount is nil for a max withdrawal.
	Amount *big.Int
	Secret *ledger.Secret
}

// loadPosition reads an owned position and plans its rotation, checking the
// revealed secret against the on-chain commitment.
func (o *Orchestrator) loadPosition(ctx context.Context, a *active, c contracts, req PositionAction) (*adapter.Position, ledger.Rotation, error) {
	pos, err := o.deps.Reader.Position(ctx, c.adapter, req.PositionID)
	if err != nil {
		return nil, ledger.Rotation{}, fmt.Errorf("read position #%d: %w", req.PositionID, err)
	}
	if !pos.Exists() {
		return nil, ledger.Rotation{}, errs.New(errs.KindInvalidInput, "position #%d does not exist", req.PositionID)
	}
	if pos.OwnerCommitment != a.ownerCommitment() {
		return nil, ledger.Rotation{}, errs.New(errs.KindPositionNotActionable, "position #%d is not owned by this private identity", req.PositionID)
	}
	rot, err := a.ledger.Plan(req.PositionID, req.Secret)
	if err != nil {
		return nil, ledger.Rotation{}, err
	}
	if rot.Revealed.Hash() != pos.AuthHash {
		return nil, ledger.Rotation{}, errs.New(errs.KindPositionNotActionable, "authorization secret for position #%d does not match the on-chain commitment", req.PositionID).
			WithHint(fmt.Sprintf("Restore the latest backup with position-auth %d <secret>", req.PositionID))
	}
	return pos, rot, nil
}

// Withdraw moves collateral from a position back to the private balance. A
// nil amount withdraws everything; if the lending pool rejects that by one
// unit of rounding, it is retried once with one unit less.
func (o *Orchestrator) Withdraw(ctx context.Context, req PositionAction) (*Result, error) {
	const action = "withdraw"
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	c, err := o.validateAdapter(ctx, a, false)
	if err != nil {
		return nil, err
	}
	pos, rot, err := o.loadPosition(ctx, a, c, req)
	if err != nil {
		return nil, err
	}
	if pos.Amount.Sign() == 0 {
		return nil, errs.New(errs.KindPositionNotActionable, "position #%d has no withdrawable amount", req.PositionID)
	}

	isMax := req.Amount == nil
	amount := pos.Amount
	if !isMax {
		if err := positive(req.Amount, "withdraw amount"); err != nil {
			return nil, err
		}
		if req.Amount.Cmp(pos.Amount) > 0 {
			f := o.formatter(pos.Token)
			return nil, errs.New(errs.KindInvalidInput, "withdraw amount %s exceeds position #%d balance %s", f(req.Amount), req.PositionID, f(pos.Amount))
		}
		amount = req.Amount
	}
	amount = new(big.Int).Set(amount)

	build := func(amount *big.Int) ([]engine.Operation, error) {
		return adapter.Withdraw{
			Adapter:    c.adapter,
			Executor:   c.executor,
			PositionID: req.PositionID,
			Amount:     amount,
			Secret:     rot.Revealed.Bytes32(),
			NextHash:   rot.Next.Hash(),
		}.Ops()
	}
	ops, err := build(amount)
	if err != nil {
		return nil, err
	}

	h, err := o.handle(ctx, a)
	if err != nil {
		return nil, err
	}
	reserve, err := o.ensureFunds(ctx, a, h, gate{action: action, ops: ops, feeToken: c.token})
	if err != nil {
		return nil, err
	}

	res := &Result{Action: action, PositionID: req.PositionID, Detected: true, Revealed: rot.Revealed, Reserve: reserve}
	receipt, err := h.Submit(ctx, ops, c.token)
	if err != nil && isMax && engine.ReasonOf(err) == engine.ReasonAvailableBalanceRounding && amount.Cmp(big.NewInt(1)) > 0 {
		amount.Sub(amount, big.NewInt(1))
		o.log.DebugContext(ctx, "orchestrator.withdraw.rounding_retry", slog.Uint64("position", req.PositionID), slog.String("amount", amount.String()))
		o.emit(action, "Max withdrawal rejected by pool rounding, retrying with %s", o.formatter(pos.Token)(amount))
		if ops, err = build(amount); err != nil {
			return nil, err
		}
		if receipt, err = h.Submit(ctx, ops, c.token); err != nil {
			return nil, errs.Wrap(errs.KindStaleQuoteRetry, o.submitFailed(ctx, a, action, err), "max withdrawal retry failed")
		}
		res.Retried = true
	} else if err != nil {
		return nil, o.submitFailed(ctx, a, action, err)
	}
	o.settle(a)
	res.TxHash, res.Amount = receipt.TxHash, amount

	remaining := new(big.Int).Sub(pos.Amount, amount)
	if after, err := o.deps.Reader.Position(ctx, c.adapter, req.PositionID); err == nil && after.Amount != nil {
		remaining = after.Amount
	} else if err != nil {
		o.log.WarnContext(ctx, "orchestrator.withdraw.reread_failed", slog.String("err", err.Error()))
	}

	if remaining.Sign() == 0 {
		res.Closed = true
		if err := a.ledger.Close(ctx, req.PositionID); err != nil {
			return res, fmt.Errorf("withdraw confirmed in %s but the session was not saved: %w", receipt.TxHash.Hex(), err)
		}
		return res, nil
	}
	res.Secret = rot.Next
	if err := a.ledger.Rotate(ctx, rot); err != nil {
		return res, fmt.Errorf("withdraw confirmed in %s but the new secret was not saved: %w", receipt.TxHash.Hex(), err)
	}
	return res, nil
}

// Borrow draws the configured borrow token against a position into the
// private balance.
func (o *Orchestrator) Borrow(ctx context.Context, req PositionAction) (*Result, error) {
	return o.rotating(ctx, "borrow", req, func(c contracts, rot ledger.Rotation) ([]engine.Operation, *spend, error) {
		ops, err := adapter.Borrow{
			Adapter:    c.adapter,
			Executor:   c.executor,
			DebtToken:  c.borrow,
			PositionID: req.PositionID,
			Amount:     req.Amount,
			Secret:     rot.Revealed.Bytes32(),
			NextHash:   rot.Next.Hash(),
		}.Ops()
		return ops, nil, err
	})
}

// Repay returns borrowed tokens from the private balance to a position.
func (o *Orchestrator) Repay(ctx context.Context, req PositionAction) (*Result, error) {
	return o.rotating(ctx, "repay", req, func(c contracts, rot ledger.Rotation) ([]engine.Operation, *spend, error) {
		ops, err := adapter.Repay{
			Adapter:    c.adapter,
			DebtToken:  c.borrow,
			PositionID: req.PositionID,
			Amount:     req.Amount,
			Secret:     rot.Revealed.Bytes32(),
			NextHash:   rot.Next.Hash(),
		}.Ops()
		return ops, &spend{token: c.borrow, amount: req.Amount}, err
	})
}

type buildFunc func(c contracts, rot ledger.Rotation) ([]engine.Operation, *spend, error)

// rotating runs a borrow-side action: it always rotates the secret and
// never closes the position.
func (o *Orchestrator) rotating(ctx context.Context, action string, req PositionAction, build buildFunc) (*Result, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := positive(req.Amount, action+" amount"); err != nil {
		return nil, err
	}
	c, err := o.validateAdapter(ctx, a, true)
	if err != nil {
		return nil, err
	}
	_, rot, err := o.loadPosition(ctx, a, c, req)
	if err != nil {
		return nil, err
	}
	ops, sp, err := build(c, rot)
	if err != nil {
		return nil, err
	}

	h, err := o.handle(ctx, a)
	if err != nil {
		return nil, err
	}
	reserve, err := o.ensureFunds(ctx, a, h, gate{action: action, ops: ops, feeToken: c.token, spend: sp})
	if err != nil {
		return nil, err
	}
	receipt, err := h.Submit(ctx, ops, c.token)
	if err != nil {
		return nil, o.submitFailed(ctx, a, action, err)
	}
	o.settle(a)

	res := &Result{
		Action:     action,
		TxHash:     receipt.TxHash,
		PositionID: req.PositionID,
		Detected:   true,
		Amount:     req.Amount,
		Secret:     rot.Next,
		Revealed:   rot.Revealed,
		Reserve:    reserve,
	}
	if err := a.ledger.Rotate(ctx, rot); err != nil {
		return res, fmt.Errorf("%s confirmed in %s but the new secret was not saved: %w", action, receipt.TxHash.Hex(), err)
	}
	return res, nil
}
