package orchestrator

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/fees"
	"github.com/ggoodman/hush/reconcile"
)

// spend is what an action takes out of the private balance, excluding the
// engine fee.
type spend struct {
	token  common.Address
	amount *big.Int
}

// gate is the balance check in front of one submission.
type gate struct {
	action   string
	ops      []engine.Operation
	feeToken common.Address
	spend    *spend
}

// ensureFunds prices the operations, derives the reserve and waits until the
// private balance covers spend plus reserve. With no quote the reserve is
// skipped (fail-open) or the action is refused (fail-closed). A balance that
// cannot be read at all is left for the engine to judge.
func (o *Orchestrator) ensureFunds(ctx context.Context, a *active, h engine.Handle, g gate) (*fees.Reserve, error) {
	reserve, err := o.quoteReserve(ctx, a, h, g)
	if err != nil {
		return nil, err
	}

	var order []common.Address
	required := map[common.Address]*big.Int{}
	add := func(token common.Address, v *big.Int) {
		if v == nil || v.Sign() == 0 {
			return
		}
		cur, ok := required[token]
		if !ok {
			cur = new(big.Int)
			required[token] = cur
			order = append(order, token)
		}
		cur.Add(cur, v)
	}
	if g.spend != nil {
		add(g.spend.token, g.spend.amount)
	}
	if reserve != nil {
		add(g.feeToken, reserve.Reserve)
	}
	if len(order) == 0 {
		return reserve, nil
	}
	if !h.Capabilities().Balances {
		o.log.DebugContext(ctx, "orchestrator.balance_check_skipped", slog.String("action", g.action))
		return reserve, nil
	}

	opts := append([]reconcile.Option{reconcile.WithLogger(o.log)}, o.reconcile...)
	for _, token := range order {
		need := required[token]
		fetch := func(ctx context.Context, force bool) (*big.Int, error) {
			return h.SpendableBalance(ctx, token, force)
		}
		res, err := reconcile.Wait(ctx, fetch, need, opts...)
		if err != nil {
			return nil, err
		}
		if res.Satisfied {
			continue
		}
		if !res.Observed {
			o.log.WarnContext(ctx, "orchestrator.balance_unreadable",
				slog.String("action", g.action),
				slog.String("token", token.Hex()),
				slog.String("err", res.Err.Error()),
			)
			continue
		}
		return nil, &errs.InsufficientBalanceError{
			Action:    g.action,
			Required:  need,
			Available: res.Balance,
			Format:    o.formatter(token),
		}
	}
	return reserve, nil
}

// quoteReserve returns nil when no quote is available and the policy allows
// proceeding.
func (o *Orchestrator) quoteReserve(ctx context.Context, a *active, h engine.Handle, g gate) (*fees.Reserve, error) {
	quote, err := o.quote(ctx, a, h, g)
	if err == nil {
		if flat, ok := quote.Estimate(); ok {
			r, err := o.FeeCalculator().Reserve(flat)
			if err != nil {
				return nil, errs.Wrap(errs.KindInvalidInput, err, "cannot compute fee reserve")
			}
			o.log.DebugContext(ctx, "orchestrator.fee_reserve",
				slog.String("action", g.action),
				slog.String("flat_fee", r.FlatFee.String()),
				slog.String("proportional", r.Proportional.String()),
				slog.String("floor", r.Floor.String()),
				slog.String("reserve", r.Reserve.String()),
			)
			f := o.formatter(g.feeToken)
			o.emit(g.action, "Estimated fee %s, reserving %s", f(r.FlatFee), f(r.Reserve))
			return &r, nil
		}
		err = errs.New(errs.KindEngineUnavailable, "fee quote carried no estimate")
	}

	o.log.DebugContext(ctx, "orchestrator.fee_quote_unavailable", slog.String("action", g.action), slog.String("err", err.Error()))
	if o.policy == fees.FailClosed {
		return nil, errs.Wrap(errs.KindEngineUnavailable, err, "fee quote unavailable").
			WithHint("Retry later, or set HUSH_FEE_POLICY=fail-open to proceed without a fee reserve")
	}
	o.emit(g.action, "Fee estimate unavailable, proceeding without a reserve check")
	return nil, nil
}

func (o *Orchestrator) quote(ctx context.Context, a *active, h engine.Handle, g gate) (*fees.Quote, error) {
	caps := h.Capabilities()
	if !caps.FeeQuotes {
		return nil, errs.New(errs.KindEngineUnavailable, "engine does not quote fees")
	}
	req := engine.QuoteRequest{
		ChainID:  a.chainID,
		Ops:      g.ops,
		FeeToken: g.feeToken,
		Tokens:   []common.Address{g.feeToken},
	}
	if g.spend != nil && g.spend.token != g.feeToken {
		req.Tokens = append(req.Tokens, g.spend.token)
	}
	if caps.SubAccount {
		sub, err := h.SubAccount(ctx)
		if err != nil {
			return nil, err
		}
		req.SubAccount = sub
	}
	return o.deps.Engines.Client().FeeQuote(ctx, req)
}
