package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/ledger"
)

// PositionView is one owned position as the chain and the ledger see it.
type PositionView struct {
	ID     uint64
	Vault  common.Address
	Token  common.Address
	Amount *big.Int
	State  ledger.State
	// Authorized reports that the local secret matches the on-chain hash.
	Authorized bool
}

// Positions lists every position indexed under the identity's owner
// commitment.
func (o *Orchestrator) Positions(ctx context.Context) ([]PositionView, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}
	adapterAddr, err := o.deps.Addresses.Adapter()
	if err != nil {
		return nil, err
	}
	ids, err := o.deps.Reader.OwnerPositionIDs(ctx, adapterAddr, a.ownerCommitment())
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	out := make([]PositionView, 0, len(ids))
	for _, id := range ids {
		pos, err := o.deps.Reader.Position(ctx, adapterAddr, id)
		if err != nil {
			return nil, fmt.Errorf("read position #%d: %w", id, err)
		}
		v := PositionView{
			ID:     id,
			Vault:  pos.Vault,
			Token:  pos.Token,
			Amount: pos.Amount,
			State:  a.ledger.State(id),
		}
		if s, ok := a.ledger.Secret(id); ok {
			v.Authorized = s.Hash() == pos.AuthHash
		}
		out = append(out, v)
	}
	return out, nil
}

// AuthView is the backup view of one position's secret.
type AuthView struct {
	PositionID uint64
	Secret     ledger.Secret
	// Verified is set when the secret was checked against the chain;
	// Matches holds the outcome.
	Verified bool
	Matches  bool
}

// PositionAuth returns the stored secret for id, or imports secret from a
// backup when it is non-nil. Either way the secret is checked against the
// on-chain commitment when the position can be read.
func (o *Orchestrator) PositionAuth(ctx context.Context, id uint64, secret *ledger.Secret) (*AuthView, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, a, err := o.requireSession(ctx)
	if err != nil {
		return nil, err
	}

	view := &AuthView{PositionID: id}
	if secret != nil {
		if err := a.ledger.Import(ctx, id, *secret); err != nil {
			return nil, err
		}
		view.Secret = *secret
	} else {
		s, ok := a.ledger.Secret(id)
		if !ok {
			return nil, errs.New(errs.KindPositionNotActionable, "no authorization secret stored for position #%d", id).
				WithHint(fmt.Sprintf("Restore it with position-auth %d <secret>", id))
		}
		view.Secret = s
	}

	adapterAddr, err := o.deps.Addresses.Adapter()
	if err != nil {
		return view, nil
	}
	pos, err := o.deps.Reader.Position(ctx, adapterAddr, id)
	if err != nil {
		o.log.WarnContext(ctx, "orchestrator.position_auth.verify_failed", slog.String("err", err.Error()))
		return view, nil
	}
	view.Verified = pos.Exists()
	view.Matches = view.Verified && view.Secret.Hash() == pos.AuthHash
	if view.Verified && !view.Matches {
		o.emit("position-auth", "Secret for position #%d does not match the on-chain commitment", id)
	}
	return view, nil
}
