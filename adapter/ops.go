// Package adapter encodes calls to the private lending adapter and reads its
// state.
//
// Each builder returns the exact operation sequence the privacy engine's
// executor runs atomically. Calls that spend a position's authorization
// reveal the current secret and commit the hash of the next one in the same
// call.
package adapter

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/engine"
)

// Supply moves amount of token into a new position owned by owner and
// guarded by authHash.
type Supply struct {
	Adapter  common.Address
	Token    common.Address
	Amount   *big.Int
	Owner    common.Hash
	AuthHash common.Hash
}

func (s Supply) Ops() ([]engine.Operation, error) {
	transfer, err := erc20ABI.Pack("transfer", s.Adapter, s.Amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	data, err := depositRequest.Pack([32]byte(s.Owner), [32]byte(s.AuthHash))
	if err != nil {
		return nil, fmt.Errorf("pack deposit request: %w", err)
	}
	deposit, err := adapterABI.Pack("onPrivateDeposit", s.Token, s.Amount, data)
	if err != nil {
		return nil, fmt.Errorf("pack onPrivateDeposit: %w", err)
	}
	return []engine.Operation{
		{Contract: s.Token, CallData: transfer},
		{Contract: s.Adapter, CallData: deposit},
	}, nil
}

// Withdraw moves amount out of a position to the executor.
type Withdraw struct {
	Adapter    common.Address
	Executor   common.Address
	PositionID uint64
	Amount     *big.Int
	Secret     [32]byte
	NextHash   common.Hash
}

func (w Withdraw) Ops() ([]engine.Operation, error) {
	call, err := adapterABI.Pack("withdrawToRecipient",
		new(big.Int).SetUint64(w.PositionID), w.Amount, w.Secret, [32]byte(w.NextHash), w.Executor)
	if err != nil {
		return nil, fmt.Errorf("pack withdrawToRecipient: %w", err)
	}
	return []engine.Operation{{Contract: w.Adapter, CallData: call}}, nil
}

// Borrow draws amount of debtToken against a position.
type Borrow struct {
	Adapter    common.Address
	Executor   common.Address
	DebtToken  common.Address
	PositionID uint64
	Amount     *big.Int
	Secret     [32]byte
	NextHash   common.Hash
}

func (b Borrow) Ops() ([]engine.Operation, error) {
	call, err := adapterABI.Pack("borrowToRecipient",
		new(big.Int).SetUint64(b.PositionID), b.DebtToken, b.Amount, b.Secret, [32]byte(b.NextHash), b.Executor)
	if err != nil {
		return nil, fmt.Errorf("pack borrowToRecipient: %w", err)
	}
	return []engine.Operation{{Contract: b.Adapter, CallData: call}}, nil
}

// Repay returns amount of debtToken to a position.
type Repay struct {
	Adapter    common.Address
	DebtToken  common.Address
	PositionID uint64
	Amount     *big.Int
	Secret     [32]byte
	NextHash   common.Hash
}

func (r Repay) Ops() ([]engine.Operation, error) {
	transfer, err := erc20ABI.Pack("transfer", r.Adapter, r.Amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	call, err := adapterABI.Pack("repayFromPrivate",
		new(big.Int).SetUint64(r.PositionID), r.DebtToken, r.Amount, r.Secret, [32]byte(r.NextHash))
	if err != nil {
		return nil, fmt.Errorf("pack repayFromPrivate: %w", err)
	}
	return []engine.Operation{
		{Contract: r.DebtToken, CallData: transfer},
		{Contract: r.Adapter, CallData: call},
	}, nil
}
