package adapter

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/engine"
)

// Call is a decoded operation. Exactly one field is set.
type Call struct {
	Transfer *TransferCall
	Deposit  *DepositCall
	Withdraw *WithdrawCall
	Borrow   *BorrowCall
	Repay    *RepayCall
}

type TransferCall struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

type DepositCall struct {
	Adapter  common.Address
	Token    common.Address
	Amount   *big.Int
	Owner    common.Hash
	AuthHash common.Hash
}

type WithdrawCall struct {
	Adapter    common.Address
	PositionID *big.Int
	Amount     *big.Int
	Secret     [32]byte
	NextHash   common.Hash
	Recipient  common.Address
}

type BorrowCall struct {
	Adapter    common.Address
	PositionID *big.Int
	DebtToken  common.Address
	Amount     *big.Int
	Secret     [32]byte
	NextHash   common.Hash
	Recipient  common.Address
}

type RepayCall struct {
	Adapter    common.Address
	PositionID *big.Int
	DebtToken  common.Address
	Amount     *big.Int
	Secret     [32]byte
	NextHash   common.Hash
}

// Name returns the decoded method name.
func (c Call) Name() string {
	switch {
	case c.Transfer != nil:
		return "transfer"
	case c.Deposit != nil:
		return "onPrivateDeposit"
	case c.Withdraw != nil:
		return "withdrawToRecipient"
	case c.Borrow != nil:
		return "borrowToRecipient"
	case c.Repay != nil:
		return "repayFromPrivate"
	default:
		return "unknown"
	}
}

// Decode parses op as one of the calls the builders emit.
func Decode(op engine.Operation) (Call, error) {
	if len(op.CallData) < 4 {
		return Call{}, fmt.Errorf("call data too short")
	}
	sel, args := op.CallData[:4], op.CallData[4:]

	if m := erc20ABI.Methods["transfer"]; bytes.Equal(sel, m.ID) {
		vals, err := unpack(m, args)
		if err != nil {
			return Call{}, err
		}
		return Call{Transfer: &TransferCall{Token: op.Contract, To: vals[0].(common.Address), Amount: vals[1].(*big.Int)}}, nil
	}

	m, err := adapterABI.MethodById(sel)
	if err != nil {
		return Call{}, fmt.Errorf("unknown selector %x", sel)
	}
	vals, err := unpack(*m, args)
	if err != nil {
		return Call{}, err
	}

	switch m.Name {
	case "onPrivateDeposit":
		req, err := depositRequest.Unpack(vals[2].([]byte))
		if err != nil {
			return Call{}, fmt.Errorf("unpack deposit request: %w", err)
		}
		return Call{Deposit: &DepositCall{
			Adapter:  op.Contract,
			Token:    vals[0].(common.Address),
			Amount:   vals[1].(*big.Int),
			Owner:    common.Hash(req[0].([32]byte)),
			AuthHash: common.Hash(req[1].([32]byte)),
		}}, nil
	case "withdrawToRecipient":
		return Call{Withdraw: &WithdrawCall{
			Adapter:    op.Contract,
			PositionID: vals[0].(*big.Int),
			Amount:     vals[1].(*big.Int),
			Secret:     vals[2].([32]byte),
			NextHash:   common.Hash(vals[3].([32]byte)),
			Recipient:  vals[4].(common.Address),
		}}, nil
	case "borrowToRecipient":
		return Call{Borrow: &BorrowCall{
			Adapter:    op.Contract,
			PositionID: vals[0].(*big.Int),
			DebtToken:  vals[1].(common.Address),
			Amount:     vals[2].(*big.Int),
			Secret:     vals[3].([32]byte),
			NextHash:   common.Hash(vals[4].([32]byte)),
			Recipient:  vals[5].(common.Address),
		}}, nil
	case "repayFromPrivate":
		return Call{Repay: &RepayCall{
			Adapter:    op.Contract,
			PositionID: vals[0].(*big.Int),
			DebtToken:  vals[1].(common.Address),
			Amount:     vals[2].(*big.Int),
			Secret:     vals[3].([32]byte),
			NextHash:   common.Hash(vals[4].([32]byte)),
		}}, nil
	default:
		return Call{}, fmt.Errorf("%s is not an executable operation", m.Name)
	}
}

func unpack(m abi.Method, args []byte) ([]any, error) {
	vals, err := m.Inputs.Unpack(args)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", m.Name, err)
	}
	return vals, nil
}
