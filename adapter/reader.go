package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// PageSize is the number of ids requested per getOwnerPositionIds call.
const PageSize = 500

// Position is the adapter's view of one lending position.
type Position struct {
	ID              uint64
	OwnerCommitment common.Hash
	Vault           common.Address
	Token           common.Address
	Amount          *big.Int
	AuthHash        common.Hash
}

// Exists reports whether the adapter has ever created the position.
func (p *Position) Exists() bool {
	return p != nil && p.OwnerCommitment != (common.Hash{})
}

// Reader is the read-only adapter surface the orchestrator needs.
type Reader interface {
	PrivacyExecutor(ctx context.Context, adapter common.Address) (common.Address, error)
	SupplyToken(ctx context.Context, adapter common.Address) (common.Address, error)
	IsBorrowTokenAllowed(ctx context.Context, adapter, token common.Address) (bool, error)
	// OwnerPositionIDs pages through every position indexed under owner.
	OwnerPositionIDs(ctx context.Context, adapter common.Address, owner common.Hash) ([]uint64, error)
	Position(ctx context.Context, adapter common.Address, id uint64) (*Position, error)
}

// ContractCaller is satisfied by *ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ContractReader implements Reader with eth_call against the latest block.
type ContractReader struct {
	caller ContractCaller
}

var _ Reader = (*ContractReader)(nil)

func NewContractReader(caller ContractCaller) *ContractReader {
	return &ContractReader{caller: caller}
}

func (r *ContractReader) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	input, err := adapterABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("call %s on %s: empty result (is the adapter deployed on this chain?)", method, to.Hex())
	}
	vals, err := adapterABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (r *ContractReader) PrivacyExecutor(ctx context.Context, adapter common.Address) (common.Address, error) {
	vals, err := r.call(ctx, adapter, "privacyExecutor")
	if err != nil {
		return common.Address{}, err
	}
	return vals[0].(common.Address), nil
}

func (r *ContractReader) SupplyToken(ctx context.Context, adapter common.Address) (common.Address, error) {
	vals, err := r.call(ctx, adapter, "supplyToken")
	if err != nil {
		return common.Address{}, err
	}
	return vals[0].(common.Address), nil
}

func (r *ContractReader) IsBorrowTokenAllowed(ctx context.Context, adapter, token common.Address) (bool, error) {
	vals, err := r.call(ctx, adapter, "isBorrowTokenAllowed", token)
	if err != nil {
		return false, err
	}
	return vals[0].(bool), nil
}

func (r *ContractReader) OwnerPositionIDs(ctx context.Context, adapter common.Address, owner common.Hash) ([]uint64, error) {
	var ids []uint64
	for offset := int64(0); ; offset += PageSize {
		vals, err := r.call(ctx, adapter, "getOwnerPositionIds", [32]byte(owner), big.NewInt(offset), big.NewInt(PageSize))
		if err != nil {
			return nil, err
		}
		page := vals[0].([]*big.Int)
		total := vals[1].(*big.Int)
		for _, id := range page {
			if !id.IsUint64() {
				return nil, fmt.Errorf("position id %s out of range", id)
			}
			ids = append(ids, id.Uint64())
		}
		if len(page) < PageSize || big.NewInt(int64(len(ids))).Cmp(total) >= 0 {
			return ids, nil
		}
	}
}

func (r *ContractReader) Position(ctx context.Context, adapter common.Address, id uint64) (*Position, error) {
	vals, err := r.call(ctx, adapter, "positions", new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	return &Position{
		ID:              id,
		OwnerCommitment: common.Hash(vals[0].([32]byte)),
		Vault:           vals[1].(common.Address),
		Token:           vals[2].(common.Address),
		Amount:          vals[3].(*big.Int),
		AuthHash:        common.Hash(vals[4].([32]byte)),
	}, nil
}
