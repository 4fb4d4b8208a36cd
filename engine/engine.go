package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ggoodman/hush/fees"
	"github.com/ggoodman/hush/wallet"
)

// Operation is one contract call executed by the engine's private executor.
type Operation struct {
	Contract     common.Address `json:"contract"`
	CallData     hexutil.Bytes  `json:"callData"`
	InvokeWallet bool           `json:"invokeWallet"`
}

// Capabilities is negotiated once per Handle.
type Capabilities struct {
	// Balances means SpendableBalance is supported.
	Balances bool `json:"balances"`
	// FeeQuotes means Client.FeeQuote can price operation sequences.
	FeeQuotes bool `json:"feeQuotes"`
	// SubAccount means the engine executes through a per-identity account.
	SubAccount bool `json:"subAccount"`
	// RuntimeSigner means the engine reports which public signer it is
	// bound to, so mismatches can be detected before submission.
	RuntimeSigner bool `json:"runtimeSigner"`
	// Shielding means Shield, Unshield and ShieldContract are available.
	Shielding bool `json:"shielding"`
}

// Receipt identifies a confirmed submission.
type Receipt struct {
	TxHash common.Hash `json:"txHash"`
}

// InitRequest opens a Handle.
type InitRequest struct {
	ChainID uint64
	Owner   common.Address
	Seed    string
	// Signer is the connected public wallet. Out-of-process engines receive
	// only Owner.
	Signer wallet.Signer
}

// QuoteRequest prices a sequence of operations.
type QuoteRequest struct {
	ChainID    uint64
	SubAccount common.Address
	Ops        []Operation
	FeeToken   common.Address
	Tokens     []common.Address
}

// Client is the engine's session-independent surface.
type Client interface {
	// DeriveIdentity returns the private address controlled by seed.
	DeriveIdentity(ctx context.Context, seed string) (string, error)
	// InitSession opens a Handle. It is idempotent per request tuple.
	InitSession(ctx context.Context, req InitRequest) (Handle, error)
	// FeeQuote prices ops when paid in req.FeeToken.
	FeeQuote(ctx context.Context, req QuoteRequest) (*fees.Quote, error)
}

// Handle is an initialized engine session.
type Handle interface {
	Capabilities() Capabilities
	PrivateAddress() string
	// RuntimeSigner is the public signer the engine believes it serves.
	RuntimeSigner() common.Address
	SubAccount(ctx context.Context) (common.Address, error)
	SpendableBalance(ctx context.Context, token common.Address, force bool) (*big.Int, error)
	// Submit executes ops atomically and pays the engine fee in feeToken.
	Submit(ctx context.Context, ops []Operation, feeToken common.Address) (Receipt, error)
	Shield(ctx context.Context, token common.Address, amount *big.Int) (Receipt, error)
	Unshield(ctx context.Context, token common.Address, amount *big.Int, recipient common.Address) (Receipt, error)
	ShieldContract(ctx context.Context) (common.Address, error)
}
