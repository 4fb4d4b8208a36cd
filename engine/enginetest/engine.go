package enginetest

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/fees"
	"github.com/ggoodman/hush/identity"
)

// ShieldContract is the address stub handles report for shielding.
var ShieldContract = common.HexToAddress("0x000000000000000000000000000000000005e1d0")

// Engine is an in-memory engine.Client backed by a Chain.
type Engine struct {
	chain *Chain
	inits atomic.Int64

	mu      sync.Mutex
	caps    engine.Capabilities
	signer  *common.Address
	initErr error
}

var _ engine.Client = (*Engine)(nil)

// NewEngine returns an engine with every capability enabled.
func NewEngine(chain *Chain) *Engine {
	return &Engine{
		chain: chain,
		caps: engine.Capabilities{
			Balances:      true,
			FeeQuotes:     true,
			SubAccount:    true,
			RuntimeSigner: true,
			Shielding:     true,
		},
	}
}

// Chain returns the backing chain.
func (e *Engine) Chain() *Chain { return e.chain }

// Inits reports how many handles have been initialized.
func (e *Engine) Inits() int { return int(e.inits.Load()) }

// SetCapabilities replaces the capabilities of handles created afterwards.
func (e *Engine) SetCapabilities(caps engine.Capabilities) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.caps = caps
}

// BindRuntimeSigner makes new handles report addr as their runtime signer
// regardless of the requested owner. The zero address restores the default.
func (e *Engine) BindRuntimeSigner(addr common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if addr == (common.Address{}) {
		e.signer = nil
		return
	}
	e.signer = &addr
}

// FailInit makes InitSession fail with err. nil restores it.
func (e *Engine) FailInit(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initErr = err
}

// PrivateAddress formats the private address the stub derives for an
// identity key address.
func PrivateAddress(addr common.Address) string {
	return "0zk" + strings.ToLower(addr.Hex()[2:])
}

func (e *Engine) DeriveIdentity(_ context.Context, seed string) (string, error) {
	addr, err := identity.DeriveAddress(seed)
	if err != nil {
		return "", err
	}
	return PrivateAddress(addr), nil
}

func (e *Engine) InitSession(ctx context.Context, req engine.InitRequest) (engine.Handle, error) {
	e.mu.Lock()
	caps, bound, initErr := e.caps, e.signer, e.initErr
	e.mu.Unlock()
	if initErr != nil {
		return nil, initErr
	}
	if req.Owner == (common.Address{}) {
		return nil, errors.New("owner is required")
	}

	private, err := e.DeriveIdentity(ctx, req.Seed)
	if err != nil {
		return nil, err
	}
	signer := req.Owner
	if bound != nil {
		signer = *bound
	}
	e.inits.Add(1)
	return &handle{
		chain:   e.chain,
		owner:   req.Owner,
		private: private,
		signer:  signer,
		caps:    caps,
	}, nil
}

func (e *Engine) FeeQuote(_ context.Context, req engine.QuoteRequest) (*fees.Quote, error) {
	if len(req.Ops) == 0 {
		return nil, errors.New("nothing to quote")
	}
	flat, alt, err := e.chain.quote()
	if err != nil {
		return nil, err
	}
	return &fees.Quote{FlatFee: flat, Alternate: alt}, nil
}

type handle struct {
	chain   *Chain
	owner   common.Address
	private string
	signer  common.Address
	caps    engine.Capabilities
}

var _ engine.Handle = (*handle)(nil)

func (h *handle) Capabilities() engine.Capabilities { return h.caps }
func (h *handle) PrivateAddress() string             { return h.private }
func (h *handle) RuntimeSigner() common.Address      { return h.signer }

func (h *handle) SubAccount(context.Context) (common.Address, error) {
	if !h.caps.SubAccount {
		return common.Address{}, errors.New("sub-account not supported")
	}
	return common.BytesToAddress(crypto.Keccak256([]byte(h.private))[12:]), nil
}

func (h *handle) SpendableBalance(_ context.Context, token common.Address, force bool) (*big.Int, error) {
	if !h.caps.Balances {
		return nil, errors.New("balances not supported")
	}
	return h.chain.readBalance(h.private, token, force)
}

func (h *handle) Submit(_ context.Context, ops []engine.Operation, feeToken common.Address) (engine.Receipt, error) {
	if len(ops) == 0 {
		return engine.Receipt{}, errors.New("empty operation sequence")
	}
	return h.chain.execute(h.private, ops, feeToken)
}

func (h *handle) Shield(_ context.Context, token common.Address, amount *big.Int) (engine.Receipt, error) {
	if !h.caps.Shielding {
		return engine.Receipt{}, errors.New("shielding not supported")
	}
	return h.chain.shield(h.owner, h.private, token, amount)
}

func (h *handle) Unshield(_ context.Context, token common.Address, amount *big.Int, recipient common.Address) (engine.Receipt, error) {
	if !h.caps.Shielding {
		return engine.Receipt{}, errors.New("shielding not supported")
	}
	return h.chain.unshield(h.private, token, amount, recipient)
}

func (h *handle) ShieldContract(context.Context) (common.Address, error) {
	if !h.caps.Shielding {
		return common.Address{}, errors.New("shielding not supported")
	}
	return ShieldContract, nil
}
