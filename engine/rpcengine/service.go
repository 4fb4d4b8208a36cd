package rpcengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ggoodman/hush/engine"
	"github.com/google/uuid"
)

// Service exposes an engine.Client for registration on an rpc.Server.
type Service struct {
	client engine.Client
	log    *slog.Logger

	mu      sync.Mutex
	handles map[string]engine.Handle
}

// NewService wraps client.
func NewService(client engine.Client, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{client: client, log: log, handles: map[string]engine.Handle{}}
}

// NewServer returns an rpc.Server with svc registered under Namespace.
func NewServer(svc *Service) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(Namespace, svc); err != nil {
		return nil, fmt.Errorf("failed to register engine service: %w", err)
	}
	return srv, nil
}

func (s *Service) handle(id string) (engine.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok {
		return nil, fmt.Errorf("unknown session handle %q", id)
	}
	return h, nil
}

func (s *Service) DeriveIdentity(ctx context.Context, seed string) (string, error) {
	return s.client.DeriveIdentity(ctx, seed)
}

func (s *Service) InitSession(ctx context.Context, p InitParams) (*SessionInfo, error) {
	h, err := s.client.InitSession(ctx, engine.InitRequest{
		ChainID: uint64(p.ChainID),
		Owner:   p.Owner,
		Seed:    p.Seed,
	})
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.handles[id] = h
	s.mu.Unlock()
	s.log.DebugContext(ctx, "rpcengine.session.open", slog.String("handle", id), slog.String("owner", p.Owner.Hex()))
	return &SessionInfo{
		Handle:         id,
		PrivateAddress: h.PrivateAddress(),
		RuntimeSigner:  h.RuntimeSigner(),
		Capabilities:   h.Capabilities(),
	}, nil
}

func (s *Service) CloseSession(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[handle]
	delete(s.handles, handle)
	return ok
}

func (s *Service) FeeQuote(ctx context.Context, p QuoteParams) (*QuoteResult, error) {
	q, err := s.client.FeeQuote(ctx, engine.QuoteRequest{
		ChainID:    uint64(p.ChainID),
		SubAccount: p.SubAccount,
		Ops:        p.Ops,
		FeeToken:   p.FeeToken,
		Tokens:     p.Tokens,
	})
	if err != nil {
		return nil, err
	}
	return &QuoteResult{FlatFee: bigOut(q.FlatFee), Alternate: bigOut(q.Alternate)}, nil
}

func (s *Service) SubAccount(ctx context.Context, handle string) (common.Address, error) {
	h, err := s.handle(handle)
	if err != nil {
		return common.Address{}, err
	}
	return h.SubAccount(ctx)
}

func (s *Service) SpendableBalance(ctx context.Context, handle string, token common.Address, force bool) (*hexutil.Big, error) {
	h, err := s.handle(handle)
	if err != nil {
		return nil, err
	}
	bal, err := h.SpendableBalance(ctx, token, force)
	if err != nil {
		return nil, err
	}
	return (*hexutil.Big)(bal), nil
}

func (s *Service) Submit(ctx context.Context, handle string, ops []engine.Operation, feeToken common.Address) (*engine.Receipt, error) {
	h, err := s.handle(handle)
	if err != nil {
		return nil, err
	}
	r, err := h.Submit(ctx, ops, feeToken)
	if err != nil {
		return nil, rejected(err)
	}
	return &r, nil
}

func (s *Service) Shield(ctx context.Context, handle string, token common.Address, amount *hexutil.Big) (*engine.Receipt, error) {
	h, err := s.handle(handle)
	if err != nil {
		return nil, err
	}
	r, err := h.Shield(ctx, token, bigIn(amount))
	if err != nil {
		return nil, rejected(err)
	}
	return &r, nil
}

func (s *Service) Unshield(ctx context.Context, handle string, token common.Address, amount *hexutil.Big, recipient common.Address) (*engine.Receipt, error) {
	h, err := s.handle(handle)
	if err != nil {
		return nil, err
	}
	r, err := h.Unshield(ctx, token, bigIn(amount), recipient)
	if err != nil {
		return nil, rejected(err)
	}
	return &r, nil
}

func (s *Service) ShieldContract(ctx context.Context, handle string) (common.Address, error) {
	h, err := s.handle(handle)
	if err != nil {
		return common.Address{}, err
	}
	return h.ShieldContract(ctx)
}

// rejected keeps structured reasons intact across the wire. Plain errors are
// sent as text.
func rejected(err error) error {
	var se *engine.SubmitError
	if errors.As(err, &se) {
		return &rejection{reason: se.Reason, msg: se.Message}
	}
	return err
}

func bigOut(v *big.Int) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(v))
}

func bigIn(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}
