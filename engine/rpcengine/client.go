package rpcengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/fees"
	"github.com/ggoodman/hush/internal/logctx"
)

// Client is an engine.Client backed by a JSON-RPC connection.
type Client struct {
	rpc *rpc.Client
	log *slog.Logger
}

var _ engine.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Dial connects to the engine at url (http, ws or ipc).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, engine.Unavailable(fmt.Errorf("dial %s: %w", url, err), "connection")
	}
	return New(rc, opts...), nil
}

// New wraps an established connection.
func New(rc *rpc.Client, opts ...Option) *Client {
	c := &Client{rpc: rc, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close releases the connection.
func (c *Client) Close() { c.rpc.Close() }

func (c *Client) call(ctx context.Context, handle string, result any, method string, args ...any) error {
	method = Namespace + "_" + method
	ctx = logctx.WithRPCCall(ctx, &logctx.RPCCall{Method: method, Handle: handle})
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		c.log.DebugContext(ctx, "rpcengine.call.failed", slog.String("err", err.Error()))
		return err
	}
	return nil
}

func (c *Client) DeriveIdentity(ctx context.Context, seed string) (string, error) {
	var addr string
	if err := c.call(ctx, "", &addr, "deriveIdentity", seed); err != nil {
		return "", engine.Unavailable(err, "identity derivation")
	}
	return addr, nil
}

func (c *Client) InitSession(ctx context.Context, req engine.InitRequest) (engine.Handle, error) {
	var info SessionInfo
	err := c.call(ctx, "", &info, "initSession", InitParams{
		ChainID: hexutil.Uint64(req.ChainID),
		Owner:   req.Owner,
		Seed:    req.Seed,
	})
	if err != nil {
		return nil, err
	}
	return &handle{c: c, info: info}, nil
}

func (c *Client) FeeQuote(ctx context.Context, req engine.QuoteRequest) (*fees.Quote, error) {
	var res QuoteResult
	err := c.call(ctx, "", &res, "feeQuote", QuoteParams{
		ChainID:    hexutil.Uint64(req.ChainID),
		SubAccount: req.SubAccount,
		Ops:        req.Ops,
		FeeToken:   req.FeeToken,
		Tokens:     req.Tokens,
	})
	if err != nil {
		return nil, err
	}
	q := &fees.Quote{}
	if res.FlatFee != nil {
		q.FlatFee = res.FlatFee.ToInt()
	}
	if res.Alternate != nil {
		q.Alternate = res.Alternate.ToInt()
	}
	return q, nil
}

type handle struct {
	c    *Client
	info SessionInfo
}

func (h *handle) Capabilities() engine.Capabilities { return h.info.Capabilities }
func (h *handle) PrivateAddress() string             { return h.info.PrivateAddress }
func (h *handle) RuntimeSigner() common.Address      { return h.info.RuntimeSigner }

func (h *handle) SubAccount(ctx context.Context) (common.Address, error) {
	var a common.Address
	err := h.c.call(ctx, h.info.Handle, &a, "subAccount", h.info.Handle)
	return a, err
}

func (h *handle) SpendableBalance(ctx context.Context, token common.Address, force bool) (*big.Int, error) {
	var bal hexutil.Big
	if err := h.c.call(ctx, h.info.Handle, &bal, "spendableBalance", h.info.Handle, token, force); err != nil {
		return nil, err
	}
	return bal.ToInt(), nil
}

func (h *handle) Submit(ctx context.Context, ops []engine.Operation, feeToken common.Address) (engine.Receipt, error) {
	var r engine.Receipt
	err := h.c.call(ctx, h.info.Handle, &r, "submit", h.info.Handle, ops, feeToken)
	return r, asSubmitError(err)
}

func (h *handle) Shield(ctx context.Context, token common.Address, amount *big.Int) (engine.Receipt, error) {
	var r engine.Receipt
	err := h.c.call(ctx, h.info.Handle, &r, "shield", h.info.Handle, token, (*hexutil.Big)(amount))
	return r, asSubmitError(err)
}

func (h *handle) Unshield(ctx context.Context, token common.Address, amount *big.Int, recipient common.Address) (engine.Receipt, error) {
	var r engine.Receipt
	err := h.c.call(ctx, h.info.Handle, &r, "unshield", h.info.Handle, token, (*hexutil.Big)(amount), recipient)
	return r, asSubmitError(err)
}

func (h *handle) ShieldContract(ctx context.Context) (common.Address, error) {
	var a common.Address
	err := h.c.call(ctx, h.info.Handle, &a, "shieldContract", h.info.Handle)
	return a, err
}

// asSubmitError restores a structured rejection sent by Service.
func asSubmitError(err error) error {
	if err == nil {
		return nil
	}
	var re rpc.Error
	if !errors.As(err, &re) || re.ErrorCode() != codeSubmitRejected {
		return err
	}
	reason := engine.ReasonRejected
	var de rpc.DataError
	if errors.As(err, &de) {
		if name, ok := de.ErrorData().(string); ok {
			reason = engine.ParseReason(name)
		}
	}
	return &engine.SubmitError{Reason: reason, Message: re.Error()}
}
