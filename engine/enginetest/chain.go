// Package enginetest provides an in-memory privacy engine and lending
// adapter for tests. The adapter enforces the authorization hash chain
// exactly: a call whose revealed secret does not hash to the committed value
// is rejected.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"slices"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ggoodman/hush/adapter"
	"github.com/ggoodman/hush/engine"
)

// Vault is the lending vault every stub position reports.
var Vault = common.HexToAddress("0x000000000000000000000000000000000000ba5e")

// ChainConfig wires the stub adapter.
type ChainConfig struct {
	Adapter      common.Address
	Executor     common.Address
	SupplyToken  common.Address
	BorrowTokens []common.Address
}

// Submission records one call to Submit.
type Submission struct {
	Private  string
	Calls    []adapter.Call
	FeeToken common.Address
	Err      error
}

type position struct {
	owner    common.Hash
	token    common.Address
	amount   *big.Int
	authHash common.Hash
}

type state struct {
	positions map[uint64]*position
	nextID    uint64
	private   map[string]map[common.Address]*big.Int
	public    map[common.Address]map[common.Address]*big.Int
	held      map[common.Address]*big.Int
	debt      map[uint64]map[common.Address]*big.Int
}

func newState() *state {
	return &state{
		positions: map[uint64]*position{},
		nextID:    1,
		private:   map[string]map[common.Address]*big.Int{},
		public:    map[common.Address]map[common.Address]*big.Int{},
		held:      map[common.Address]*big.Int{},
		debt:      map[uint64]map[common.Address]*big.Int{},
	}
}

func cloneBalances[K comparable](in map[K]map[common.Address]*big.Int) map[K]map[common.Address]*big.Int {
	out := make(map[K]map[common.Address]*big.Int, len(in))
	for k, inner := range in {
		out[k] = cloneAmounts(inner)
	}
	return out
}

func cloneAmounts(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func (s *state) clone() *state {
	out := &state{
		positions: make(map[uint64]*position, len(s.positions)),
		nextID:    s.nextID,
		private:   cloneBalances(s.private),
		public:    cloneBalances(s.public),
		held:      cloneAmounts(s.held),
		debt:      cloneBalances(s.debt),
	}
	for id, p := range s.positions {
		cp := *p
		cp.amount = new(big.Int).Set(p.amount)
		out.positions[id] = &cp
	}
	return out
}

func balance[K comparable](m map[K]map[common.Address]*big.Int, k K, token common.Address) *big.Int {
	inner, ok := m[k]
	if !ok {
		inner = map[common.Address]*big.Int{}
		m[k] = inner
	}
	v, ok := inner[token]
	if !ok {
		v = new(big.Int)
		inner[token] = v
	}
	return v
}

// Chain is the stub lending adapter plus token ledgers. It implements
// adapter.Reader.
type Chain struct {
	mu        sync.Mutex
	cfg       ChainConfig
	borrow    mapset.Set[common.Address]
	st        *state
	flatFee   *big.Int
	alternate *big.Int
	quoteErr  error
	rounding  bool
	textErrs  bool
	lag       map[string]lagEntry
	forcedErr error
	failures  []error
	txCount   uint64
	subs      []Submission
}

type lagEntry struct {
	stale *big.Int
	reads int
}

var _ adapter.Reader = (*Chain)(nil)

// NewChain returns an empty chain.
func NewChain(cfg ChainConfig) *Chain {
	return &Chain{
		cfg:     cfg,
		borrow:  mapset.NewSet(cfg.BorrowTokens...),
		st:      newState(),
		flatFee: new(big.Int),
		lag:     map[string]lagEntry{},
	}
}

// CreditPrivate adds amount of token to a private balance.
func (c *Chain) CreditPrivate(private string, token common.Address, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := balance(c.st.private, strings.ToLower(private), token)
	b.Add(b, big.NewInt(amount))
}

// CreditPublic adds amount of token to a public account.
func (c *Chain) CreditPublic(account, token common.Address, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := balance(c.st.public, account, token)
	b.Add(b, big.NewInt(amount))
}

// PrivateBalance returns the true private balance.
func (c *Chain) PrivateBalance(private string, token common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(balance(c.st.private, strings.ToLower(private), token))
}

// PublicBalance returns a public account's balance.
func (c *Chain) PublicBalance(account, token common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(balance(c.st.public, account, token))
}

// Debt returns the outstanding debt of a position.
func (c *Chain) Debt(id uint64, token common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(balance(c.st.debt, id, token))
}

// SetQuote sets the flat fee quoted and charged per submission, and the
// alternate estimate.
func (c *Chain) SetQuote(flatFee, alternate int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flatFee = big.NewInt(flatFee)
	c.alternate = big.NewInt(alternate)
}

// FailQuotes makes every fee quote fail with err. nil restores quoting.
func (c *Chain) FailQuotes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quoteErr = err
}

// RejectFullWithdrawals makes the adapter reject any withdrawal of a
// position's entire amount, as the lending pool does when its available
// balance rounds down by one unit.
func (c *Chain) RejectFullWithdrawals(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounding = on
}

// TextErrors makes Submit return plain errors instead of
// *engine.SubmitError, as engines without structured errors do.
func (c *Chain) TextErrors(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.textErrs = on
}

// FailSubmits queues errors returned, in order, by the next submissions
// after their calls are decoded and recorded.
func (c *Chain) FailSubmits(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

// LagReads makes the next n unforced balance reads of (private, token)
// return stale.
func (c *Chain) LagReads(private string, token common.Address, stale int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lag[lagKey(private, token)] = lagEntry{stale: big.NewInt(stale), reads: n}
}

// FailForcedReads makes every forced balance read fail with err. Unforced
// reads still succeed. A nil err restores normal reads.
func (c *Chain) FailForcedReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forcedErr = err
}

// SetExecutor rebinds the adapter's privacy executor.
func (c *Chain) SetExecutor(a common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Executor = a
}

// AllowBorrowToken toggles a borrow token.
func (c *Chain) AllowBorrowToken(token common.Address, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.borrow.Add(token)
	} else {
		c.borrow.Remove(token)
	}
}

// Submissions returns every recorded submission.
func (c *Chain) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subs)
}

func lagKey(private string, token common.Address) string {
	return strings.ToLower(private) + "/" + strings.ToLower(token.Hex())
}

func (c *Chain) readBalance(private string, token common.Address, force bool) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if force && c.forcedErr != nil {
		return nil, c.forcedErr
	}
	k := lagKey(private, token)
	if l, ok := c.lag[k]; ok && !force && l.reads > 0 {
		l.reads--
		c.lag[k] = l
		return new(big.Int).Set(l.stale), nil
	}
	delete(c.lag, k)
	return new(big.Int).Set(balance(c.st.private, strings.ToLower(private), token)), nil
}

func (c *Chain) quote() (*big.Int, *big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.quoteErr != nil {
		return nil, nil, c.quoteErr
	}
	var alt *big.Int
	if c.alternate != nil {
		alt = new(big.Int).Set(c.alternate)
	}
	return new(big.Int).Set(c.flatFee), alt, nil
}

func (c *Chain) fail(reason engine.Reason, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if c.textErrs {
		return errors.New(msg)
	}
	return &engine.SubmitError{Reason: reason, Message: msg}
}

func (c *Chain) nextTx() common.Hash {
	c.txCount++
	return crypto.Keccak256Hash(new(big.Int).SetUint64(c.txCount).Bytes())
}

// execute applies ops atomically for a private account.
func (c *Chain) execute(private string, ops []engine.Operation, feeToken common.Address) (engine.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	private = strings.ToLower(private)

	sub := Submission{Private: private, FeeToken: feeToken}
	receipt, err := c.applyLocked(private, ops, feeToken, &sub)
	sub.Err = err
	c.subs = append(c.subs, sub)
	return receipt, err
}

func (c *Chain) applyLocked(private string, ops []engine.Operation, feeToken common.Address, sub *Submission) (engine.Receipt, error) {
	st := c.st.clone()
	for i, op := range ops {
		call, err := adapter.Decode(op)
		if err != nil {
			return engine.Receipt{}, c.fail(engine.ReasonRejected, "op %d: %v", i, err)
		}
		sub.Calls = append(sub.Calls, call)
	}
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return engine.Receipt{}, err
	}
	for _, call := range sub.Calls {
		if err := c.applyCall(st, private, call); err != nil {
			return engine.Receipt{}, err
		}
	}

	fee := balance(st.private, private, feeToken)
	if fee.Cmp(c.flatFee) < 0 {
		return engine.Receipt{}, c.fail(engine.ReasonInsufficientFunds, "insufficient funds for operations plus fee %s", c.flatFee)
	}
	fee.Sub(fee, c.flatFee)

	c.st = st
	return engine.Receipt{TxHash: c.nextTx()}, nil
}

func debit(b, amount *big.Int) bool {
	if b.Cmp(amount) < 0 {
		return false
	}
	b.Sub(b, amount)
	return true
}

func (c *Chain) authorize(st *state, id *big.Int, secret [32]byte, next common.Hash) (*position, error) {
	if !id.IsUint64() {
		return nil, c.fail(engine.ReasonRejected, "position id out of range")
	}
	p, ok := st.positions[id.Uint64()]
	if !ok {
		return nil, c.fail(engine.ReasonRejected, "execution reverted: unknown position %s", id)
	}
	if crypto.Keccak256Hash(secret[:]) != p.authHash {
		return nil, c.fail(engine.ReasonUnauthorized, "execution reverted: invalid auth secret for position %s", id)
	}
	if next == (common.Hash{}) {
		return nil, c.fail(engine.ReasonRejected, "execution reverted: empty next auth hash")
	}
	return p, nil
}

func (c *Chain) applyCall(st *state, private string, call adapter.Call) error {
	switch {
	case call.Transfer != nil:
		t := call.Transfer
		if !debit(balance(st.private, private, t.Token), t.Amount) {
			return c.fail(engine.ReasonInsufficientFunds, "insufficient funds: transfer of %s %s", t.Amount, t.Token.Hex())
		}
		if t.To == c.cfg.Adapter {
			held, ok := st.held[t.Token]
			if !ok {
				held = new(big.Int)
				st.held[t.Token] = held
			}
			held.Add(held, t.Amount)
			return nil
		}
		b := balance(st.public, t.To, t.Token)
		b.Add(b, t.Amount)
		return nil

	case call.Deposit != nil:
		d := call.Deposit
		if d.Adapter != c.cfg.Adapter || d.Token != c.cfg.SupplyToken {
			return c.fail(engine.ReasonRejected, "execution reverted: unsupported deposit token %s", d.Token.Hex())
		}
		held := st.held[d.Token]
		if held == nil || !debit(held, d.Amount) {
			return c.fail(engine.ReasonRejected, "execution reverted: deposit not funded")
		}
		st.positions[st.nextID] = &position{owner: d.Owner, token: d.Token, amount: new(big.Int).Set(d.Amount), authHash: d.AuthHash}
		st.nextID++
		return nil

	case call.Withdraw != nil:
		w := call.Withdraw
		p, err := c.authorize(st, w.PositionID, w.Secret, w.NextHash)
		if err != nil {
			return err
		}
		if w.Amount.Sign() <= 0 || w.Amount.Cmp(p.amount) > 0 {
			return c.fail(engine.ReasonRejected, "execution reverted: withdraw amount %s exceeds %s", w.Amount, p.amount)
		}
		if c.rounding && w.Amount.Cmp(p.amount) == 0 {
			return c.fail(engine.ReasonAvailableBalanceRounding, "execution reverted: custom error 0x47bc4b2c NotEnoughAvailableUserBalance()")
		}
		p.amount.Sub(p.amount, w.Amount)
		p.authHash = w.NextHash
		c.credit(st, private, w.Recipient, p.token, w.Amount)
		return nil

	case call.Borrow != nil:
		b := call.Borrow
		p, err := c.authorize(st, b.PositionID, b.Secret, b.NextHash)
		if err != nil {
			return err
		}
		if !c.borrow.Contains(b.DebtToken) {
			return c.fail(engine.ReasonRejected, "execution reverted: borrow token not allowed")
		}
		if p.amount.Sign() == 0 {
			return c.fail(engine.ReasonRejected, "execution reverted: no collateral")
		}
		d := balance(st.debt, b.PositionID.Uint64(), b.DebtToken)
		d.Add(d, b.Amount)
		p.authHash = b.NextHash
		c.credit(st, private, b.Recipient, b.DebtToken, b.Amount)
		return nil

	case call.Repay != nil:
		r := call.Repay
		p, err := c.authorize(st, r.PositionID, r.Secret, r.NextHash)
		if err != nil {
			return err
		}
		held := st.held[r.DebtToken]
		if held == nil || !debit(held, r.Amount) {
			return c.fail(engine.ReasonRejected, "execution reverted: repay not funded")
		}
		d := balance(st.debt, r.PositionID.Uint64(), r.DebtToken)
		if d.Cmp(r.Amount) < 0 {
			d.SetInt64(0)
		} else {
			d.Sub(d, r.Amount)
		}
		p.authHash = r.NextHash
		return nil
	}
	return c.fail(engine.ReasonRejected, "unsupported call")
}

// credit pays recipient. Funds sent to the executor land back in the
// private balance that initiated the call.
func (c *Chain) credit(st *state, private string, recipient, token common.Address, amount *big.Int) {
	var b *big.Int
	if recipient == c.cfg.Executor {
		b = balance(st.private, private, token)
	} else {
		b = balance(st.public, recipient, token)
	}
	b.Add(b, amount)
}

func (c *Chain) shield(owner common.Address, private string, token common.Address, amount *big.Int) (engine.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.st.clone()
	if !debit(balance(st.public, owner, token), amount) {
		return engine.Receipt{}, c.fail(engine.ReasonInsufficientFunds, "insufficient funds: public balance below %s", amount)
	}
	b := balance(st.private, strings.ToLower(private), token)
	b.Add(b, amount)
	c.st = st
	return engine.Receipt{TxHash: c.nextTx()}, nil
}

func (c *Chain) unshield(private string, token common.Address, amount *big.Int, recipient common.Address) (engine.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.st.clone()
	if !debit(balance(st.private, strings.ToLower(private), token), amount) {
		return engine.Receipt{}, c.fail(engine.ReasonInsufficientFunds, "insufficient funds: private balance below %s", amount)
	}
	b := balance(st.public, recipient, token)
	b.Add(b, amount)
	c.st = st
	return engine.Receipt{TxHash: c.nextTx()}, nil
}

func (c *Chain) checkAdapter(a common.Address) error {
	if a != c.cfg.Adapter {
		return fmt.Errorf("no contract code at %s", a.Hex())
	}
	return nil
}

func (c *Chain) PrivacyExecutor(_ context.Context, a common.Address) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAdapter(a); err != nil {
		return common.Address{}, err
	}
	return c.cfg.Executor, nil
}

func (c *Chain) SupplyToken(_ context.Context, a common.Address) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAdapter(a); err != nil {
		return common.Address{}, err
	}
	return c.cfg.SupplyToken, nil
}

func (c *Chain) IsBorrowTokenAllowed(_ context.Context, a, token common.Address) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAdapter(a); err != nil {
		return false, err
	}
	return c.borrow.Contains(token), nil
}

func (c *Chain) OwnerPositionIDs(_ context.Context, a common.Address, owner common.Hash) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAdapter(a); err != nil {
		return nil, err
	}
	var ids []uint64
	for _, id := range slices.Sorted(maps.Keys(c.st.positions)) {
		if c.st.positions[id].owner == owner {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *Chain) Position(_ context.Context, a common.Address, id uint64) (*adapter.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkAdapter(a); err != nil {
		return nil, err
	}
	p, ok := c.st.positions[id]
	if !ok {
		return &adapter.Position{ID: id, Amount: new(big.Int)}, nil
	}
	return &adapter.Position{
		ID:              id,
		OwnerCommitment: p.owner,
		Vault:           Vault,
		Token:           p.token,
		Amount:          new(big.Int).Set(p.amount),
		AuthHash:        p.authHash,
	}, nil
}
