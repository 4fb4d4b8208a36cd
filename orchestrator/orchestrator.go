// Package orchestrator sequences every private action: it acquires the
// session, validates the signer and the adapter configuration, gates the
// action on a fee reserve, submits through the privacy engine and advances
// the position's authorization chain.
//
// One Orchestrator serves one connected wallet. Its methods are safe to call
// from several goroutines but run one at a time.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/adapter"
	"github.com/ggoodman/hush/engine"
	"github.com/ggoodman/hush/errs"
	"github.com/ggoodman/hush/fees"
	"github.com/ggoodman/hush/identity"
	"github.com/ggoodman/hush/internal/logctx"
	"github.com/ggoodman/hush/internal/units"
	"github.com/ggoodman/hush/ledger"
	"github.com/ggoodman/hush/reconcile"
	"github.com/ggoodman/hush/sessionkey"
	"github.com/ggoodman/hush/sessions"
	"github.com/ggoodman/hush/wallet"
	"golang.org/x/sync/semaphore"
)

// DefaultChainID is Arbitrum One.
const DefaultChainID = 42161

// Addresses resolves the contract addresses an action needs. Resolution is
// lazy so a bad value fails the action that needs it, never the process.
type Addresses interface {
	Adapter() (common.Address, error)
	Executor() (common.Address, error)
	SupplyToken() (common.Address, error)
	BorrowToken() (common.Address, error)
}

// Deps are the collaborators an Orchestrator is built from.
type Deps struct {
	Signer    wallet.Signer
	Store     *sessions.Store
	Engines   *engine.Cache
	Reader    adapter.Reader
	Addresses Addresses
	// Purger, when set, runs once before the first login.
	Purger *sessions.Purger
}

// Event is a side note for the user, such as a fee estimate.
type Event struct {
	Action  string
	Message string
}

// Decimals of the supply and borrow tokens, for display.
type Decimals struct {
	Supply uint8
	Borrow uint8
}

type Orchestrator struct {
	deps      Deps
	chainID   uint64
	decimals  Decimals
	policy    fees.Policy
	calc      atomic.Pointer[fees.Calculator]
	reconcile []reconcile.Option
	events    func(Event)
	log       *slog.Logger

	sem    *semaphore.Weighted
	active *active
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithChainID sets the only chain actions may run on.
func WithChainID(id uint64) Option {
	return func(o *Orchestrator) { o.chainID = id }
}

// WithDecimals sets token decimals used in messages.
func WithDecimals(d Decimals) Option {
	return func(o *Orchestrator) { o.decimals = d }
}

// WithFeePolicy decides what happens when no fee quote is available.
func WithFeePolicy(p fees.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithFeeCalculator sets the initial reserve calculator.
func WithFeeCalculator(c fees.Calculator) Option {
	return func(o *Orchestrator) { o.calc.Store(&c) }
}

// WithReconcileOptions tunes balance reconciliation.
func WithReconcileOptions(opts ...reconcile.Option) Option {
	return func(o *Orchestrator) { o.reconcile = append(o.reconcile, opts...) }
}

// WithEvents registers a callback for user-facing notes.
func WithEvents(fn func(Event)) Option {
	return func(o *Orchestrator) { o.events = fn }
}

// New returns an Orchestrator. Signer, Store, Engines, Reader and Addresses
// are required.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Signer == nil:
		return nil, fmt.Errorf("orchestrator: signer is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator: session store is required")
	case deps.Engines == nil:
		return nil, fmt.Errorf("orchestrator: engine cache is required")
	case deps.Reader == nil:
		return nil, fmt.Errorf("orchestrator: adapter reader is required")
	case deps.Addresses == nil:
		return nil, fmt.Errorf("orchestrator: addresses are required")
	}
	o := &Orchestrator{
		deps:     deps,
		chainID:  DefaultChainID,
		decimals: Decimals{Supply: 6, Borrow: 18},
		policy:   fees.FailOpen,
		log:      slog.Default(),
		sem:      semaphore.NewWeighted(1),
	}
	def := fees.Default()
	o.calc.Store(&def)
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SetFeeCalculator swaps the reserve calculator for subsequent actions.
func (o *Orchestrator) SetFeeCalculator(c fees.Calculator) {
	o.calc.Store(&c)
}

// FeeCalculator returns the calculator in effect.
func (o *Orchestrator) FeeCalculator() fees.Calculator {
	return *o.calc.Load()
}

// Signer returns the connected wallet.
func (o *Orchestrator) Signer() wallet.Signer { return o.deps.Signer }

func (o *Orchestrator) acquire(ctx context.Context) (func(), error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { o.sem.Release(1) }, nil
}

func (o *Orchestrator) emit(action, format string, args ...any) {
	if o.events != nil {
		o.events(Event{Action: action, Message: fmt.Sprintf(format, args...)})
	}
}

func (o *Orchestrator) formatter(token common.Address) func(*big.Int) string {
	if borrow, err := o.deps.Addresses.BorrowToken(); err == nil && borrow == token {
		return units.Formatter(o.decimals.Borrow)
	}
	return units.Formatter(o.decimals.Supply)
}

// active is the in-memory session. It is only touched while the semaphore
// is held.
type active struct {
	chainID uint64
	owner   common.Address
	key     [32]byte
	sess    *sessions.Session
	ledger  *ledger.Ledger
}

func (a *active) initRequest(signer wallet.Signer) engine.InitRequest {
	return engine.InitRequest{ChainID: a.chainID, Owner: a.owner, Seed: a.sess.SeedMaterial, Signer: signer}
}

func (a *active) ownerCommitment() common.Hash {
	return identity.OwnerCommitment(a.sess.PrivateAddress)
}

// Status describes the active session.
type Status struct {
	ChainID        uint64
	Owner          common.Address
	PrivateAddress string
	Positions      int
	UpdatedAt      int64
}

// LoginResult is returned by Login and Import.
type LoginResult struct {
	Status
	// Created is set when a new identity was generated.
	Created bool
	// Mnemonic is the new seed phrase, set only when Created. It is shown
	// once for backup.
	Mnemonic string
	// Skipped lists stored position entries that could not be parsed.
	Skipped []string
}

// Login derives the session key from a wallet signature and loads the
// stored session, creating a new identity when none is usable.
func (o *Orchestrator) Login(ctx context.Context) (*LoginResult, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	o.purgeLegacy(ctx)
	d, err := o.derive(ctx)
	if err != nil {
		return nil, err
	}

	sess, err := o.deps.Store.Load(ctx, d.ChainID, d.Owner, d.Key[:])
	if err != nil {
		return nil, err
	}
	res := &LoginResult{}
	if sess == nil {
		mnemonic, err := identity.NewMnemonic(identity.DefaultMnemonicBits)
		if err != nil {
			return nil, err
		}
		sess, err = o.newSession(ctx, mnemonic)
		if err != nil {
			return nil, err
		}
		if err := o.deps.Store.Save(ctx, d.ChainID, d.Owner, d.Key[:], sess); err != nil {
			return nil, err
		}
		res.Created = true
		res.Mnemonic = mnemonic
	}

	a := o.activate(d, sess)
	res.Skipped = o.loadLedger(ctx, a)
	res.Status = a.status()
	o.log.InfoContext(o.sessionContext(ctx, a), "orchestrator.login", slog.Bool("created", res.Created))
	return res, nil
}

// Import replaces the identity bound to the connected wallet with the one
// controlled by mnemonic. Known position secrets are discarded.
func (o *Orchestrator) Import(ctx context.Context, mnemonic string) (*LoginResult, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	mnemonic = identity.Normalize(mnemonic)
	if err := identity.ValidateMnemonic(mnemonic); err != nil {
		return nil, err
	}
	o.purgeLegacy(ctx)

	var d *sessionkey.Derived
	if a := o.active; a != nil && a.owner == o.deps.Signer.Address() {
		d = &sessionkey.Derived{ChainID: a.chainID, Owner: a.owner, Key: a.key}
		o.deps.Engines.Invalidate(engine.KeyFor(a.initRequest(nil)))
	} else if d, err = o.derive(ctx); err != nil {
		return nil, err
	}

	sess, err := o.newSession(ctx, mnemonic)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Store.Save(ctx, d.ChainID, d.Owner, d.Key[:], sess); err != nil {
		return nil, err
	}
	a := o.activate(d, sess)
	o.loadLedger(ctx, a)
	o.log.InfoContext(o.sessionContext(ctx, a), "orchestrator.import")
	return &LoginResult{Status: a.status()}, nil
}

// Logout discards the in-memory session. The stored record is kept.
func (o *Orchestrator) Logout(ctx context.Context) error {
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	o.active = nil
	return nil
}

// Forget deletes the stored session of the connected wallet and logs out.
func (o *Orchestrator) Forget(ctx context.Context) error {
	release, err := o.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	chainID, owner := o.chainID, o.deps.Signer.Address()
	if a := o.active; a != nil {
		chainID, owner = a.chainID, a.owner
		o.deps.Engines.Invalidate(engine.KeyFor(a.initRequest(nil)))
	} else if id, err := o.deps.Signer.ChainID(ctx); err == nil && id.IsUint64() {
		chainID = id.Uint64()
	}
	if err := o.deps.Store.Forget(ctx, chainID, owner); err != nil {
		return err
	}
	o.active = nil
	return nil
}

// Status returns the active session, if any.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	release, err := o.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	if o.active == nil {
		return nil, nil
	}
	s := o.active.status()
	return &s, nil
}

func (a *active) status() Status {
	return Status{
		ChainID:        a.chainID,
		Owner:          a.owner,
		PrivateAddress: a.sess.PrivateAddress,
		Positions:      len(a.ledger.IDs()),
		UpdatedAt:      a.sess.UpdatedAt,
	}
}

// purgeLegacy sweeps obsolete records before the store is first touched. A
// failure is logged and retried on the next call.
func (o *Orchestrator) purgeLegacy(ctx context.Context) {
	if o.deps.Purger == nil {
		return
	}
	if err := o.deps.Purger.Run(ctx); err != nil {
		o.log.WarnContext(ctx, "orchestrator.legacy_purge_failed", slog.String("err", err.Error()))
	}
}

func (o *Orchestrator) derive(ctx context.Context) (*sessionkey.Derived, error) {
	d, err := sessionkey.Derive(ctx, o.deps.Signer)
	if err != nil {
		return nil, err
	}
	if d.ChainID != o.chainID {
		return nil, errs.New(errs.KindSignerMismatch, "wrong chain: expected %d, got %d", o.chainID, d.ChainID).
			WithHint(fmt.Sprintf("Switch the wallet to chain %d", o.chainID))
	}
	return d, nil
}

func (o *Orchestrator) newSession(ctx context.Context, mnemonic string) (*sessions.Session, error) {
	addr, err := o.deps.Engines.Client().DeriveIdentity(ctx, mnemonic)
	if err != nil {
		return nil, engine.Unavailable(err, "identity derivation")
	}
	return &sessions.Session{
		PrivateAddress:  addr,
		SeedMaterial:    mnemonic,
		PositionSecrets: map[string]string{},
	}, nil
}

func (o *Orchestrator) activate(d *sessionkey.Derived, sess *sessions.Session) *active {
	a := &active{chainID: d.ChainID, owner: d.Owner, key: d.Key, sess: sess}
	o.active = a
	return a
}

// loadLedger builds the ledger from the session and writes every later
// change through to the store.
func (o *Orchestrator) loadLedger(ctx context.Context, a *active) []string {
	persist := func(ctx context.Context, secrets map[string]string) error {
		a.sess.PositionSecrets = secrets
		return o.deps.Store.Save(ctx, a.chainID, a.owner, a.key[:], a.sess)
	}
	l, skipped := ledger.New(a.sess.PositionSecrets, persist)
	if len(skipped) > 0 {
		o.log.WarnContext(ctx, "orchestrator.ledger.skipped_entries", slog.String("ids", strings.Join(skipped, ",")))
	}
	a.ledger = l
	return skipped
}

func (o *Orchestrator) sessionContext(ctx context.Context, a *active) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		ChainID:        a.chainID,
		Owner:          a.owner.Hex(),
		PrivateAddress: a.sess.PrivateAddress,
	})
}

// requireSession returns the active session after checking that the
// connected wallet still is its owner on the same chain.
func (o *Orchestrator) requireSession(ctx context.Context) (context.Context, *active, error) {
	a := o.active
	if a == nil {
		return ctx, nil, errs.New(errs.KindNoSession, "No active private session. Run `login` first.")
	}
	if addr := o.deps.Signer.Address(); !strings.EqualFold(addr.Hex(), a.owner.Hex()) {
		return ctx, nil, &errs.SignerMismatchError{Expected: a.owner.Hex(), Actual: addr.Hex(), Source: "wallet"}
	}
	id, err := o.deps.Signer.ChainID(ctx)
	if err != nil {
		return ctx, nil, errs.Wrap(errs.KindEngineUnavailable, err, "cannot read wallet chain id")
	}
	if !id.IsUint64() || id.Uint64() != a.chainID {
		return ctx, nil, errs.New(errs.KindSignerMismatch, "active privacy session is on chain %d, but the wallet is on chain %s", a.chainID, id).
			WithHint("Switch the wallet back or run login again")
	}
	return o.sessionContext(ctx, a), a, nil
}

func (o *Orchestrator) handle(ctx context.Context, a *active) (engine.Handle, error) {
	return o.deps.Engines.Get(ctx, a.initRequest(o.deps.Signer))
}

// settle drops the cached engine handle after a balance-mutating action so
// the next read is fresh.
func (o *Orchestrator) settle(a *active) {
	o.deps.Engines.Invalidate(engine.KeyFor(a.initRequest(nil)))
}

// submitFailed classifies a rejected submission.
func (o *Orchestrator) submitFailed(ctx context.Context, a *active, action string, err error) error {
	reason := engine.ReasonOf(err)
	o.log.DebugContext(ctx, "orchestrator.submit_failed", slog.String("action", action), slog.String("reason", reason.String()))
	if reason == engine.ReasonSignerMismatch {
		o.settle(a)
	}
	if errs.KindOf(err) == errs.KindUnknown {
		err = engine.Unavailable(err, action)
	}
	return fmt.Errorf("%s failed: %w", action, err)
}
