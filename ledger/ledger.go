// Package ledger tracks the current authorization secret for every lending
// position a private identity owns and advances it along the commit-reveal
// chain.
//
// A position is Unknown until a supply binds it, Open while its secret is
// known locally, and Closed once a withdraw drains it. Rotation replaces the
// secret that was just revealed with the one whose hash was committed in the
// same call. Every mutation is written through to the Persister before the
// method returns.
package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ggoodman/hush/errs"
)

// State of one position as seen by this client. Open is durable through the
// session's secret map. Closed lasts for the process only: after the next
// login a drained position reads as Unknown.
type State int

const (
	Unknown State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Persister stores the serialized secret map. It receives a fresh copy on
// every call.
type Persister func(ctx context.Context, secrets map[string]string) error

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	secrets map[uint64]Secret
	closed  mapset.Set[uint64]
	persist Persister
}

// New loads a ledger from its serialized form. Entries that do not parse are
// dropped and reported through skipped.
func New(serialized map[string]string, persist Persister) (l *Ledger, skipped []string) {
	l = &Ledger{
		secrets: make(map[uint64]Secret, len(serialized)),
		closed:  mapset.NewSet[uint64](),
		persist: persist,
	}
	for k, v := range serialized {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			skipped = append(skipped, k)
			continue
		}
		s, err := ParseSecret(v)
		if err != nil {
			skipped = append(skipped, k)
			continue
		}
		l.secrets[id] = s
	}
	slices.Sort(skipped)
	return l, skipped
}

// State reports the lifecycle state of id.
func (l *Ledger) State(id uint64) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(id)
}

func (l *Ledger) stateLocked(id uint64) State {
	if _, ok := l.secrets[id]; ok {
		return Open
	}
	if l.closed.Contains(id) {
		return Closed
	}
	return Unknown
}

// Secret returns the current secret for id.
func (l *Ledger) Secret(id uint64) (Secret, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.secrets[id]
	return s, ok
}

// Current returns the secret that authorizes the next action on id, or a
// PositionNotActionable error when none is known.
func (l *Ledger) Current(id uint64) (Secret, error) {
	s, ok := l.Secret(id)
	if !ok {
		return Secret{}, errs.New(errs.KindPositionNotActionable, "no local authorization secret for position #%d", id).
			WithHint(fmt.Sprintf("Provide it as an argument or run position-auth %d <secret>", id))
	}
	return s, nil
}

// IDs returns the ids of all open positions in ascending order.
func (l *Ledger) IDs() []uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.secrets))
}

// Bind opens a freshly created position.
func (l *Ledger) Bind(ctx context.Context, id uint64, s Secret) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stateLocked(id) == Open {
		return fmt.Errorf("position #%d is already bound", id)
	}
	l.closed.Remove(id)
	l.secrets[id] = s
	return l.flushLocked(ctx)
}

// Rotation is one planned step along a position's hash chain.
type Rotation struct {
	ID       uint64
	Revealed Secret
	Next     Secret
}

// Plan prepares a rotation for id. The revealed secret is override when
// given, otherwise the stored one. Next is freshly generated and is not
// stored until Rotate.
func (l *Ledger) Plan(id uint64, override *Secret) (Rotation, error) {
	var revealed Secret
	if override != nil && !override.IsZero() {
		revealed = *override
	} else {
		cur, err := l.Current(id)
		if err != nil {
			return Rotation{}, err
		}
		revealed = cur
	}
	next, err := NewSecret()
	if err != nil {
		return Rotation{}, err
	}
	return Rotation{ID: id, Revealed: revealed, Next: next}, nil
}

// Rotate records a confirmed rotation: r.Next becomes the current secret.
func (l *Ledger) Rotate(ctx context.Context, r Rotation) error {
	if r.Next.IsZero() {
		return fmt.Errorf("position #%d: next secret must not be zero", r.ID)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed.Remove(r.ID)
	l.secrets[r.ID] = r.Next
	return l.flushLocked(ctx)
}

// Close discards the secret of a drained position.
func (l *Ledger) Close(ctx context.Context, id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.secrets, id)
	l.closed.Add(id)
	return l.flushLocked(ctx)
}

// Import stores a secret recovered from an out-of-band backup.
func (l *Ledger) Import(ctx context.Context, id uint64, s Secret) error {
	if s.IsZero() {
		return errs.New(errs.KindInvalidInput, "authorization secret must not be zero")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed.Remove(id)
	l.secrets[id] = s
	return l.flushLocked(ctx)
}

// Snapshot returns the serialized secret map.
func (l *Ledger) Snapshot() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() map[string]string {
	out := make(map[string]string, len(l.secrets))
	for id, s := range l.secrets {
		out[strconv.FormatUint(id, 10)] = s.Hex()
	}
	return out
}

// flushLocked keeps the in-memory change even when persisting fails: the
// chain has already moved, so the new secret is the only usable one.
func (l *Ledger) flushLocked(ctx context.Context) error {
	if l.persist == nil {
		return nil
	}
	if err := l.persist(ctx, l.snapshotLocked()); err != nil {
		return fmt.Errorf("persist position secrets: %w", err)
	}
	return nil
}
