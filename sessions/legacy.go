package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LegacyPrefixes are key prefixes written by the obsolete storage format.
var LegacyPrefixes = []string{"pb.railgun.session", "railgun-artifact"}

// LegacyDatabases names engine databases owned by the obsolete format.
var LegacyDatabases = []string{"railgun_engine_db_arbitrum_v2", "railgun_artifacts_db:arbitrum_v2"}

// PurgeHook drops an engine-side cache or database as part of the purge.
type PurgeHook func(ctx context.Context) error

// PrefixDeleter is the slice of storage.Storage the purge needs.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Purger sweeps legacy records once per process. A failed run leaves the
// purger armed so the next call tries again.
type Purger struct {
	backend  PrefixDeleter
	prefixes []string
	hooks    []PurgeHook
	log      *slog.Logger

	mu   sync.Mutex
	done bool
}

// NewPurger returns a Purger over backend. Hooks run after the prefixes are
// swept; their failures are logged and do not block completion.
func NewPurger(backend PrefixDeleter, log *slog.Logger, hooks ...PurgeHook) *Purger {
	if log == nil {
		log = slog.Default()
	}
	return &Purger{
		backend:  backend,
		prefixes: LegacyPrefixes,
		hooks:    hooks,
		log:      log,
	}
}

// Run performs the purge unless a previous call already completed it.
func (p *Purger) Run(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}

	total := 0
	for _, prefix := range p.prefixes {
		n, err := p.backend.DeletePrefix(ctx, prefix)
		if err != nil {
			return fmt.Errorf("purge legacy prefix %q: %w", prefix, err)
		}
		total += n
	}
	for _, hook := range p.hooks {
		if err := hook(ctx); err != nil {
			p.log.WarnContext(ctx, "sessions.purge.hook_failed", slog.String("err", err.Error()))
		}
	}

	p.done = true
	p.log.DebugContext(ctx, "sessions.purge.complete", slog.Int("removed", total))
	return nil
}

// Done reports whether the purge has completed.
func (p *Purger) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
