package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggoodman/hush/envelope"
	"github.com/ggoodman/hush/storage"
)

const (
	// KeyPrefix namespaces session records in the backing store.
	KeyPrefix = "pb.privacy.session"
	// FormatVersion is the only record version Load accepts.
	FormatVersion = 1
)

// Record is the at-rest representation of a Session.
type Record struct {
	Version    int    `json:"version"`
	Cipher     string `json:"cipher,omitempty"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Key returns the storage key for the (chainID, owner) pair. The owner is
// always lowercased.
func Key(chainID uint64, owner common.Address) string {
	return fmt.Sprintf("%s:v%d:%d:%s", KeyPrefix, FormatVersion, chainID, strings.ToLower(owner.Hex()))
}

// Store reads and writes encrypted session records.
type Store struct {
	backend storage.Storage
	cipher  envelope.Cipher
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides the time source used to stamp UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds a Store over backend, sealing records with c.
func NewStore(backend storage.Storage, c envelope.Cipher, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		cipher:  c,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the session stored for (chainID, owner) or nil when there is
// none usable. Only backend failures are returned as errors.
func (s *Store) Load(ctx context.Context, chainID uint64, owner common.Address, key []byte) (*Session, error) {
	k := Key(chainID, owner)
	item, err := s.backend.Get(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if item == nil {
		return nil, nil
	}

	var rec Record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		s.log.DebugContext(ctx, "sessions.load.malformed_record", slog.String("err", err.Error()))
		return nil, nil
	}
	if rec.Version != FormatVersion || len(rec.Nonce) == 0 || len(rec.Ciphertext) == 0 {
		s.log.DebugContext(ctx, "sessions.load.version_mismatch", slog.Int("version", rec.Version))
		return nil, nil
	}
	if rec.Cipher != "" && rec.Cipher != s.cipher.Name() {
		s.log.DebugContext(ctx, "sessions.load.cipher_mismatch", slog.String("cipher", rec.Cipher))
		return nil, nil
	}

	plain, err := s.cipher.Open(key, envelope.Sealed{Nonce: rec.Nonce, Ciphertext: rec.Ciphertext})
	if err != nil {
		s.log.DebugContext(ctx, "sessions.load.integrity", slog.String("err", err.Error()))
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal(plain, &sess); err != nil || !sess.Valid() {
		s.log.DebugContext(ctx, "sessions.load.invalid_payload")
		return nil, nil
	}
	if sess.PositionSecrets == nil {
		sess.PositionSecrets = map[string]string{}
	}
	if sess.UpdatedAt == 0 {
		sess.UpdatedAt = item.UpdatedAt.UnixMilli()
	}
	return &sess, nil
}

// Save seals and writes sess, replacing any previous record. On success
// sess.UpdatedAt holds the new timestamp.
func (s *Store) Save(ctx context.Context, chainID uint64, owner common.Address, key []byte, sess *Session) error {
	if !sess.Valid() {
		return fmt.Errorf("save session: private address and seed material are required")
	}
	out := sess.Clone()
	out.UpdatedAt = s.now().UnixMilli()

	plain, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	sealed, err := s.cipher.Seal(key, plain)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	raw, err := json.Marshal(Record{
		Version:    FormatVersion,
		Cipher:     s.cipher.Name(),
		Nonce:      sealed.Nonce,
		Ciphertext: sealed.Ciphertext,
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := s.backend.Set(ctx, Key(chainID, owner), raw); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	sess.UpdatedAt = out.UpdatedAt
	return nil
}

// Forget deletes the record for (chainID, owner). It is idempotent.
func (s *Store) Forget(ctx context.Context, chainID uint64, owner common.Address) error {
	if err := s.backend.Delete(ctx, Key(chainID, owner)); err != nil {
		return fmt.Errorf("forget session: %w", err)
	}
	return nil
}
