package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/ggoodman/hush/errs"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	writes []map[string]string
	err    error
}

func (r *recorder) persist(_ context.Context, m map[string]string) error {
	r.writes = append(r.writes, m)
	return r.err
}

func mustSecret(t *testing.T) Secret {
	t.Helper()
	s, err := NewSecret()
	require.NoError(t, err)
	return s
}

func TestSecretHexRoundTrip(t *testing.T) {
	s := mustSecret(t)
	back, err := ParseSecret(s.Hex())
	require.NoError(t, err)
	require.Equal(t, s, back)

	_, err = ParseSecret("0x1234")
	require.Error(t, err)
	_, err = ParseSecret("zz")
	require.Error(t, err)
}

func TestSecretStringRedacts(t *testing.T) {
	s := mustSecret(t)
	require.NotContains(t, s.String(), s.Hex()[2:])
}

func TestNewSkipsMalformedEntries(t *testing.T) {
	good := mustSecret(t)
	l, skipped := New(map[string]string{
		"1":   good.Hex(),
		"two": good.Hex(),
		"3":   "0xdead",
	}, nil)
	require.Equal(t, []string{"3", "two"}, skipped)
	require.Equal(t, []uint64{1}, l.IDs())
	require.Equal(t, Open, l.State(1))
}

func TestLifecycle(t *testing.T) {
	rec := &recorder{}
	l, _ := New(nil, rec.persist)
	ctx := context.Background()

	require.Equal(t, Unknown, l.State(5))
	_, err := l.Current(5)
	require.Equal(t, errs.KindPositionNotActionable, errs.KindOf(err))

	first := mustSecret(t)
	require.NoError(t, l.Bind(ctx, 5, first))
	require.Equal(t, Open, l.State(5))
	require.Error(t, l.Bind(ctx, 5, mustSecret(t)))

	r, err := l.Plan(5, nil)
	require.NoError(t, err)
	require.Equal(t, first, r.Revealed)
	require.NotEqual(t, first, r.Next)
	require.NoError(t, l.Rotate(ctx, r))
	cur, err := l.Current(5)
	require.NoError(t, err)
	require.Equal(t, r.Next, cur)

	require.NoError(t, l.Close(ctx, 5))
	require.Equal(t, Closed, l.State(5))
	require.Empty(t, l.Snapshot())

	require.Len(t, rec.writes, 3)
	require.Equal(t, map[string]string{"5": first.Hex()}, rec.writes[0])
	require.Equal(t, map[string]string{"5": r.Next.Hex()}, rec.writes[1])
	require.Empty(t, rec.writes[2])
}

func TestRotationChain(t *testing.T) {
	l, _ := New(nil, nil)
	ctx := context.Background()
	require.NoError(t, l.Bind(ctx, 1, mustSecret(t)))

	var prev Rotation
	for i := 0; i < 20; i++ {
		r, err := l.Plan(1, nil)
		require.NoError(t, err)
		if i > 0 {
			require.Equal(t, prev.Next, r.Revealed, "step %d must reveal the secret committed at step %d", i, i-1)
			require.Equal(t, prev.Next.Hash(), r.Revealed.Hash())
		}
		require.NoError(t, l.Rotate(ctx, r))
		prev = r
	}
}

func TestPlanWithOverride(t *testing.T) {
	l, _ := New(nil, nil)
	override := mustSecret(t)
	r, err := l.Plan(9, &override)
	require.NoError(t, err)
	require.Equal(t, override, r.Revealed)
	require.Equal(t, Unknown, l.State(9), "planning alone must not store anything")
}

func TestImport(t *testing.T) {
	l, _ := New(nil, nil)
	ctx := context.Background()
	require.Equal(t, errs.KindInvalidInput, errs.KindOf(l.Import(ctx, 3, Secret{})))

	s := mustSecret(t)
	require.NoError(t, l.Close(ctx, 3))
	require.NoError(t, l.Import(ctx, 3, s))
	require.Equal(t, Open, l.State(3))
}

func TestPersistFailureKeepsNewSecret(t *testing.T) {
	rec := &recorder{err: errors.New("disk full")}
	l, _ := New(nil, rec.persist)
	s := mustSecret(t)

	err := l.Bind(context.Background(), 1, s)
	require.Error(t, err)
	got, ok := l.Secret(1)
	require.True(t, ok)
	require.Equal(t, s, got)
}

func TestClosedDoesNotSurviveReload(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	l, _ := New(nil, rec.persist)
	require.NoError(t, l.Bind(ctx, 4, mustSecret(t)))
	require.NoError(t, l.Close(ctx, 4))
	require.Equal(t, Closed, l.State(4))

	reloaded, skipped := New(rec.writes[len(rec.writes)-1], rec.persist)
	require.Empty(t, skipped)
	require.Equal(t, Unknown, reloaded.State(4))
}
