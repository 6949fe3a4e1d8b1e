package entitlement

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizmaker/internal/apperr"
)

type failingLedger struct {
	*MemoryLedger
	readErr, incErr error
	increments      int
}

func (f *failingLedger) Read(ctx context.Context, user string) (Record, error) {
	if f.readErr != nil {
		return Record{}, f.readErr
	}
	return f.MemoryLedger.Read(ctx, user)
}

func (f *failingLedger) Increment(ctx context.Context, user string, limit int) (bool, error) {
	f.increments++
	if f.incErr != nil {
		return false, f.incErr
	}
	return f.MemoryLedger.Increment(ctx, user, limit)
}

type recorded struct {
	typ, key string
	data     any
}

type fakeRecorder struct{ events []recorded }

func (f *fakeRecorder) Record(_ context.Context, typ, key string, data any) error {
	f.events = append(f.events, recorded{typ, key, data})
	return nil
}

func read(t *testing.T, l Ledger, user string) Record {
	t.Helper()
	r, err := l.Read(context.Background(), user)
	require.NoError(t, err)
	return r
}

func TestAuthorizeBelowLimitIncrementsOnce(t *testing.T) {
	ctx := context.Background()
	for count := 0; count < 4; count++ {
		l := NewMemoryLedger()
		l.Seed("u1", Record{AttemptCount: count})
		g := NewGate(l, 4)

		d, err := g.Authorize(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, Authorized, d)
		assert.Equal(t, count+1, read(t, l, "u1").AttemptCount)
	}
}

func TestAuthorizeAtLimitDeniesWithoutMutation(t *testing.T) {
	fl := &failingLedger{MemoryLedger: NewMemoryLedger()}
	fl.Seed("u1", Record{AttemptCount: 4})
	g := NewGate(fl, 4)

	d, err := g.Authorize(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Denied, d)
	assert.Equal(t, 0, fl.increments)
	assert.Equal(t, 4, read(t, fl, "u1").AttemptCount)
}

func TestAuthorizeUnlimitedNeverMutates(t *testing.T) {
	for _, count := range []int{0, 4, 99} {
		fl := &failingLedger{MemoryLedger: NewMemoryLedger()}
		fl.Seed("pro", Record{AttemptCount: count, Unlimited: true})
		g := NewGate(fl, 4)

		for i := 0; i < 3; i++ {
			d, err := g.Authorize(context.Background(), "pro")
			require.NoError(t, err)
			assert.Equal(t, Authorized, d)
		}
		assert.Equal(t, 0, fl.increments)
		assert.Equal(t, count, read(t, fl, "pro").AttemptCount)
	}
}

func TestExhaustionScenario(t *testing.T) {
	l := NewMemoryLedger()
	l.Seed("u1", Record{AttemptCount: 3})
	g := NewGate(l, 4)
	ctx := context.Background()

	d, err := g.Authorize(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Authorized, d)
	assert.Equal(t, 4, read(t, l, "u1").AttemptCount)

	d, err = g.Authorize(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Denied, d)
	assert.Equal(t, 4, read(t, l, "u1").AttemptCount)
}

func TestAuthorizeReadFailureIsDistinguishable(t *testing.T) {
	fl := &failingLedger{MemoryLedger: NewMemoryLedger(), readErr: errors.New("connection refused")}
	g := NewGate(fl, 4)

	d, err := g.Authorize(context.Background(), "u1")
	assert.Equal(t, Denied, d)
	require.Error(t, err)
	assert.Equal(t, apperr.KindLedgerUnavailable, apperr.KindOf(err))
	assert.Equal(t, 0, fl.increments)
}

func TestAuthorizeIncrementFailureDoesNotGrant(t *testing.T) {
	fl := &failingLedger{MemoryLedger: NewMemoryLedger(), incErr: errors.New("read-only replica")}
	g := NewGate(fl, 4)

	d, err := g.Authorize(context.Background(), "u1")
	assert.Equal(t, Denied, d)
	assert.True(t, apperr.Is(err, apperr.KindLedgerUnavailable))
}

func TestAuthorizeRequiresIdentity(t *testing.T) {
	fl := &failingLedger{MemoryLedger: NewMemoryLedger()}
	g := NewGate(fl, 4)

	_, err := g.Authorize(context.Background(), "")
	require.ErrorIs(t, err, apperr.ErrAuthenticationRequired)
	assert.Equal(t, 0, fl.increments)
}

func TestAuthorizeRecordsEvent(t *testing.T) {
	rec := &fakeRecorder{}
	g := NewGate(NewMemoryLedger(), 4, WithRecorder(rec))

	_, err := g.Authorize(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "usage.authorized", rec.events[0].typ)
	assert.Equal(t, "u1", rec.events[0].key)
}

func TestStatus(t *testing.T) {
	l := NewMemoryLedger()
	l.Seed("u1", Record{AttemptCount: 3})
	l.Seed("u2", Record{AttemptCount: 7})
	l.Seed("pro", Record{AttemptCount: 2, Unlimited: true})
	g := NewGate(l, 4)
	ctx := context.Background()

	u, err := g.Status(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, u.Remaining)
	assert.Equal(t, 4, u.Limit)

	u, err = g.Status(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, u.Remaining)

	u, err = g.Status(ctx, "pro")
	require.NoError(t, err)
	assert.Equal(t, -1, u.Remaining)
	assert.True(t, u.Unlimited)
}

// staleLedger reads an older record than the one stored, as a second
// server instance would after a concurrent grant.
type staleLedger struct {
	*MemoryLedger
	stale Record
}

func (s staleLedger) Read(context.Context, string) (Record, error) { return s.stale, nil }

func TestAuthorizeLosesRaceForLastAttempt(t *testing.T) {
	l := NewMemoryLedger()
	l.Seed("u1", Record{AttemptCount: 4})
	g := NewGate(staleLedger{MemoryLedger: l, stale: Record{AttemptCount: 3}}, 4)

	d, err := g.Authorize(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Denied, d)
	assert.Equal(t, 4, read(t, l, "u1").AttemptCount)
}
