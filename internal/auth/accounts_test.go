package auth

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/db"
	"github.com/mind-engage/quizmaker/internal/rbac"
)

func newAccounts(t *testing.T) *Accounts {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "users.db") + "?mode=rwc"
	d, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return NewAccounts(d, bcrypt.MinCost)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	acc := newAccounts(t)
	ctx := context.Background()

	u, err := acc.Register(ctx, Credentials{Username: " Alice ", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, rbac.RoleUser, u.Role)

	got, err := acc.Authenticate(ctx, "ALICE", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = acc.Authenticate(ctx, "alice", "wrong-password")
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))
	_, err = acc.Authenticate(ctx, "bob", "whatever1")
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))

	_, err = acc.Register(ctx, Credentials{Username: "alice", Password: "another-pass"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestRegisterValidates(t *testing.T) {
	acc := newAccounts(t)
	for _, c := range []Credentials{
		{Username: "ab", Password: "longenough"},
		{Username: "has space", Password: "longenough"},
		{Username: "carol", Password: "short"},
	} {
		_, err := acc.Register(context.Background(), c)
		assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err), c.Username)
	}
}

func TestGuestReuse(t *testing.T) {
	acc := newAccounts(t)
	ctx := context.Background()

	g, err := acc.Guest(ctx, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(g.ID, "guest|"))
	assert.Equal(t, rbac.RoleGuest, g.Role)

	again, err := acc.Guest(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, again.ID)

	other, err := acc.Guest(ctx, "guest|unknown")
	require.NoError(t, err)
	assert.NotEqual(t, g.ID, other.ID)

	// guests have no password
	_, err = acc.Authenticate(ctx, g.Username, "")
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))
}

func TestEnsureAdmin(t *testing.T) {
	acc := newAccounts(t)
	ctx := context.Background()

	_, err := acc.Register(ctx, Credentials{Username: "root", Password: "first-password"})
	require.NoError(t, err)
	require.NoError(t, acc.EnsureAdmin(ctx, "root", "second-password"))

	u, err := acc.Authenticate(ctx, "root", "second-password")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, u.Role)

	require.NoError(t, acc.EnsureAdmin(ctx, "ops", "ops-password"))
	u, err = acc.Authenticate(ctx, "ops", "ops-password")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleAdmin, u.Role)
}

func TestChangePassword(t *testing.T) {
	acc := newAccounts(t)
	ctx := context.Background()
	u, err := acc.Register(ctx, Credentials{Username: "erin", Password: "first-password"})
	require.NoError(t, err)

	assert.ErrorIs(t, acc.ChangePassword(ctx, u.ID, "not-it", "second-password"), ErrWrongPassword)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(acc.ChangePassword(ctx, u.ID, "first-password", "short")))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(acc.ChangePassword(ctx, "missing", "a", "second-password")))

	require.NoError(t, acc.ChangePassword(ctx, u.ID, "first-password", "second-password"))
	_, err = acc.Authenticate(ctx, "erin", "first-password")
	assert.Equal(t, apperr.KindAuthenticationRequired, apperr.KindOf(err))
	_, err = acc.Authenticate(ctx, "erin", "second-password")
	assert.NoError(t, err)

	g, err := acc.Guest(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(acc.ChangePassword(ctx, g.ID, "", "second-password")))
}
