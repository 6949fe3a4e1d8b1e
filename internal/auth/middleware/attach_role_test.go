package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizmaker/internal/db"
	"github.com/mind-engage/quizmaker/internal/rbac"
)

func usersDB(t *testing.T) *sql.DB {
	t.Helper()
	d, err := db.Open(context.Background(), db.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "roles.db")+"?mode=rwc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	_, err = d.Exec(`INSERT INTO users (id, username, role, created_at) VALUES ($1,$2,$3,$4)`, "u1", "alice", rbac.RoleAdmin, 1)
	require.NoError(t, err)
	return d
}

func serveAs(h http.Handler, sub, role string) *httptest.ResponseRecorder {
	ctx := rbac.WithRole(WithSubject(context.Background(), sub), role)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx))
	return rec
}

func TestAttachRoleFromDB(t *testing.T) {
	d := usersDB(t)
	h := AttachRoleFromDB(d, false)(echoIdentity())

	rec := serveAs(h, "u1", rbac.RoleUser)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1|admin|admin", rec.Body.String())

	rec = serveAs(h, "ghost", rbac.RoleUser)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serveAs(AttachRoleFromDB(d, true)(echoIdentity()), "ghost", rbac.RoleGuest)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ghost|guest|guest", rec.Body.String())
}

func TestAttachRoleLookupFailureIsJSON(t *testing.T) {
	d := usersDB(t)
	require.NoError(t, d.Close())

	rec := serveAs(AttachRoleFromDB(d, false)(echoIdentity()), "u1", rbac.RoleUser)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "forbidden", body["kind"])
}
