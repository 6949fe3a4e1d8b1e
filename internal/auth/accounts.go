// Package auth manages local and guest accounts and the HTTP endpoints that
// exchange them for access tokens.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/quizmaker/internal/apperr"
	"github.com/mind-engage/quizmaker/internal/rbac"
)

const guestPrefix = "guest|"

// ErrWrongPassword is returned by ChangePassword when the current password
// does not match.
var ErrWrongPassword = errors.New("incorrect current password")

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
}

type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

var validate = validator.New()

// Accounts stores users in the users table. Passwords are bcrypt hashes;
// guests have no password and cannot log in with one.
type Accounts struct {
	db   *sql.DB
	cost int
	now  func() time.Time
}

// NewAccounts hashes with the given bcrypt cost; out-of-range costs fall
// back to 12.
func NewAccounts(db *sql.DB, cost int) *Accounts {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = 12
	}
	return &Accounts{db: db, cost: cost, now: time.Now}
}

func (a *Accounts) Register(ctx context.Context, c Credentials) (User, error) {
	const op = "accounts.register"
	c.Username = strings.ToLower(strings.TrimSpace(c.Username))
	if err := validate.Struct(c); err != nil {
		return User{}, apperr.E(apperr.KindInvalid, op, err)
	}
	var one int
	err := a.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE username=$1`, c.Username).Scan(&one)
	if err == nil {
		return User{}, apperr.Errorf(apperr.KindInvalid, op, "username %q is taken", c.Username)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), a.cost)
	if err != nil {
		return User{}, err
	}
	u := User{ID: uuid.NewString(), Username: c.Username, Role: rbac.RoleUser, CreatedAt: a.now().Unix()}
	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
		u.ID, u.Username, string(hash), u.Role, u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords fail the same way.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (User, error) {
	const op = "accounts.authenticate"
	var u User
	var hash string
	err := a.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, created_at FROM users WHERE username=$1`,
		strings.ToLower(strings.TrimSpace(username))).
		Scan(&u.ID, &u.Username, &hash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.Errorf(apperr.KindAuthenticationRequired, op, "invalid credentials")
	}
	if err != nil {
		return User{}, err
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, apperr.Errorf(apperr.KindAuthenticationRequired, op, "invalid credentials")
	}
	return u, nil
}

func (a *Accounts) Get(ctx context.Context, id string) (User, error) {
	var u User
	err := a.db.QueryRowContext(ctx,
		`SELECT id, username, role, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.E(apperr.KindNotFound, "accounts.get", nil)
	}
	return u, err
}

// Guest returns the guest identified by existingID when it is still on
// file, or creates a new one.
func (a *Accounts) Guest(ctx context.Context, existingID string) (User, error) {
	if strings.HasPrefix(existingID, guestPrefix) {
		u, err := a.Get(ctx, existingID)
		if err == nil && u.Role == rbac.RoleGuest {
			return u, nil
		}
	}
	id := uuid.NewString()
	u := User{
		ID:        guestPrefix + id,
		Username:  "guest-" + strings.ReplaceAll(id, "-", ""),
		Role:      rbac.RoleGuest,
		CreatedAt: a.now().Unix(),
	}
	if _, err := a.db.ExecContext(ctx,
		`INSERT INTO users (id, username, role, created_at) VALUES ($1,$2,$3,$4)`,
		u.ID, u.Username, u.Role, u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

// EnsureAdmin creates or promotes the configured admin account and resets
// its password.
func (a *Accounts) EnsureAdmin(ctx context.Context, username, password string) error {
	c := Credentials{Username: strings.ToLower(strings.TrimSpace(username)), Password: password}
	if err := validate.Struct(c); err != nil {
		return apperr.E(apperr.KindInvalid, "accounts.ensure_admin", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (username) DO UPDATE SET password_hash=EXCLUDED.password_hash, role=EXCLUDED.role`,
		uuid.NewString(), c.Username, string(hash), rbac.RoleAdmin, a.now().Unix())
	return err
}

// ChangePassword replaces a local account's password after checking the
// current one. Guests have no password to change.
func (a *Accounts) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	const op = "accounts.change_password"
	var hash string
	err := a.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id=$1`, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.E(apperr.KindNotFound, op, nil)
	}
	if err != nil {
		return err
	}
	if hash == "" {
		return apperr.Errorf(apperr.KindInvalid, op, "guest accounts have no password")
	}
	if err := validate.Var(newPassword, "required,min=8,max=72"); err != nil {
		return apperr.E(apperr.KindInvalid, op, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(oldPassword)) != nil {
		return ErrWrongPassword
	}
	next, err := bcrypt.GenerateFromPassword([]byte(newPassword), a.cost)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, string(next), id)
	return err
}
