package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mind-engage/quizmaker/internal/apperr"
	authmw "github.com/mind-engage/quizmaker/internal/auth/middleware"
	"github.com/mind-engage/quizmaker/internal/config"
)

const guestCookie = "qm_guest_id"

type tokenOut struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	ExpiresIn   int64  `json:"expires_in"`
}

func LoginHandler(a *authmw.AuthService, acc *Accounts, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.EnableLocalAuth {
			writeErr(w, http.StatusForbidden, "local auth disabled")
			return
		}
		var in Credentials
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		u, err := acc.Authenticate(r.Context(), in.Username, in.Password)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		issue(w, a, u, cfg)
	}
}

func RegisterHandler(a *authmw.AuthService, acc *Accounts, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.EnableLocalAuth {
			writeErr(w, http.StatusForbidden, "local auth disabled")
			return
		}
		var in Credentials
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		u, err := acc.Register(r.Context(), in)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		issue(w, a, u, cfg)
	}
}

// GuestLoginHandler reuses the browser's guest identity when the guest
// cookie still names one, so usage follows the browser across sign-ins.
func GuestLoginHandler(a *authmw.AuthService, acc *Accounts, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !cfg.EnableGuestAuth {
			writeErr(w, http.StatusForbidden, "guest auth disabled")
			return
		}
		existing := ""
		if c, err := r.Cookie(guestCookie); err == nil {
			existing = c.Value
		}
		u, err := acc.Guest(r.Context(), existing)
		if err != nil {
			writeAppErr(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     guestCookie,
			Value:    u.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   cfg.CookieSecure,
			SameSite: sameSite(cfg),
			Expires:  time.Now().Add(30 * 24 * time.Hour),
		})
		issue(w, a, u, cfg)
	}
}

// RefreshHandler re-issues a token for a still-valid one. The role is read
// again from the users table so promotions take effect.
func RefreshHandler(a *authmw.AuthService, acc *Accounts, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := a.Parse(authmw.TokenFromRequest(r))
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "bad token")
			return
		}
		u, err := acc.Get(r.Context(), c.Sub)
		if err != nil {
			writeErr(w, http.StatusUnauthorized, "unknown user")
			return
		}
		issue(w, a, u, cfg)
	}
}

// LogoutHandler clears the auth cookie and hands the user to onLogout, which
// drops their live quiz state.
func LogoutHandler(a *authmw.AuthService, cfg config.Config, onLogout func(user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, err := a.Parse(authmw.TokenFromRequest(r)); err == nil && onLogout != nil {
			onLogout(c.Sub)
			slog.Info("signed out", "user", c.Sub)
		}
		http.SetCookie(w, &http.Cookie{
			Name:     authmw.CookieName,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			Secure:   cfg.CookieSecure,
			SameSite: sameSite(cfg),
			MaxAge:   -1,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

// ChangePasswordHandler: POST /auth/password {"old_password","new_password"}
func ChangePasswordHandler(acc *Accounts) http.HandlerFunc {
	type in struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID := authmw.SubjectFromContext(r.Context())
		if userID == "" {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		var body in
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeErr(w, http.StatusBadRequest, "bad json")
			return
		}
		err := acc.ChangePassword(r.Context(), userID, body.OldPassword, body.NewPassword)
		switch {
		case errors.Is(err, ErrWrongPassword):
			writeErr(w, http.StatusForbidden, err.Error())
		case err != nil:
			writeAppErr(w, err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

func issue(w http.ResponseWriter, a *authmw.AuthService, u User, cfg config.Config) {
	tok, err := a.IssueJWT(u.ID, u.Role)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "issue token")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authmw.CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: sameSite(cfg),
		Expires:  time.Now().Add(a.TTL()),
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tokenOut{
		AccessToken: tok,
		UserID:      u.ID,
		Username:    u.Username,
		Role:        u.Role,
		ExpiresIn:   int64(a.TTL().Seconds()),
	})
}

// Cross-site cookies need SameSite=None, which browsers only accept with
// Secure.
func sameSite(cfg config.Config) http.SameSite {
	if cfg.CookieSecure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func writeAppErr(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		slog.Error("auth request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": apperr.Message(err), "kind": string(apperr.KindOf(err))})
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
