package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

const (
	csrfCookieName = "csrf"
	csrfFieldName  = "csrf_token"
)

var secureCookies bool

func generateToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// CSRF protection using double-submit cookie pattern

func setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(tokenLifetime.Seconds()),
	})
}

func getCSRFToken(r *http.Request) string {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func validateCSRF(r *http.Request) bool {
	cookieToken := getCSRFToken(r)
	formToken := r.FormValue(csrfFieldName)

	if cookieToken == "" || formToken == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(cookieToken), []byte(formToken)) == 1
}

func parseFormWithCSRF(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return false
	}
	if !validateCSRF(r) {
		http.Error(w, "Invalid CSRF token", http.StatusForbidden)
		return false
	}
	return true
}

// ensureCSRFToken returns existing token or creates a new one
func ensureCSRFToken(w http.ResponseWriter, r *http.Request) string {
	token := getCSRFToken(r)
	if token != "" {
		return token
	}

	token, err := generateToken()
	if err != nil {
		return ""
	}
	setCSRFCookie(w, token)
	return token
}

func bearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireToken returns the session token for an admin action, or redirects to
// the login page when the browser has none.
func (b *Blog) requireToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	if token, ok := b.tokens.Bind(w, r).Get(r.Context()); ok {
		return token, true
	}
	if token := bearerToken(r); token != "" {
		return token, true
	}

	logFrom(r.Context()).Infow("admin action without token", "path", r.URL.Path)
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
	return "", false
}

// rejectedSession handles an API answer that the token is no longer accepted.
// The stored token is dropped so the login page does not bounce back here.
func (b *Blog) rejectedSession(w http.ResponseWriter, r *http.Request, err error) bool {
	if !errors.Is(err, ErrUnauthorized) {
		return false
	}

	if clearErr := b.tokens.Bind(w, r).Clear(r.Context()); clearErr != nil {
		logFrom(r.Context()).Warnw("clearing rejected token", "error", clearErr)
	}
	setFlash(w, flashError, "Your session has expired. Please log in again.")
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
	return true
}

func (b *Blog) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokens := b.tokens.Bind(w, r)

	if r.Method == http.MethodGet {
		if token, ok := tokens.Get(ctx); ok {
			// A token the guard would reject is dropped, otherwise the two
			// redirects would chase each other.
			if len(token) < minTokenLength {
				if err := tokens.Clear(ctx); err != nil {
					logFrom(ctx).Warnw("clearing malformed token", "error", err)
				}
			} else {
				// Rewrite both slots so the guard sees the cookie again.
				if err := tokens.Set(ctx, token); err != nil {
					logFrom(ctx).Warnw("refreshing stored token", "error", err)
				}
				http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
				return
			}
		}

		b.render(w, r, http.StatusOK, "login.html", map[string]any{
			"Title": "Admin Login",
			"Email": "",
		})
		return
	}

	if !parseFormWithCSRF(w, r) {
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	result, err := b.api.Login(ctx, email, password)
	if err != nil {
		logFrom(ctx).Infow("login failed", "email", email, "error", err)
		b.render(w, r, http.StatusUnauthorized, "login.html", map[string]any{
			"Title": "Admin Login",
			"Email": email,
			"Error": "Invalid email or password",
		})
		return
	}

	// The guard would turn such a token away on the very next page.
	if len(result.Token) < minTokenLength {
		logFrom(ctx).Warnw("login returned unusable token", "user", result.Username, "length", len(result.Token))
		b.render(w, r, http.StatusBadGateway, "login.html", map[string]any{
			"Title": "Admin Login",
			"Email": email,
			"Error": "Login failed. The server returned an invalid session. Please try again.",
		})
		return
	}

	if err := tokens.Set(ctx, result.Token); err != nil {
		logFrom(ctx).Warnw("storing token", "error", err)
	}
	logFrom(ctx).Infow("admin logged in", "user", result.Username)

	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

func (b *Blog) Logout(w http.ResponseWriter, r *http.Request) {
	if !parseFormWithCSRF(w, r) {
		return
	}

	if err := b.tokens.Bind(w, r).Clear(r.Context()); err != nil {
		logFrom(r.Context()).Warnw("clearing token", "error", err)
	}

	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}
