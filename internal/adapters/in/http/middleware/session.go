package middleware

import (
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const (
	// SessionName is the cookie holding the dashboard session.
	SessionName = "session"

	// SessionMaxAge is the session lifetime in seconds.
	SessionMaxAge = 86400

	authenticatedKey = "authenticated"
)

// SessionConfig configures the cookie store.
type SessionConfig struct {
	Secret []byte
	Path   string
	Secure bool
}

// Sessions installs the cookie-backed session store.
func Sessions(cfg SessionConfig) echo.MiddlewareFunc {
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	store := sessions.NewCookieStore(cfg.Secret)
	store.Options = &sessions.Options{
		Path:     path,
		HttpOnly: true,
		Secure:   cfg.Secure,
		MaxAge:   SessionMaxAge,
		SameSite: http.SameSiteLaxMode,
	}
	return session.Middleware(store)
}

// IsAuthenticated reports whether the request carries a logged-in session.
func IsAuthenticated(c echo.Context) bool {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return false
	}
	ok, _ := sess.Values[authenticatedKey].(bool)
	return ok
}

// MarkAuthenticated stores the login in the session cookie.
func MarkAuthenticated(c echo.Context) error {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return err
	}
	sess.Values[authenticatedKey] = true
	return sess.Save(c.Request(), c.Response())
}

// ClearSession expires the session cookie.
func ClearSession(c echo.Context) error {
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return err
	}
	delete(sess.Values, authenticatedKey)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// RequireLogin redirects anonymous page requests to loginPath and answers
// anonymous API calls with 401.
func RequireLogin(loginPath string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IsAuthenticated(c) {
				return next(c)
			}
			if strings.Contains(c.Request().URL.Path, "/api/") || c.Request().Method != http.MethodGet {
				return echo.NewHTTPError(http.StatusUnauthorized, "login required")
			}
			return c.Redirect(http.StatusSeeOther, loginPath)
		}
	}
}
