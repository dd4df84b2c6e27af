package funnel

import (
	"net/http"

	"github.com/goliatone/go-router"
)

// RouteGuard gates navigation to protected views on session presence
// alone. Verification gating is the poller/onboarding flow's concern;
// an unverified session that reaches a protected route directly is
// admitted here on purpose.
type RouteGuard struct {
	sessions    *SessionStore
	SignupRoute string
	Logger      Logger
}

func NewRouteGuard(sessions *SessionStore) *RouteGuard {
	return &RouteGuard{
		sessions:    sessions,
		SignupRoute: "/signup",
		Logger:      defLogger{},
	}
}

// Protected wraps a handler with the session check. While the initial
// resolution is pending no access decision is made; once resolved, a nil
// identity redirects to the signup entry point and anything else is
// admitted.
func (g *RouteGuard) Protected() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if g.sessions.Loading() {
				return c.Status(http.StatusNoContent).SendString("")
			}

			if g.sessions.Current() == nil {
				g.Logger.Info("guard denied unauthenticated request", "path", c.OriginalURL())

				statusCode := http.StatusSeeOther
				if c.Method() == string(router.GET) {
					statusCode = http.StatusFound
				}
				return c.Redirect(g.SignupRoute, statusCode)
			}

			return next(c)
		}
	}
}
