package access

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core/logger"
)

// ErrNoCredentials is returned by a Strategy when the request carries no
// credentials the strategy is responsible for. The chain then moves on to
// the next strategy.
var ErrNoCredentials = errors.New("no credentials")

// Strategy authenticates a single kind of credential.
//
// Authenticate inspects the request and returns the authorization it could
// derive, together with the request, whose context the strategy may have
// augmented with the authenticated identity. It returns ErrNoCredentials
// when the request carries nothing for this strategy, and any other error
// when credentials were presented but could not be verified.
type Strategy interface {
	Name() string
	Authenticate(r *http.Request) (*http.Request, *Authorization, error)
}

// Chain runs a list of authentication strategies in order. The first
// strategy which returns an authorization wins and the remaining strategies
// are skipped.
//
// A strategy error is logged and counts as a failed attempt; the chain
// continues with the next strategy unless AbortOnError is set, in which
// case the whole chain fails immediately.
//
// If no strategy yields an authorization the request proceeds without one.
// Resources enforce their permits and reject unauthorized requests
// themselves.
type Chain struct {
	Strategies   []Strategy
	AbortOnError bool
}

// Authenticate runs the chain on the request. Requests whose context already
// carries an authorization are passed through untouched, so in-process
// clients can inject their own. The returned request carries the
// authorization in its context when a strategy succeeded.
//
// An error is only returned when AbortOnError is set and a strategy failed,
// or when the request context was cancelled.
func (c *Chain) Authenticate(r *http.Request) (*http.Request, *Authorization, error) {
	if auth := AuthorizationFromContext(r.Context()); auth != nil {
		return r, auth, nil
	}
	rlog := logger.FromContext(r.Context())
	for _, strategy := range c.Strategies {
		if err := r.Context().Err(); err != nil {
			return r, nil, err
		}
		req, auth, err := strategy.Authenticate(r)
		if err != nil {
			if errors.Is(err, ErrNoCredentials) {
				continue
			}
			rlog.WithError(err).Warningf("authentication strategy %s failed", strategy.Name())
			if c.AbortOnError {
				return r, nil, err
			}
			continue
		}
		if auth != nil {
			if req == nil {
				req = r
			}
			ctx := ContextWithAuthorization(req.Context(), auth)
			return req.WithContext(ctx), auth, nil
		}
	}
	return r, nil, nil
}

// Middleware installs the chain on the router.
func (c *Chain) Middleware(router *mux.Router) {
	router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, _, err := c.Authenticate(r)
			if err != nil {
				http.Error(w, "not authorized", http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, req)
		})
	})
}
