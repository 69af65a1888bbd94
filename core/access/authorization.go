/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const (
	contextKeyAuthorization contextKey = "_authorization_"
	contextKeyIdentity      contextKey = "_identity_"
)

/*Authorization is a context object which stores authorization information
for users or machines.

An authorization carries a list of roles, identifiers of resources the
requester owns, and additional free-form properties.

Authorizations are added to a request context with

  ctx = ContextWithAuthorization(ctx, auth)

and retrieved with

  auth := AuthorizationFromContext(ctx)

Authorization objects are produced by the authentication strategies of a
Chain, depending on credentials in the HTTP request.
*/
type Authorization struct {
	Roles      []string          `json:"roles"`
	Resources  map[string]string `json:"resources,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Permit gives a role permission for a set of operations on a resource.
type Permit struct {
	Role       string           `json:"role"`
	Operations []core.Operation `json:"operations"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// Identifier returns the identifier for the requested resource; if the
// identifier does not exist, it returns an empty string and false.
func (a *Authorization) Identifier(resource string) (string, bool) {
	if a == nil || a.Resources == nil {
		return "", false
	}
	value, ok := a.Resources[resource+"_id"]
	return value, ok
}

// Property returns the value for the requested property; if the
// property does not exist, it returns an empty string and false.
func (a *Authorization) Property(name string) (string, bool) {
	if a == nil || a.Properties == nil {
		return "", false
	}
	value, ok := a.Properties[name]
	return value, ok
}

// IsAuthorized returns true if the authorization is authorized for the
// requested operation according to the passed permits.
//
// The "admin" role is always authorized, unless the permits grant "admin"
// explicitly with a different set of operations. A permit for "everybody"
// applies to all authenticated requesters; a permit for "public" applies
// even without authorization.
func (a *Authorization) IsAuthorized(operation core.Operation, permits []Permit) bool {
	var roles []string
	if a != nil {
		roles = append(roles, a.Roles...)
		roles = append(roles, "everybody")
	}
	roles = append(roles, "public")

	adminGranted := false
	for _, permit := range permits {
		if permit.Role == "admin" {
			adminGranted = true
		}
		for _, role := range roles {
			if permit.Role != role {
				continue
			}
			for _, op := range permit.Operations {
				if op == operation {
					return true
				}
			}
		}
	}
	if !adminGranted && a.HasRole("admin") {
		return true
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// ContextWithIdentity returns a new context with the authenticated identity added to it
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, identity)
}

// IdentityFromContext retrieves the authenticated identity from the context
func IdentityFromContext(ctx context.Context) string {
	identity, _ := ctx.Value(contextKeyIdentity).(string)
	return identity
}

// HandleAuthorizationRoute adds a route /authorization GET to the router.
//
// The route returns the current authorization for the provided credentials.
func HandleAuthorizationRoute(router *mux.Router) {
	logger.Default().Debugln("handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
