package access_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/docrest/core"
	"github.com/relabs-tech/docrest/core/access"
)

type stubStrategy struct {
	name string
	auth *access.Authorization
	err  error
	hits int
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Authenticate(r *http.Request) (*http.Request, *access.Authorization, error) {
	s.hits++
	return r, s.auth, s.err
}

func chainRouter(chain *access.Chain, captured **access.Authorization) *mux.Router {
	router := mux.NewRouter()
	chain.Middleware(router)
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		*captured = access.AuthorizationFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return router
}

func TestChain_FirstSuccessWins(t *testing.T) {
	failing := &stubStrategy{name: "s1", err: errors.New("bad credentials")}
	winning := &stubStrategy{name: "s2", auth: &access.Authorization{Roles: []string{"admin"}}}
	never := &stubStrategy{name: "s3", auth: &access.Authorization{Roles: []string{"other"}}}

	var got *access.Authorization
	router := chainRouter(&access.Chain{Strategies: []access.Strategy{failing, winning, never}}, &got)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, []string{"admin"}, got.Roles)
	assert.Equal(t, 1, failing.hits)
	assert.Equal(t, 1, winning.hits)
	assert.Equal(t, 0, never.hits, "chain must stop after the first success")
}

func TestChain_AllFail(t *testing.T) {
	s1 := &stubStrategy{name: "s1", err: access.ErrNoCredentials}
	s2 := &stubStrategy{name: "s2", err: errors.New("verification failed")}

	var got *access.Authorization
	router := chainRouter(&access.Chain{Strategies: []access.Strategy{s1, s2}}, &got)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	// the request proceeds without authorization, resources enforce permits
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, got)
}

func TestChain_AbortOnError(t *testing.T) {
	s1 := &stubStrategy{name: "s1", err: errors.New("verification failed")}
	s2 := &stubStrategy{name: "s2", auth: &access.Authorization{Roles: []string{"admin"}}}

	var got *access.Authorization
	router := chainRouter(&access.Chain{Strategies: []access.Strategy{s1, s2}, AbortOnError: true}, &got)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/probe", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, s2.hits)
}

func TestChain_PreexistingAuthorizationSkipsStrategies(t *testing.T) {
	s1 := &stubStrategy{name: "s1", auth: &access.Authorization{Roles: []string{"other"}}}

	var got *access.Authorization
	router := chainRouter(&access.Chain{Strategies: []access.Strategy{s1}}, &got)

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	preset := &access.Authorization{Roles: []string{"injected"}}
	req = req.WithContext(access.ContextWithAuthorization(req.Context(), preset))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, []string{"injected"}, got.Roles)
	assert.Equal(t, 0, s1.hits)
}

func TestAuthorization_IsAuthorized(t *testing.T) {
	permits := []access.Permit{
		{Role: "viewer", Operations: []core.Operation{core.OperationRead, core.OperationList}},
		{Role: "editor", Operations: []core.Operation{core.OperationCreate, core.OperationUpdate}},
		{Role: "public", Operations: []core.Operation{core.OperationList}},
	}

	viewer := &access.Authorization{Roles: []string{"viewer"}}
	assert.True(t, viewer.IsAuthorized(core.OperationRead, permits))
	assert.False(t, viewer.IsAuthorized(core.OperationUpdate, permits))

	admin := &access.Authorization{Roles: []string{"admin"}}
	assert.True(t, admin.IsAuthorized(core.OperationDelete, permits), "admin is authorized by default")

	var anonymous *access.Authorization
	assert.True(t, anonymous.IsAuthorized(core.OperationList, permits), "public permits apply without authorization")
	assert.False(t, anonymous.IsAuthorized(core.OperationRead, permits))
}

func TestJwtStrategy(t *testing.T) {
	secret := []byte("test-secret")
	strategy := access.NewJwtStrategy(&access.JwtStrategyBuilder{
		Secret: secret,
		Issuer: "docrest-test",
	})

	makeToken := func(issuer string, key []byte) string {
		claims := jwt.MapClaims{
			"iss":   issuer,
			"email": "jane@example.com",
			"roles": []string{"viewer"},
			"exp":   time.Now().Add(time.Hour).Unix(),
		}
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	t.Run("valid bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+makeToken("docrest-test", secret))
		req, auth, err := strategy.Authenticate(req)
		require.NoError(t, err)
		require.NotNil(t, auth)
		assert.Equal(t, []string{"viewer"}, auth.Roles)
		assert.Equal(t, "docrest-test|jane@example.com", access.IdentityFromContext(req.Context()))
	})

	t.Run("valid cookie token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: "Docrest-JWT", Value: makeToken("docrest-test", secret)})
		_, auth, err := strategy.Authenticate(req)
		require.NoError(t, err)
		require.NotNil(t, auth)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+makeToken("docrest-test", []byte("other-secret")))
		_, auth, err := strategy.Authenticate(req)
		assert.Error(t, err)
		assert.Nil(t, auth)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+makeToken("somebody-else", secret))
		_, auth, err := strategy.Authenticate(req)
		assert.Error(t, err)
		assert.Nil(t, auth)
	})

	t.Run("no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, auth, err := strategy.Authenticate(req)
		assert.ErrorIs(t, err, access.ErrNoCredentials)
		assert.Nil(t, auth)
	})
}

func TestTokenStrategy(t *testing.T) {
	auth := &access.Authorization{Roles: []string{"machine"}}
	token, record, err := access.GenerateToken(auth, time.Now().Add(time.Hour))
	require.NoError(t, err)

	strategy := &access.TokenStrategy{
		Lookup: func(tokenID uuid.UUID) (*access.TokenRecord, error) {
			if tokenID == record.TokenID {
				return record, nil
			}
			return nil, nil
		},
	}

	t.Run("valid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "AuthToken: "+token)
		_, got, err := strategy.Authenticate(req)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, []string{"machine"}, got.Roles)
	})

	t.Run("tampered token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "AuthToken: "+token+"x")
		_, got, err := strategy.Authenticate(req)
		assert.Error(t, err)
		assert.Nil(t, got)
	})

	t.Run("expired token", func(t *testing.T) {
		expiredToken, expiredRecord, err := access.GenerateToken(auth, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		expired := &access.TokenStrategy{
			Lookup: func(tokenID uuid.UUID) (*access.TokenRecord, error) {
				if tokenID == expiredRecord.TokenID {
					return expiredRecord, nil
				}
				return nil, nil
			},
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "AuthToken: "+expiredToken)
		_, got, err := expired.Authenticate(req)
		assert.Error(t, err)
		assert.Nil(t, got)
	})

	t.Run("no credentials", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		_, got, err := strategy.Authenticate(req)
		assert.ErrorIs(t, err, access.ErrNoCredentials)
		assert.Nil(t, got)
	})
}
