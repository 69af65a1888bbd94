package access

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"

	"github.com/relabs-tech/docrest/core/logger"
	"github.com/relabs-tech/docrest/core/registry"
)

// JwtStrategyBuilder is a helper builder for JwtStrategy
type JwtStrategyBuilder struct {
	// Secret is the shared secret for HS256 signed token. Either Secret or
	// PublicKeyDownloadURL must be set.
	Secret []byte
	// PublicKeyDownloadURL is the download url for RS256 public keys. In case of
	// google, this would be
	//  "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	PublicKeyDownloadURL string
	// Registry caches downloaded public keys across restarts. Required when
	// PublicKeyDownloadURL is set.
	Registry *registry.Registry
	// Issuer is the accepted issuer for the token
	Issuer string
	// Lookup maps an authenticated identity to an authorization. When nil, the
	// authorization is derived from the token claims directly.
	Lookup func(identity string) (*Authorization, error)
}

// JwtStrategy authenticates JSON-Web-Token credentials.
//
// Token are accepted as "Authorization: Bearer" header or, for the benefit
// of simple frontend development, as "Docrest-JWT" cookie.
type JwtStrategy struct {
	issuer  string
	keyFunc jwt.Keyfunc
	lookup  func(identity string) (*Authorization, error)
	cache   *AuthorizationCache
}

type jwtClaims struct {
	EMail      string            `json:"email"`
	Roles      []string          `json:"roles"`
	Resources  map[string]string `json:"resources"`
	Properties map[string]string `json:"properties"`
	jwt.RegisteredClaims
}

// NewJwtStrategy returns a strategy to validate JWT bearer token.
//
// It panics on invalid configuration, like all startup configuration errors.
func NewJwtStrategy(jsb *JwtStrategyBuilder) *JwtStrategy {
	s := &JwtStrategy{
		issuer: jsb.Issuer,
		lookup: jsb.Lookup,
		cache:  NewAuthorizationCache(),
	}

	if len(jsb.Secret) > 0 {
		secret := jsb.Secret
		s.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return secret, nil
		}
		return s
	}

	if len(jsb.PublicKeyDownloadURL) == 0 {
		panic("jwt strategy: neither secret nor public key download url configured")
	}
	if jsb.Registry == nil {
		panic("jwt strategy: public key download requires a registry")
	}

	s.keyFunc = wellKnownKeyFunc(jsb.PublicKeyDownloadURL, jsb.Registry)
	return s
}

// wellKnownKeyFunc downloads the well-known certificates and keeps them in the
// registry, so a fleet of instances does not hammer the download url on every
// restart. Keys are refreshed when older than six hours.
func wellKnownKeyFunc(downloadURL string, reg *registry.Registry) jwt.Keyfunc {
	jwtRegistry := reg.Accessor("_jwt_")
	rlog := logger.Default()

	var wellKnownCertificates map[string]string
	timestamp, err := jwtRegistry.Read(downloadURL, &wellKnownCertificates)
	if err != nil {
		panic(err)
	}
	if time.Since(timestamp) > 6*time.Hour {
		res, err := http.Get(downloadURL)
		if err != nil {
			rlog.WithError(err).Errorln("cannot download public keys, using cached set")
		} else {
			defer res.Body.Close()
			decoder := json.NewDecoder(res.Body)
			if err := decoder.Decode(&wellKnownCertificates); err != nil {
				panic(err)
			}
			if err := jwtRegistry.Write(downloadURL, wellKnownCertificates); err != nil {
				rlog.WithError(err).Errorln("cannot cache public keys")
			}
		}
	}

	wellKnownKeys := map[string]interface{}{}
	for kid, cert := range wellKnownCertificates {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cert))
		if err != nil {
			rlog.WithError(err).Errorln("certificate error for kid", kid)
		} else {
			wellKnownKeys[kid] = key
		}
	}

	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if key, ok := wellKnownKeys[kid]; ok {
			return key, nil
		}
		return nil, errors.New("cannot verify token")
	}
}

// Name returns the strategy name
func (s *JwtStrategy) Name() string {
	return "jwt"
}

// Authenticate validates the bearer token and returns the authorization for
// the authenticated identity.
func (s *JwtStrategy) Authenticate(r *http.Request) (*http.Request, *Authorization, error) {
	tokenString := ""
	bearer := r.Header.Get("Authorization")
	if len(bearer) > 0 && bearer != "null" {
		if len(bearer) >= 8 && strings.EqualFold(bearer[:7], "bearer ") {
			tokenString = bearer[7:]
		} else if !strings.ContainsRune(bearer, ' ') {
			tokenString = bearer
		}
	} else if cookie, _ := r.Cookie("Docrest-JWT"); cookie != nil {
		tokenString = cookie.Value
	}
	if len(tokenString) == 0 {
		return r, nil, ErrNoCredentials
	}

	claims := jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, s.keyFunc)
	if err != nil {
		return r, nil, err
	}
	if !token.Valid || (len(s.issuer) > 0 && claims.Issuer != s.issuer) {
		return r, nil, errors.New("invalid token")
	}

	// identity is a combination of issuer and email
	identity := claims.Issuer + "|" + claims.EMail
	ctx := ContextWithIdentity(r.Context(), identity)
	ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity)
	r = r.WithContext(ctx)

	if s.lookup == nil {
		return r, &Authorization{
			Roles:      claims.Roles,
			Resources:  claims.Resources,
			Properties: claims.Properties,
		}, nil
	}

	// look up the authorization by token string, and not by identity, so the
	// frontend can enforce a new lookup with a new token
	if auth := s.cache.Read(tokenString); auth != nil {
		return r, auth, nil
	}
	auth, err := s.lookup(identity)
	if err != nil {
		return r, nil, err
	}
	if auth == nil {
		return r, nil, errors.New("no authorization for identity")
	}
	s.cache.Write(tokenString, auth)
	return r, auth, nil
}
