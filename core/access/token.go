package access

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// saltLength is the number of random bytes used for the salt.
// 16 bytes provides sufficient uniqueness while keeping the stored data compact
const saltLength = 16

// TokenRecord is the stored representation of an API token. The token itself
// is never stored, only a salted checksum of it.
type TokenRecord struct {
	TokenID       uuid.UUID      `json:"token_id"`
	TokenCheckSum string         `json:"token_checksum"`
	Salt          string         `json:"salt"`
	ExpireAt      time.Time      `json:"expire_at"`
	Authorization *Authorization `json:"authorization"`
}

// TokenStrategy authenticates API tokens.
//
// Tokens are accepted as "Authorization: AuthToken: <token>" header. A token
// is the base64-encoded token ID followed by a random string; the strategy
// looks up the stored record by ID and verifies the salted checksum.
type TokenStrategy struct {
	// Lookup retrieves the stored record for a token ID. A nil record means
	// the token does not exist.
	Lookup func(tokenID uuid.UUID) (*TokenRecord, error)
}

// Name returns the strategy name
func (s *TokenStrategy) Name() string {
	return "token"
}

// Authenticate verifies the API token and returns the authorization stored
// with it.
func (s *TokenStrategy) Authenticate(r *http.Request) (*http.Request, *Authorization, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "AuthToken: ") {
		return r, nil, ErrNoCredentials
	}
	tokenString := strings.TrimPrefix(header, "AuthToken: ")

	split := strings.Split(tokenString, ".")
	if len(split) != 2 {
		return r, nil, fmt.Errorf("invalid token format, missing separator")
	}
	tokenIDBytes, err := base64.RawURLEncoding.DecodeString(split[0])
	if err != nil {
		return r, nil, fmt.Errorf("invalid token format: %w", err)
	}
	id, err := uuid.ParseBytes(tokenIDBytes)
	if err != nil {
		return r, nil, fmt.Errorf("invalid token format: %w", err)
	}

	record, err := s.Lookup(id)
	if err != nil {
		return r, nil, err
	}
	if record == nil {
		return r, nil, fmt.Errorf("token not found")
	}
	if !verifyToken(tokenString, record) {
		return r, nil, fmt.Errorf("token expired or invalid")
	}
	return r, record.Authorization, nil
}

// GenerateToken creates a new token. A token is made of the token ID and a
// random string. The actual token is returned only here, it is not part of the
// record and cannot be retrieved again.
func GenerateToken(auth *Authorization, expireAt time.Time) (string, *TokenRecord, error) {
	tokenID := uuid.New()
	base64UUID := base64.RawURLEncoding.EncodeToString([]byte(tokenID.String()))

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate secure token: %w", err)
	}
	token := base64UUID + "." + base64.RawURLEncoding.EncodeToString(randomBytes)

	salt, err := generateSalt()
	if err != nil {
		return "", nil, err
	}

	record := &TokenRecord{
		TokenID:       tokenID,
		TokenCheckSum: hashTokenWithSalt(token, salt),
		Salt:          salt,
		ExpireAt:      expireAt,
		Authorization: auth,
	}
	return token, record, nil
}

// generateSalt creates a cryptographically secure random salt. The salt does
// not need to be kept secret, but must be unique for each token.
func generateSalt() (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// hashTokenWithSalt combines the token and salt, then hashes them
func hashTokenWithSalt(token, salt string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token + salt))
	return base64.StdEncoding.EncodeToString(hasher.Sum(nil))
}

// verifyToken checks if a provided token is valid by comparing its hash
func verifyToken(providedToken string, record *TokenRecord) bool {
	saltBytes, err := base64.StdEncoding.DecodeString(record.Salt)
	if err != nil || len(saltBytes) != saltLength {
		return false
	}
	computedHash := hashTokenWithSalt(providedToken, record.Salt)
	return computedHash == record.TokenCheckSum && record.ExpireAt.After(time.Now())
}
