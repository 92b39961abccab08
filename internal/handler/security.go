package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/hosting-checkout/internal/domain/auth"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "api_key"

var errUnauthorized = errors.New("unauthorized")

// Claims is the JWT payload identifying a customer.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Security authenticates customers by bearer JWT and administrators by
// HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys   auth.Repository
	pepper    []byte
	jwtSecret []byte
	now       func() time.Time
}

// NewSecurity creates a Security with the given API key repository, HMAC
// pepper and JWT signing secret.
func NewSecurity(apikeys auth.Repository, pepper, jwtSecret []byte) *Security {
	return &Security{
		apikeys:   apikeys,
		pepper:    pepper,
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
}

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, as stored in
// the api_keys table.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// IssueToken signs a user token valid for ttl.
func (s *Security) IssueToken(user auth.User, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: user.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// ParseToken validates a signed user token.
func (s *Security) ParseToken(token string) (auth.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return auth.User{}, errors.Wrap(err, "parse token")
	}
	if claims.Subject == "" {
		return auth.User{}, errors.New("token has no subject")
	}
	role := claims.Role
	if role == "" {
		role = auth.RoleUser
	}
	return auth.User{ID: claims.Subject, Role: role}, nil
}

// RequireUser rejects requests without a valid bearer token and stores the
// user in the request context.
func (s *Security) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
			return
		}
		user, err := s.ParseToken(token)
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// RequireAPIKey rejects requests whose API key is unknown or lacks scope.
func (s *Security) RequireAPIKey(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := s.authenticateKey(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
				return
			}
			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Security) authenticateKey(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil, errUnauthorized
	}
	hexHash := HashAPIKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
		}
		return nil, errUnauthorized
	}

	// The stored hash is compared again in constant time.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errUnauthorized
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}
