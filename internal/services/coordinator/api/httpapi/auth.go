package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/secretdoor/montyhall/internal/platform/errors"
	"github.com/secretdoor/montyhall/internal/platform/httpx"
)

// TokenIssuer is the issuer claim on coordinator API tokens.
const TokenIssuer = "montyhall-coordinator"

// IssueToken mints an HS256 bearer token for subject valid for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret is required")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Authenticator validates bearer tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator returns nil when secret is empty, which disables auth.
func NewAuthenticator(secret []byte) *Authenticator {
	if len(secret) == 0 {
		return nil
	}
	return &Authenticator{secret: secret, now: time.Now}
}

// Validate parses a raw token and returns its subject.
func (a *Authenticator) Validate(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", mapJWTError(err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", apperrors.New(apperrors.CodeUnauthorized, "token subject is required")
	}
	return claims.Subject, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeUnauthorized, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeUnauthorized, "token signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthorized, "token is invalid", err)
	}
}

// Middleware rejects requests without a valid bearer token. A nil
// Authenticator lets every request through.
func (a *Authenticator) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		if a == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				_ = httpx.WriteJSONError(w, http.StatusUnauthorized, "bearer token is required")
				return
			}
			if _, err := a.Validate(strings.TrimSpace(token)); err != nil {
				var domainErr *apperrors.Error
				message := "token is invalid"
				if errors.As(err, &domainErr) {
					message = domainErr.Message
				}
				_ = httpx.WriteJSONError(w, http.StatusUnauthorized, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
