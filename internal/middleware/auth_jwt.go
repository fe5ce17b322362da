package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims carried by API bearer tokens. The subject is the
// owning user id.
type TokenClaims struct {
	Plan string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

type userKey string

const (
	userIDKey userKey = "user_id"
)

var errMissingSubject = errors.New("token has no subject")

// SignJWT issues an HS256 token for userID that expires after ttl. A zero ttl
// issues a token without expiry.
func SignJWT(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := TokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func VerifyJWT(secret, token string) (*TokenClaims, error) {
	return AuthOptions{Secret: secret}.Verify(token)
}

// KeySource resolves verification keys for tokens signed by an external
// identity provider.
type KeySource interface {
	Keyfunc(token *jwt.Token) (any, error)
}

// AuthOptions accepts HS256 tokens signed with Secret and, when Keys is set,
// RS256 tokens from an identity provider. Issuer and Audience are enforced on
// identity-provider tokens only.
type AuthOptions struct {
	Secret   string
	Keys     KeySource
	Issuer   string
	Audience string
}

func (o AuthOptions) Verify(token string) (*TokenClaims, error) {
	methods := []string{jwt.SigningMethodHS256.Alg()}
	if o.Keys != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, o.keyfunc, jwt.WithValidMethods(methods))
	if err != nil {
		return nil, err
	}
	if _, external := parsed.Method.(*jwt.SigningMethodRSA); external {
		if err := o.checkIdentityClaims(claims); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}

func (o AuthOptions) keyfunc(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if o.Secret == "" {
			return nil, errors.New("hmac tokens are not accepted")
		}
		return []byte(o.Secret), nil
	case *jwt.SigningMethodRSA:
		return o.Keys.Keyfunc(token)
	}
	return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
}

func (o AuthOptions) checkIdentityClaims(claims *TokenClaims) error {
	if o.Issuer != "" && claims.Issuer != o.Issuer {
		return errors.New("invalid issuer")
	}
	if o.Audience != "" && !slices.Contains(claims.Audience, o.Audience) {
		return errors.New("invalid audience")
	}
	return nil
}

func AuthJWT(secret string) func(http.Handler) http.Handler {
	return Auth(AuthOptions{Secret: secret})
}

func Auth(opts AuthOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization")
				return
			}
			claims, err := opts.Verify(strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), claims.Subject)))
		})
	}
}

func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if strings.TrimSpace(userID) == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey, userID)
}
