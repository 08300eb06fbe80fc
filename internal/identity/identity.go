// Package identity resolves the player identity attached to a device
// request. Identities are opaque strings issued elsewhere; when a signing
// secret is configured they arrive as HS256 bearer tokens, otherwise as a
// plain header.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/form3tech-oss/jwt-go"
)

const Header = "X-Player-Id"

var ErrMissing = errors.New("missing player identity")

// Resolver extracts identities from requests and, with a secret, issues
// tokens for them.
type Resolver struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewResolver(secret string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		issuer: "hunt",
		now:    time.Now,
	}
}

// Signed reports whether identities must be bearer tokens.
func (r *Resolver) Signed() bool { return len(r.secret) > 0 }

// Issue signs a token for playerID valid for ttl.
func (r *Resolver) Issue(playerID string, ttl time.Duration) (string, error) {
	if !r.Signed() {
		return "", fmt.Errorf("issuing token: no signing secret configured")
	}
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return "", fmt.Errorf("issuing token: player id is required")
	}
	now := r.now()
	claims := jwt.MapClaims{
		"iss": r.issuer,
		"sub": playerID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

// Parse validates a token and returns its subject.
func (r *Resolver) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("parsing token: invalid token")
	}
	sub, _ := claims["sub"].(string)
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "", errors.New("parsing token: missing subject")
	}
	return sub, nil
}

// FromRequest returns the caller's identity.
func (r *Resolver) FromRequest(req *http.Request) (string, error) {
	if r.Signed() {
		auth := req.Header.Get("Authorization")
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found || token == "" {
			return "", ErrMissing
		}
		return r.Parse(token)
	}
	id := strings.TrimSpace(req.Header.Get(Header))
	if id == "" {
		return "", ErrMissing
	}
	return id, nil
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by the request middleware.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
