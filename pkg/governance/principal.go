package governance

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pathwise-io/pathwise/pkg/runtime"
)

// PrincipalResolver extracts the acting principal and its permissions from
// the client compartment of the runtime context.
type PrincipalResolver interface {
	Resolve(rctx runtime.Context) (principal string, permissions []string, err error)
}

// ClientPrincipalResolver reads "principal" and "permissions" directly from
// the client compartment. Suitable when an upstream gateway has already
// authenticated the caller.
type ClientPrincipalResolver struct{}

func (ClientPrincipalResolver) Resolve(rctx runtime.Context) (string, []string, error) {
	principal, _ := rctx.Client["principal"].(string)
	if principal == "" {
		return "", nil, errors.New("client context carries no principal")
	}
	return principal, toStringSlice(rctx.Client["permissions"]), nil
}

// tokenClaims is the claim set carried by access tokens.
type tokenClaims struct {
	jwt.RegisteredClaims
	Permissions []string `json:"permissions,omitempty"`
}

// JWTPrincipalResolver verifies the "access_token" field of the client
// compartment as an HMAC-signed JWT and reads subject and permissions from
// its claims. Falls back to ClientPrincipalResolver when no token is set.
type JWTPrincipalResolver struct {
	secret   []byte
	fallback ClientPrincipalResolver
}

func NewJWTPrincipalResolver(secret []byte) *JWTPrincipalResolver {
	return &JWTPrincipalResolver{secret: secret}
}

func (r *JWTPrincipalResolver) Resolve(rctx runtime.Context) (string, []string, error) {
	raw, _ := rctx.Client["access_token"].(string)
	if raw == "" {
		return r.fallback.Resolve(rctx)
	}
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", nil, fmt.Errorf("verify access token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", nil, errors.New("access token carries no subject")
	}
	return claims.Subject, claims.Permissions, nil
}

func toStringSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
