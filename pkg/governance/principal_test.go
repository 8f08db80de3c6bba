package governance

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPrincipalResolver(t *testing.T) {
	resolver := ClientPrincipalResolver{}

	principal, perms, err := resolver.Resolve(testContext(map[string]any{
		"principal":   "alice",
		"permissions": []any{"a:read", "a:write"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)
	assert.Equal(t, []string{"a:read", "a:write"}, perms)

	_, _, err = resolver.Resolve(testContext(nil))
	assert.ErrorContains(t, err, "no principal")
}

func signToken(t *testing.T, secret []byte, subject string, perms []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Permissions: perms,
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestJWTPrincipalResolver_ValidToken(t *testing.T) {
	secret := []byte("test-secret")
	resolver := NewJWTPrincipalResolver(secret)
	rctx := testContext(map[string]any{
		"access_token": signToken(t, secret, "svc-billing", []string{"billing:charge"}),
	})

	principal, perms, err := resolver.Resolve(rctx)
	require.NoError(t, err)
	assert.Equal(t, "svc-billing", principal)
	assert.Equal(t, []string{"billing:charge"}, perms)
}

func TestJWTPrincipalResolver_WrongSecretRejected(t *testing.T) {
	resolver := NewJWTPrincipalResolver([]byte("right-secret"))
	rctx := testContext(map[string]any{
		"access_token": signToken(t, []byte("wrong-secret"), "svc-billing", nil),
	})

	_, _, err := resolver.Resolve(rctx)
	assert.ErrorContains(t, err, "verify access token")
}

func TestJWTPrincipalResolver_MissingSubjectRejected(t *testing.T) {
	secret := []byte("test-secret")
	resolver := NewJWTPrincipalResolver(secret)
	rctx := testContext(map[string]any{
		"access_token": signToken(t, secret, "", nil),
	})

	_, _, err := resolver.Resolve(rctx)
	assert.ErrorContains(t, err, "no subject")
}

func TestJWTPrincipalResolver_FallsBackWithoutToken(t *testing.T) {
	resolver := NewJWTPrincipalResolver([]byte("test-secret"))
	rctx := testContext(map[string]any{
		"principal":   "gateway-user",
		"permissions": []string{"a:read"},
	})

	principal, perms, err := resolver.Resolve(rctx)
	require.NoError(t, err)
	assert.Equal(t, "gateway-user", principal)
	assert.Equal(t, []string{"a:read"}, perms)
}
