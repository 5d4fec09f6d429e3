package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "worklog.identity"}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return signed
}

func TestParseValidToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":      testConfig.Issuer,
		"sub":      "gateway",
		"guild_id": "g1",
		"scopes":   []string{ScopeRead, ScopeCommands},
		"exp":      time.Now().Add(time.Hour).Unix(),
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "gateway", claims.Subject)
	require.Equal(t, "g1", claims.GuildID)
	require.True(t, claims.HasScope(ScopeRead))
	require.True(t, claims.HasScope(ScopeCommands))
	require.False(t, claims.HasScope(ScopeAdmin))
}

func TestParseSpaceSeparatedScopes(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":      testConfig.Issuer,
		"sub":      "gateway",
		"guild_id": "g1",
		"scopes":   ScopeRead + " " + ScopeAdmin,
	})

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.True(t, claims.HasScope(ScopeRead))
	require.True(t, claims.HasScope(ScopeAdmin))
}

func TestParseMissingToken(t *testing.T) {
	_, err := Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestParseWrongIssuer(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":      "someone-else",
		"sub":      "gateway",
		"guild_id": "g1",
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseWrongSecret(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":      testConfig.Issuer,
		"sub":      "gateway",
		"guild_id": "g1",
	})
	signed, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = Parse(signed, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseExpiredToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss":      testConfig.Issuer,
		"sub":      "gateway",
		"guild_id": "g1",
		"exp":      time.Now().Add(-time.Minute).Unix(),
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRequiresIdentityClaims(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"iss": testConfig.Issuer,
		"sub": "gateway",
	})

	_, err := Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestHasScopeOnNilClaims(t *testing.T) {
	var claims *Claims
	require.False(t, claims.HasScope(ScopeRead))
}
