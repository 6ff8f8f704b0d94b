package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/lscinspector/internal/common"
)

const testUserID = "5b0c7a53-3f43-4f4b-9a0e-2f7d4c1c6a10"

var testSecret = []byte("inspector-secret")

func signClaims(t *testing.T, method jwt.SigningMethod, claims Claims, secret []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	tok, err := GenerateToken(testUserID, testSecret, 15*time.Minute)
	require.NoError(t, err)

	got, err := GetUserIDFromToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, testUserID, got)

	claims := &Claims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok, claims)
	require.NoError(t, err)
	assert.Equal(t, issuer, claims.Issuer)
	assert.Equal(t, testUserID, claims.Subject)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestGetUserIDFromToken_Expired(t *testing.T) {
	tok, err := GenerateToken(testUserID, testSecret, -time.Second)
	require.NoError(t, err)

	_, err = GetUserIDFromToken(tok, testSecret)
	assert.Equal(t, common.ErrTokenExpired, err)
}

func TestGetUserIDFromToken_Rejects(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	foreign := valid
	foreign.Issuer = "someone-else"

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"garbage", func(*testing.T) string { return "not.a.jwt" }},
		{"empty", func(*testing.T) string { return "" }},
		{"wrong secret", func(t *testing.T) string {
			return signClaims(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: valid, UserID: testUserID}, []byte("other"))
		}},
		{"other algorithm", func(t *testing.T) string {
			return signClaims(t, jwt.SigningMethodHS512, Claims{RegisteredClaims: valid, UserID: testUserID}, testSecret)
		}},
		{"foreign issuer", func(t *testing.T) string {
			return signClaims(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: foreign, UserID: testUserID}, testSecret)
		}},
		{"missing user id", func(t *testing.T) string {
			return signClaims(t, jwt.SigningMethodHS256, Claims{RegisteredClaims: valid}, testSecret)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GetUserIDFromToken(tt.token(t), testSecret)
			assert.ErrorIs(t, err, common.ErrInvalidToken)
		})
	}
}
