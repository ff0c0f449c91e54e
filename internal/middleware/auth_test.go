package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	var seen string
	handler := AuthMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OwnerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("valid token sets the owner", func(t *testing.T) {
		seen = ""
		token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"user_id": "user-42",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})
		w := serve("Bearer " + token)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "user-42", seen)
	})

	t.Run("rejects missing and malformed headers", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve("").Code)
		assert.Equal(t, http.StatusUnauthorized, serve("Token abc").Code)
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer not-a-jwt").Code)
	})

	t.Run("rejects wrong secret, expiry and missing claim", func(t *testing.T) {
		wrong := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"user_id": "u"})
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+wrong).Code)

		expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
			"user_id": "u",
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+expired).Code)

		anonymous := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "u"})
		assert.Equal(t, http.StatusUnauthorized, serve("Bearer "+anonymous).Code)
	})
}

func TestOwnerID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", OwnerID(req.Context()))
	assert.Equal(t, "u1", OwnerID(WithOwnerID(req.Context(), "u1")))
}
