package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestHeaderResolver(t *testing.T) {
	hr := NewHeaderResolver()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := hr.Resolve(r)
	require.NoError(t, err)
	require.Nil(t, id)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "user-1")
	r.Header.Set(HeaderUserRole, "SENDER")
	r.Header.Set(HeaderCompanyID, "acme")
	id, err = hr.Resolve(r)
	require.NoError(t, err)
	require.Equal(t, "user-1", id.SubjectID)
	require.Equal(t, "acme", id.CompanyID)
	require.Equal(t, RoleSender, id.Role)
}

func TestHeaderResolver_UnknownRole(t *testing.T) {
	hr := NewHeaderResolver()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "user-1")
	r.Header.Set(HeaderUserRole, "SUPERUSER")
	id, err := hr.Resolve(r)
	require.NoError(t, err)
	require.Equal(t, RoleUnknown, id.Role)
}

func TestHeaderResolver_RoleWithoutUserID(t *testing.T) {
	hr := NewHeaderResolver()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserRole, "SENDER")
	_, err := hr.Resolve(r)
	require.Error(t, err)
}

func signToken(t *testing.T, secret string, claims identityClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTResolver(t *testing.T) {
	jr := NewJWTResolver("secret")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := jr.Resolve(r)
	require.NoError(t, err)
	require.Nil(t, id)

	raw := signToken(t, "secret", identityClaims{
		Role:      "ADMIN",
		CompanyID: "acme",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	id, err = jr.Resolve(r)
	require.NoError(t, err)
	require.Equal(t, "user-9", id.SubjectID)
	require.Equal(t, RoleAdmin, id.Role)
	require.True(t, id.IsAdmin())
}

func TestJWTResolver_BadSignature(t *testing.T) {
	jr := NewJWTResolver("secret")

	raw := signToken(t, "other-secret", identityClaims{
		Role:             "SENDER",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-9"},
	})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	_, err := jr.Resolve(r)
	require.Error(t, err)
}

func TestJWTResolver_Expired(t *testing.T) {
	jr := NewJWTResolver("secret")

	raw := signToken(t, "secret", identityClaims{
		Role: "SENDER",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+raw)
	_, err := jr.Resolve(r)
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	var got *Identity
	h := Middleware(NewHeaderResolver())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	// Unauthenticated passes through without an identity.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, got)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderUserID, "user-1")
	r.Header.Set(HeaderUserRole, "CUSTOMER")
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, "user-1", got.SubjectID)
}

func TestRequireIdentity(t *testing.T) {
	h := RequireIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
