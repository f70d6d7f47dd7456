package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lowc1012/bucket-limiter/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_IssueVerify(t *testing.T) {
	a := NewAuthenticator("secret")

	token, err := a.Issue(42, true)
	require.NoError(t, err)

	claims, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.Id)
	assert.True(t, claims.Admin)
	assert.NotEmpty(t, claims.Salt)

	_, err = NewAuthenticator("other").Verify(token)
	assert.Error(t, err)

	_, err = a.Verify("not-a-token")
	assert.Error(t, err)
}

func TestAuthenticator_RejectsOtherAlgorithms(t *testing.T) {
	a := NewAuthenticator("secret")
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{Id: 1, Salt: "x"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = a.Verify(token)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator("secret")
	memberToken, err := a.Issue(7, false)
	require.NoError(t, err)
	adminToken, err := a.Issue(1, true)
	require.NoError(t, err)

	var seen request.AuthData
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = request.GetAuthData(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	var tests = []struct {
		name    string
		header  string
		admin   bool
		status  int
		message string
		seen    request.AuthData
	}{
		{name: "missing token", status: http.StatusForbidden, message: noTokenMessage},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusForbidden, message: noTokenMessage},
		{name: "invalid token", header: "Bearer abc", status: http.StatusForbidden, message: invalidTokenMessage},
		{name: "member", header: "Bearer " + memberToken, status: http.StatusNoContent, seen: request.AuthData{MemberId: 7}},
		{name: "member on admin route", header: "Bearer " + memberToken, admin: true, status: http.StatusForbidden, message: needsAdminMessage},
		{name: "admin on admin route", header: "Bearer " + adminToken, admin: true, status: http.StatusNoContent, seen: request.AuthData{MemberId: 1, IsAdmin: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = request.AuthData{}
			var h http.Handler = inner
			if tt.admin {
				h = RequireAdmin(h)
			}
			h = Middleware(a)(h)

			r := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			assert.Equal(t, tt.status, w.Code)
			if tt.message != "" {
				assert.Contains(t, w.Body.String(), tt.message)
			}
			assert.Equal(t, tt.seen, seen)
		})
	}
}
