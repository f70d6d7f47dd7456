package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lowc1012/bucket-limiter/internal/httperrors"
	"github.com/lowc1012/bucket-limiter/internal/log"
	"github.com/lowc1012/bucket-limiter/internal/request"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "

	noTokenMessage = "There is no token provided, provide one in an Authorization header in the format 'Bearer {your token here}'. " +
		"If you don't have a token, ask an administrator to generate you one."
	invalidTokenMessage = "The token provided is not a valid token or has expired, ask an administrator to generate you a new token."
	needsAdminMessage   = "This endpoint is limited to admins."
)

type Claims struct {
	Id    int64  `json:"id"`
	Salt  string `json:"salt"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 member tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for memberId with a fresh salt.
func (a *Authenticator) Issue(memberId int64, isAdmin bool) (string, error) {
	claims := Claims{
		Id:    memberId,
		Salt:  uuid.NewString(),
		Admin: isAdmin,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.WithMessage(err, "sign token")
	}
	return token, nil
}

func (a *Authenticator) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.WithMessage(err, "parse token")
	}
	if claims.Salt == "" {
		return nil, errors.New("token without salt")
	}
	return claims, nil
}

func writeForbidden(w http.ResponseWriter, msg string, err error) {
	httperrors.Write(w, httperrors.New(http.StatusForbidden, msg, err))
}

// Middleware verifies the bearer token and attaches the member to the request context.
func Middleware(a *Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get(authorizationHeader))
			if !strings.HasPrefix(header, bearerPrefix) {
				writeForbidden(w, noTokenMessage, errors.New("authenticate: bearer token required"))
				return
			}

			claims, err := a.Verify(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
			if err != nil {
				log.Logger().Debug("Rejected bearer token", zap.Error(err))
				writeForbidden(w, invalidTokenMessage, errors.WithMessage(err, "authenticate"))
				return
			}

			ctx := request.Authenticate(r.Context(), request.AuthData{
				MemberId: claims.Id,
				IsAdmin:  claims.Admin,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := request.GetAuthData(r.Context())
		if err != nil {
			writeForbidden(w, noTokenMessage, errors.WithMessage(err, "require admin"))
			return
		}
		if !data.IsAdmin {
			writeForbidden(w, needsAdminMessage, errors.Errorf("require admin: member %d is not an admin", data.MemberId))
			return
		}
		next.ServeHTTP(w, r)
	})
}
