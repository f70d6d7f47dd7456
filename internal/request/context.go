package request

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
)

type AuthData struct {
	MemberId int64
	IsAdmin  bool
}

type authDataKey struct{}

// Authenticate returns a copy of ctx carrying data.
func Authenticate(ctx context.Context, data AuthData) context.Context {
	return context.WithValue(ctx, authDataKey{}, data)
}

func GetAuthData(ctx context.Context) (AuthData, error) {
	data, ok := ctx.Value(authDataKey{}).(AuthData)
	if !ok {
		return AuthData{}, ErrNotAuthenticated
	}
	return data, nil
}
