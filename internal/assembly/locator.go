package assembly

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/lowc1012/bucket-limiter/internal/auth"
	"github.com/lowc1012/bucket-limiter/internal/bucketkey"
	"github.com/lowc1012/bucket-limiter/internal/config"
	"github.com/lowc1012/bucket-limiter/internal/httperrors"
	"github.com/lowc1012/bucket-limiter/internal/log"
	"github.com/lowc1012/bucket-limiter/internal/ratelimiter"
	"github.com/lowc1012/bucket-limiter/internal/request"
	"github.com/lowc1012/bucket-limiter/internal/store"
	httplimiter "github.com/lowc1012/bucket-limiter/pkg/ratelimiter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Locator struct {
	store         store.Store
	authenticator *auth.Authenticator
	opts          []ratelimiter.GuardOption
}

// NewLocator wires handlers over s. opts are applied to every guard after the ones derived from the config.
func NewLocator(s store.Store, authenticator *auth.Authenticator, opts ...ratelimiter.GuardOption) Locator {
	return Locator{
		store:         s,
		authenticator: authenticator,
		opts:          opts,
	}
}

func (l Locator) Handler(cfg *config.Config) (http.Handler, error) {
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.FailurePolicy()
	if err != nil {
		return nil, err
	}
	opts := append([]ratelimiter.GuardOption{
		ratelimiter.WithMode(mode),
		ratelimiter.WithFailurePolicy(policy),
	}, l.opts...)

	registry := ratelimiter.NewRegistry()
	ipBucket, err := l.register(registry, cfg.IpBucket)
	if err != nil {
		return nil, err
	}
	memberBucket, err := l.register(registry, cfg.MemberBucket)
	if err != nil {
		return nil, err
	}

	var addressOpts []bucketkey.AddressOption
	if cfg.TrustForwardedFor {
		addressOpts = append(addressOpts, bucketkey.WithForwardedFor())
	}
	ipGuard, err := ratelimiter.NewGuard(ipBucket, bucketkey.NewAddressExtractor(addressOpts...), l.store, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "ip guard")
	}
	memberGuard, err := ratelimiter.NewGuard(memberBucket, bucketkey.NewPrincipalExtractor(), l.store, opts...)
	if err != nil {
		return nil, errors.WithMessage(err, "member guard")
	}

	ipLimit := httplimiter.NewMiddleware(httplimiter.NewConfig(ipGuard))
	memberLimit := httplimiter.NewMiddleware(httplimiter.NewConfig(memberGuard))
	authenticate := auth.Middleware(l.authenticator)

	router := mux.NewRouter()
	router.Handle("/ping", httplimiter.Chain(
		http.HandlerFunc(ping),
		ipLimit,
	)).Methods(http.MethodGet)
	router.Handle("/me", httplimiter.Chain(
		http.HandlerFunc(me),
		ipLimit,
		authenticate,
		memberLimit,
	)).Methods(http.MethodGet)
	router.Handle("/admin/members/{id:[0-9]+}/token", httplimiter.Chain(
		http.HandlerFunc(l.issueToken),
		ipLimit,
		authenticate,
		auth.RequireAdmin,
	)).Methods(http.MethodPost)

	for _, b := range registry.Buckets() {
		log.Logger().Info("Rate limit bucket registered",
			zap.String("bucket", b.ID()),
			zap.Int64("requests", b.Requests()),
			zap.Duration("period", b.Period()),
			zap.Duration("cooldown", b.Cooldown()))
	}
	return router, nil
}

func (l Locator) register(registry *ratelimiter.Registry, cfg config.Bucket) (*ratelimiter.Bucket, error) {
	bucket, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if err := registry.Register(bucket); err != nil {
		return nil, err
	}
	return bucket, nil
}

func ping(w http.ResponseWriter, _ *http.Request) {
	writeJson(w, http.StatusOK, map[string]string{"message": "pong"})
}

func me(w http.ResponseWriter, r *http.Request) {
	data, err := request.GetAuthData(r.Context())
	if err != nil {
		httperrors.Write(w, httperrors.New(http.StatusForbidden, "authentication required", errors.WithMessage(err, "me")))
		return
	}
	writeJson(w, http.StatusOK, map[string]interface{}{
		"memberId": data.MemberId,
		"isAdmin":  data.IsAdmin,
	})
}

func (l Locator) issueToken(w http.ResponseWriter, r *http.Request) {
	memberId, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		httperrors.Write(w, httperrors.New(http.StatusBadRequest, "invalid member id", errors.WithMessage(err, "issue token")))
		return
	}
	isAdmin := r.URL.Query().Get("admin") == "true"

	token, err := l.authenticator.Issue(memberId, isAdmin)
	if err != nil {
		httperrors.Write(w, httperrors.New(http.StatusInternalServerError, "failed to issue token", err))
		return
	}
	writeJson(w, http.StatusCreated, map[string]interface{}{
		"memberId": memberId,
		"apiToken": token,
		"isAdmin":  isAdmin,
	})
}

func writeJson(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Logger().Error("Failed to write body to HTTP request", zap.Error(err))
	}
}
