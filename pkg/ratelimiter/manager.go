package ratelimiter

import (
	"math"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lowc1012/bucket-limiter/internal/bucketkey"
	"github.com/lowc1012/bucket-limiter/internal/httperrors"
	"github.com/lowc1012/bucket-limiter/internal/log"
	limiter "github.com/lowc1012/bucket-limiter/internal/ratelimiter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	requestsLimit     = "Requests-Limit"
	requestsPeriod    = "Requests-Period"
	requestsRemaining = "Requests-Remaining"
	requestsReset     = "Requests-Reset"
	cooldownReset     = "Cooldown-Reset"

	cooldownMessage = "You're currently on cooldown. Try again later."
)

// Config defines the configuration for the rate limiter handler.
type Config struct {
	Guard *limiter.Guard
	// Prefix is prepended to every rate limiting header, so guards stacked on one
	// route report their state separately.
	Prefix string
}

// NewConfig takes the header prefix from the guard extractor when it provides one.
func NewConfig(guard *limiter.Guard) *Config {
	cfg := &Config{Guard: guard}
	if p, ok := guard.Extractor().(bucketkey.HeaderPrefixer); ok {
		cfg.Prefix = p.HeaderPrefix()
	}
	return cfg
}

type Middleware func(next http.Handler) http.Handler

type httpRateLimiterHandler struct {
	handler http.Handler
	config  *Config
}

// NewHTTPRateLimiterHandler wraps an existing http.Handler object performing rate limiting before
// sending the request to the wrapped handler. If any errors happen while trying to rate limit a request
// or if the request is on cooldown, the rate limiting handler will send a response to the client and will not
// call the wrapped handler.
func NewHTTPRateLimiterHandler(originalHandler http.Handler, config *Config) http.Handler {
	return &httpRateLimiterHandler{
		handler: originalHandler,
		config:  config,
	}
}

func NewMiddleware(config *Config) Middleware {
	return func(next http.Handler) http.Handler {
		return NewHTTPRateLimiterHandler(next, config)
	}
}

// Chain wraps h so that the first middleware sees the request first.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

func (h *httpRateLimiterHandler) writeCooldown(writer http.ResponseWriter, cooldown time.Duration) {
	writer.Header().Set(h.config.Prefix+cooldownReset, seconds(cooldown))
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusTooManyRequests)
	body := map[string]string{"message": cooldownMessage}
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		log.Logger().Error("Failed to write body to HTTP request", zap.Error(err))
	}
}

func (h *httpRateLimiterHandler) writeError(writer http.ResponseWriter, err error) {
	var httpErr httperrors.HttpError
	var configErr *limiter.ConfigurationError
	if errors.As(err, &configErr) {
		httpErr = httperrors.New(http.StatusBadRequest, "failed to collect rate limiting key from request", err)
		httpErr.WithDetails(configErr.Bucket)
	} else {
		httpErr = httperrors.New(http.StatusInternalServerError, "failed to run rate limiting for request", err)
		httpErr.WithDetails(h.config.Guard.Bucket().ID())
	}
	httperrors.Write(writer, httpErr)
}

// ServeHTTP performs rate limiting with the configuration it was provided and if there were no errors
// and the request was allowed it is sent to the wrapped handler. It also adds rate limiting headers that will be
// sent to the client to make it aware of what state it is in terms of rate limiting.
func (h *httpRateLimiterHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	result, err := h.config.Guard.Check(request.Context(), request)
	if err != nil {
		h.writeError(writer, err)
		return
	}

	if result.State == limiter.RejectCooldown {
		h.writeCooldown(writer, result.CooldownRemaining)
		return
	}

	// a degraded admission has no quota to report
	if !result.Degraded {
		prefix := h.config.Prefix
		writer.Header().Set(prefix+requestsLimit, strconv.FormatInt(result.Limit, 10))
		writer.Header().Set(prefix+requestsPeriod, strconv.FormatFloat(result.Period.Seconds(), 'f', -1, 64))
		writer.Header().Set(prefix+requestsRemaining, strconv.FormatInt(result.Remaining, 10))
		writer.Header().Set(prefix+requestsReset, seconds(result.ResetIn))
	}

	// by leaving this to the end we make sure the wrapped handler is only called once and doesn't have to worry
	// about any rate limiting at all, the headers above are sent when the handler flushes the response.
	h.handler.ServeHTTP(writer, request)
}

// seconds rounds d up, so a running cooldown is never reported as 0.
func seconds(d time.Duration) string {
	if d <= 0 {
		return "0"
	}
	return strconv.FormatInt(int64(math.Ceil(d.Seconds())), 10)
}
