package bucketkey

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/lowc1012/bucket-limiter/internal/request"
	"github.com/pkg/errors"
)

// ErrConfiguration is returned when a request does not carry what an extractor needs.
// It signals a wiring mistake, not a client exceeding its quota.
var ErrConfiguration = errors.New("bucket key unavailable")

const forwardedForHeader = "X-Forwarded-For"

// Extractor represents the way we will extract a key from an HTTP request, this could be
// a value from a header, the client address, user authentication information, any information that
// is available at the HTTP request that wouldn't cause side effects if it was collected (this object shouldn't
// read the body of the request).
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

// HeaderPrefixer is implemented by extractors that want their guard to namespace response headers.
type HeaderPrefixer interface {
	HeaderPrefix() string
}

type prefixedExtractor struct {
	Extractor
	prefix string
}

// WithHeaderPrefix overrides the response header prefix of e. Guards stacked on one
// route need distinct prefixes, or the inner guard overwrites the outer guard's headers.
func WithHeaderPrefix(e Extractor, prefix string) Extractor {
	return prefixedExtractor{Extractor: e, prefix: prefix}
}

func (p prefixedExtractor) HeaderPrefix() string {
	return p.prefix
}

type httpHeaderExtractor struct {
	headers []string
}

// NewHTTPHeadersExtractor creates a new HTTP header extractor
func NewHTTPHeadersExtractor(headers ...string) Extractor {
	return &httpHeaderExtractor{headers: headers}
}

// Extract extracts a collection of http headers and joins them to build the key that will be used for
// rate limiting. You should use headers that are guaranteed to be unique for a client.
func (h *httpHeaderExtractor) Extract(r *http.Request) (string, error) {
	values := make([]string, 0, len(h.headers))

	for _, key := range h.headers {
		// if we can't find a value for the headers, give up and return an error.
		value := strings.TrimSpace(r.Header.Get(key))
		if value == "" {
			return "", errors.WithMessagef(ErrConfiguration, "the header %v must have a value set", key)
		}
		values = append(values, value)
	}

	return strings.Join(values, "-"), nil
}

func (h *httpHeaderExtractor) HeaderPrefix() string {
	return ""
}

type AddressOption func(e *addressExtractor)

// WithForwardedFor makes the extractor prefer the first hop of the X-Forwarded-For header.
// Only enable it behind a proxy that overwrites the header.
func WithForwardedFor() AddressOption {
	return WithForwardedHeader(forwardedForHeader)
}

func WithForwardedHeader(name string) AddressOption {
	return func(e *addressExtractor) {
		e.forwardedHeader = name
	}
}

func WithAddressHeaderPrefix(prefix string) AddressOption {
	return func(e *addressExtractor) {
		e.prefix = prefix
	}
}

type addressExtractor struct {
	forwardedHeader string
	prefix          string
}

// NewAddressExtractor keys requests by the client network address.
func NewAddressExtractor(opts ...AddressOption) Extractor {
	e := &addressExtractor{prefix: "IP-"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *addressExtractor) Extract(r *http.Request) (string, error) {
	if e.forwardedHeader != "" {
		if v := r.Header.Get(e.forwardedHeader); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip, nil
			}
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "", errors.WithMessage(ErrConfiguration, "unable to obtain client address")
	}
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host, nil
	}
	return addr, nil
}

func (e *addressExtractor) HeaderPrefix() string {
	return e.prefix
}

type principalExtractor struct{}

// NewPrincipalExtractor keys requests by the authenticated member id.
// The authentication middleware must run before the guard using it.
func NewPrincipalExtractor() Extractor {
	return principalExtractor{}
}

func (principalExtractor) Extract(r *http.Request) (string, error) {
	data, err := request.GetAuthData(r.Context())
	if err != nil {
		return "", errors.WithMessagef(ErrConfiguration, "member id: %v", err)
	}
	return strconv.FormatInt(data.MemberId, 10), nil
}

func (principalExtractor) HeaderPrefix() string {
	return ""
}
