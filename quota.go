// Quota metering middleware.
//
// Charges every request to the API key authenticated by APIKey and rejects
// the request with 429 once the key's plan is exhausted. Standard rate limit
// headers (RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset) are set on
// responses; Retry-After is added on 429.
//
//	r.With(
//		keyquota.APIKey(keyquota.RegistryValidator(qc.Keys)),
//		keyquota.Quota(qc.Usage),
//	).Get("/v1/verify", handler)

package keyquota

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/nhalm/keyquota/quota"
)

// HeaderMode controls when quota headers are included in responses.
type HeaderMode int

const (
	// HeadersAlways includes quota headers on all responses (default).
	HeadersAlways HeaderMode = iota

	// HeadersOnExceeded includes quota headers only on 429 responses.
	HeadersOnExceeded

	// HeadersNever never includes quota headers.
	HeadersNever
)

type usageContextKey struct{}

type quotaConfig struct {
	cost       func(*http.Request) int64
	headerMode HeaderMode
	now        func() time.Time
}

// QuotaOption configures the Quota middleware.
type QuotaOption func(*quotaConfig)

// WithCost charges fn(r) units per request instead of one.
// A cost of zero checks the quota without charging it.
func WithCost(fn func(*http.Request) int64) QuotaOption {
	return func(c *quotaConfig) {
		c.cost = fn
	}
}

// WithHeaderMode configures when quota headers are included in responses.
func WithHeaderMode(mode HeaderMode) QuotaOption {
	return func(c *quotaConfig) {
		c.headerMode = mode
	}
}

// Quota returns middleware that meters requests against the plan of the
// authenticated API key. It must run after APIKey; requests without an
// authenticated key pass through unmetered.
//
// Returns 429 (Too Many Requests) when the charge exceeds the quota, and the
// status of the underlying error when the key or plan cannot be resolved.
// The decision is stored in the context, see UsageFromContext.
func Quota(meter *quota.Meter, opts ...QuotaOption) func(http.Handler) http.Handler {
	cfg := &quotaConfig{
		cost:       func(*http.Request) int64 { return 1 },
		headerMode: HeadersAlways,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value, ok := APIKeyFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			usage, err := meter.Increment(r.Context(), value, quota.WithQuantity(cfg.cost(r)))
			if err != nil {
				if HasState(r.Context()) {
					Fail(r, err)
				} else {
					apiErr := FromError(err)
					http.Error(w, apiErr.Message, apiErr.Status)
				}
				return
			}

			untilReset := max(0, usage.Reset.Sub(cfg.now()))
			if cfg.headerMode == HeadersAlways || (cfg.headerMode == HeadersOnExceeded && usage.Exceeded) {
				setOrWriteHeader(w, r, "RateLimit-Limit", strconv.FormatInt(usage.Limit, 10))
				setOrWriteHeader(w, r, "RateLimit-Remaining", strconv.FormatInt(usage.Remaining, 10))
				setOrWriteHeader(w, r, "RateLimit-Reset", strconv.FormatInt(usage.Reset.Unix(), 10))
				if usage.Exceeded {
					setOrWriteHeader(w, r, "Retry-After", strconv.FormatInt(int64(math.Ceil(untilReset.Seconds())), 10))
				}
			}

			if usage.Exceeded {
				fail(w, r, ErrQuotaExceeded.With(fmt.Sprintf("Quota exceeded: %d requests per window, resets in %s", usage.Limit, untilReset.Round(time.Second))))
				return
			}

			ctx := context.WithValue(r.Context(), usageContextKey{}, usage)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UsageFromContext returns the decision made by Quota for this request.
func UsageFromContext(ctx context.Context) (*quota.UsageResult, bool) {
	usage, ok := ctx.Value(usageContextKey{}).(*quota.UsageResult)
	return usage, ok && usage != nil
}
