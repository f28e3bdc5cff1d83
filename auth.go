package keyquota

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/nhalm/keyquota/quota"
)

type authContextKey string

const (
	apiKeyKey      authContextKey = "api_key"
	keyRecordKey   authContextKey = "api_key_record"
	bearerTokenKey authContextKey = "bearer_token"
)

// DefaultAPIKeyHeader is the header APIKey reads unless configured otherwise.
const DefaultAPIKeyHeader = "X-API-Key"

// ErrKeyDisabled is returned by a KeyValidator for a key that exists but is
// switched off. APIKey answers it with 403.
var ErrKeyDisabled = errors.New("api key is disabled")

// KeyValidator resolves an API key. It returns quota.ErrKeyNotFound (or any
// error matching it) for unknown keys and ErrKeyDisabled for disabled ones;
// other errors are reported as server errors.
//
// Validators are called concurrently and must be safe for concurrent use.
type KeyValidator func(ctx context.Context, value string) (*quota.Key, error)

// RegistryValidator validates keys against the key registry.
func RegistryValidator(keys *quota.Keys) KeyValidator {
	return func(ctx context.Context, value string) (*quota.Key, error) {
		key, err := keys.Retrieve(ctx, value)
		if err != nil {
			return nil, err
		}
		if !key.Enabled {
			return nil, ErrKeyDisabled
		}
		return key, nil
	}
}

type apiKeyConfig struct {
	header   string
	optional bool
}

// APIKeyOption configures APIKey middleware.
type APIKeyOption func(*apiKeyConfig)

// WithAPIKeyHeader sets the header to read the API key from.
func WithAPIKeyHeader(header string) APIKeyOption {
	return func(c *apiKeyConfig) {
		c.header = header
	}
}

// WithOptionalAPIKey lets requests without an API key through unauthenticated.
func WithOptionalAPIKey() APIKeyOption {
	return func(c *apiKeyConfig) {
		c.optional = true
	}
}

// APIKey returns middleware that authenticates requests by API key.
// Returns 401 when the key is missing or unknown, 403 when it is disabled.
// The key value and its record are stored in the request context, see
// APIKeyFromContext and KeyFromContext.
//
//	r.Use(keyquota.APIKey(keyquota.RegistryValidator(qc.Keys)))
func APIKey(validator KeyValidator, opts ...APIKeyOption) func(http.Handler) http.Handler {
	cfg := apiKeyConfig{header: DefaultAPIKeyHeader}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := r.Header.Get(cfg.header)
			if value == "" {
				if cfg.optional {
					next.ServeHTTP(w, r)
					return
				}
				fail(w, r, ErrUnauthorized.With("Missing API key"))
				return
			}

			key, err := validator(r.Context(), value)
			switch {
			case err == nil:
			case errors.Is(err, quota.ErrKeyNotFound):
				fail(w, r, ErrUnauthorized.With("Invalid API key"))
				return
			case errors.Is(err, ErrKeyDisabled):
				fail(w, r, ErrForbidden.With("API key is disabled"))
				return
			default:
				if HasState(r.Context()) {
					Fail(r, err)
				} else {
					apiErr := FromError(err)
					http.Error(w, apiErr.Message, apiErr.Status)
				}
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyKey, value)
			ctx = context.WithValue(ctx, keyRecordKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyFromContext retrieves the authenticated API key value.
func APIKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(apiKeyKey).(string)
	return key, ok
}

// KeyFromContext retrieves the record of the authenticated API key.
func KeyFromContext(ctx context.Context) (*quota.Key, bool) {
	key, ok := ctx.Value(keyRecordKey).(*quota.Key)
	return key, ok && key != nil
}

// BearerTokenValidator validates a bearer token and returns true if valid.
// Validators are called concurrently and must be safe for concurrent use.
type BearerTokenValidator func(token string) bool

// StaticToken accepts exactly token, compared in constant time.
// An empty token accepts nothing.
func StaticToken(token string) BearerTokenValidator {
	want := []byte(token)
	return func(got string) bool {
		return len(want) > 0 && subtle.ConstantTimeCompare(want, []byte(got)) == 1
	}
}

// BearerToken returns middleware that validates bearer tokens from the
// Authorization header ("Bearer <token>", scheme case-insensitive).
// Returns 401 when the token is missing, malformed or invalid.
func BearerToken(validator BearerTokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				fail(w, r, ErrUnauthorized.With("Missing authorization header"))
				return
			}

			if len(auth) < 7 || !strings.EqualFold(auth[:7], "bearer ") {
				fail(w, r, ErrUnauthorized.With("Invalid authorization format"))
				return
			}

			token := auth[7:]
			if token == "" {
				fail(w, r, ErrUnauthorized.With("Empty bearer token"))
				return
			}

			if !validator(token) {
				fail(w, r, ErrUnauthorized.With("Invalid bearer token"))
				return
			}

			ctx := context.WithValue(r.Context(), bearerTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerTokenFromContext retrieves the validated bearer token.
func BearerTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(bearerTokenKey).(string)
	return token, ok
}
