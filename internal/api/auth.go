package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"vetclinic/internal/config"
)

const (
	apiKeyHeaderDefault = "x-api-key"

	permReadBookings  = "read:bookings"
	permWriteBookings = "write:bookings"
	permReadStats     = "read:stats"
)

var (
	errMissingAPIKey    = errors.New("missing api key")
	errInvalidAPIKey    = errors.New("invalid api key")
	errPermissionDenied = errors.New("permission denied")
)

type clientCtxKey struct{}

// HTTPAuth checks API keys and per-route permissions.
type HTTPAuth struct {
	cfg     config.APIAuthConfig
	header  string
	clients []config.APIClientKey
}

func NewHTTPAuth(cfg config.APIAuthConfig) *HTTPAuth {
	header := strings.ToLower(strings.TrimSpace(cfg.HeaderAPIKey))
	if header == "" {
		header = apiKeyHeaderDefault
	}
	return &HTTPAuth{cfg: cfg, header: header, clients: cfg.APIKeys}
}

// Authenticate resolves the calling client and stores it in the request context.
func (a *HTTPAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		client, err := a.lookup(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), clientCtxKey{}, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require rejects clients that lack permission. An empty permission list allows everything.
func (a *HTTPAuth) Require(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			client, ok := r.Context().Value(clientCtxKey{}).(config.APIClientKey)
			if !ok || !hasPermission(client, permission) {
				writeError(w, http.StatusForbidden, errPermissionDenied.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *HTTPAuth) lookup(r *http.Request) (config.APIClientKey, error) {
	apiKey := strings.TrimSpace(r.Header.Get(a.header))
	if apiKey == "" {
		return config.APIClientKey{}, errMissingAPIKey
	}
	for _, c := range a.clients {
		if subtle.ConstantTimeCompare([]byte(c.Key), []byte(apiKey)) == 1 {
			return c, nil
		}
	}
	return config.APIClientKey{}, errInvalidAPIKey
}

func hasPermission(client config.APIClientKey, required string) bool {
	if len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		p = strings.TrimSpace(p)
		if p == required || p == "*" {
			return true
		}
	}
	return false
}
