// Package geoip resolves client IP addresses to a coarse human-readable
// location label ("City, Region, Country") for login notification emails.
// Lookups are best effort: every failure yields an empty label.
package geoip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachePrefix namespaces cached labels in Redis.
const cachePrefix = "geoip:"

// Resolver turns an IP address into a location label. Implementations must
// not fail; unknown locations are returned as "".
type Resolver interface {
	Locate(ctx context.Context, ip string) string
}

// lookupResponse is the subset of the ipapi.co response we use.
type lookupResponse struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country_name"`
	Error   bool   `json:"error"`
	Reason  string `json:"reason"`
}

// HTTPResolver queries an ipapi.co-compatible JSON endpoint and caches the
// resulting labels in Redis.
type HTTPResolver struct {
	urlFormat string
	client    *http.Client
	redis     *redis.Client
	cacheTTL  time.Duration
}

// NewHTTPResolver creates a resolver. urlFormat must contain one "%s" for
// the IP. A nil Redis client disables caching.
func NewHTTPResolver(urlFormat string, timeout time.Duration, rdb *redis.Client, cacheTTL time.Duration) *HTTPResolver {
	return &HTTPResolver{
		urlFormat: urlFormat,
		client:    &http.Client{Timeout: timeout},
		redis:     rdb,
		cacheTTL:  cacheTTL,
	}
}

// Locate returns the location label for ip, or "" when it cannot be
// determined. Private and loopback addresses are never looked up.
func (r *HTTPResolver) Locate(ctx context.Context, ip string) string {
	if r.urlFormat == "" || !isPublicIP(ip) {
		return ""
	}

	if label, ok := r.cached(ctx, ip); ok {
		return label
	}

	label, err := r.lookup(ctx, ip)
	if err != nil {
		slog.Debug("geoip lookup failed", slog.String("ip", ip), slog.Any("error", err))
		return ""
	}

	if r.redis != nil && label != "" {
		if err := r.redis.Set(ctx, cachePrefix+ip, label, r.cacheTTL).Err(); err != nil {
			slog.Debug("geoip cache write failed", slog.Any("error", err))
		}
	}
	return label
}

func (r *HTTPResolver) cached(ctx context.Context, ip string) (string, bool) {
	if r.redis == nil {
		return "", false
	}
	label, err := r.redis.Get(ctx, cachePrefix+ip).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("geoip cache read failed", slog.Any("error", err))
		}
		return "", false
	}
	return label, true
}

func (r *HTTPResolver) lookup(ctx context.Context, ip string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.urlFormat, ip), nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("querying lookup service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup service returned status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if body.Error {
		return "", fmt.Errorf("lookup service error: %s", body.Reason)
	}

	return Label(body.City, body.Region, body.Country), nil
}

// Label joins the non-empty location parts with ", ".
func Label(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

// isPublicIP reports whether ip parses and is routable on the internet.
func isPublicIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() ||
		parsed.IsUnspecified() || parsed.IsMulticast())
}

// Static always returns the same label. Used in development and tests.
type Static string

// Locate implements Resolver.
func (s Static) Locate(context.Context, string) string {
	return string(s)
}
