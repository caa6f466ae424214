package geoip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocate_FormatsAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/8.8.8.8/json/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"city":"Mountain View","region":"California","country_name":"United States"}`))
	}))
	defer srv.Close()

	mr, rdb := newTestRedis(t)
	r := NewHTTPResolver(srv.URL+"/%s/json/", time.Second, rdb, time.Hour)

	got := r.Locate(context.Background(), "8.8.8.8")
	if got != "Mountain View, California, United States" {
		t.Errorf("unexpected label %q", got)
	}
	if !mr.Exists(cachePrefix + "8.8.8.8") {
		t.Error("expected label to be cached")
	}

	_ = r.Locate(context.Background(), "8.8.8.8")
	if calls.Load() != 1 {
		t.Errorf("expected cached second lookup, got %d calls", calls.Load())
	}
}

func TestLocate_PrivateIPSkipsLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("lookup service should not be called for private IPs")
	}))
	defer srv.Close()

	r := NewHTTPResolver(srv.URL+"/%s/json/", time.Second, nil, time.Hour)
	for _, ip := range []string{"10.1.2.3", "192.168.0.7", "127.0.0.1", "::1", "not-an-ip", ""} {
		if got := r.Locate(context.Background(), ip); got != "" {
			t.Errorf("Locate(%q) = %q, want empty", ip, got)
		}
	}
}

func TestLocate_FailuresYieldEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{`))
		}},
		{"api error", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":true,"reason":"RateLimited"}`))
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r := NewHTTPResolver(srv.URL+"/%s/json/", 50*time.Millisecond, nil, time.Hour)
			if got := r.Locate(context.Background(), "1.1.1.1"); got != "" {
				t.Errorf("expected empty label, got %q", got)
			}
		})
	}
}

func TestLocate_DisabledWithoutURL(t *testing.T) {
	r := NewHTTPResolver("", time.Second, nil, time.Hour)
	if got := r.Locate(context.Background(), "8.8.8.8"); got != "" {
		t.Errorf("expected empty label, got %q", got)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("Paris", "", "France"); got != "Paris, France" {
		t.Errorf("got %q", got)
	}
	if got := Label("", " ", ""); got != "" {
		t.Errorf("got %q", got)
	}
}
