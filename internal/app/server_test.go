package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	appMiddleware "github.com/markdave123-py/docuchat/internal/api/middlewares"
	"github.com/markdave123-py/docuchat/internal/config"
	"github.com/markdave123-py/docuchat/internal/core/ratelimit"
)

type exhaustedLimiter struct{ keys []string }

func (l *exhaustedLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return false, nil
}

func TestAddressLimitAppliesBeforeAuthentication(t *testing.T) {
	cfg := config.Default()
	ipLimiter := &exhaustedLimiter{}
	srv := NewServer(cfg, Routes{
		Auth:      appMiddleware.NewAuthenticator("secret", cfg.TenantHeader),
		Limiter:   ratelimit.Unlimited{},
		IPLimiter: ipLimiter,
	})

	for _, path := range []string{"/api/documents", "/ws/chat"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.7:1234"
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Errorf("%s: status = %d, want 429 for an anonymous caller over budget", path, rec.Code)
		}
	}
	if len(ipLimiter.keys) != 2 || ipLimiter.keys[0] != "ip:192.0.2.7" {
		t.Errorf("limiter keys = %v", ipLimiter.keys)
	}
}
