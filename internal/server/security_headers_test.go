package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func assertHeaderEquals(t *testing.T, res *http.Response, key, expected string) {
	t.Helper()
	if got := res.Header.Get(key); got != expected {
		t.Fatalf("%s = %q, want %q", key, got, expected)
	}
}

func assertDefaultSecurityHeaders(t *testing.T, res *http.Response) {
	t.Helper()
	assertHeaderEquals(t, res, "Content-Security-Policy", defaultContentSecurityPolicy(defaultFrameAncestors))
	assertHeaderEquals(t, res, "X-Frame-Options", defaultFrameOptions)
	assertHeaderEquals(t, res, "Referrer-Policy", defaultReferrerPolicy)
	assertHeaderEquals(t, res, "Permissions-Policy", defaultPermissionsPolicy)
	assertHeaderEquals(t, res, "X-Content-Type-Options", defaultContentTypeOptions)
}

func TestSecurityHeadersMiddlewareDefaults(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	securityHeadersMiddleware(SecurityConfig{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rec, req)

	res := rec.Result()
	assertDefaultSecurityHeaders(t, res)
	if !strings.Contains(res.Header.Get("Content-Security-Policy"), "media-src 'self' blob:") {
		t.Fatalf("default CSP should allow blob media for previews, got %q", res.Header.Get("Content-Security-Policy"))
	}
}

func TestSecurityHeadersMiddlewareOverrides(t *testing.T) {
	t.Parallel()

	cfg := SecurityConfig{
		ContentSecurityPolicy: "default-src 'self' https://cdn.example.com",
		FrameOptions:          "SAMEORIGIN",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "geolocation=(self)",
		ContentTypeOptions:    "nosniff",
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	securityHeadersMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)

	res := rec.Result()
	assertHeaderEquals(t, res, "Content-Security-Policy", cfg.ContentSecurityPolicy)
	assertHeaderEquals(t, res, "X-Frame-Options", cfg.FrameOptions)
	assertHeaderEquals(t, res, "Referrer-Policy", cfg.ReferrerPolicy)
	assertHeaderEquals(t, res, "Permissions-Policy", cfg.PermissionsPolicy)
	assertHeaderEquals(t, res, "X-Content-Type-Options", cfg.ContentTypeOptions)
}

func TestSecurityHeadersCustomFrameAncestorsFlowIntoCSP(t *testing.T) {
	t.Parallel()

	cfg := SecurityConfig{FrameAncestors: "https://studio.example.com"}.withDefaults()
	if !strings.Contains(cfg.ContentSecurityPolicy, "frame-ancestors https://studio.example.com") {
		t.Fatalf("frame ancestors not folded into CSP: %q", cfg.ContentSecurityPolicy)
	}
}

func TestServerAppliesSecurityHeadersAcrossRoutes(t *testing.T) {
	handler, _ := newTestHandler(t)

	srv, err := New(handler, Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, path := range []string{"/healthz", "/api/jobs"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		srv.httpServer.Handler.ServeHTTP(rec, req)

		res := rec.Result()
		assertDefaultSecurityHeaders(t, res)
	}
}

func TestServerAppliesConfiguredSecurityHeaders(t *testing.T) {
	handler, _ := newTestHandler(t)

	custom := SecurityConfig{
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'self'",
		FrameOptions:          "SAMEORIGIN",
		ReferrerPolicy:        "same-origin",
		PermissionsPolicy:     "geolocation=(self)",
		ContentTypeOptions:    "nosniff",
	}

	srv, err := New(handler, Config{Addr: "127.0.0.1:0", Security: custom})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.httpServer.Handler.ServeHTTP(rec, req)

	res := rec.Result()
	assertHeaderEquals(t, res, "Content-Security-Policy", custom.ContentSecurityPolicy)
	assertHeaderEquals(t, res, "X-Frame-Options", custom.FrameOptions)
	assertHeaderEquals(t, res, "Referrer-Policy", custom.ReferrerPolicy)
	assertHeaderEquals(t, res, "Permissions-Policy", custom.PermissionsPolicy)
	assertHeaderEquals(t, res, "X-Content-Type-Options", custom.ContentTypeOptions)
}
