package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/auth"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/ratelimit"
)

type tokenVerifier map[string]auth.Principal

func (v tokenVerifier) Verify(ctx context.Context, token string) (auth.Principal, error) {
	p, ok := v[token]
	if !ok {
		return auth.Principal{}, errors.New("unknown token")
	}
	return p, nil
}

var testVerifier = tokenVerifier{
	"teacher-token": {ID: "t1", Role: "teacher"},
	"student-token": {ID: "s1", Role: "student"},
}

func okHandler(invoked *bool) httpx.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if invoked != nil {
			*invoked = true
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"ok": "true"})
		return nil
	}
}

func newRegistry(limits ratelimit.Store) *Registry {
	return &Registry{
		Verifier:    testVerifier,
		AuthTimeout: time.Second,
		Limits:      limits,
		Tiers:       policy.DefaultTiers(),
	}
}

func mountOne(t *testing.T, reg *Registry, d policy.Descriptor, h httpx.HandlerFunc) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	r.NotFound(httpx.NotFoundHandler())
	r.MethodNotAllowed(httpx.MethodNotAllowedHandler())
	err := reg.Mount(r, []Module{{BasePath: "/v1/things", Endpoints: []Endpoint{{Policy: d, Handler: h}}}})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	return r
}

func serve(r chi.Router, method, path, token, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func wireCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var parsed struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("body not in uniform error shape: %s", rec.Body.String())
	}
	return parsed.Error.Code
}

func TestMountRejectsDuplicateRoute(t *testing.T) {
	reg := newRegistry(nil)
	r := chi.NewRouter()
	d := policy.Descriptor{Method: http.MethodGet, PathSuffix: "/x", Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	err := reg.Mount(r, []Module{{
		BasePath: "/v1/things",
		Endpoints: []Endpoint{
			{Policy: d, Handler: okHandler(nil)},
			{Policy: d, Handler: okHandler(nil)},
		},
	}})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
}

func TestMountRejectsDuplicateAcrossModules(t *testing.T) {
	reg := newRegistry(nil)
	r := chi.NewRouter()
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	err := reg.Mount(r, []Module{
		{BasePath: "/v1/things", Endpoints: []Endpoint{{Policy: d, Handler: okHandler(nil)}}},
		{BasePath: "/v1/things", Endpoints: []Endpoint{{Policy: d, Handler: okHandler(nil)}}},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
}

func TestMountAllowsSamePathDifferentMethods(t *testing.T) {
	reg := newRegistry(nil)
	r := chi.NewRouter()
	get := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	post := policy.Descriptor{Method: http.MethodPost, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	err := reg.Mount(r, []Module{{
		BasePath: "/v1/things",
		Endpoints: []Endpoint{
			{Policy: get, Handler: okHandler(nil)},
			{Policy: post, Handler: okHandler(nil)},
		},
	}})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
}

func TestMountRejectsInvalidPolicy(t *testing.T) {
	reg := newRegistry(nil)
	r := chi.NewRouter()
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByUser}
	err := reg.Mount(r, []Module{{BasePath: "/v1/things", Endpoints: []Endpoint{{Policy: d, Handler: okHandler(nil)}}}})
	if err == nil {
		t.Fatal("expected by_user + auth none to fail the mount")
	}
}

func TestMountRejectsNilHandler(t *testing.T) {
	reg := newRegistry(nil)
	r := chi.NewRouter()
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	err := reg.Mount(r, []Module{{BasePath: "/v1/things", Endpoints: []Endpoint{{Policy: d}}}})
	if err == nil || !strings.Contains(err.Error(), "no handler") {
		t.Fatalf("expected nil handler error, got %v", err)
	}
}

func TestMountRejectsEmptyModuleAndBadBasePath(t *testing.T) {
	reg := newRegistry(nil)
	if err := reg.Mount(chi.NewRouter(), []Module{{BasePath: "/v1/things"}}); err == nil {
		t.Fatal("expected empty module to fail")
	}
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	if err := reg.Mount(chi.NewRouter(), []Module{{BasePath: "things", Endpoints: []Endpoint{{Policy: d, Handler: okHandler(nil)}}}}); err == nil {
		t.Fatal("expected base path without leading slash to fail")
	}
}

func TestMountRejectsEmptyTierTable(t *testing.T) {
	reg := &Registry{Verifier: testVerifier}
	if err := reg.Mount(chi.NewRouter(), nil); err == nil {
		t.Fatal("expected empty tier table to fail")
	}
}

func TestRequiredWithoutCredentialIs401AndHandlerNotInvoked(t *testing.T) {
	invoked := false
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthRequired, Tier: policy.TierRead, KeyBy: policy.KeyByUser}
	r := mountOne(t, newRegistry(nil), d, okHandler(&invoked))

	rec := serve(r, http.MethodGet, "/v1/things", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if invoked {
		t.Fatal("handler must not be invoked")
	}
	if wireCode(t, rec) != "UNAUTHORIZED" {
		t.Fatalf("code = %s", wireCode(t, rec))
	}
}

func TestNoneEndpointAdmitsGarbageToken(t *testing.T) {
	invoked := false
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	r := mountOne(t, newRegistry(nil), d, okHandler(&invoked))

	rec := serve(r, http.MethodGet, "/v1/things", "garbage", "")
	if rec.Code != http.StatusOK || !invoked {
		t.Fatalf("status = %d, invoked = %v", rec.Code, invoked)
	}
}

func TestRoleGuard(t *testing.T) {
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthRequired, Tier: policy.TierRead, KeyBy: policy.KeyByUser, Roles: []string{"teacher"}}
	r := mountOne(t, newRegistry(nil), d, okHandler(nil))

	if rec := serve(r, http.MethodGet, "/v1/things", "teacher-token", ""); rec.Code != http.StatusOK {
		t.Fatalf("teacher status = %d", rec.Code)
	}
	rec := serve(r, http.MethodGet, "/v1/things", "student-token", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("student status = %d", rec.Code)
	}
	if wireCode(t, rec) != "FORBIDDEN" {
		t.Fatalf("code = %s", wireCode(t, rec))
	}
}

func TestRateLimitRejectsWithTierCodeAndRetryAfter(t *testing.T) {
	reg := newRegistry(ratelimit.NewInMemory())
	reg.Tiers[policy.TierStrict] = policy.Tier{Name: policy.TierStrict, Limit: 2, Window: time.Minute}
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierStrict, KeyBy: policy.KeyByIP}
	r := mountOne(t, reg, d, okHandler(nil))

	for i := 0; i < 2; i++ {
		if rec := serve(r, http.MethodGet, "/v1/things", "", "203.0.113.9:1000"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
	rec := serve(r, http.MethodGet, "/v1/things", "", "203.0.113.9:1000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if wireCode(t, rec) != "RATE_LIMITED_STRICT" {
		t.Fatalf("code = %s", wireCode(t, rec))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}
}

func TestRateLimitKeysByUserIndependently(t *testing.T) {
	reg := newRegistry(ratelimit.NewInMemory())
	reg.Tiers[policy.TierRead] = policy.Tier{Name: policy.TierRead, Limit: 1, Window: time.Minute}
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthRequired, Tier: policy.TierRead, KeyBy: policy.KeyByUser}
	r := mountOne(t, reg, d, okHandler(nil))

	if rec := serve(r, http.MethodGet, "/v1/things", "teacher-token", "203.0.113.9:1000"); rec.Code != http.StatusOK {
		t.Fatalf("teacher first request status = %d", rec.Code)
	}
	if rec := serve(r, http.MethodGet, "/v1/things", "teacher-token", "203.0.113.9:1000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("teacher second request status = %d", rec.Code)
	}
	// Same source address, different identity: separate window.
	if rec := serve(r, http.MethodGet, "/v1/things", "student-token", "203.0.113.9:1000"); rec.Code != http.StatusOK {
		t.Fatalf("student status = %d", rec.Code)
	}
}

func TestOptionalDefaultKeyFallsBackToAddress(t *testing.T) {
	reg := newRegistry(ratelimit.NewInMemory())
	reg.Tiers[policy.TierRead] = policy.Tier{Name: policy.TierRead, Limit: 1, Window: time.Minute}
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthOptional, Tier: policy.TierRead, KeyBy: policy.KeyDefault}
	r := mountOne(t, reg, d, okHandler(nil))

	if rec := serve(r, http.MethodGet, "/v1/things", "", "203.0.113.9:1000"); rec.Code != http.StatusOK {
		t.Fatalf("first anonymous request status = %d", rec.Code)
	}
	if rec := serve(r, http.MethodGet, "/v1/things", "", "203.0.113.9:2000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same address must share a window, status = %d", rec.Code)
	}
	if rec := serve(r, http.MethodGet, "/v1/things", "", "198.51.100.1:1000"); rec.Code != http.StatusOK {
		t.Fatalf("different address status = %d", rec.Code)
	}
}

func TestAuthRunsBeforeRateLimit(t *testing.T) {
	reg := newRegistry(ratelimit.NewInMemory())
	reg.Tiers[policy.TierRead] = policy.Tier{Name: policy.TierRead, Limit: 1, Window: time.Minute}
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthRequired, Tier: policy.TierRead, KeyBy: policy.KeyByUser}
	r := mountOne(t, reg, d, okHandler(nil))

	// Unauthenticated rejections must not consume the window.
	for i := 0; i < 3; i++ {
		if rec := serve(r, http.MethodGet, "/v1/things", "", "203.0.113.9:1000"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if rec := serve(r, http.MethodGet, "/v1/things", "teacher-token", "203.0.113.9:1000"); rec.Code != http.StatusOK {
		t.Fatalf("authenticated request should still be admitted, status = %d", rec.Code)
	}
}

func TestRateLimitRunsBeforeRoleGuard(t *testing.T) {
	reg := newRegistry(ratelimit.NewInMemory())
	reg.Tiers[policy.TierRead] = policy.Tier{Name: policy.TierRead, Limit: 1, Window: time.Minute}
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthRequired, Tier: policy.TierRead, KeyBy: policy.KeyByUser, Roles: []string{"teacher"}}
	r := mountOne(t, reg, d, okHandler(nil))

	// The role rejection consumed the window, so the retry is rate limited.
	if rec := serve(r, http.MethodGet, "/v1/things", "student-token", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := serve(r, http.MethodGet, "/v1/things", "student-token", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestNilLimitsDisablesRateLimiting(t *testing.T) {
	reg := newRegistry(nil)
	reg.Tiers[policy.TierStrict] = policy.Tier{Name: policy.TierStrict, Limit: 1, Window: time.Minute}
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierStrict, KeyBy: policy.KeyByIP}
	r := mountOne(t, reg, d, okHandler(nil))

	for i := 0; i < 5; i++ {
		if rec := serve(r, http.MethodGet, "/v1/things", "", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, rec.Code)
		}
	}
}

func TestMethodMismatchIsNotFound(t *testing.T) {
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	r := mountOne(t, newRegistry(nil), d, okHandler(nil))

	rec := serve(r, http.MethodPost, "/v1/things", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, route table is keyed by (method, path)", rec.Code)
	}
	if wireCode(t, rec) != "NOT_FOUND" {
		t.Fatalf("code = %s", wireCode(t, rec))
	}
}

func TestHandlerErrorUsesUniformShape(t *testing.T) {
	d := policy.Descriptor{Method: http.MethodGet, Auth: policy.AuthNone, Tier: policy.TierRead, KeyBy: policy.KeyByIP}
	r := mountOne(t, newRegistry(nil), d, func(w http.ResponseWriter, r *http.Request) error {
		return errors.New("db connection lost")
	})
	rec := serve(r, http.MethodGet, "/v1/things", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if wireCode(t, rec) != "INTERNAL_ERROR" {
		t.Fatalf("code = %s", wireCode(t, rec))
	}
	if strings.Contains(rec.Body.String(), "db connection lost") {
		t.Fatal("internal detail leaked to the wire")
	}
}
