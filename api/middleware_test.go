package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"chapel-auth/core/utils"
)

func TestLoginLimiterBucketsAreIndependent(t *testing.T) {
	l := newLoginLimiter(2)
	if !l.allow("ip|a") || !l.allow("ip|a") {
		t.Fatalf("first two attempts should pass")
	}
	if l.allow("ip|a") {
		t.Fatalf("third attempt within the window should be limited")
	}
	if !l.allow("ip|b") {
		t.Fatalf("other keys must keep their own budget")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.LoginRatePerMinute = 2
	env := newTestEnv(t, cfg, nil)

	for i := 0; i < 2; i++ {
		if rr := env.login(t, "ghost", "whatever"); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}
	rr := env.login(t, "ghost", "whatever")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After on 429")
	}
	rr = env.do(http.MethodPost, "/api/auth/login", `{"username":"other","password":"whatever"}`, func(r *http.Request) {
		r.RemoteAddr = "198.51.100.7:5000"
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("different client and user should not be limited, got %d", rr.Code)
	}
}

func TestClientIPHonorsTrustedProxiesOnly(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	s := NewServer(cfg, utils.NewLogger(), ServerDeps{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.1.2.3")
	if got := s.clientIP(req); got != "203.0.113.9" {
		t.Fatalf("trusted proxy: got %q", got)
	}

	req.RemoteAddr = "192.0.2.44:1234"
	if got := s.clientIP(req); got != "192.0.2.44" {
		t.Fatalf("untrusted peer must not be able to spoof its address, got %q", got)
	}
}

func TestClientIPUsesRightmostUntrustedForwardedEntry(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"10.0.0.0/8", "172.16.0.5"}
	s := NewServer(cfg, utils.NewLogger(), ServerDeps{})

	cases := []struct {
		name string
		xff  string
		want string
	}{
		{"client supplied header", "198.51.100.66, 203.0.113.9", "203.0.113.9"},
		{"chain of trusted hops", "198.51.100.66, 203.0.113.9, 172.16.0.5, 10.9.9.9", "203.0.113.9"},
		{"only trusted hops", "10.4.4.4, 10.5.5.5", "10.4.4.4"},
		{"garbage appended", "203.0.113.9, not-an-ip", "10.1.2.3"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.1.2.3:1234"
		req.Header.Set("X-Forwarded-For", tc.xff)
		if got := s.clientIP(req); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	s := NewServer(testConfig(), utils.NewLogger(), ServerDeps{})
	h := s.recoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

type fakeWorker struct {
	started bool
	stopErr error
}

func (f *fakeWorker) StartWithContext(context.Context) { f.started = true }

func (f *fakeWorker) StopWithContext(context.Context) error { return f.stopErr }

func TestBackgroundControllerSkipsNilAndJoinsErrors(t *testing.T) {
	var missing *fakeWorker
	ok := &fakeWorker{}
	bad := &fakeWorker{stopErr: errors.New("stuck")}
	ctrl := BuildBackgroundController(utils.NewLogger(), ok, missing, nil, bad)

	ctrl.Start(context.Background())
	if !ok.started || !bad.started {
		t.Fatalf("expected both workers to start")
	}
	err := ctrl.Stop(context.Background())
	if err == nil || !errors.Is(err, bad.stopErr) {
		t.Fatalf("expected stop error to be reported, got %v", err)
	}
}
