package appbootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chapel-auth/config"
	"chapel-auth/core/store"
	"chapel-auth/core/utils"
	"github.com/alicebob/miniredis/v2"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg := &config.AppConfig{
		AppEnv: "dev",
		DBPath: filepath.Join(t.TempDir(), "runtime.db"),
		Pepper: "runtime-pepper",
	}
	cfg.Auth = config.AuthConfig{
		AccessSecret:       "runtime-access-secret-0123456789abcdef",
		RefreshSecret:      "runtime-refresh-secret-0123456789abcdef",
		Issuer:             "chapel-auth",
		AccessTTL:          15 * time.Minute,
		RefreshTTL:         24 * time.Hour,
		RememberMeTTL:      30 * 24 * time.Hour,
		MaxLoginAttempts:   5,
		LockoutDuration:    15 * time.Minute,
		PasswordMinLength:  12,
		RefreshStore:       "sql",
		AdminRole:          "administrator",
		LoginRatePerMinute: 10,
	}
	cfg.Audit = config.AuditConfig{Retention: 100, PruneSchedule: "@every 1h"}
	cfg.Bootstrap.AdminPassword = "Runtime-Admin-9!"
	return cfg
}

func TestInitRuntimeServesLogin(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	rt, err := InitRuntime(ctx, cfg, utils.NewLogger())
	if err != nil {
		t.Fatalf("init runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	rt.StartBackground(ctx)
	rt.StartBackground(ctx)

	body := `{"username":"admin","password":"Runtime-Admin-9!"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	rt.Server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	n, err := store.NewAuditStore(rt.DB).Count(ctx)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one security event, got %d", n)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rt.StopBackground(stopCtx); err != nil {
		t.Fatalf("stop background: %v", err)
	}
}

func TestOpenRefreshStoreBackends(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	cfg.Auth.RefreshStore = "memory"
	rs, closer, err := OpenRefreshStore(ctx, cfg, nil)
	if err != nil || rs == nil || closer != nil {
		t.Fatalf("memory store: rs=%v closer=%v err=%v", rs, closer, err)
	}

	mr := miniredis.RunT(t)
	cfg.Auth.RefreshStore = "redis"
	cfg.Redis.Addr = mr.Addr()
	cfg.Redis.Prefix = "test"
	rs, closer, err = OpenRefreshStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	if closer == nil {
		t.Fatalf("expected redis client to be returned for closing")
	}
	defer closer.Close()
	rec := store.RefreshRecord{ID: "jti-1", UserID: 7, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}
	if err := rs.Register(ctx, rec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected keys in redis")
	}

	cfg.Auth.RefreshStore = "etcd"
	if _, _, err := OpenRefreshStore(ctx, cfg, nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestOpenRefreshStoreRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	cfg.Auth.RefreshStore = "redis"
	cfg.Redis.Addr = addr
	if _, _, err := OpenRefreshStore(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestRunCommandCreatesUserInDatabase(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	var out strings.Builder
	args := []string{"create-user", "-u", "deacon", "-p", "Deacon-Passw0rd!", "-r", "pastor"}
	if err := RunCommand(ctx, cfg, utils.NewLogger(), args, &out); err != nil {
		t.Fatalf("run command: %v", err)
	}
	if !strings.Contains(out.String(), "user deacon created") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	db, err := store.NewDB(cfg, utils.NewLogger())
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()
	u, err := store.NewUsersStore(db).FindByUsername(ctx, "deacon")
	if err != nil || u == nil {
		t.Fatalf("user not persisted: %v", err)
	}
	if u.Role != "pastor" || len(u.Permissions) != 2 {
		t.Fatalf("unexpected user: %+v", u)
	}
}
