package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"senweaver-server-go/internal/domain/access"
	"senweaver-server-go/internal/domain/auth"
	"senweaver-server-go/internal/domain/auth/store"
	"senweaver-server-go/internal/domain/eventbus"
	"senweaver-server-go/internal/domain/eventbus/infrastructure"
	"senweaver-server-go/internal/domain/eventbus/repository"
	"senweaver-server-go/internal/domain/keypool"
	"senweaver-server-go/internal/platform/storage"
	"senweaver-server-go/internal/platform/storage/storagetest"
	"senweaver-server-go/internal/platform/testutil"
	httptransport "senweaver-server-go/internal/transport/http"
)

type fakeSessions struct {
	mu       sync.Mutex
	disabled []string
	refresh  []string
	pushed   map[string]int
}

func (f *fakeSessions) DisableIdentity(_ context.Context, identity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = append(f.disabled, identity)
	return 1
}

func (f *fakeSessions) RefreshIdentity(_ context.Context, identity string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = append(f.refresh, identity)
	return 1
}

func (f *fakeSessions) PushToIdentity(_ context.Context, identity string, _ any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushed[identity]
}

type topics struct {
	mu  sync.Mutex
	got []string
}

func (p *topics) Publish(topic string, _ ...interface{}) {
	p.mu.Lock()
	p.got = append(p.got, topic)
	p.mu.Unlock()
}

type fixture struct {
	engine   *gin.Engine
	verifier *auth.Verifier
	sessions *fakeSessions
	events   *topics
	access   *access.Service
	eventLog repository.EventRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewDB(t)
	logger := testutil.SetupTestLogger(t)
	repo := storage.NewKeyPoolRepository(db)
	engine := keypool.NewEngine(repo)
	manager, err := auth.NewManager(auth.Options{
		Store:    store.NewMemory(store.Config{TTL: time.Hour}),
		Tokens:   auth.NewAdminToken("jwt-secret").WithTTL(time.Hour),
		Username: "admin",
		Password: "pw",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	f := &fixture{
		verifier: auth.NewVerifier("S", 0),
		sessions: &fakeSessions{pushed: map[string]int{"online-user": 2}},
		events:   &topics{},
		access:   access.NewService(storage.NewAccessRepository(db), access.Defaults{UsageLimit: 2, ResetDays: 30}, nil),
		eventLog: infrastructure.NewEventRepository(db),
	}
	svc, err := NewService(Options{
		Engine:   engine,
		Admin:    keypool.NewAdmin(repo, engine, nil),
		Access:   f.access,
		Auth:     manager,
		Verifier: f.verifier,
		Sessions: f.sessions,
		Events:   f.events,
		Audit:    eventbus.NewAudit(f.eventLog, 0, logger),
		Logger:   logger,
	})
	require.NoError(t, err)

	router, err := httptransport.Build(httptransport.Options{
		Logger:         logger,
		AuthMiddleware: httptransport.AdminAuth(manager, logger),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Register(context.Background(), router))
	f.engine = router.Engine
	return f
}

func (f *fixture) call(t *testing.T, method, path, token string, body any) (int, httptransport.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	var resp httptransport.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	code, resp := f.call(t, http.MethodPost, "/api/admin/login", "", LoginRequest{Username: "admin", Password: "pw"})
	require.Equal(t, http.StatusOK, code)
	token, _ := resp.Data.(map[string]any)["token"].(string)
	require.NotEmpty(t, token)
	return token
}

// seed creates a provider with one key of the given capacity through the admin API.
func (f *fixture) seed(t *testing.T, token string, maxClients int) {
	t.Helper()
	code, resp := f.call(t, http.MethodPost, "/api/admin/providers", token, map[string]any{
		"name":     "deepseek",
		"base_url": "https://api.deepseek.example",
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	providerID := resp.Data.(map[string]any)["id"].(float64)

	code, resp = f.call(t, http.MethodPost, "/api/admin/pools", token, map[string]any{
		"provider_id": providerID,
		"name":        "main",
		"api_key":     "sk-deepseek-0001",
		"max_clients": maxClients,
	})
	require.Equal(t, http.StatusCreated, code, resp.Message)
	assert.Equal(t, "sk-d****0001", resp.Data.(map[string]any)["api_key_masked"])
}

func (f *fixture) usageSig(userID string) (string, string) {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return ts, f.verifier.Sign(userID, ts, auth.PurposeUsage)
}

func TestNewService_Validates(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	code, resp := f.call(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", resp.Data.(map[string]any)["status"])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	code, _ := f.call(t, http.MethodGet, "/api/admin/providers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := f.call(t, http.MethodPost, "/api/admin/login", "", LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "用户名或密码错误", resp.Message)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	code, _ := f.call(t, http.MethodPost, "/api/admin/logout", token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = f.call(t, http.MethodGet, "/api/admin/providers", token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestProviderAdmin(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)
	f.seed(t, token, 1)

	code, resp := f.call(t, http.MethodPost, "/api/admin/providers", token, map[string]any{"name": "deepseek"})
	assert.Equal(t, http.StatusBadRequest, code, "duplicate provider")
	assert.False(t, resp.Success)

	code, _ = f.call(t, http.MethodPost, "/api/admin/providers", token, map[string]any{"name": "nobody"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = f.call(t, http.MethodGet, "/api/admin/providers", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp.Data, 1)

	code, resp = f.call(t, http.MethodGet, "/api/admin/pools", token, nil)
	require.Equal(t, http.StatusOK, code)
	pools := resp.Data.([]any)
	require.Len(t, pools, 1)
	_, leaked := pools[0].(map[string]any)["api_key"]
	assert.False(t, leaked)

	code, _ = f.call(t, http.MethodPut, "/api/admin/providers/abc", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAllocate(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)
	f.seed(t, token, 1)

	code, _ := f.call(t, http.MethodPost, "/api/model/keys/allocate", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := f.call(t, http.MethodPost, "/api/model/keys/allocate", token, AllocateRequest{ClientID: "c1", UserID: "u1"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	keys := resp.Data.(map[string]any)["allocated_keys"].(map[string]any)
	assert.Equal(t, "sk-deepseek-0001", keys["deepseek"].(map[string]any)["api_key"])

	code, resp = f.call(t, http.MethodPost, "/api/model/keys/allocate", token, AllocateRequest{ClientID: "c2", UserID: "u2"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "密钥池已满，无法分配新的模型配置", resp.Message)

	code, resp = f.call(t, http.MethodGet, "/api/model/keys/status", token, nil)
	require.Equal(t, http.StatusOK, code)
	summary := resp.Data.(map[string]any)["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["total_clients"])

	code, resp = f.call(t, http.MethodGet, "/api/admin/allocations?client_id=c1", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, resp.Data)

	code, _ = f.call(t, http.MethodDelete, "/api/admin/allocations/c1", token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = f.call(t, http.MethodPost, "/api/model/keys/allocate", token, AllocateRequest{ClientID: "c2", UserID: "u2"})
	assert.Equal(t, http.StatusOK, code)
}

func TestKeyRoutesRequireToken(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)
	f.seed(t, token, 1)

	code, resp := f.call(t, http.MethodPost, "/api/model/keys/allocate", "", AllocateRequest{ClientID: "anon-1"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Nil(t, resp.Data)

	code, _ = f.call(t, http.MethodGet, "/api/model/keys/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// 匿名请求不能占用名额
	code, resp = f.call(t, http.MethodPost, "/api/model/keys/allocate", token, AllocateRequest{ClientID: "c1", UserID: "u1"})
	require.Equal(t, http.StatusOK, code, resp.Message)
}

func TestUsageReport(t *testing.T) {
	f := newFixture(t)

	code, resp := f.call(t, http.MethodPost, "/api/usage/model", "", UsageRequest{
		UserID: "u1", ModelName: "deepseek-chat", Auth: "forged",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "签名验证失败", resp.Message)

	ts, sig := f.usageSig("u1")
	report := UsageRequest{UserID: "u1", ModelName: "deepseek-chat", APIKey: "sk-live", Timestamp: ts, Auth: sig}

	code, resp = f.call(t, http.MethodPost, "/api/usage/model", "", report)
	require.Equal(t, http.StatusOK, code, resp.Message)
	data := resp.Data.(map[string]any)
	assert.Equal(t, false, data["just_disabled"])
	assert.Equal(t, float64(1), data["model_access"].(map[string]any)["used"])
	assert.Empty(t, f.sessions.disabled)

	code, resp = f.call(t, http.MethodPost, "/api/usage/model", "", report)
	require.Equal(t, http.StatusOK, code)
	data = resp.Data.(map[string]any)
	assert.Equal(t, true, data["just_disabled"])
	assert.Equal(t, []string{"u1"}, f.sessions.disabled)

	// 已禁用后继续上报只记账不再触发
	code, resp = f.call(t, http.MethodPost, "/api/usage/model", "", report)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp.Data.(map[string]any)["just_disabled"])
	assert.Len(t, f.sessions.disabled, 1)
	assert.Contains(t, f.events.got, eventbus.EventUserUpdated)
}

func TestUsageAccess(t *testing.T) {
	f := newFixture(t)

	ts, sig := f.usageSig("ghost")
	code, resp := f.call(t, http.MethodGet, "/api/usage/model/access?user_id=ghost&timestamp="+ts+"&auth="+sig, "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "用户不存在", resp.Message)

	_, err := f.access.EnsureUser(context.Background(), "u1")
	require.NoError(t, err)
	ts, sig = f.usageSig("u1")
	code, resp = f.call(t, http.MethodGet, "/api/usage/model/access?user_id=u1&timestamp="+ts+"&auth="+sig, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data.(map[string]any)["enabled"])

	code, _ = f.call(t, http.MethodGet, "/api/usage/model/access?user_id=u1&auth=bad", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestBanFlow(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	code, _ := f.call(t, http.MethodPost, "/api/admin/users/u1/ban", token, nil)
	assert.Equal(t, http.StatusBadRequest, code, "unknown user")

	_, err := f.access.EnsureUser(context.Background(), "u1")
	require.NoError(t, err)

	code, _ = f.call(t, http.MethodPost, "/api/admin/users/u1/ban", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"u1"}, f.sessions.disabled)

	ts, sig := f.usageSig("u1")
	_, resp := f.call(t, http.MethodGet, "/api/usage/model/access?user_id=u1&timestamp="+ts+"&auth="+sig, "", nil)
	assert.Equal(t, false, resp.Data.(map[string]any)["enabled"])

	code, _ = f.call(t, http.MethodPost, "/api/admin/users/u1/unban", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"u1"}, f.sessions.refresh)

	code, resp = f.call(t, http.MethodGet, "/api/admin/users?status=ACTIVE", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), resp.Data.(map[string]any)["total"])

	code, _ = f.call(t, http.MethodPut, "/api/admin/users/u1/access", token, access.AccessUpdate{Enabled: false, Reason: "abuse"})
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, f.sessions.refresh, 2)
}

func TestPush(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)

	code, _ := f.call(t, http.MethodPost, "/api/admin/push/online-user", token, PushRequest{Type: "notice", Data: "hi"})
	assert.Equal(t, http.StatusOK, code)

	code, resp := f.call(t, http.MethodPost, "/api/admin/push/offline-user", token, PushRequest{Type: "notice"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "用户不在线", resp.Message)

	code, _ = f.call(t, http.MethodPost, "/api/admin/push/online-user", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEventsAudit(t *testing.T) {
	f := newFixture(t)
	token := f.login(t)
	ctx := context.Background()
	for _, ev := range []repository.Event{
		{EventType: eventbus.EventSessionOpened, SessionID: "s1", UserID: "u1"},
		{EventType: eventbus.EventSessionClosed, SessionID: "s1", UserID: "u1"},
		{EventType: eventbus.EventSessionOpened, SessionID: "s2", UserID: "u2"},
	} {
		require.NoError(t, f.eventLog.Store(ctx, ev))
	}

	code, _ := f.call(t, http.MethodGet, "/api/admin/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp := f.call(t, http.MethodGet, "/api/admin/events?user_id=u1", token, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["total"])
	assert.Len(t, data["events"], 2)

	code, resp = f.call(t, http.MethodGet, "/api/admin/events?type="+eventbus.EventSessionOpened+"&session_id=s2", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), resp.Data.(map[string]any)["total"])

	code, _ = f.call(t, http.MethodGet, "/api/admin/events?since=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = f.call(t, http.MethodGet, "/api/admin/events/stats", token, nil)
	require.Equal(t, http.StatusOK, code)
	data = resp.Data.(map[string]any)
	assert.Equal(t, float64(3), data["total"])
	assert.Equal(t, float64(2), data["by_type"].(map[string]any)[eventbus.EventSessionOpened])
}

func TestKeyFingerprint(t *testing.T) {
	a := keyFingerprint("sk-one")
	assert.Len(t, a, 12)
	assert.Equal(t, a, keyFingerprint("sk-one"))
	assert.NotEqual(t, a, keyFingerprint("sk-two"))
}
