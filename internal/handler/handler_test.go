package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-link-funnel/internal/funnel"
	"github.com/koopa0/system-design/14-link-funnel/internal/handler"
	"github.com/koopa0/system-design/14-link-funnel/internal/storage"
	"github.com/koopa0/system-design/14-link-funnel/internal/telegram"
)

const testOwnerID = int64(777)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// botAPI 記錄出站通知的假 Telegram API
type botAPI struct {
	mu       sync.Mutex
	messages []struct{ ChatID, Text string }
}

func (b *botAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		b.mu.Lock()
		b.messages = append(b.messages, struct{ ChatID, Text string }{
			r.FormValue("chat_id"), r.FormValue("text"),
		})
		b.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (b *botAPI) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

func (b *botAPI) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.messages))
	for i, m := range b.messages {
		out[i] = m.Text
	}
	return out
}

type testEnv struct {
	store  *storage.LogFile
	server *httptest.Server
	bot    *botAPI
	client *http.Client
}

// newTestEnv 組裝完整的 HTTP 棧：日誌存儲 + handler + 假 bot API
func newTestEnv(t *testing.T, stageCount int) *testEnv {
	t.Helper()

	store, err := storage.NewLogFile(
		filepath.Join(t.TempDir(), "funnels.txt"), stageCount, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bot := &botAPI{}
	botSrv := httptest.NewServer(bot.handler())
	t.Cleanup(botSrv.Close)

	notifier := telegram.NewWithAPI("123:abc", botSrv.URL, discardLogger())

	h := handler.New(store, notifier, handler.Config{
		StageCount: stageCount,
		OwnerID:    testOwnerID,
		ChannelID:  "-1009999",
	}, discardLogger())

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &testEnv{
		store:  store,
		server: srv,
		bot:    bot,
		// 不自動跟隨跳轉：終點的 302 本身就是被測對象
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func (e *testEnv) postWebhook(t *testing.T, fromID, chatID int64, text string) *http.Response {
	t.Helper()
	payload := fmt.Sprintf(
		`{"message":{"chat":{"id":%d},"from":{"id":%d},"text":%q}}`, chatID, fromID, text)
	resp, err := e.client.Post(e.server.URL+"/webhook", "application/json",
		strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 3)

	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"alive"}`, body)
}

func TestEntry_UnknownSlug(t *testing.T) {
	env := newTestEnv(t, 3)

	resp, body := env.get(t, "/NOPE1234")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Page Not Found", body)
}

// TestFullTraversal 完整走完三階段漏斗必定以 302 抵達 destination
func TestFullTraversal(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	f, err := funnel.Create(ctx, env.store, 3, "https://example.org/landing")
	require.NoError(t, err)
	s := f.Stages

	// 入口頁嵌入第一個令牌的連結
	resp, body := env.get(t, "/"+f.Slug)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "/"+s[0]+"/"+f.Slug)

	// 階段 1 → 嵌入第二個令牌
	resp, body = env.get(t, "/"+s[0]+"/"+f.Slug)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "/"+s[1]+"/"+s[0]+"/"+f.Slug)

	// 階段 2 → 嵌入第三個令牌
	resp, body = env.get(t, "/"+s[1]+"/"+s[0]+"/"+f.Slug)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "/"+s[2]+"/"+s[1]+"/"+s[0]+"/"+f.Slug)

	// 終點 → 302 跳轉
	resp, _ = env.get(t, "/"+s[2]+"/"+s[1]+"/"+s[0]+"/"+f.Slug)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "https://example.org/landing", resp.Header.Get("Location"))
}

// TestFinalIdempotent 終點網址可重放：每次同樣的 302
func TestFinalIdempotent(t *testing.T) {
	env := newTestEnv(t, 1)
	ctx := context.Background()

	f, err := funnel.Create(ctx, env.store, 1, "https://example.org")
	require.NoError(t, err)

	finalPath := "/" + f.Stages[0] + "/" + f.Slug
	for range 5 {
		resp, _ := env.get(t, finalPath)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		require.Equal(t, "https://example.org", resp.Header.Get("Location"))
	}
}

// TestStage_UniformRejection slug 不存在與令牌錯誤的響應完全相同
func TestStage_UniformRejection(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	f, err := funnel.Create(ctx, env.store, 3, "https://example.org")
	require.NoError(t, err)
	s := f.Stages

	tests := []struct {
		name string
		path string
	}{
		{"unknown slug", "/" + s[0] + "/UNKNOWN1"},
		{"wrong first secret", "/WRONG/" + f.Slug},
		{"tampered middle secret", "/" + s[2] + "/WRONG/" + s[0] + "/" + f.Slug},
		{"skipped straight to final secret", "/" + s[2] + "/" + f.Slug},
	}

	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, tt.path)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
			bodies = append(bodies, body)
		})
	}

	// 統一錯誤：所有失敗形態的響應體一字不差
	for _, b := range bodies {
		assert.Equal(t, "Invalid Link", b)
	}
}

// TestSecretIsolation 別的漏斗的令牌對本漏斗無效
func TestSecretIsolation(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	a, err := funnel.Create(ctx, env.store, 2, "https://a.example")
	require.NoError(t, err)
	b, err := funnel.Create(ctx, env.store, 2, "https://b.example")
	require.NoError(t, err)

	// B 的兩個正確令牌 + A 的 slug
	resp, _ := env.get(t, "/"+b.Stages[1]+"/"+b.Stages[0]+"/"+a.Slug)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebhook_Unauthorized(t *testing.T) {
	env := newTestEnv(t, 3)

	resp := env.postWebhook(t, 999, 999, "/create https://example.org")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "always 200 to callers")

	// 未授權：絕不創建漏斗
	assert.Equal(t, 0, env.store.Len())

	// 禮貌回覆（異步投遞）
	require.Eventually(t, func() bool { return env.bot.count() >= 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Contains(t, env.bot.texts()[0], "Not authorized")
}

func TestWebhook_CreateFunnel(t *testing.T) {
	env := newTestEnv(t, 3)

	resp := env.postWebhook(t, testOwnerID, testOwnerID, "/create https://example.org/offer")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// 漏斗已持久化
	require.Equal(t, 1, env.store.Len())

	// 三條通知：入口連結、終點連結、頻道備份
	require.Eventually(t, func() bool { return env.bot.count() >= 3 },
		2*time.Second, 10*time.Millisecond)

	var entryURL, backup string
	for _, text := range env.bot.texts() {
		if strings.HasPrefix(text, "User URL:") {
			entryURL = strings.TrimPrefix(text, "User URL:\n")
		}
		if strings.Count(text, "|") == 4 { // slug|s1|s2|s3|dest
			backup = text
		}
	}
	require.NotEmpty(t, entryURL)
	require.NotEmpty(t, backup, "backup channel should receive the full chain")

	// 備份消息可直接重建漏斗記錄
	parts := strings.Split(backup, "|")
	require.Len(t, parts, 5)
	assert.Equal(t, "https://example.org/offer", parts[4])

	// 拿備份裡的令牌鏈走一遍：必須抵達 destination
	finalPath := "/" + parts[3] + "/" + parts[2] + "/" + parts[1] + "/" + parts[0]
	r, _ := env.get(t, finalPath)
	require.Equal(t, http.StatusFound, r.StatusCode)
	assert.Equal(t, "https://example.org/offer", r.Header.Get("Location"))
}

func TestWebhook_CreateUsage(t *testing.T) {
	env := newTestEnv(t, 3)

	resp := env.postWebhook(t, testOwnerID, testOwnerID, "/create")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, env.store.Len())

	require.Eventually(t, func() bool { return env.bot.count() >= 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Contains(t, env.bot.texts()[0], "Usage:")
}

func TestWebhook_MalformedEnvelope(t *testing.T) {
	env := newTestEnv(t, 3)

	for _, payload := range []string{"not json", "{}", `{"message":null}`} {
		resp, err := env.client.Post(env.server.URL+"/webhook", "application/json",
			strings.NewReader(payload))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, 0, env.store.Len())
}

// TestWebhook_JSONResponse webhook 恆返回 {"ok":true}
func TestWebhook_JSONResponse(t *testing.T) {
	env := newTestEnv(t, 3)

	resp, err := env.client.Post(env.server.URL+"/webhook", "application/json",
		strings.NewReader(`{"message":{"chat":{"id":1},"from":{"id":1},"text":"hi"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["ok"])
}
