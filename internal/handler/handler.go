// Package handler 實現 HTTP 請求處理
//
// 教學重點：
//
//  1. 使用 net/http 標準庫（不依賴框架）
//
//  2. Go 1.22+ 的增強路由功能：
//     - 方法路由：GET、POST
//     - 路徑參數：/{slug}、/{sec0}/{slug} …
//     - 階段路由按部署的 N 在啟動時動態註冊
//
//  3. 信息最小化的錯誤響應：
//     - 入口：404「Page Not Found」
//     - 階段：403「Invalid Link」（slug 不存在與令牌錯誤刻意不可區分）
//
// 系統設計考量：
//   - 閘門的正確性全在 funnel 包；這裡只做路徑解析與響應映射
//   - 任何單個請求的 panic 不得影響長駐進程（recovery 中間件）
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/koopa0/system-design/14-link-funnel/internal/funnel"
	"github.com/koopa0/system-design/14-link-funnel/internal/telegram"
)

// Config handler 層需要的部署參數
type Config struct {
	// StageCount 部署固定的階段數 N
	StageCount int

	// BaseURL 公開根網址（空則從請求推斷）
	BaseURL string

	// OwnerID 唯一授權的營運者
	OwnerID int64

	// ChannelID 可選的備份頻道
	ChannelID string

	// VerifyURL 階段頁「驗證」彈窗的外部網址（可選）
	VerifyURL string
}

// Handler HTTP 處理器
//
// Go 慣用法：依賴注入（store、notifier、logger），方法提供 handler 函數
type Handler struct {
	store    funnel.Store
	notifier *telegram.Client
	cfg      Config
	logger   *slog.Logger
}

// New 創建 Handler 實例
func New(store funnel.Store, notifier *telegram.Client, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Routes 設置路由
//
// 路由形狀（N = StageCount）：
//
//	GET  /health                      健康檢查
//	POST /webhook                     營運者聊天指令
//	GET  /{slug}                      入口頁（階段 0）
//	GET  /{sec0}/{slug}               階段 1
//	GET  /{sec0}/{sec1}/{slug}        階段 2
//	…
//	GET  /{sec0}/…/{sec(N-1)}/{slug}  終點（302 跳轉）
//
// 路徑中令牌「最新的在最左」：每前進一關，就把新令牌
// 前置到路徑上，與單階段變體的 /{redirect}/{slug} 形狀一致
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /webhook", h.withMiddleware(h.webhook))
	mux.HandleFunc("GET /{slug}", h.withMiddleware(h.entry))

	// 階段路由：每個深度一條模式
	// （字面量 /health 比通配模式更具體，ServeMux 會優先匹配）
	for depth := 1; depth <= h.cfg.StageCount; depth++ {
		var b strings.Builder
		b.WriteString("GET ")
		for j := 0; j < depth; j++ {
			fmt.Fprintf(&b, "/{sec%d}", j)
		}
		b.WriteString("/{slug}")
		mux.HandleFunc(b.String(), h.withMiddleware(h.stage(depth)))
	}

	return mux
}

// withMiddleware 應用中間件鏈（recovery 最外層，再記日誌）
func (h *Handler) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return h.recovery(h.logRequest(next))
}

// === 訪客路由 ===

// entry 入口頁（階段 0）
//
// API: GET /{slug}
// 404：slug 不存在（入口是公開識別碼，404 在此不洩露任何令牌信息）
func (h *Handler) entry(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	step, err := funnel.Advance(r.Context(), h.store, slug, nil)
	if err != nil {
		if !errors.Is(err, funnel.ErrNotFound) {
			h.logger.Error("entry lookup failed", "slug", slug, "error", err)
		}
		htmlError(w, "Page Not Found", http.StatusNotFound)
		return
	}

	h.renderEntry(w, pageData{
		ContinueURL: "/" + step.Next + "/" + slug,
		VerifyURL:   h.cfg.VerifyURL,
		Seconds:     20,
	})
}

// stage 返回處理指定深度的 handler
//
// depth 個已呈現令牌 + slug；深度 N 即終點
//
// 響應映射（統一錯誤：見 funnel.ErrGateMismatch 的設計說明）：
//   - 任何驗證失敗 → 403「Invalid Link」
//   - 深度 < N 通過 → 渲染下一階段頁
//   - 深度 = N 通過 → 302 跳轉到 destination（冪等，無消耗）
func (h *Handler) stage(depth int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := r.PathValue("slug")

		// 路徑順序是「最新在最左」，比對需要按階段時序排列
		presented := make([]string, depth)
		for j := 0; j < depth; j++ {
			presented[depth-1-j] = r.PathValue(fmt.Sprintf("sec%d", j))
		}

		step, err := funnel.Advance(r.Context(), h.store, slug, presented)
		if err != nil {
			if !errors.Is(err, funnel.ErrGateMismatch) {
				h.logger.Error("gate advance failed", "slug", slug, "depth", depth, "error", err)
			}
			htmlError(w, "Invalid Link", http.StatusForbidden)
			return
		}

		if step.Final {
			// 302：終態可重放，每次都得到同樣的跳轉
			http.Redirect(w, r, step.Destination, http.StatusFound)
			return
		}

		// 下一關連結 = 新令牌前置到當前路徑
		h.renderStage(w, pageData{
			ContinueURL: "/" + step.Next + r.URL.Path,
			VerifyURL:   h.cfg.VerifyURL,
			Seconds:     10,
		})
	}
}

// health 健康檢查
//
// 無認證、恆 200：同時供平台探活與自我保活 ping 使用
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]string{"status": "alive"}, http.StatusOK)
}

// === 營運者路由 ===

// update Telegram webhook 消息信封（只取用到的字段）
type update struct {
	Message *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
	} `json:"message"`
}

// webhook 營運者聊天指令入口
//
// API: POST /webhook
//
// 安全模型：
//   - 永遠返回 200 {"ok":true}（Telegram 只需要確認收到；
//     對未授權調用者也不洩露端點行為）
//   - 唯一授權者由配置的數字 ID 決定；其餘發送者收到禮貌回覆
//
// 指令：
//
//	/create <destination-url>  創建漏斗並回發入口/終點連結
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	ok := func() { h.writeJSON(w, map[string]bool{"ok": true}, http.StatusOK) }

	var u update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || u.Message == nil {
		ok()
		return
	}

	chatID := strconv.FormatInt(u.Message.Chat.ID, 10)

	if u.Message.From.ID != h.cfg.OwnerID {
		go h.notifier.Notify(chatID, "Not authorized.")
		ok()
		return
	}

	text := strings.TrimSpace(u.Message.Text)
	if !strings.HasPrefix(text, "/create") {
		ok()
		return
	}

	parts := strings.SplitN(text, " ", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		go h.notifier.Notify(chatID, "Usage:\n/create https://example.com")
		ok()
		return
	}
	destination := strings.TrimSpace(parts[1])

	f, err := funnel.Create(r.Context(), h.store, h.cfg.StageCount, destination)
	if err != nil {
		h.logger.Error("funnel creation failed", "error", err)
		go h.notifier.Notify(chatID, "Failed to create funnel.")
		ok()
		return
	}

	h.logger.Info("funnel created", "slug", f.Slug, "stages", len(f.Stages))

	base := h.baseURL(r)
	entryURL := base + "/" + f.Slug
	finalURL := base + finalPath(f)

	// 通知投遞：fire-and-forget（失敗只記日誌，創建已落盤）
	go h.notifier.Notify(chatID, "User URL:\n"+entryURL)
	go h.notifier.Notify(chatID, "Final URL:\n"+finalURL)
	// 備份頻道收完整令牌鏈（與日誌記錄同格式，可直接用於災難恢復）
	go h.notifier.Notify(h.cfg.ChannelID,
		f.Slug+"|"+strings.Join(f.Stages, "|")+"|"+f.Destination)

	ok()
}

// finalPath 構造終點路徑：/{sN}/…/{s1}/{slug}（最新令牌在最左）
func finalPath(f *funnel.Funnel) string {
	var b strings.Builder
	for i := len(f.Stages) - 1; i >= 0; i-- {
		b.WriteString("/")
		b.WriteString(f.Stages[i])
	}
	b.WriteString("/")
	b.WriteString(f.Slug)
	return b.String()
}

// baseURL 決定絕對連結的根網址
//
// 優先使用配置的 BaseURL；未配置時從請求推斷：
//   - X-Forwarded-Proto：反向代理場景（nginx → https → 服務）
//   - r.TLS：直連場景
func (h *Handler) baseURL(r *http.Request) string {
	if h.cfg.BaseURL != "" {
		return strings.TrimRight(h.cfg.BaseURL, "/")
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + r.Host
}

// === 工具函數 ===

// writeJSON 寫入 JSON 響應
func (h *Handler) writeJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json failed", "error", err)
	}
}

// htmlError 信息最小化的 HTML 錯誤響應
func htmlError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}

// === 中間件 ===

// logRequest 記錄請求日誌
func (h *Handler) logRequest(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(wrapped, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"ip", r.RemoteAddr,
		)
	}
}

// recovery 恢復 panic
//
// 長駐服務：單個請求的故障不得波及其他請求
func (h *Handler) recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic recovered",
					"error", err,
					"path", r.URL.Path,
				)
				htmlError(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 http.ResponseWriter 以捕獲狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
