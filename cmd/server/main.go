package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/14-link-funnel/internal/config"
	"github.com/koopa0/system-design/14-link-funnel/internal/funnel"
	"github.com/koopa0/system-design/14-link-funnel/internal/handler"
	"github.com/koopa0/system-design/14-link-funnel/internal/storage"
	"github.com/koopa0/system-design/14-link-funnel/internal/telegram"
)

// main 函數：應用程序入口
//
// 系統設計重點：
//  1. 依賴初始化順序（配置 → 日誌存儲重放 → 快取 → 通知 → HTTP）
//  2. 優雅關閉（先排空請求，再關日誌句柄）
//  3. 配置管理（yaml + 環境變量）
//  4. 背景保活任務（免費託管平台會閒置休眠進程）
func main() {
	// 1. 讀取配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		// logger 還沒建立，只能用默認輸出
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. 初始化日誌
	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("configuration loaded",
		"addr", cfg.Server.Addr,
		"stage_count", cfg.Funnel.StageCount,
		"notifications", cfg.Bot.Token != "",
	)

	// 3. 打開日誌存儲（啟動重放：在接流量前完成）
	store, err := storage.NewLogFile(cfg.Funnel.LogPath, cfg.Funnel.StageCount, logger)
	if err != nil {
		logger.Error("failed to open funnel log", "error", err)
		os.Exit(1)
	}

	// 4. 可選的 Redis 快取層（V3 架構）
	//
	// 未配置 addr 時直接用日誌存儲（快取永遠不參與正確性）
	var funnelStore funnel.Store = store
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := storage.NewGoRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
			os.Exit(1)
		}
		funnelStore = storage.NewRedisCache(client, store, cfg.Redis.TTL.Std(), logger)
		logger.Info("redis cache enabled", "addr", cfg.Redis.Addr)
	}

	// 5. 通知客戶端（token 為空時自動停用）
	notifier := telegram.New(cfg.Bot.Token, logger)

	// 6. HTTP Handler
	h := handler.New(funnelStore, notifier, handler.Config{
		StageCount: cfg.Funnel.StageCount,
		BaseURL:    cfg.Bot.BaseURL,
		OwnerID:    cfg.Bot.OwnerID,
		ChannelID:  cfg.Bot.ChannelID,
		VerifyURL:  cfg.Funnel.VerifyURL,
	}, logger)

	// 7. HTTP Server
	//
	// 超時設置：防止慢請求佔用資源
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	// 8. 啟動服務器（非阻塞）
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// 9. 背景保活自 ping
	//
	// 與漏斗存儲零共享狀態：只發一個 HTTP 請求；失敗只記日誌
	stopKeepalive := make(chan struct{})
	if cfg.Bot.BaseURL != "" {
		go keepalive(cfg.Bot.BaseURL, logger, stopKeepalive)
	}

	// 10. 等待終止信號（優雅關閉）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("received shutdown signal", "signal", sig.String())
	close(stopKeepalive)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// 日誌句柄最後關：Shutdown 已保證沒有在途的 Create
	if err := store.Close(); err != nil {
		logger.Error("close funnel log error", "error", err)
	}

	logger.Info("server stopped gracefully")
}

// newLogger 按配置構建 slog
//
// 開發用 text + debug，生產用 json + info
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// keepalive 定期自 ping /health
//
// 免費託管平台（Render/Railway 之類）會把閒置進程休眠，
// 首個訪客會吃到數十秒的冷啟動；定期自 ping 保持進程熱身。
// 失敗只記日誌：保活永遠不是正確性的一部分。
func keepalive(baseURL string, logger *slog.Logger, stop <-chan struct{}) {
	const interval = 5 * time.Minute

	client := &http.Client{Timeout: 10 * time.Second}
	url := baseURL + "/health"

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				logger.Warn("keepalive ping failed", "url", url, "error", err)
				continue
			}
			resp.Body.Close()
		}
	}
}
