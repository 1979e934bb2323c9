// Package telegram 實現與 Telegram Bot API 的出站消息投遞
//
// 系統設計定位：
//
//	通知投遞是「盡力而為」的外部協作者：它的任何失敗
//	都不得阻塞或中斷漏斗創建事務。這是刻意的解耦，不是偷懶：
//	  - 創建的持久性由 Funnel Store 保證（先落盤）
//	  - 通知只是把結果「告訴」營運者，丟了可以重查日誌文件
//
// 為什麼不用 SDK？
//   - 只需要一個端點（sendMessage）、一種負載（表單編碼）
//   - 裸 HTTP POST + 有界超時就是完整契約
package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultAPIBase Telegram Bot API 根地址
const defaultAPIBase = "https://api.telegram.org"

// sendTimeout 出站調用的有界超時
//
// 這是整個系統中唯一的顯式超時：
// 通知慢絕不能拖住 webhook 響應
const sendTimeout = 10 * time.Second

// ErrDisabled 當未配置 bot token 時返回
//
// 注意：調用方通常直接忽略（未配置 token = 靜默停用全部通知）
var ErrDisabled = errors.New("telegram: bot token not configured")

// Client Telegram Bot 客戶端
type Client struct {
	token   string
	apiBase string
	http    *http.Client
	logger  *slog.Logger
}

// New 創建客戶端
//
// token 為空時客戶端處於停用狀態：SendMessage 靜默返回 ErrDisabled
func New(token string, logger *slog.Logger) *Client {
	return NewWithAPI(token, defaultAPIBase, logger)
}

// NewWithAPI 指定 API 根地址創建客戶端（測試用）
func NewWithAPI(token, apiBase string, logger *slog.Logger) *Client {
	return &Client{
		token:   token,
		apiBase: strings.TrimRight(apiBase, "/"),
		http:    &http.Client{Timeout: sendTimeout},
		logger:  logger,
	}
}

// Enabled 是否已配置 token
func (c *Client) Enabled() bool {
	return c.token != ""
}

// SendMessage 向指定聊天發送文本消息
//
// 參數：
//   - chatID：數字 ID 或 @channel 形式的字符串
//
// 錯誤處理策略：
//   - 返回錯誤供調用方記錄，但調用方「不應」讓它傳播到請求路徑
//   - 慣用調用方式：go func() { _ = c.SendMessage(...) }() 加日誌
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	form := url.Values{
		"chat_id": {chatID},
		"text":    {text},
	}

	endpoint := c.apiBase + "/bot" + c.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// 排空響應體讓連接可復用
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode != http.StatusOK {
		return errors.New("telegram: sendMessage returned " + resp.Status)
	}
	return nil
}

// Notify 盡力而為地發送：失敗只記日誌，永不向上傳播
//
// 用於請求路徑上的 fire-and-forget 投遞
func (c *Client) Notify(chatID, text string) {
	if !c.Enabled() || chatID == "" {
		return
	}
	// 獨立的生命週期：不繼承請求的 context
	// （webhook 響應返回後通知仍應完成投遞）
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := c.SendMessage(ctx, chatID, text); err != nil {
		c.logger.Warn("notification delivery failed", "chat_id", chatID, "error", err)
	}
}
