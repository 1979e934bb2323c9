// Package funnel 實現多階段連結漏斗的核心功能
//
// 系統設計問題：
//
//	如何讓訪客必須「按順序」通過 N 個驗證頁面，才能抵達最終網址？
//
// 核心機制：
//   - 每個漏斗綁定一組有序的階段令牌（stage secrets）
//   - 第 i 階段的頁面是訪客獲得第 i+1 階段令牌的唯一途徑
//   - 服務端逐位比對請求路徑中呈現的令牌，任何錯位即拒絕
//   - 閘門是「順序知識」型而非「計算難題」型：
//     保護完全依賴令牌在傳輸/存儲中的保密性
package funnel

import (
	"errors"
	"time"
)

// Funnel 表示一個漏斗記錄
//
// 數據模型設計：
//
//   - Slug：公開入口識別碼（網址第一段路徑）
//     → 大寫字母 + 數字（視覺無歧義）
//     → 全店唯一，創建後不可變
//
//   - Stages：有序的階段令牌序列，長度 N 由部署配置固定
//     → 混合大小寫（更密的令牌空間）
//     → 創建時一次性生成，之後不可變
//
//   - Destination：最終跳轉網址
//     → 不做 URL 格式驗證（對系統而言是不透明字符串）
//     → 但不得包含 '|' 或換行（會破壞持久化記錄格式）
//
// 生命週期：創建一次、讀取多次、永不更新或刪除
// （沒有 update/delete 操作：持久化日誌因此可以是純追加）
type Funnel struct {
	Slug        string    `json:"slug"`
	Stages      []string  `json:"stages"`
	Destination string    `json:"destination"`
	CreatedAt   time.Time `json:"created_at"`
}

// Clone 返回深拷貝
//
// 為什麼需要拷貝？
//   - Store 返回副本而非內部指針（同 03-url-shortener 的 Memory.Load）
//   - 防止調用者修改 Stages 切片，繞過「創建後不可變」的約束
func (f *Funnel) Clone() *Funnel {
	c := *f
	c.Stages = append([]string(nil), f.Stages...)
	return &c
}

// 錯誤定義
//
// HTTP 狀態碼映射（由 handler 層決定）：
//   - ErrNotFound     → 入口 404 / 階段 403
//   - ErrGateMismatch → 403（與 ErrNotFound 刻意不可區分）
//   - ErrSlugExists   → 創建重試（不對外暴露）
//
// 設計考量：
//   - 階段路徑上「slug 不存在」與「令牌錯誤」返回完全相同的響應，
//     避免錯誤訊息成為枚舉令牌的旁路信道
var (
	// ErrNotFound 當 slug 不存在時返回
	ErrNotFound = errors.New("funnel not found")

	// ErrSlugExists 當 slug 已被佔用時返回（創建方應換新 slug 重試）
	ErrSlugExists = errors.New("slug already exists")

	// ErrGateMismatch 當呈現的階段令牌與存儲值不符時返回
	//
	// 統一錯誤：不透露是哪一個位置不匹配
	ErrGateMismatch = errors.New("gate secret mismatch")

	// ErrInvalidDestination 當目標網址包含記錄分隔符或超長時返回
	//
	// 注意：這不是 URL 格式驗證，只是持久化格式的約束
	// （記錄以 '|' 分隔、以換行結尾、長度有界）
	ErrInvalidDestination = errors.New("destination violates record format")

	// ErrSlugSpaceExhausted 當多次重試仍無法取得唯一 slug 時返回
	//
	// 36^8 的空間下幾乎不可能發生；出現即意味着隨機源異常
	ErrSlugSpaceExhausted = errors.New("failed to generate unique slug")
)
