// Package token 實現固定長度的隨機令牌生成
//
// 系統設計背景：
//
//	連結漏斗（link funnel）需要兩類不可猜測的識別碼：
//	  1. Slug：公開的入口識別碼（出現在網址第一段）
//	  2. Stage Secret：每個驗證階段的私密令牌
//
// 為什麼不用 Snowflake + Base62（03-url-shortener 的做法）？
//   - Snowflake ID 趨勢遞增、可預測 → 攻擊者可枚舉相鄰 ID
//   - 階段令牌的唯一價值就是「不可猜測」
//   - 因此必須使用密碼學安全的隨機源（crypto/rand）
//
// 令牌空間分析：
//   - Slug（36 字符字母表、長度 8）：36^8 ≈ 2.8 × 10^12
//   - Secret（62 字符字母表、長度 12）：62^12 ≈ 3.2 × 10^21
//   - 暴力猜測在漏斗的運營生命週期內不可行
//   - 注意：這是「軟性威懾」而非密碼學保證（令牌一旦洩露即失效）
package token

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// 字母表定義
//
// 設計考量：
//   - Upper：大寫字母 + 數字，用於公開 slug
//     → 視覺上不易混淆（無大小寫歧義）
//     → 方便營運者口頭傳達
//   - Mixed：大小寫字母 + 數字，用於內部階段令牌
//     → 更密集的令牌空間（62^n vs 36^n）
//     → 不需要人工抄寫，可讀性不重要
const (
	Upper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	Mixed = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrInvalidParams 當長度或字母表不合法時返回
var ErrInvalidParams = errors.New("token: length must be positive and alphabet non-empty")

// Generate 生成指定長度的隨機令牌
//
// 參數：
//   - length：令牌長度（字符數）
//   - alphabet：字符集（每個字符被選中的機率均等）
//
// 實現要點：
//   - crypto/rand.Int 保證均勻分布（內部做拒絕採樣）
//   - 不做唯一性保證（唯一性由調用方負責）
//     （Funnel Store 在同一把鎖內做 generate-and-reserve）
func Generate(length int, alphabet string) (string, error) {
	if length <= 0 || len(alphabet) == 0 {
		return "", ErrInvalidParams
	}

	max := big.NewInt(int64(len(alphabet)))
	buf := make([]byte, length)

	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand 讀取失敗極罕見（系統熵源異常）
			// 不降級到 math/rand：寧可失敗也不返回可預測令牌
			return "", err
		}
		buf[i] = alphabet[n.Int64()]
	}

	return string(buf), nil
}
