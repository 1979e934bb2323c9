package funnel

import (
	"context"
	"errors"
)

// Step 表示閘門推進一步的結果
//
// 兩種互斥的終態：
//   - Final == false：Next 是下一階段的令牌（嵌入下一頁連結）
//   - Final == true： Destination 是最終跳轉網址
type Step struct {
	// Next 下一階段的令牌（Final 時為空）
	Next string

	// Final 是否已通過全部階段
	Final bool

	// Destination 最終跳轉網址（僅 Final 時有值）
	Destination string
}

// Advance 閘門協議：驗證已呈現的令牌並決定下一步
//
// 這是一個線性狀態機：Entry → Stage_1 → … → Stage_(N-1) → Final
//
// 參數：
//   - slug：公開識別碼
//   - presented：訪客沿路徑收集到的令牌，按階段順序排列
//     （入口頁傳 nil；第 i 階段傳 stages[0..i-1] 的呈現值）
//
// 轉移規則：
//  1. slug 查不到 → ErrGateMismatch
//  2. 逐位比對 presented[j] 與存儲的 stages[j]，首個不匹配即短路
//     → ErrGateMismatch
//  3. 全部匹配且 len(presented) < N → 發放 stages[len(presented)]
//     （這是訪客得知下一個令牌的唯一途徑，閘門的全部機制在此）
//  4. 全部匹配且 len(presented) == N → Final（返回 Destination）
//
// 系統設計考量：
//
//   - 統一錯誤：NotFound 與任何位置的 mismatch 都折疊為
//     ErrGateMismatch，不洩露失敗位置（防枚舉旁路）。
//     入口頁是唯一的例外（404 語義），由調用方自行區分：
//     presented 為空時把 ErrNotFound 原樣透傳。
//
//   - 冪等終態：Final 不做任何消耗或失效。重放同一個
//     最終網址任意次，每次都得到相同的跳轉，無副作用
//
//   - 每次推進都重新 Lookup：令牌比對永遠以存儲值為準，
//     不在請求之間保存會話狀態（服務端無狀態，狀態全在路徑裡）
func Advance(ctx context.Context, store Store, slug string, presented []string) (*Step, error) {
	f, err := store.Lookup(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) && len(presented) > 0 {
			// 階段路徑上：不存在與不匹配不可區分
			return nil, ErrGateMismatch
		}
		return nil, err
	}

	// 呈現的令牌多於部署的階段數：只可能是構造出來的網址
	if len(presented) > len(f.Stages) {
		return nil, ErrGateMismatch
	}

	for i, secret := range presented {
		if secret != f.Stages[i] {
			return nil, ErrGateMismatch
		}
	}

	if len(presented) == len(f.Stages) {
		return &Step{Final: true, Destination: f.Destination}, nil
	}

	return &Step{Next: f.Stages[len(presented)]}, nil
}
