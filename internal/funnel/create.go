package funnel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/koopa0/system-design/14-link-funnel/pkg/token"
)

// 令牌參數
//
// 長度選擇（沿用被觀察變體的取值）：
//   - Slug 8 字符（36^8 ≈ 2.8 兆組合）
//   - Secret 12 字符（62^12，更深的令牌空間）
const (
	SlugLength   = 8
	SecretLength = 12

	// maxSlugAttempts 生成唯一 slug 的重試上限
	//
	// 為什麼需要上限？
	//   - 碰撞機率趨近於零，但迴圈必須有界（防止隨機源異常時死循環）
	maxSlugAttempts = 10

	// maxDestinationLength 目標網址長度上限
	//
	// 目標網址在語義上仍是不透明字符串，但持久化記錄一行一筆：
	// 無界的字段會讓日誌重放失去韌性（2048 已遠超實際網址長度）
	maxDestinationLength = 2048
)

// Create 創建一個新漏斗
//
// 參數：
//   - ctx：上下文
//   - store：存儲接口
//   - stageCount：階段數 N（由部署配置固定）
//   - destination：最終跳轉網址（不透明字符串）
//
// 返回：
//   - 完整的漏斗記錄（含生成的 slug 與全部階段令牌）
//   - 錯誤（ErrInvalidDestination、ErrSlugSpaceExhausted 或存儲錯誤）
//
// 算法流程：
//  1. 驗證 destination 不含記錄分隔符、長度有界
//  2. 生成 N 個階段令牌
//  3. 生成 slug → store.Create 原子保留
//     - ErrSlugExists → 換新 slug 重試（有界）
//
// 系統設計考量（正確性關鍵）：
//   - 「生成 slug」與「檢查唯一並插入」如果分離在鎖外，
//     並發創建可能靜默相互覆蓋（check-then-act 競態）
//   - 這裡的修正：唯一性檢查完全委託給 store.Create（在存儲鎖內），
//     碰撞以 ErrSlugExists 顯式暴露，由本函數換 slug 重試
//   - 因此任何成功返回的漏斗都保證可被獨立查回，無丟失更新
func Create(ctx context.Context, store Store, stageCount int, destination string) (*Funnel, error) {
	if strings.ContainsAny(destination, "|\n") || destination == "" ||
		len(destination) > maxDestinationLength {
		return nil, ErrInvalidDestination
	}

	// 階段令牌彼此獨立，不需要全局唯一
	// （比對永遠在「同一個漏斗、同一個位置」上進行，見 gate.go）
	stages := make([]string, stageCount)
	for i := range stages {
		s, err := token.Generate(SecretLength, token.Mixed)
		if err != nil {
			return nil, err
		}
		stages[i] = s
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug, err := token.Generate(SlugLength, token.Upper)
		if err != nil {
			return nil, err
		}

		f := &Funnel{
			Slug:        slug,
			Stages:      stages,
			Destination: destination,
			CreatedAt:   time.Now(),
		}

		err = store.Create(ctx, f)
		if errors.Is(err, ErrSlugExists) {
			// 碰撞：換一個 slug 重來（不覆蓋既有漏斗）
			continue
		}
		if err != nil {
			return nil, err
		}
		return f, nil
	}

	return nil, ErrSlugSpaceExhausted
}
