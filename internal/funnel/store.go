package funnel

import (
	"context"
)

// Store 定義漏斗存儲接口
//
// 系統設計考量：
//
// 1. 存儲架構選擇：
//    - 主存儲：內存映射 + 追加式日誌文件（啟動時重放重建）
//    - 快取層：Redis（可選，Cache-Aside 模式加速讀取）
//    - 為什麼不用資料庫？預期規模是「營運者手動創建、訪客高頻讀取」，
//      單機 + 本地日誌就是刻意的設計邊界（見 storage 包）
//
// 2. 讀寫模式：
//    - 寫入極少（每個漏斗由聊天指令創建一次）
//    - 讀取為主（每次訪客走完漏斗要做 1..N 次查詢）
//
// 3. 一致性要求：
//    - Create 必須「先持久化、後可見」：
//      日誌寫入失敗時，創建必須失敗且不得插入內存
//    - 崩潰在「寫盤之後、插入內存之前」可接受（重啟重放即恢復）
//
// 4. 唯一性：
//    - Create 對重複 slug 返回 ErrSlugExists，絕不靜默覆蓋
//    - 配合 Create() 的重試迴圈，構成原子的 generate-and-reserve
type Store interface {
	// Create 保存漏斗
	//
	// 設計考量：
	//   - 原子性：重複 slug 檢查與插入在同一把鎖內完成
	//   - 持久性：返回 nil 即代表記錄已落盤
	Create(ctx context.Context, f *Funnel) error

	// Lookup 按 slug 查詢漏斗
	//
	// 設計考量：
	//   - 返回副本（調用者不能改動存儲內的 Stages）
	//   - 高頻操作：快取層（如有）在此生效
	Lookup(ctx context.Context, slug string) (*Funnel, error)
}
