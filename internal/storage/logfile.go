// Package storage 實現各種存儲後端
//
// 存儲架構演進：
//
//	V1：內存映射（易失，僅測試）
//	V2：內存映射 + 追加式日誌（持久化，當前主存儲）
//	V3：V2 + Redis 快取層（讀取加速，可選）
//
// 為什麼不是資料庫？
//   - 寫入量：營運者手動創建，每天個位數
//   - 數據形狀：單一實體、按主鍵查詢、創建後不可變
//   - 追加式文本日誌 + 啟動重放就能覆蓋全部需求，
//     且備份/遷移只是複製一個文本文件
//   - 明確的邊界：這是「單進程、有限生命週期」的設計選擇，
//     不是可以默默繼承的擴展假設（日誌永不壓縮、映射永不縮小）
package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/koopa0/system-design/14-link-funnel/internal/funnel"
)

// LogFile 追加式日誌存儲（V2 架構）
//
// 記錄格式（每行一個漏斗）：
//
//	slug|stage₁|stage₂|…|stageₙ|destination
//
//	- 字段數固定為 2 + N（N 由部署配置決定）
//	- 無表頭、無版本號、無校驗和
//	- 字段數不符的行視為損壞：跳過並告警，不中止啟動
//
// 併發模型：
//   - 單把互斥鎖覆蓋「全部」訪問（包括讀取）
//   - 為什麼不用 RWMutex？Create 的唯一性檢查是 check-then-act，
//     必須與插入同鎖；讀寫量級（低）下鎖競爭不是瓶頸，
//     正確性優先於吞吐
//   - 鎖同時保護文件句柄：日誌追加與映射插入是同一個邏輯事務
//
// 持久性契約：
//   - 先寫盤（含 Sync）、後插入內存
//   - 寫盤失敗 → Create 失敗，內存不變（調用方可重試）
//   - 崩潰在寫盤與插入之間 → 下次啟動重放即恢復，可接受
type LogFile struct {
	mu      sync.Mutex
	funnels map[string]*funnel.Funnel
	file    *os.File
	path    string
	stages  int // 部署固定的階段數 N
	logger  *slog.Logger
}

// NewLogFile 打開（或創建）日誌文件並重放全部記錄
//
// 啟動加載（startup_load）：
//   - 從頭順序掃描整個文件（無增量讀取：運行期只追加不讀）
//   - 逐行解析；字段數錯誤的行跳過並記告警
//   - 同一 slug 重複出現時後者覆蓋前者（按構造不應發生，
//     重放語義仍須定義：last-write-wins）
func NewLogFile(path string, stageCount int, logger *slog.Logger) (*LogFile, error) {
	if stageCount < 1 {
		return nil, fmt.Errorf("storage: stage count must be >= 1, got %d", stageCount)
	}

	s := &LogFile{
		funnels: make(map[string]*funnel.Funnel),
		path:    path,
		stages:  stageCount,
		logger:  logger,
	}

	if err := s.replay(); err != nil {
		return nil, fmt.Errorf("storage: replay %s: %w", path, err)
	}

	// 追加句柄與讀取分開打開：重放用只讀掃描，運行期只追加
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open log %s: %w", path, err)
	}
	s.file = f

	logger.Info("funnel log loaded", "path", path, "funnels", len(s.funnels))
	return s, nil
}

// replay 重放日誌重建內存映射
//
// 按行讀取用 bufio.Reader 而非 Scanner：
// Scanner 的默認單行上限（64KB）會把超長記錄放大成
// 致命的啟動失敗，連帶丟掉其餘全部漏斗
func (s *LogFile) replay() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil // 首次啟動：空狀態
	}
	if err != nil {
		return err
	}
	defer f.Close()

	want := 2 + s.stages
	lineNo := 0

	// complete 以換行結尾的前綴長度：
	// 尾部若有不完整的殘行（崩潰在追加中途），截回此處
	var complete int64

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		if line != "" {
			lineNo++
			if !strings.HasSuffix(line, "\n") {
				// 崩潰殘留的半條記錄：不載入，稍後截掉
				// （留着會讓下一次追加黏在同一行，毀掉兩條記錄）
				s.logger.Warn("dropping torn record at log tail",
					"path", s.path, "line", lineNo)
				break
			}
			complete += int64(len(line))
			s.replayLine(line, lineNo, want)
		}
		if err == io.EOF {
			break
		}
	}

	if stat, statErr := f.Stat(); statErr == nil && stat.Size() > complete {
		if err := os.Truncate(s.path, complete); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
	}
	return nil
}

// replayLine 解析單條記錄並插入映射
func (s *LogFile) replayLine(line string, lineNo, want int) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	parts := strings.Split(line, "|")
	if len(parts) != want {
		// 損壞的記錄：跳過，不中止啟動
		s.logger.Warn("skipping malformed log record",
			"path", s.path, "line", lineNo,
			"fields", len(parts), "want", want)
		return
	}

	s.funnels[parts[0]] = &funnel.Funnel{
		Slug:        parts[0],
		Stages:      append([]string(nil), parts[1:1+s.stages]...),
		Destination: parts[want-1],
	}
}

// Create 保存漏斗（先落盤、後可見）
func (s *LogFile) Create(ctx context.Context, f *funnel.Funnel) error {
	if len(f.Stages) != s.stages {
		return fmt.Errorf("storage: funnel has %d stages, deployment expects %d",
			len(f.Stages), s.stages)
	}
	// 分隔符出現在任何字段都會讓重放錯位
	for _, field := range append([]string{f.Slug, f.Destination}, f.Stages...) {
		if strings.ContainsAny(field, "|\n") {
			return funnel.ErrInvalidDestination
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.funnels[f.Slug]; exists {
		return funnel.ErrSlugExists
	}

	// 記住追加前的末尾：失敗時截回，
	// 半條記錄會讓下一次成功的追加黏在同一行上
	off, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("storage: seek log: %w", err)
	}

	// 日誌追加 + 映射插入 = 同一把鎖內的單一邏輯事務
	record := f.Slug + "|" + strings.Join(f.Stages, "|") + "|" + f.Destination + "\n"
	if _, err := s.file.WriteString(record); err != nil {
		s.rollback(off)
		return fmt.Errorf("storage: append log: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		// Sync 失敗視同寫入失敗：創建不得對外可見
		s.rollback(off)
		return fmt.Errorf("storage: sync log: %w", err)
	}

	s.funnels[f.Slug] = f.Clone()
	return nil
}

// rollback 截回追加前的長度（善後，失敗只能告警）
func (s *LogFile) rollback(off int64) {
	if err := s.file.Truncate(off); err != nil {
		s.logger.Warn("log rollback failed", "path", s.path, "offset", off, "error", err)
	}
}

// Lookup 按 slug 查詢
func (s *LogFile) Lookup(ctx context.Context, slug string) (*funnel.Funnel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, exists := s.funnels[slug]
	if !exists {
		return nil, funnel.ErrNotFound
	}

	// 返回副本，防止外部修改（同 03-url-shortener 的做法）
	return f.Clone(), nil
}

// Len 當前漏斗數（用於啟動日誌與測試）
func (s *LogFile) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funnels)
}

// Close 關閉日誌句柄
//
// 應在 HTTP 服務器完全排空之後調用（見 cmd/server）
func (s *LogFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// 編譯期接口檢查
var _ funnel.Store = (*LogFile)(nil)
