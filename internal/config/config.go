// Package config 實現應用配置的加載
//
// 配置優先級（低 → 高）：
//  1. 內建默認值（便於本地開發，零配置可跑）
//  2. config.yaml（結構化配置，適合版本控制）
//  3. 環境變量（12-Factor App：容器化部署時覆蓋敏感項）
//
// 敏感信息（BOT_TOKEN）只應通過環境變量提供，不進代碼庫
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration time.Duration 的 yaml 包裝
//
// yaml.v3 不解析 "10s" 這種時長字面量（會當成字符串然後報類型錯誤），
// 這裡補上 time.ParseDuration
type Duration time.Duration

// UnmarshalYAML 實現 yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 轉回標準庫類型
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 整個應用的配置
type Config struct {
	Server struct {
		Addr         string   `yaml:"addr"`
		ReadTimeout  Duration `yaml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
		IdleTimeout  Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Funnel struct {
		// StageCount 部署固定的階段數 N
		//
		// 被觀察的變體有 1、3、4 階段；默認取最常見的 3
		// 注意：改變 N 會讓既有日誌記錄的字段數不再匹配（重放會跳過）
		StageCount int `yaml:"stage_count"`

		// LogPath 追加式日誌文件路徑（唯一的持久化機制）
		LogPath string `yaml:"log_path"`

		// VerifyURL 階段頁面「驗證」彈窗打開的外部網址（可選）
		VerifyURL string `yaml:"verify_url"`
	} `yaml:"funnel"`

	Redis struct {
		// Addr 為空時停用快取層（V2 架構；設置後啟用 V3）
		Addr     string   `yaml:"addr"`
		Password string   `yaml:"password"`
		DB       int      `yaml:"db"`
		TTL      Duration `yaml:"ttl"`
	} `yaml:"redis"`

	Bot struct {
		// Token 為空時靜默停用全部出站通知
		Token string `yaml:"token"`

		// OwnerID 唯一授權的營運者（Telegram 數字 ID）
		OwnerID int64 `yaml:"owner_id"`

		// ChannelID 可選的備份頻道（收到完整令牌鏈）
		ChannelID string `yaml:"channel_id"`

		// BaseURL 構造絕對連結用的公開根網址（如 https://funnel.example.com）
		BaseURL string `yaml:"base_url"`
	} `yaml:"bot"`

	Log struct {
		Level  string `yaml:"level"`  // debug / info / warn / error
		Format string `yaml:"format"` // json / text
	} `yaml:"log"`
}

// Load 加載配置
//
// path 指向 yaml 文件；文件不存在不是錯誤（純默認值 + 環境變量運行）
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// 沒有配置文件：可接受
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Funnel.StageCount < 1 {
		return nil, fmt.Errorf("config: stage_count must be >= 1, got %d", cfg.Funnel.StageCount)
	}
	return cfg, nil
}

// defaults 內建默認值
func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = Duration(10 * time.Second)
	cfg.Server.WriteTimeout = Duration(10 * time.Second)
	cfg.Server.IdleTimeout = Duration(60 * time.Second)
	cfg.Funnel.StageCount = 3
	cfg.Funnel.LogPath = "funnels.txt"
	cfg.Redis.TTL = Duration(time.Hour)
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// applyEnv 環境變量覆蓋
func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("STAGE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Funnel.StageCount = n
		}
	}
	if v := os.Getenv("FUNNEL_LOG"); v != "" {
		cfg.Funnel.LogPath = v
	}
	if v := os.Getenv("VERIFY_URL"); v != "" {
		cfg.Funnel.VerifyURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Bot.Token = v
	}
	if v := os.Getenv("OWNER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Bot.OwnerID = id
		}
	}
	if v := os.Getenv("CHANNEL_ID"); v != "" {
		cfg.Bot.ChannelID = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Bot.BaseURL = v
	}
}
