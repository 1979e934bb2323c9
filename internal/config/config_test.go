package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-link-funnel/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	// 文件不存在：不是錯誤，走純默認值
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, 3, cfg.Funnel.StageCount)
	assert.Equal(t, "funnels.txt", cfg.Funnel.LogPath)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Bot.Token)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":9090"
  read_timeout: 15s
funnel:
  stage_count: 4
  log_path: "/data/funnels.txt"
bot:
  owner_id: 123456789
  channel_id: "-1001234"
log:
  level: "debug"
  format: "text"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, 4, cfg.Funnel.StageCount)
	assert.Equal(t, "/data/funnels.txt", cfg.Funnel.LogPath)
	assert.Equal(t, int64(123456789), cfg.Bot.OwnerID)
	assert.Equal(t, "-1001234", cfg.Bot.ChannelID)
	assert.Equal(t, "debug", cfg.Log.Level)

	// yaml 未覆蓋的字段保留默認值
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout.Std())
}

// TestLoad_EnvOverridesYAML 環境變量優先於 yaml
func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("funnel:\n  stage_count: 4\n"), 0o644))

	t.Setenv("STAGE_COUNT", "1")
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("OWNER_ID", "42")
	t.Setenv("BASE_URL", "https://funnel.example.com")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Funnel.StageCount)
	assert.Equal(t, "123:abc", cfg.Bot.Token)
	assert.Equal(t, int64(42), cfg.Bot.OwnerID)
	assert.Equal(t, "https://funnel.example.com", cfg.Bot.BaseURL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_InvalidStageCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("funnel:\n  stage_count: 0\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
