package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "bin-workflow", cmd.Use, "Root command should be 'bin-workflow'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	// 檢查子命令
	commands := cmd.Commands()
	assert.Len(t, commands, 2, "Should have 2 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Use] = true
	}

	assert.True(t, commandNames["run"], "Should have 'run' command")
	assert.True(t, commandNames["status"], "Should have 'status' command")

	// 檢查持久化標誌
	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.NotNil(t, cmd, "buildRunCommand should return a non-nil command")
	assert.Equal(t, "run", cmd.Use, "Command should be 'run'")
	assert.Contains(t, cmd.Short, "Start", "Short description should mention 'Start'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.NotNil(t, cmd, "buildStatusCommand should return a non-nil command")
	assert.Equal(t, "status", cmd.Use, "Command should be 'status'")
	assert.Contains(t, cmd.Short, "status", "Short description should mention 'status'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")

	timeoutFlag := cmd.Flags().Lookup("timeout")
	assert.NotNil(t, timeoutFlag, "Should have --timeout flag")
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	// 創建臨時配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	configContent := `
mqtt:
  broker: "tcp://localhost:1883"
  client_id: "bin-workflow-test"

workflow:
  topic_root: "plant7"
  auto_start_threshold_kg: 2.0
  removal_fraction: 0.25
  history_limit: 20

devices:
  qr_scanner: "qr_scanner_01"
  rfid_reader: "192.168.1.102"
  scale: "scale_01"

lookup:
  sqlite_path: "./test_factory.db"
  part_table: "part_weight_db"
  part_key_column: "PART NUMBER"
  bin_table: "rfid_bin_db"
  bin_key_column: "epc"

timeouts:
  job_allocation_seconds: 3600
  waiting_rfid_seconds: 10
  waiting_weight_seconds: 15

dwell_ms:
  verification: 2000

metrics:
  enabled: true
  port: 8080
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err, "Failed to write test config file")

	// 加載配置
	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "loadConfig should not return an error")
	require.NotNil(t, cfg, "Config should not be nil")

	// 驗證 MQTT 配置
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker, "Broker should be set")
	assert.Equal(t, "bin-workflow-test", cfg.MQTT.ClientID, "Client id should be set")

	// 驗證 Workflow 配置
	assert.Equal(t, "plant7", cfg.Workflow.TopicRoot)
	assert.Equal(t, 2.0, cfg.Workflow.AutoStartThresholdKg)
	assert.Equal(t, 0.25, cfg.Workflow.RemovalFraction)
	assert.Equal(t, 20, cfg.Workflow.HistoryLimit)

	// 驗證設備對應
	assert.Equal(t, "qr_scanner_01", cfg.Devices["qr_scanner"])
	assert.Equal(t, "192.168.1.102", cfg.Devices["rfid_reader"])
	assert.Equal(t, "scale_01", cfg.Devices["scale"])

	// 驗證查詢服務配置
	assert.Equal(t, "./test_factory.db", cfg.Lookup.SQLitePath)
	assert.Equal(t, "part_weight_db", cfg.Lookup.PartTable)
	assert.Equal(t, "PART NUMBER", cfg.Lookup.PartKeyColumn)

	// 驗證時限配置
	assert.Equal(t, 3600, cfg.Timeouts.JobAllocationSeconds)
	assert.Equal(t, 10, cfg.Timeouts.WaitingRfidSeconds)
	assert.Equal(t, 15, cfg.Timeouts.WaitingWeightSeconds)
	assert.Equal(t, 2000, cfg.DwellMs["verification"])

	// 驗證 Metrics 配置
	assert.True(t, cfg.Metrics.Enabled, "Metrics should be enabled")
	assert.Equal(t, 8080, cfg.Metrics.Port, "Metrics port should be 8080")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")

	assert.Error(t, err, "loadConfig should return an error for nonexistent file")
	assert.Nil(t, cfg, "Config should be nil on error")
	assert.Contains(t, err.Error(), "failed to read config file", "Error should mention file reading failure")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	// 創建包含無效 YAML 的臨時文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
workflow:
  history_limit: "not a number"
  invalid yaml structure
    broken indentation
`

	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err, "Failed to write invalid YAML file")

	cfg, err := loadConfig(configPath)

	assert.Error(t, err, "loadConfig should return an error for invalid YAML")
	assert.Nil(t, cfg, "Config should be nil on parse error")
	assert.Contains(t, err.Error(), "failed to parse config YAML", "Error should mention YAML parsing failure")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")

	err := os.WriteFile(configPath, []byte(""), 0644)
	require.NoError(t, err, "Failed to write empty file")

	// 空文件應該能解析，但會有零值
	cfg, err := loadConfig(configPath)
	assert.NoError(t, err, "Empty YAML file should parse without error")
	assert.NotNil(t, cfg, "Config should not be nil for empty file")
	assert.Empty(t, cfg.MQTT.Broker, "Empty config should have zero values")
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	// 只包含部分配置
	partialConfig := `
mqtt:
  broker: "tcp://broker:1883"
`

	err := os.WriteFile(configPath, []byte(partialConfig), 0644)
	require.NoError(t, err, "Failed to write partial config")

	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "Partial config should parse successfully")
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker, "Broker should be set")
	assert.Empty(t, cfg.Workflow.TopicRoot, "Unset fields should have zero values")
}

func TestBuildWorkflowConfig_Defaults(t *testing.T) {
	// 空配置：全部落回預設值
	wc := buildWorkflowConfig(&Config{})

	assert.Equal(t, "factory", wc.TopicRoot)
	assert.Equal(t, 1.25, wc.AutoStartThreshold)
	assert.Equal(t, 0.30, wc.RemovalFraction)
	assert.Equal(t, 10*time.Second, wc.Timeouts[types.StateWaitingRfid])
	assert.Equal(t, 15*time.Second, wc.Timeouts[types.StateWaitingWeight])
	assert.Equal(t, time.Hour, wc.Timeouts[types.StateJobAllocation])
	assert.Equal(t, "part_weight_db", wc.PartTable)
	assert.Equal(t, "rfid_bin_db", wc.BinTable)
}

func TestBuildWorkflowConfig_Overrides(t *testing.T) {
	cfg := &Config{}
	cfg.Workflow.TopicRoot = "plant7"
	cfg.Workflow.AutoStartThresholdKg = 2.0
	cfg.Devices = map[string]string{"scale": "scale_99"}
	cfg.Timeouts.WaitingRfidSeconds = 30
	cfg.DwellMs = map[string]int{"verification": 500}

	wc := buildWorkflowConfig(cfg)

	assert.Equal(t, "plant7", wc.TopicRoot)
	assert.Equal(t, 2.0, wc.AutoStartThreshold)
	assert.Equal(t, "scale_99", wc.Devices[types.RoleScale])
	assert.Equal(t, 30*time.Second, wc.Timeouts[types.StateWaitingRfid])
	assert.Equal(t, 500*time.Millisecond, wc.Dwell[types.StateVerification])
	// 未覆寫的時限維持預設
	assert.Equal(t, 15*time.Second, wc.Timeouts[types.StateWaitingWeight])
}
