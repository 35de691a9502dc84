package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server   ServerConfig   `toml:"server"`
	Data     DataConfig     `toml:"data"`
	Database DatabaseConfig `toml:"database"`
	Import   ImportConfig   `toml:"import"`
	Subjects SubjectsConfig `toml:"subjects"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int  `toml:"port" validate:"gte=0,lte=65535"`
	DevMode     bool `toml:"dev_mode"`
	MaxUploadMB int  `toml:"max_upload_mb" validate:"gte=1"`
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir string `toml:"data_dir" validate:"required"`
}

// DatabaseConfig 数据库配置；Supabase 连接串建议放在 .env 中
type DatabaseConfig struct {
	Driver         string `toml:"driver" validate:"oneof=sqlite postgres memory"`
	DSN            string `toml:"dsn"` // sqlite 为数据目录下的文件名，postgres 为连接串
	MaxConns       int    `toml:"max_conns" validate:"gte=0"`
	SimpleProtocol bool   `toml:"simple_protocol"`
	AutoMigrate    bool   `toml:"auto_migrate"`
}

// ImportConfig 导入识别配置
type ImportConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold" validate:"gt=0,lte=1"`
	HeaderScanRows      int     `toml:"header_scan_rows" validate:"gte=1,lte=50"`
	PreviewRows         int     `toml:"preview_rows" validate:"gte=0,lte=100"`
	ComputeRanks        bool    `toml:"compute_ranks"`
}

// SubjectsConfig 科目配置
type SubjectsConfig struct {
	FullMarks map[string]float64 `toml:"full_marks"` // 覆盖默认满分（语数英 150，其余 100）
	Template  []string           `toml:"template"`   // 模板中的科目列
}

// LoadConfigInfo 配置加载元信息
type LoadConfigInfo struct {
	Path          string
	Found         bool
	EnvFileLoaded bool
	PortSpecified bool
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:        20261,
			DevMode:     false,
			MaxUploadMB: 20,
		},
		Data: DataConfig{
			DataDir: "data",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite",
			DSN:         "gradeflow.db",
			MaxConns:    5,
			AutoMigrate: true,
		},
		Import: ImportConfig{
			ConfidenceThreshold: 0.8,
			HeaderScanRows:      10,
			PreviewRows:         5,
			ComputeRanks:        true,
		},
	}
}

func isPortSpecifiedInToml(data []byte) bool {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return false
	}

	serverAny, ok := raw["server"]
	if !ok {
		return false
	}

	serverMap, ok := serverAny.(map[string]any)
	if !ok {
		return false
	}

	_, ok = serverMap["port"]
	return ok
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

func baseDir() string {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		return "."
	}
	return exeDir
}

// LoadConfigWithInfo 从可执行文件同目录的 config.toml 与 .env 加载配置
func LoadConfigWithInfo() (*AppConfig, LoadConfigInfo, error) {
	return LoadFile(filepath.Join(baseDir(), "config.toml"))
}

// LoadFile 加载指定路径的配置；同目录的 .env 会先载入环境变量
func LoadFile(configPath string) (*AppConfig, LoadConfigInfo, error) {
	info := LoadConfigInfo{Path: configPath}
	config := DefaultConfig()

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, info, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
		info.EnvFileLoaded = true
	}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		info.Found = true
		info.PortSpecified = isPortSpecifiedInToml(data)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, info, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// 配置文件不存在，使用默认配置
	default:
		return nil, info, err
	}

	if err := applyEnv(config, &info); err != nil {
		return nil, info, err
	}
	if err := Validate(config); err != nil {
		return nil, info, err
	}
	return config, info, nil
}

// applyEnv 环境变量覆盖
func applyEnv(config *AppConfig, info *LoadConfigInfo) error {
	if v := strings.TrimSpace(os.Getenv("SUPABASE_DB_URL")); v != "" {
		config.Database.Driver = "postgres"
		config.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("GRADEFLOW_DB_DRIVER")); v != "" {
		config.Database.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("GRADEFLOW_DB_DSN")); v != "" {
		config.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("GRADEFLOW_DATA_DIR")); v != "" {
		config.Data.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv("GRADEFLOW_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GRADEFLOW_PORT %q: %w", v, err)
		}
		config.Server.Port = port
		info.PortSpecified = true
	}
	if v := strings.TrimSpace(os.Getenv("GRADEFLOW_CONFIDENCE_THRESHOLD")); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid GRADEFLOW_CONFIDENCE_THRESHOLD %q: %w", v, err)
		}
		config.Import.ConfidenceThreshold = threshold
	}
	return nil
}

// Validate 校验配置取值
func Validate(config *AppConfig) error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if config.Database.Driver == "postgres" && config.Database.DSN == "" {
		return errors.New("invalid config: postgres driver requires a dsn (set SUPABASE_DB_URL)")
	}
	for subject, marks := range config.Subjects.FullMarks {
		if marks <= 0 {
			return fmt.Errorf("invalid config: full marks of %s must be positive", subject)
		}
	}
	return nil
}

// EnsureDataDir 确保数据目录存在
// 相对路径的数据目录位于可执行文件同目录下
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := ResolveDataDir(config)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	subdirs := []string{"uploads", "exports"}
	for _, subdir := range subdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}

// ResolveDataDir 数据目录的绝对位置
func ResolveDataDir(config *AppConfig) string {
	if filepath.IsAbs(config.Data.DataDir) {
		return config.Data.DataDir
	}
	return filepath.Join(baseDir(), config.Data.DataDir)
}

// DatabaseDSN 实际使用的连接串；sqlite 的相对路径放在数据目录下
func DatabaseDSN(config *AppConfig, dataDir string) string {
	dsn := config.Database.DSN
	if config.Database.Driver != "sqlite" {
		return dsn
	}
	if dsn == "" {
		dsn = "gradeflow.db"
	}
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(dataDir, dsn)
}
