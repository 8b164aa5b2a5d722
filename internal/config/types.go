package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"168h" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述构建节点的全局运行时行为，入口与服务模式共享同一份参数。
type GlobalConfig struct {
	ListenHost    string `mapstructure:"ListenHost"`
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// 缓存目录与 portage 配置文件路径，默认值与基础镜像的约定保持一致。
	BinpkgDir      string `mapstructure:"BinpkgDir"`
	ConfigCacheDir string `mapstructure:"ConfigCacheDir"`
	ArtifactDir    string `mapstructure:"ArtifactDir"`
	MakeConfPath   string `mapstructure:"MakeConfPath"`
	PortageDir     string `mapstructure:"PortageDir"`
	TimestampPath  string `mapstructure:"TimestampPath"`

	// emerge 调优参数，SyncMaxAge 内的 portage 树视为新鲜、跳过 --sync。
	EmergeJobs        int      `mapstructure:"EmergeJobs"`
	EmergeLoadAverage float64  `mapstructure:"EmergeLoadAverage"`
	SyncMaxAge        Duration `mapstructure:"SyncMaxAge"`

	// ServerCommand 非空时，入口模式 exec 该命令（追加 -host/-port），
	// 用于服务端独立部署的场景；默认重新 exec 自身的 -serve 模式。
	ServerCommand []string `mapstructure:"ServerCommand"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// CacheDirs 按固定顺序返回 bootstrap 需要确保存在的三个缓存目录。
func (g GlobalConfig) CacheDirs() []string {
	return []string{g.BinpkgDir, g.ConfigCacheDir, g.ArtifactDir}
}

// ListenAddr 拼接 host:port，供 Fiber Listen 与 exec 参数复用。
func (g GlobalConfig) ListenAddr() string {
	return net.JoinHostPort(g.ListenHost, strconv.Itoa(g.ListenPort))
}
