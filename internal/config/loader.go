package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// path 为空表示未显式指定配置，直接使用默认值（容器内零配置启动）。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, p := range []*string{
		&cfg.Global.BinpkgDir,
		&cfg.Global.ConfigCacheDir,
		&cfg.Global.ArtifactDir,
		&cfg.Global.MakeConfPath,
		&cfg.Global.PortageDir,
	} {
		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("无法解析路径 %s: %w", *p, err)
		}
		*p = abs
	}

	return &cfg, nil
}

// Default 返回纯默认值配置，等价于 Load("")。
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// 默认值恒定且通过校验，此分支不可达。
		panic(err)
	}
	return cfg
}

// durationDecodeHook 让 Duration 字段同时接受 Go Duration 字符串与
// 纯数字秒值（TOML 整数/浮点）。
func durationDecodeHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(Duration(0))
	return func(_, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			var d Duration
			if err := d.UnmarshalText([]byte(value)); err != nil {
				return nil, err
			}
			return d, nil
		case int:
			return Duration(time.Duration(value) * time.Second), nil
		case int64:
			return Duration(time.Duration(value) * time.Second), nil
		case float64:
			return Duration(time.Duration(value * float64(time.Second))), nil
		default:
			return data, nil
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenHost", "0.0.0.0")
	v.SetDefault("ListenPort", 8443)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("BinpkgDir", "/var/cache/binpkgs")
	v.SetDefault("ConfigCacheDir", "/var/cache/e4e/configs")
	v.SetDefault("ArtifactDir", "/var/cache/e4e/artifacts")
	v.SetDefault("MakeConfPath", "/etc/portage/make.conf")
	v.SetDefault("PortageDir", "/etc/portage")
	v.SetDefault("TimestampPath", "/var/db/repos/gentoo/metadata/timestamp.chk")
	v.SetDefault("EmergeJobs", 4)
	v.SetDefault("EmergeLoadAverage", 8.0)
	v.SetDefault("SyncMaxAge", "168h")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenHost == "" {
		g.ListenHost = "0.0.0.0"
	}
	if g.ListenPort == 0 {
		g.ListenPort = 8443
	}
	if g.EmergeJobs == 0 {
		g.EmergeJobs = 4
	}
	if g.EmergeLoadAverage == 0 {
		g.EmergeLoadAverage = 8.0
	}
	if g.SyncMaxAge.DurationValue() == 0 {
		g.SyncMaxAge = Duration(168 * time.Hour)
	}
}
