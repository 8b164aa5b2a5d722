package config

import (
	"errors"
	"path/filepath"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenHost == "" {
		return newFieldError("ListenHost", "不能为空")
	}
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}

	for field, path := range map[string]string{
		"BinpkgDir":      g.BinpkgDir,
		"ConfigCacheDir": g.ConfigCacheDir,
		"ArtifactDir":    g.ArtifactDir,
		"MakeConfPath":   g.MakeConfPath,
		"PortageDir":     g.PortageDir,
		"TimestampPath":  g.TimestampPath,
	} {
		if path == "" {
			return newFieldError(field, "不能为空")
		}
	}
	if filepath.Dir(g.MakeConfPath) == g.MakeConfPath {
		return newFieldError("MakeConfPath", "必须是文件路径而非根目录")
	}

	if g.EmergeJobs < 1 {
		return newFieldError("EmergeJobs", "必须大于 0")
	}
	if g.EmergeLoadAverage <= 0 {
		return newFieldError("EmergeLoadAverage", "必须大于 0")
	}
	if g.SyncMaxAge.DurationValue() <= 0 {
		return newFieldError("SyncMaxAge", "必须大于 0")
	}

	return nil
}
