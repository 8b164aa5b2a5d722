// Package bootstrap 负责容器启动前的环境准备：确保缓存目录存在、向
// make.conf 追加缺失的构建配置行，随后把进程 exec 给应用服务。所有步骤
// 均为幂等操作，容器重启时整个流程会被安全地重放。
package bootstrap

import (
	"fmt"
	"io"
	"runtime"

	"github.com/sirupsen/logrus"
)

// Options 汇总 bootstrap 所需的路径与依赖，便于测试注入临时目录。
type Options struct {
	// CacheDirs 按固定顺序列出需要确保存在的缓存目录。
	CacheDirs []string
	// MakeConfPath 是被追加构建配置的 portage 配置文件。
	MakeConfPath string
	// BinpkgDir 用于生成 PKGDIR 配置行。
	BinpkgDir string
	// NumCPU 返回可用处理器数；为 nil 时使用 runtime.NumCPU。
	NumCPU func() int
	// Banner 接收启动横幅输出；为 nil 时不打印。
	Banner io.Writer
	Logger *logrus.Logger
}

// Run 依次执行目录创建与三条配置行检查。任一步骤失败立即返回错误，
// 不存在部分成功后继续的路径：要么环境完全就绪，要么中止。
func Run(opts Options) error {
	if err := EnsureDirectories(opts.CacheDirs...); err != nil {
		return err
	}

	numCPU := runtime.NumCPU
	if opts.NumCPU != nil {
		numCPU = opts.NumCPU
	}

	for _, entry := range MakeConfEntries(opts.BinpkgDir, numCPU()) {
		appended, err := EnsureConfigLine(opts.MakeConfPath, entry.Keys, entry.Line)
		if err != nil {
			return fmt.Errorf("修补 %s 失败: %w", opts.MakeConfPath, err)
		}
		if opts.Logger != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":   "ensure_make_conf",
				"line":     entry.Line,
				"appended": appended,
			}).Debug("make.conf 检查完成")
		}
	}

	if opts.Banner != nil {
		printBanner(opts.Banner, opts.CacheDirs)
	}
	return nil
}

// printBanner 输出缓存路径清单，仅供人工排查，不做机器解析。
func printBanner(w io.Writer, dirs []string) {
	fmt.Fprintln(w, "e4e builder node ready")
	for _, dir := range dirs {
		fmt.Fprintf(w, "  cache: %s\n", dir)
	}
}
