package build

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BenRachmiel/e4e/internal/config"
)

// binpkgSuffix 是 portage 二进制包的文件后缀，前后对比用它识别新产物。
const binpkgSuffix = ".gpkg.tar"

// Executor 承载一次构建的完整流程：应用配置树 → 按需同步 portage 树 →
// emerge 构建 → 收集新产物并打包。不做任何排队，由 Queue 串行调用。
type Executor struct {
	cfg    config.GlobalConfig
	runner CommandRunner
	logger *logrus.Logger
	now    func() time.Time
}

// NewExecutor 构造执行器；runner 为 nil 时使用 os/exec 实现。
func NewExecutor(cfg config.GlobalConfig, runner CommandRunner, logger *logrus.Logger) *Executor {
	if runner == nil {
		runner = NewCommandRunner()
	}
	return &Executor{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		now:    time.Now,
	}
}

// Build 实现 Builder。构建失败会把任务置为 failed 并返回 nil（失败属于
// 任务结果而非系统错误）；返回非 nil 表示环境级故障。
func (e *Executor) Build(ctx context.Context, job *Job) error {
	start := e.now()
	job.markBuilding(start)
	job.AppendLog(fmt.Sprintf("Starting build at %s\n", start.Format(time.RFC3339)))
	job.AppendLog(fmt.Sprintf("Packages: %s\n", strings.Join(job.Packages, ", ")))
	job.AppendLog(fmt.Sprintf("Config hash: %s\n\n", job.ConfigHash))

	if err := e.applyConfig(job); err != nil {
		job.markFailed(e.now(), err.Error())
		job.AppendLog(fmt.Sprintf("\nconfig apply failed: %v\n", err))
		return nil
	}

	if age, fresh := e.treeAge(); fresh {
		job.AppendLog(fmt.Sprintf("=== Skipping sync (tree is %.1fh old) ===\n", age.Hours()))
	} else {
		job.AppendLog("=== Syncing portage tree ===\n")
		code, err := e.runner.Run(ctx, job, []string{"emerge", "--sync"})
		if err != nil {
			return fmt.Errorf("run emerge --sync: %w", err)
		}
		if code != 0 {
			job.markFailed(e.now(), fmt.Sprintf("emerge --sync failed with exit code %d", code))
			return nil
		}
	}

	job.AppendLog("\n=== Building packages ===\n")

	before, err := e.listBinpkgs()
	if err != nil {
		return fmt.Errorf("list binpkgs: %w", err)
	}

	argv := append(e.emergeArgv(), job.Packages...)
	code, err := e.runner.Run(ctx, job, argv)
	if err != nil {
		return fmt.Errorf("run emerge: %w", err)
	}
	if code != 0 {
		job.markFailed(e.now(), fmt.Sprintf("emerge failed with exit code %d", code))
		return nil
	}

	after, err := e.listBinpkgs()
	if err != nil {
		return fmt.Errorf("list binpkgs: %w", err)
	}

	built := diffBinpkgs(before, after)
	job.setPackagesBuilt(built)
	job.AppendLog(fmt.Sprintf("\n=== Built %d packages ===\n", len(built)))
	for _, pkg := range built {
		job.AppendLog(fmt.Sprintf("  - %s\n", pkg))
	}

	if len(built) > 0 {
		if err := e.createArtifact(job, built); err != nil {
			return fmt.Errorf("create artifact: %w", err)
		}
	}

	done := e.now()
	job.markComplete(done)
	job.AppendLog(fmt.Sprintf("\nBuild completed at %s\n", done.Format(time.RFC3339)))
	return nil
}

// emergeArgv 拼装固定的 emerge 构建参数；--ask=n 覆盖镜像里可能预设的
// EMERGE_DEFAULT_OPTS。
func (e *Executor) emergeArgv() []string {
	return []string{
		"emerge",
		"--buildpkg",
		"--verbose",
		"--with-bdeps=y",
		fmt.Sprintf("--jobs=%d", e.cfg.EmergeJobs),
		fmt.Sprintf("--load-average=%g", e.cfg.EmergeLoadAverage),
		"--ask=n",
	}
}

// treeAge 根据 timestamp.chk 的修改时间判断 portage 树是否足够新鲜。
func (e *Executor) treeAge() (time.Duration, bool) {
	info, err := os.Stat(e.cfg.TimestampPath)
	if err != nil {
		return 0, false
	}
	age := e.now().Sub(info.ModTime())
	return age, age < e.cfg.SyncMaxAge.DurationValue()
}

// listBinpkgs 返回 BinpkgDir 下所有二进制包的相对路径集合。
func (e *Executor) listBinpkgs() (map[string]struct{}, error) {
	result := make(map[string]struct{})
	err := filepath.WalkDir(e.cfg.BinpkgDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), binpkgSuffix) {
			return nil
		}
		rel, relErr := filepath.Rel(e.cfg.BinpkgDir, path)
		if relErr != nil {
			return relErr
		}
		result[rel] = struct{}{}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, err
	}
	return result, nil
}

// diffBinpkgs 求 after 相对 before 的新增项，输出排序保持稳定。
func diffBinpkgs(before, after map[string]struct{}) []string {
	var added []string
	for rel := range after {
		if _, ok := before[rel]; !ok {
			added = append(added, rel)
		}
	}
	sort.Strings(added)
	return added
}
