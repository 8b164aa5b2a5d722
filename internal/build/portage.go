package build

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// applyConfig 把任务携带的配置树套用到 PortageDir。既有目录先整体备份
// 到临时位置，保证失败时有现场可查。配置树允许两种布局：带 etc/portage
// 前缀的完整树，或直接就是 portage 目录的内容。
func (e *Executor) applyConfig(job *Job) error {
	job.AppendLog("=== Applying portage config ===\n")

	portageDir := e.cfg.PortageDir

	if _, err := os.Stat(portageDir); err == nil {
		backupDir := filepath.Join(os.TempDir(), "portage-backup-"+job.ID)
		if err := copyTree(portageDir, backupDir); err != nil {
			return fmt.Errorf("backup portage dir: %w", err)
		}
	}

	nested := filepath.Join(job.ConfigPath, "etc", "portage")
	if info, err := os.Stat(nested); err == nil && info.IsDir() {
		if err := os.RemoveAll(portageDir); err != nil {
			return fmt.Errorf("clear portage dir: %w", err)
		}
		if err := copyTree(nested, portageDir); err != nil {
			return fmt.Errorf("apply portage config: %w", err)
		}
		job.AppendLog(fmt.Sprintf("Applied config from %s\n", nested))
	} else {
		// 配置树直接是 portage 目录内容，逐项覆盖。
		entries, err := os.ReadDir(job.ConfigPath)
		if err != nil {
			return fmt.Errorf("read config tree: %w", err)
		}
		for _, entry := range entries {
			src := filepath.Join(job.ConfigPath, entry.Name())
			dst := filepath.Join(portageDir, entry.Name())
			if err := os.RemoveAll(dst); err != nil {
				return fmt.Errorf("replace %s: %w", dst, err)
			}
			if err := copyTree(src, dst); err != nil {
				return fmt.Errorf("apply %s: %w", src, err)
			}
		}
		job.AppendLog(fmt.Sprintf("Applied config from %s\n", job.ConfigPath))
	}

	if e.logger != nil {
		e.logger.WithFields(logrus.Fields{
			"action":      "apply_config",
			"build_id":    job.ID,
			"config_hash": job.ConfigHash,
		}).Debug("portage 配置已套用")
	}
	return nil
}

// copyTree 递归复制文件/目录/符号链接，保留文件权限。
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := copyTree(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return err
			}
		}
		return nil
	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}
