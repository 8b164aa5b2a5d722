package bootstrap

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// Launch 用 execve 把当前进程替换为 argv 描述的服务进程，成功时不会
// 返回（PID 不变，无父进程残留）。目标不可执行或 exec 失败时返回错误，
// 调用方以非零码退出。
func Launch(argv []string, env []string) error {
	if len(argv) == 0 {
		return errors.New("exec 目标命令为空")
	}

	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return fmt.Errorf("找不到服务进程 %s: %w", argv[0], err)
	}

	if err := syscall.Exec(bin, argv, env); err != nil {
		return fmt.Errorf("exec %s 失败: %w", bin, err)
	}
	return nil
}
