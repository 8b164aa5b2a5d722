package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner 执行外部命令并把合并输出写入任务日志，返回退出码。
// 测试通过注入假实现避免真正 shell out。
type CommandRunner interface {
	Run(ctx context.Context, job *Job, argv []string) (int, error)
}

// execCommandRunner 基于 os/exec 的生产实现。
type execCommandRunner struct{}

// NewCommandRunner 返回默认的命令执行器。
func NewCommandRunner() CommandRunner {
	return execCommandRunner{}
}

func (execCommandRunner) Run(ctx context.Context, job *Job, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("empty command")
	}

	job.AppendLog(fmt.Sprintf("$ %s\n", strings.Join(argv, " ")))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	// 禁用彩色/交互输出，保证日志可读。
	cmd.Env = append(os.Environ(), "TERM=dumb", "NOCOLOR=1")
	sink := &jobLogWriter{job: job}
	cmd.Stdout = sink
	cmd.Stderr = sink

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// jobLogWriter 把命令输出流式追加到任务日志。
type jobLogWriter struct {
	job *Job
}

func (w *jobLogWriter) Write(p []byte) (int, error) {
	w.job.AppendLog(string(p))
	return len(p), nil
}
