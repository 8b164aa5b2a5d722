package build

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job 表示一次构建任务。worker 写入、HTTP 层读取，字段访问必须经由
// 带锁的方法；Snapshot 返回解耦后的副本供序列化。
type Job struct {
	ID         string
	Packages   []string
	ConfigHash string
	ConfigPath string

	mu            sync.Mutex
	status        Status
	packagesBuilt []string
	log           strings.Builder
	errMsg        string
	startedAt     time.Time
	completedAt   time.Time
	artifactPath  string
}

// NewJob 创建处于 queued 状态的任务，ID 使用 UUID。
func NewJob(packages []string, configHash, configPath string) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Packages:   append([]string(nil), packages...),
		ConfigHash: configHash,
		ConfigPath: configPath,
		status:     StatusQueued,
	}
}

// Snapshot 是 Job 的只读副本，时间字段为零值时表示尚未发生。
type Snapshot struct {
	ID            string
	Packages      []string
	ConfigHash    string
	Status        Status
	PackagesBuilt []string
	Error         string
	StartedAt     time.Time
	CompletedAt   time.Time
	ArtifactPath  string
}

// Snapshot 在锁内拷贝全部可变字段。
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:            j.ID,
		Packages:      append([]string(nil), j.Packages...),
		ConfigHash:    j.ConfigHash,
		Status:        j.status,
		PackagesBuilt: append([]string(nil), j.packagesBuilt...),
		Error:         j.errMsg,
		StartedAt:     j.startedAt,
		CompletedAt:   j.completedAt,
		ArtifactPath:  j.artifactPath,
	}
}

// AppendLog 追加构建日志文本。
func (j *Job) AppendLog(text string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.log.WriteString(text)
}

// LogTail 返回日志的最后 lines 行。
func (j *Job) LogTail(lines int) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if lines <= 0 {
		return ""
	}
	all := strings.Split(strings.TrimRight(j.log.String(), "\n"), "\n")
	if len(all) == 1 && all[0] == "" {
		return ""
	}
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n")
}

// Status 返回当前状态。
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// ArtifactPath 返回产物 tar 的路径，构建未完成时为空串。
func (j *Job) ArtifactPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.artifactPath
}

func (j *Job) markBuilding(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusBuilding
	j.startedAt = now
}

func (j *Job) markComplete(now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusComplete
	j.completedAt = now
}

func (j *Job) markFailed(now time.Time, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFailed
	j.errMsg = msg
	j.completedAt = now
}

func (j *Job) setPackagesBuilt(pkgs []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.packagesBuilt = append([]string(nil), pkgs...)
}

func (j *Job) setArtifactPath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.artifactPath = path
}
