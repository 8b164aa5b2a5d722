package build

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BenRachmiel/e4e/internal/logging"
)

// pendingCapacity 限制排队中的任务数，满载时直接拒绝提交。
const pendingCapacity = 64

// ErrQueueFull 表示待构建队列已满。
var ErrQueueFull = errors.New("build queue full")

// Builder 执行单个构建任务；生产实现为 Executor，测试可注入假实现。
type Builder interface {
	Build(ctx context.Context, job *Job) error
}

// Queue 维护 FIFO 待构建队列与任务索引，由单个 worker goroutine 顺序
// 消费，与上游系统保持一致：同一节点上的 emerge 不允许并发。
type Queue struct {
	builder Builder
	logger  *logrus.Logger

	pending chan *Job

	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string
	current string
}

// NewQueue 创建空队列；Start 被调用前提交的任务会留在缓冲中。
func NewQueue(builder Builder, logger *logrus.Logger) *Queue {
	return &Queue{
		builder: builder,
		logger:  logger,
		pending: make(chan *Job, pendingCapacity),
		jobs:    make(map[string]*Job),
	}
}

// Submit 注册任务并放入待构建队列。
func (q *Queue) Submit(job *Job) error {
	q.mu.Lock()
	if _, exists := q.jobs[job.ID]; exists {
		q.mu.Unlock()
		return fmt.Errorf("duplicate build id %s", job.ID)
	}
	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)
	q.mu.Unlock()

	select {
	case q.pending <- job:
		return nil
	default:
		q.mu.Lock()
		delete(q.jobs, job.ID)
		q.order = q.order[:len(q.order)-1]
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// Get 按 ID 查找任务。
func (q *Queue) Get(id string) (*Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job, ok := q.jobs[id]
	return job, ok
}

// Size 返回待构建任务数（不含执行中的任务）。
func (q *Queue) Size() int {
	return len(q.pending)
}

// Current 返回正在构建的任务 ID，空闲时为空串。
func (q *Queue) Current() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.current
}

// Snapshots 按提交顺序返回全部任务的副本。
func (q *Queue) Snapshots() []Snapshot {
	q.mu.RLock()
	ids := append([]string(nil), q.order...)
	q.mu.RUnlock()

	result := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		if job, ok := q.Get(id); ok {
			result = append(result, job.Snapshot())
		}
	}
	return result
}

// Start 启动后台 worker，ctx 取消后在当前任务结束时退出。
func (q *Queue) Start(ctx context.Context) {
	go q.worker(ctx)
}

func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.pending:
			q.setCurrent(job.ID)
			q.runOne(ctx, job)
			q.setCurrent("")
		}
	}
}

// runOne 执行单个任务并兜底 Builder 返回的错误；Builder 内部的失败
// 已写入任务状态时这里不再覆盖。
func (q *Queue) runOne(ctx context.Context, job *Job) {
	start := time.Now()
	if err := q.builder.Build(ctx, job); err != nil {
		if job.Status() != StatusFailed {
			job.AppendLog(fmt.Sprintf("\n\nFATAL ERROR: %v\n", err))
			job.markFailed(time.Now(), err.Error())
		}
	}

	if q.logger != nil {
		snap := job.Snapshot()
		fields := logging.BuildFields(job.ID, string(snap.Status), len(job.Packages))
		fields["elapsed"] = time.Since(start).String()
		q.logger.WithFields(fields).Info("构建任务结束")
	}
}

func (q *Queue) setCurrent(id string) {
	q.mu.Lock()
	q.current = id
	q.mu.Unlock()
}
