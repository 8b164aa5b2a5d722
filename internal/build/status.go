package build

// Status 描述构建任务的生命周期阶段。
type Status string

const (
	StatusQueued   Status = "queued"
	StatusBuilding Status = "building"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)
