package routes

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/BenRachmiel/e4e/internal/build"
	"github.com/BenRachmiel/e4e/internal/cache"
)

// statusLogTailLines 是状态查询附带的日志行数，与日志接口的默认值分开。
const (
	statusLogTailLines  = 50
	defaultLogTailLines = 100
)

// RegisterBuildRoutes 挂载构建任务的提交/查询/产物下载接口。
func RegisterBuildRoutes(app *fiber.App, queue *build.Queue, store cache.Store) {
	if app == nil || queue == nil || store == nil {
		return
	}

	app.Post("/build", func(c fiber.Ctx) error {
		return submitBuild(c, queue, store)
	})

	app.Get("/build/:id", func(c fiber.Ctx) error {
		job, ok := queue.Get(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "build not found"})
		}
		return c.JSON(encodeStatus(job))
	})

	app.Get("/build/:id/logs", func(c fiber.Ctx) error {
		job, ok := queue.Get(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "build not found"})
		}
		lines, err := strconv.Atoi(c.Query("lines", strconv.Itoa(defaultLogTailLines)))
		if err != nil || lines <= 0 {
			lines = defaultLogTailLines
		}
		return c.JSON(fiber.Map{"log": job.LogTail(lines)})
	})

	app.Get("/build/:id/artifact", func(c fiber.Ctx) error {
		return downloadArtifact(c, queue)
	})

	app.Get("/queue", func(c fiber.Ctx) error {
		snaps := queue.Snapshots()
		jobs := make([]fiber.Map, 0, len(snaps))
		for _, snap := range snaps {
			jobs = append(jobs, fiber.Map{
				"build_id": snap.ID,
				"status":   string(snap.Status),
				"packages": snap.Packages,
			})
		}
		return c.JSON(fiber.Map{
			"queue_size":  queue.Size(),
			"current_job": queue.Current(),
			"jobs":        jobs,
		})
	})
}

// buildRequest 对应提交构建的 JSON 载荷；Config 为 base64 的 tar 包，
// 仅在服务端缺该配置树时需要携带。
type buildRequest struct {
	Packages   []string `json:"packages"`
	ConfigHash string   `json:"config_hash"`
	Config     *string  `json:"config"`
}

type buildResponse struct {
	BuildID    string `json:"build_id"`
	Status     string `json:"status"`
	NeedConfig bool   `json:"need_config"`
}

func submitBuild(c fiber.Ctx, queue *build.Queue, store cache.Store) error {
	var req buildRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Packages) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "packages required"})
	}
	if strings.TrimSpace(req.ConfigHash) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "config_hash required"})
	}

	if !store.Has(req.ConfigHash) {
		if req.Config == nil {
			// 配置树缺失且未随请求携带：让客户端补传后重试。
			return c.JSON(buildResponse{Status: "need_config", NeedConfig: true})
		}
		payload, err := base64.StdEncoding.DecodeString(*req.Config)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("invalid config tarball: %v", err),
			})
		}
		if err := store.Extract(req.ConfigHash, bytes.NewReader(payload)); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("invalid config tarball: %v", err),
			})
		}
	}

	configPath, err := store.Path(req.ConfigHash)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "config tree unavailable"})
	}

	job := build.NewJob(req.Packages, req.ConfigHash, configPath)
	if err := queue.Submit(job); err != nil {
		if errors.Is(err, build.ErrQueueFull) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue full"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(buildResponse{
		BuildID: job.ID,
		Status:  string(job.Status()),
	})
}

func downloadArtifact(c fiber.Ctx, queue *build.Queue) error {
	job, ok := queue.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "build not found"})
	}

	snap := job.Snapshot()
	if snap.Status != build.StatusComplete {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("build not complete, current status: %s", snap.Status),
		})
	}
	if snap.ArtifactPath == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "artifact not found"})
	}

	c.Set(fiber.HeaderContentType, "application/x-tar")
	return c.Download(snap.ArtifactPath, fmt.Sprintf("binpkgs-%s.tar", snap.ID))
}

// buildStatusResponse 与状态查询接口的 JSON 结构一一对应。
type buildStatusResponse struct {
	BuildID       string   `json:"build_id"`
	Status        string   `json:"status"`
	Packages      []string `json:"packages"`
	PackagesBuilt []string `json:"packages_built"`
	LogTail       string   `json:"log_tail"`
	StartedAt     *string  `json:"started_at"`
	CompletedAt   *string  `json:"completed_at"`
	Error         *string  `json:"error"`
}

func encodeStatus(job *build.Job) buildStatusResponse {
	snap := job.Snapshot()
	if snap.PackagesBuilt == nil {
		snap.PackagesBuilt = []string{}
	}
	resp := buildStatusResponse{
		BuildID:       snap.ID,
		Status:        string(snap.Status),
		Packages:      snap.Packages,
		PackagesBuilt: snap.PackagesBuilt,
		LogTail:       job.LogTail(statusLogTailLines),
		StartedAt:     formatTime(snap.StartedAt),
		CompletedAt:   formatTime(snap.CompletedAt),
	}
	if snap.Error != "" {
		resp.Error = &snap.Error
	}
	return resp
}

func formatTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}
