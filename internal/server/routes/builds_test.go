package routes

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/BenRachmiel/e4e/internal/build"
	"github.com/BenRachmiel/e4e/internal/cache"
	"github.com/BenRachmiel/e4e/internal/server"
)

// 路由测试不启动 worker，任务停留在 queued 状态，行为可预测。

func TestSubmitBuildNeedsConfig(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.app, "/build", `{"packages":["dev-lang/go"],"config_hash":"missing"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeMap(t, resp.Body)
	if body["need_config"] != true {
		t.Fatalf("expected need_config=true: %v", body)
	}
	if body["build_id"] != "" {
		t.Fatalf("need_config response should carry no build id: %v", body)
	}
}

func TestSubmitBuildWithConfigTarball(t *testing.T) {
	env := newTestEnv(t)

	encoded := base64.StdEncoding.EncodeToString(makeTar(t, map[string]string{
		"etc/portage/make.conf": "USE=\"minimal\"\n",
	}))
	payload, _ := json.Marshal(map[string]any{
		"packages":    []string{"dev-lang/go"},
		"config_hash": "abc123",
		"config":      encoded,
	})

	resp := postJSON(t, env.app, "/build", string(payload))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body := decodeMap(t, resp.Body)
	buildID, _ := body["build_id"].(string)
	if buildID == "" || body["status"] != "queued" {
		t.Fatalf("expected queued job: %v", body)
	}
	if !env.store.Has("abc123") {
		t.Fatal("config tree should be cached after submit")
	}

	// 同一 hash 再次提交不需要再带配置。
	resp = postJSON(t, env.app, "/build", `{"packages":["dev-lang/go"],"config_hash":"abc123"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeMap(t, resp.Body); body["need_config"] == true {
		t.Fatalf("cached config should not be requested again: %v", body)
	}
}

func TestSubmitBuildValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body string
	}{
		{"garbage", `not json`},
		{"no packages", `{"packages":[],"config_hash":"h"}`},
		{"no hash", `{"packages":["a"]}`},
		{"bad base64", `{"packages":["a"],"config_hash":"h","config":"%%%"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, env.app, "/build", tc.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestGetBuildStatus(t *testing.T) {
	env := newTestEnv(t)
	job := submitJob(t, env)

	resp := get(t, env.app, "/build/"+job)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeMap(t, resp.Body)
	if body["build_id"] != job || body["status"] != "queued" {
		t.Fatalf("unexpected status document: %v", body)
	}
	if body["started_at"] != nil {
		t.Fatalf("queued job should have null started_at: %v", body)
	}
	if _, ok := body["packages_built"].([]any); !ok {
		t.Fatalf("packages_built should be an array: %v", body)
	}
}

func TestGetBuildUnknownID(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/build/nope", "/build/nope/logs", "/build/nope/artifact"} {
		if resp := get(t, env.app, path); resp.StatusCode != fiber.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestGetBuildLogs(t *testing.T) {
	env := newTestEnv(t)
	id := submitJob(t, env)

	job, _ := env.queue.Get(id)
	for _, line := range []string{"alpha", "beta", "gamma"} {
		job.AppendLog(line + "\n")
	}

	resp := get(t, env.app, "/build/"+id+"/logs?lines=2")
	body := decodeMap(t, resp.Body)
	if body["log"] != "beta\ngamma" {
		t.Fatalf("log tail mismatch: %v", body["log"])
	}

	// 非法参数回退默认行数。
	resp = get(t, env.app, "/build/"+id+"/logs?lines=bogus")
	if body := decodeMap(t, resp.Body); !strings.Contains(body["log"].(string), "alpha") {
		t.Fatalf("default tail should include all lines: %v", body["log"])
	}
}

func TestArtifactRequiresCompletion(t *testing.T) {
	env := newTestEnv(t)
	id := submitJob(t, env)

	resp := get(t, env.app, "/build/"+id+"/artifact")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("incomplete build should return 400, got %d", resp.StatusCode)
	}
}

func TestQueueEndpoint(t *testing.T) {
	env := newTestEnv(t)
	id := submitJob(t, env)

	resp := get(t, env.app, "/queue")
	body := decodeMap(t, resp.Body)
	jobs, ok := body["jobs"].([]any)
	if !ok || len(jobs) != 1 {
		t.Fatalf("expected one job in queue: %v", body)
	}
	entry := jobs[0].(map[string]any)
	if entry["build_id"] != id || entry["status"] != "queued" {
		t.Fatalf("unexpected queue entry: %v", entry)
	}
}

type testEnv struct {
	app   *fiber.App
	queue *build.Queue
	store cache.Store
}

type nopBuilder struct{}

func (nopBuilder) Build(_ context.Context, _ *build.Job) error { return nil }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	queue := build.NewQueue(nopBuilder{}, logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Queue:      queue,
		ListenPort: 8443,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	RegisterBuildRoutes(app, queue, store)

	return &testEnv{app: app, queue: queue, store: store}
}

// submitJob 提交一个带内联配置的任务并返回 build_id。
func submitJob(t *testing.T, env *testEnv) string {
	t.Helper()

	encoded := base64.StdEncoding.EncodeToString(makeTar(t, map[string]string{"make.conf": "x\n"}))
	payload, _ := json.Marshal(map[string]any{
		"packages":    []string{"app-misc/demo"},
		"config_hash": "deadbeef",
		"config":      encoded,
	})
	resp := postJSON(t, env.app, "/build", string(payload))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("submit failed with %d", resp.StatusCode)
	}
	body := decodeMap(t, resp.Body)
	id, _ := body["build_id"].(string)
	if id == "" {
		t.Fatalf("missing build id: %v", body)
	}
	return id
}

func postJSON(t *testing.T, app *fiber.App, path, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func get(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func decodeMap(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("invalid json: %v (%s)", err, data)
	}
	return result
}

// makeTar builds an in-memory tar archive from path→content pairs.
func makeTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := io.WriteString(tw, content); err != nil {
			t.Fatalf("write body %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}
