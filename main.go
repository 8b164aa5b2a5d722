package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/BenRachmiel/e4e/internal/bootstrap"
	"github.com/BenRachmiel/e4e/internal/build"
	"github.com/BenRachmiel/e4e/internal/cache"
	"github.com/BenRachmiel/e4e/internal/config"
	"github.com/BenRachmiel/e4e/internal/logging"
	"github.com/BenRachmiel/e4e/internal/server"
	"github.com/BenRachmiel/e4e/internal/server/routes"
	"github.com/BenRachmiel/e4e/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	serve       bool
	host        string
	port        int
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
// 默认入口模式：bootstrap 成功后 exec 服务进程，正常情况下不会返回。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}
	applyListenOverrides(cfg, opts)

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["listen"] = cfg.Global.ListenAddr()
		fields["cache_dirs"] = cfg.Global.CacheDirs()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.serve {
		if err := runServer(cfg, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
		return 0
	}

	return runEntrypoint(cfg, opts, logger)
}

// runEntrypoint 执行容器入口流程：目录 → make.conf → exec 服务进程。
// 任一步骤失败立即以非零码退出，不存在部分就绪后继续的路径。
func runEntrypoint(cfg *config.Config, opts cliOptions, logger *logrus.Logger) int {
	fields := logging.BaseFields("bootstrap", opts.configPath)
	fields["cache_dirs"] = cfg.Global.CacheDirs()
	fields["make_conf"] = cfg.Global.MakeConfPath
	logger.WithFields(fields).Info("开始环境准备")

	err := bootstrap.Run(bootstrap.Options{
		CacheDirs:    cfg.Global.CacheDirs(),
		MakeConfPath: cfg.Global.MakeConfPath,
		BinpkgDir:    cfg.Global.BinpkgDir,
		Banner:       stdOut,
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "bootstrap 失败: %v\n", err)
		return 1
	}

	argv, err := serverArgv(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "无法确定服务进程: %v\n", err)
		return 1
	}

	logger.WithFields(logrus.Fields{
		"action": "exec",
		"argv":   argv,
	}).Info("环境就绪，移交服务进程")

	// 成功时 Launch 不会返回。
	if err := bootstrap.Launch(argv, os.Environ()); err != nil {
		fmt.Fprintf(stdErr, "启动服务进程失败: %v\n", err)
		return 1
	}
	return 0
}

// serverArgv 计算 exec 目标：配置了 ServerCommand 时用它，否则重新
// exec 自身的 -serve 模式；host/port 始终透传。
func serverArgv(cfg *config.Config) ([]string, error) {
	hostPort := []string{
		"-host", cfg.Global.ListenHost,
		"-port", strconv.Itoa(cfg.Global.ListenPort),
	}

	if len(cfg.Global.ServerCommand) > 0 {
		return append(append([]string(nil), cfg.Global.ServerCommand...), hostPort...), nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("定位自身可执行文件失败: %w", err)
	}
	return append([]string{self, "-serve"}, hostPort...), nil
}

// runServer 启动构建服务：配置树缓存 → 构建队列 worker → Fiber server。
func runServer(cfg *config.Config, logger *logrus.Logger) error {
	store, err := cache.NewStore(cfg.Global.ConfigCacheDir)
	if err != nil {
		return fmt.Errorf("初始化配置缓存失败: %w", err)
	}

	executor := build.NewExecutor(cfg.Global, nil, logger)
	queue := build.NewQueue(executor, logger)
	queue.Start(context.Background())

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Queue:      queue,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return err
	}
	routes.RegisterBuildRoutes(app, queue, store)

	logger.WithFields(logrus.Fields{
		"action":  "listen",
		"addr":    cfg.Global.ListenAddr(),
		"version": version.Full(),
	}).Info("构建服务启动")

	return app.Listen(cfg.Global.ListenAddr())
}

// applyListenOverrides 让 -host/-port 标志覆盖配置文件取值，入口模式
// 由此决定透传给服务进程的监听地址。
func applyListenOverrides(cfg *config.Config, opts cliOptions) {
	if opts.host != "" {
		cfg.Global.ListenHost = opts.host
	}
	if opts.port > 0 {
		cfg.Global.ListenPort = opts.port
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("e4e", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		serve      bool
		host       string
		port       int
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认内置值，可被 E4E_CONFIG 覆盖）")
	fs.BoolVar(&serve, "serve", false, "跳过 bootstrap，直接运行构建服务")
	fs.StringVar(&host, "host", "", "覆盖监听地址")
	fs.IntVar(&port, "port", 0, "覆盖监听端口")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("E4E_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		serve:       serve,
		host:        host,
		port:        port,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}
