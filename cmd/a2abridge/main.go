// =============================================================================
// a2abridge 主入口
// =============================================================================
// A2A Agent 节点: 报文端点、代理卡、任务与 Agent 管理接口、Prometheus 指标
//
// 使用方法:
//
//	a2abridge serve                                   # 启动 Agent
//	a2abridge serve --config a2abridge.yaml           # 指定配置文件
//	a2abridge card validate --file card.json          # 校验代理卡
//	a2abridge card create --name coder --endpoint ... # 生成代理卡
//	a2abridge send ping --to http://peer:8080         # 向对端发送 ping
//	a2abridge health --addr http://localhost:8080     # 健康检查
//	a2abridge version                                 # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/a2abridge/agent/discovery"
	"github.com/BaSui01/a2abridge/agent/lifecycle"
	"github.com/BaSui01/a2abridge/agent/messaging"
	"github.com/BaSui01/a2abridge/agent/protocol/a2a"
	"github.com/BaSui01/a2abridge/agent/transport"
	"github.com/BaSui01/a2abridge/config"
	"github.com/BaSui01/a2abridge/internal/telemetry"
	"github.com/BaSui01/a2abridge/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 参数错误, 已打印用法
var errUsage = errors.New("usage error")

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 执行子命令并返回退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(args[1:], stderr)
	case "card":
		err = runCard(args[1:], stdout, stderr)
	case "send":
		err = runSend(args[1:], stdout, stderr)
	case "health":
		err = runHealthCheck(args[1:], stdout, stderr)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	loader := config.NewLoader().WithConfigPath(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting a2abridge",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := NewServer(cfg, loader, logger, level, providers)
	startErr := srv.Start(ctx)
	if startErr == nil {
		startErr = srv.Wait(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && startErr == nil {
		return err
	}
	logger.Info("a2abridge stopped")
	return startErr
}

// =============================================================================
// 🪪 card 命令
// =============================================================================

func runCard(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: a2abridge card <validate|create> [options]")
		return errUsage
	}
	switch args[0] {
	case "validate":
		return runCardValidate(args[1:], stdout, stderr)
	case "create":
		return runCardCreate(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown card subcommand: %s\n", args[0])
		return errUsage
	}
}

func runCardValidate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("card validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("file", "", "Path to agent card JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fmt.Fprintln(stderr, "--file is required")
		return errUsage
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	card, err := a2a.ParseAgentCard(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "valid agent card: %s (%s) version %s\n", card.Name, card.ID, card.Version)
	fmt.Fprintf(stdout, "  capabilities: %s\n", joinCapabilities(card.Capabilities))
	fmt.Fprintf(stdout, "  tasks:        %s\n", strings.Join(card.SupportedTasks, ", "))
	fmt.Fprintf(stdout, "  endpoint:     %s\n", card.Endpoint)
	return nil
}

func runCardCreate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("card create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "Agent id (generated when empty)")
	name := fs.String("name", "", "Agent name")
	version := fs.String("version", "1.0.0", "Agent version")
	endpoint := fs.String("endpoint", "", "Agent base URL")
	description := fs.String("description", "", "Agent description")
	caps := fs.String("capabilities", "", "Comma separated capabilities")
	tasks := fs.String("tasks", "", "Comma separated task types (defaults to capabilities)")
	maxTasks := fs.Int("max-tasks", 1, "Maximum concurrent tasks")
	rpm := fs.Int("rpm", 0, "Requests per minute accepted by the agent")
	out := fs.String("out", "", "Write the card to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	agent := config.AgentConfig{
		ID:                 *id,
		Name:               *name,
		Version:            *version,
		Description:        *description,
		Endpoint:           *endpoint,
		Capabilities:       splitList(*caps),
		SupportedTasks:     splitList(*tasks),
		MaxConcurrentTasks: *maxTasks,
		RequestsPerMinute:  *rpm,
	}
	card, err := agent.Card()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if *out == "" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(*out, data, 0o644)
}

// =============================================================================
// 📤 send 命令
// =============================================================================

func runSend(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] != "ping" {
		fmt.Fprintln(stderr, "usage: a2abridge send ping --to <url> [--config path] [--echo text]")
		return errUsage
	}
	fs := flag.NewFlagSet("send ping", flag.ContinueOnError)
	fs.SetOutput(stderr)
	to := fs.String("to", "", "Base URL of the peer agent")
	configPath := fs.String("config", "", "Path to config file (sender identity and delivery policy)")
	echo := fs.String("echo", "", "Payload echoed back by the peer")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall timeout")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *to == "" {
		fmt.Fprintln(stderr, "--to is required")
		return errUsage
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, _ := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	res, err := sendPing(ctx, cfg, *to, *echo, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "pong from %s in %s (attempts %d, nonce %s)\n",
		res.Receipt.To, res.RTT.Round(time.Millisecond), res.Receipt.Attempts, res.Nonce)
	if res.Echo != nil {
		fmt.Fprintf(stdout, "echo: %v\n", res.Echo)
	}
	return nil
}

// sendPing 以配置中的身份发现对端并发送一次 ping
func sendPing(ctx context.Context, cfg *config.Config, peerURL, echo string, logger *zap.Logger) (*messaging.PingResult, error) {
	self, err := cfg.Agent.Card()
	if err != nil {
		return nil, err
	}
	fetcher := discovery.NewCardFetcher(cfg.Discovery.FetcherConfig(),
		tlsutil.SecureHTTPClient(cfg.Discovery.FetchTimeout), logger)
	directory := discovery.NewRegistry(nil, logger, discovery.WithFetcher(fetcher))
	peer, err := directory.Discover(ctx, peerURL)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", peerURL, err)
	}

	client, err := messaging.NewClient(self, directory,
		lifecycle.NewEngine(lifecycle.NewMemoryTaskStore(), logger),
		transport.NewHTTPTransport(nil, nil, logger), logger,
		messaging.WithExecutor(newExecutor(cfg, logger)),
	)
	if err != nil {
		return nil, err
	}
	var payload any
	if echo != "" {
		payload = echo
	}
	return client.Ping(ctx, peer.ID, payload)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(strings.TrimRight(*addr, "/") + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "a2abridge %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `a2abridge - A2A agent messaging node

Usage:
  a2abridge <command> [options]

Commands:
  serve            Start the agent (message endpoint, card, task and agent APIs)
  card validate    Validate an agent card JSON file
  card create      Generate an agent card
  send ping        Discover a peer and ping it
  health           Check server health
  version          Show version information
  help             Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML); enables hot reload

Examples:
  a2abridge serve --config /etc/a2abridge/config.yaml
  a2abridge card create --name researcher --endpoint http://researcher:8080 --capabilities research,analysis
  a2abridge card validate --file card.json
  a2abridge send ping --to http://coder:8080 --echo hello
  a2abridge health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// initLogger 按配置构建 logger, 返回的 AtomicLevel 用于热重载日志级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atomic := zap.NewAtomicLevelAt(level)

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             atomic,
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, atomic
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func joinCapabilities(caps []a2a.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
