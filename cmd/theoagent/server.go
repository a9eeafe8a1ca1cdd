package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jpviola/theoagent-sub002/internal/api"
	"github.com/jpviola/theoagent-sub002/internal/config"
	"github.com/jpviola/theoagent-sub002/internal/engine"
	"github.com/jpviola/theoagent-sub002/internal/learner"
	"github.com/jpviola/theoagent-sub002/internal/quota"
	"github.com/jpviola/theoagent-sub002/internal/retention"
	"github.com/jpviola/theoagent-sub002/internal/session"
	"github.com/jpviola/theoagent-sub002/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the theoagent server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running theoagent server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show theoagent system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "theoagent.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "theoagent version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("theoagent is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("theoagent is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Wire the conversation pipeline.
	engineTimeout, err := time.ParseDuration(cfg.Engine.Timeout)
	if err != nil {
		slog.Warn("invalid engine timeout, using default 60s", "value", cfg.Engine.Timeout, "error", err)
		engineTimeout = 60 * time.Second
	}
	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey, engineTimeout)
	profiles := learner.NewStore(store)
	quotaMgr := quota.NewManager(store)
	orch := session.NewOrchestrator(quotaMgr, profiles, engineClient, engineClient, store, store, logger)

	handler := api.NewHandler(api.Deps{
		Orchestrator: orch,
		Token:        apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Schedule the retention sweep.
	maxTurnAge, err := time.ParseDuration(cfg.Retention.MaxTurnAge)
	if err != nil {
		slog.Warn("invalid retention max turn age, using default 720h", "value", cfg.Retention.MaxTurnAge, "error", err)
		maxTurnAge = 720 * time.Hour
	}
	sweeper := retention.NewSweeper(store, maxTurnAge, logger)
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Retention.Schedule, func() {
		if err := sweeper.RunOnce(); err != nil {
			slog.Error("retention sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{Orchestrator: orch})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "theoagent listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("theoagent is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop theoagent (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to theoagent (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the downstream engine.
	engResp, err := client.Get(cfg.Engine.BaseURL + "/health")
	if err != nil {
		printStatus("Engine", "not reachable at %s", cfg.Engine.BaseURL)
	} else {
		engResp.Body.Close()
		printStatus("Engine", "reachable at %s", cfg.Engine.BaseURL)
	}

	printStatus("Retention", "%s (max turn age %s)", cfg.Retention.Schedule, cfg.Retention.MaxTurnAge)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
