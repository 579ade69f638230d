package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/intake/internal/api"
	"github.com/kalambet/intake/internal/config"
	"github.com/kalambet/intake/internal/ollama"
	"github.com/kalambet/intake/internal/reasoning"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assessment HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		return runServer(addr)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running intake server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show intake system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the assessment tools over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default 127.0.0.1:<server.port>)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "intake.pid")
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

func loadServerConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func runServer(addr string) error {
	fmt.Fprintf(os.Stderr, "intake version %s\n", version)

	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var limiter *api.IPRateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = api.NewIPRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
	handler := api.NewRouter(api.Deps{
		Service:   a.service,
		Recaller:  a.recaller,
		Prober:    a.chain,
		JWTSecret: cfg.Auth.JWTSecret,
		Limiter:   limiter,
	})

	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	workers, workerCtx := errgroup.WithContext(ctx)
	for i := 0; i < max(cfg.Memory.Workers, 1); i++ {
		workers.Go(func() error {
			a.worker.Run(workerCtx)
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("intake listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			stop()
			workers.Wait()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	workers.Wait()
	return err
}

func runMCP() error {
	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.worker.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Service:  a.service,
		Recaller: a.recaller,
		Owner:    asUser,
		Version:  version,
	})
	slog.Info("MCP server started (stdio transport)", "user", asUser)

	stdio := server.NewStdioServer(mcpSrv)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("intake is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop intake (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to intake (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	running := false
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		running = resp.StatusCode == http.StatusOK
		if running {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	oc := ollama.New(cfg.Ollama.BaseURL)
	ollamaUp := oc.IsRunning(ctx)
	if ollamaUp {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Candidates", "%s", strings.Join(cfg.CandidateList(), ", "))
	switch {
	case !ollamaUp:
		printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	case oc.HasModel(ctx, cfg.Ollama.EmbedModel):
		printStatus("Embed model", "%s (installed)", cfg.Ollama.EmbedModel)
	default:
		printStatus("Embed model", "%s %s", cfg.Ollama.EmbedModel, colorize(colorYellow, "(not pulled, run intake serve to fetch it)"))
	}
	printStatus("Storage", "%s", cfg.Storage.Driver)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	if !running || cfg.Auth.JWTSecret == "" {
		return nil
	}
	c, err := newAPIClient()
	if err != nil {
		return nil
	}
	probeResp, err := c.get(ctx, "/v1/backends")
	if err != nil {
		return nil
	}
	var results []reasoning.ProbeResult
	if err := decodeJSON(probeResp, &results); err != nil {
		printStatus("Backends", "%v", err)
		return nil
	}
	for _, r := range results {
		if r.OK {
			printStatus(r.Backend, "ok (%s)", r.Latency)
		} else {
			printStatus(r.Backend, "%s", colorize(colorRed, r.Error))
		}
	}
	return nil
}
