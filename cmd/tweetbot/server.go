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
	"github.com/spf13/cobra"

	"github.com/kalambet/tweetbot/internal/api"
	"github.com/kalambet/tweetbot/internal/config"
	"github.com/kalambet/tweetbot/internal/history"
	"github.com/kalambet/tweetbot/internal/images"
	"github.com/kalambet/tweetbot/internal/pipeline"
	"github.com/kalambet/tweetbot/internal/proxy"
	"github.com/kalambet/tweetbot/internal/storage"
	"github.com/kalambet/tweetbot/internal/usage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tweetbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tweetbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tweetbot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tweetbot.pid")
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

func parseLogLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "tweetbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	if cfg.Provider.APIKey == "" {
		printWarning("no API key configured; generation will fail until you %s", config.MissingAPIKeyHint())
	}

	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice. The health endpoint is the source of truth; the
	// PID file only names the process.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tweetbot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tweetbot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	tracker := usage.NewTracker(store)
	proxyClient := proxy.NewClientWithBaseURL(cfg.Provider.APIKey, cfg.Provider.BaseURL).
		WithUsageRecorder(pipeline.UsageRecorder(tracker))

	gen := pipeline.New(proxyClient, history.NewStore(store), tracker,
		pipeline.Settings{
			APIKey:  cfg.Provider.APIKey,
			Model:   cfg.Provider.Model,
			Persona: cfg.Persona.Default,
			Topics:  cfg.Topics.Interests,
		},
		pipeline.WithImages(images.NewInliner(&http.Client{Timeout: 15 * time.Second})),
	)

	handler := api.NewHandler(api.Deps{
		Generator: gen,
		Sessions:  &pipeline.Sessions{},
		Models:    proxyClient,
		Token:     apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Generator: gen, Version: version})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tweetbot listening", "addr", addr, "model", cfg.Provider.Model, "persona", cfg.Persona.Default)
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
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("tweetbot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tweetbot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tweetbot (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		printError("%v", err)
		return nil
	}
	client.httpClient.Timeout = 2 * time.Second

	running := false
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s", cfg.Provider.Model)
	printStatus("Persona", "%s", cfg.Persona.Default)
	printStatus("API key", "%s", config.Redact(cfg.Provider.APIKey))

	if running {
		var stats history.Stats
		if resp, err := client.get(ctx, "/v1/stats"); err == nil && decodeJSON(resp, &stats) == nil {
			printStatus("Generated", "%d", stats.TotalGenerated)
			printStatus("Selected", "%d (%s)", stats.TotalSelected, selectionRate(stats))
		}
		var snap usage.Snapshot
		if resp, err := client.get(ctx, "/v1/usage"); err == nil && decodeJSON(resp, &snap) == nil {
			printStatus("Tokens", "%d in / %d out (~$%.4f)", snap.TotalInputTokens, snap.TotalOutputTokens, snap.EstimatedCost)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func selectionRate(s history.Stats) string {
	if s.TotalGenerated == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", float64(s.TotalSelected)/float64(s.TotalGenerated)*100)
}
