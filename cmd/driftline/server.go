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
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/driftline/internal/api"
	"github.com/kalambet/driftline/internal/canon"
	"github.com/kalambet/driftline/internal/capture"
	"github.com/kalambet/driftline/internal/config"
	"github.com/kalambet/driftline/internal/engine"
	"github.com/kalambet/driftline/internal/extract"
	"github.com/kalambet/driftline/internal/metrics"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/synthesis"
	"github.com/kalambet/driftline/internal/usage"
)

const workerPollInterval = 500 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the driftline server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the driftline MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show driftline system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// services is everything built from config that both the HTTP and MCP
// servers need.
type services struct {
	cfg      config.Config
	store    *storage.Store
	registry *prometheus.Registry
	pipeline *capture.Pipeline
	orch     *synthesis.Orchestrator
	deps     api.Deps
}

func buildServices(ctx context.Context, cfg config.Config) (*services, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Engine.Provider,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}
	chatModel, embedModel := cfg.Models()
	if err := engine.EnsureReady(ctx, eng, chatModel, embedModel, os.Stderr); err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	pricing := usage.Pricing{InputPerMTok: cfg.Pricing.InputPerMTok, OutputPerMTok: cfg.Pricing.OutputPerMTok}
	extractor := extract.NewExtractor(eng, chatModel)
	embedder := retrieval.NewEmbedder(eng, embedModel)

	pipeline := capture.NewPipeline(store, embedder, extractor, capture.Config{
		MinLength:    cfg.Capture.MinLength,
		StreakWindow: cfg.Capture.StreakWindow,
		Pricing:      pricing,
	}, m)
	orch := synthesis.NewOrchestrator(store, extractor, embedder, pricing, m)

	return &services{
		cfg:      cfg,
		store:    store,
		registry: reg,
		pipeline: pipeline,
		orch:     orch,
		deps: api.Deps{
			Store:            store,
			Pipeline:         pipeline,
			Orchestrator:     orch,
			Editor:           synthesis.NewEditor(store, embedder, m),
			Signals:          synthesis.NewSignals(store, embedder),
			Canon:            canon.NewService(store, embedder),
			Searcher:         retrieval.NewSearcher(store, embedder),
			Gatherer:         reg,
			Quota:            quotaGate(cfg, store),
			CaptureTimeout:   cfg.Capture.Timeout,
			SynthesisTimeout: cfg.Synthesis.Timeout,
		},
	}, nil
}

// quotaGate returns the gate for caller-initiated and scheduled runs.
func quotaGate(cfg config.Config, store *storage.Store) usage.QuotaGate {
	if cfg.Pricing.DailyBudgetUSD <= 0 {
		return usage.AllowAll{}
	}
	return usage.NewBudgetGate(store, cfg.Pricing.DailyBudgetUSD)
}

func (s *services) Close() {
	if err := s.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "driftline version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	apiToken, err := config.GetAPIToken(config.NewSecretStore())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.deps.Token = apiToken

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           api.NewHandler(svc.deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	worker := capture.NewWorker(svc.store, svc.pipeline, workerPollInterval, cfg.Capture.Timeout)
	go worker.Run(ctx)

	scheduler := synthesis.NewScheduler(svc.store, svc.orch, cfg.Synthesis.Interval, cfg.Synthesis.Timeout)
	scheduler.SetQuota(svc.deps.Quota)
	go scheduler.Run(ctx)
	if cfg.Synthesis.Interval > 0 {
		slog.Info("synthesis scheduler started", "interval", cfg.Synthesis.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "driftline listening on %s\n", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
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

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	stdioSrv := server.NewStdioServer(api.NewMCPServer(svc.deps))
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
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

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
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

	chatModel, embedModel := cfg.Models()
	printStatus("Engine", "%s", cfg.Engine.Provider)
	if cfg.Engine.Provider != engine.ProviderOpenAI {
		ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}
	printStatus("Chat model", "%s", chatModel)
	printStatus("Embed model", "%s", embedModel)
	printStatus("Streak window", "%s (seed replay %s)", cfg.Capture.StreakWindow, cfg.Replay.SeedStreakWindow)
	if cfg.Synthesis.Interval > 0 {
		printStatus("Scheduler", "every %s", cfg.Synthesis.Interval)
	} else {
		printStatus("Scheduler", "disabled")
	}

	if running && statusWorkspace != "" {
		if c, err := newAPIClient(); err == nil {
			showWorkspaceStatus(context.Background(), c, statusWorkspace)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

var statusWorkspace string

func init() {
	statusCmd.Flags().StringVar(&statusWorkspace, "workspace", "", "also show document, signal and commit counts for this workspace")
}

func showWorkspaceStatus(ctx context.Context, c *apiClient, ws string) {
	count := func(path string) (int, bool) {
		resp, err := c.get(ctx, path)
		if err != nil {
			return 0, false
		}
		var items []map[string]any
		if decodeJSON(resp, &items) != nil {
			return 0, false
		}
		return len(items), true
	}
	if n, ok := count(workspacePath(ws, "/documents")); ok {
		printStatus("Documents", "%d", n)
	}
	if n, ok := count(workspacePath(ws, "/signals?unprocessed=true")); ok {
		printStatus("Pending signals", "%d", n)
	}
	if n, ok := count(workspacePath(ws, "/commits?limit=100")); ok {
		printStatus("Commits", "%s", countLabel(n, 100))
	}
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
