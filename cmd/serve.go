package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haozheli/docchat/internal/config"
	"github.com/haozheli/docchat/internal/embeddings"
	"github.com/haozheli/docchat/internal/fileservice"
	"github.com/haozheli/docchat/internal/gateway"
	"github.com/haozheli/docchat/internal/index"
	"github.com/haozheli/docchat/internal/kb"
	"github.com/haozheli/docchat/internal/providers"
	"github.com/haozheli/docchat/internal/scheduler"
	"github.com/haozheli/docchat/internal/sessions"
	"github.com/haozheli/docchat/internal/telemetry"
	"github.com/haozheli/docchat/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the docchat server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.Auth.SessionSecret == "" {
		slog.Error("DOCCHAT_SESSION_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}

	// Embedding availability is probed once at boot; tools degrade to
	// listing flows when it is down.
	var embClient *embeddings.Client
	embeddingsUp := false
	if cfg.Embedding.URL != "" {
		embClient = embeddings.New(cfg.Embedding.URL, cfg.Embedding.APIKey, cfg.Embedding.Model)
		embeddingsUp = embClient.HealthCheck(ctx)
		if !embeddingsUp {
			slog.Warn("embedding service unavailable, query ranking degrades to listing")
		}
	}

	roots := map[index.DocType]string{
		index.DocTypeProject:    config.ExpandHome(cfg.Roots.Projects),
		index.DocTypeSpec:       config.ExpandHome(cfg.Roots.Specs),
		index.DocTypeManagement: config.ExpandHome(cfg.Roots.Management),
	}
	rootStrs := make(map[string]string, len(roots))
	files := make(map[index.DocType]*fileservice.Service, len(roots))
	for docType, root := range roots {
		fs, err := fileservice.New(root)
		if err != nil {
			slog.Error("file service init failed", "root", root, "error", err)
			os.Exit(1)
		}
		files[docType] = fs
		rootStrs[string(docType)] = root
	}

	idle := time.Duration(cfg.Auth.InactivityTimeoutSec) * time.Second
	validity := time.Duration(cfg.Auth.DownloadValiditySec) * time.Second
	mgr := sessions.NewManager(rootStrs, idle, validity)

	store, err := index.OpenStore(config.ExpandHome(cfg.Index.StorePath))
	if err != nil {
		slog.Error("index store open failed", "error", err)
		os.Exit(1)
	}
	cooldown := time.Duration(cfg.Index.CooldownSec) * time.Second
	indexSvc := index.NewService(store, roots, cooldown)
	if err := indexSvc.Start(ctx, cfg.Index.RescanOnBoot); err != nil {
		slog.Error("index service start failed", "error", err)
		os.Exit(1)
	}

	auth, err := sessions.NewTokenAuth(
		[]byte(cfg.Auth.SessionSecret),
		config.ExpandHome(cfg.Auth.UsersFile),
		mgr,
		cfg.Auth.LoginRatePerMin,
		cfg.Auth.LoginBurst,
	)
	if err != nil {
		slog.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	var kbClient *kb.Client
	if cfg.KB.URL != "" {
		kbClient = kb.New(cfg.KB.URL, cfg.KB.APIKey, cfg.KB.TopK, cfg.KB.RerankEnable, cfg.KB.RerankModel)
	}

	registry := tools.NewRegistryWithTools(&tools.Env{
		Sessions:       mgr,
		Index:          indexSvc,
		Files:          files,
		Embeddings:     embClient,
		EmbeddingsUp:   embeddingsUp,
		KB:             kbClient,
		SpecCategories: cfg.Index.SpecDirs,
		ContextWindow:  cfg.Chat.ContextWindow,
		TemplatesDir:   config.ExpandHome(cfg.Roots.Templates),
	})

	provider := providers.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, cfg.OpenAI.Model)

	server := gateway.NewServer(gateway.Deps{
		Config:   cfg,
		Auth:     auth,
		Sessions: mgr,
		Index:    indexSvc,
		Files:    files,
		Registry: registry,
		Provider: provider,
	})

	sched := scheduler.New()
	cleanup := time.Duration(cfg.Auth.CleanupIntervalSec) * time.Second
	sched.Every(cleanup, scheduler.Job{
		Name: "session-sweep",
		Run:  func(context.Context) { mgr.ProcessInactiveSessions() },
	})
	sched.Every(2*cleanup, scheduler.Job{
		Name: "token-sweep",
		Run:  func(context.Context) { mgr.CleanupExpiredOpenedFiles() },
	})
	if cfg.Index.ScanCron != "" {
		err := sched.Cron(cfg.Index.ScanCron, scheduler.Job{
			Name: "index-rescan",
			Run: func(ctx context.Context) {
				if err := indexSvc.ScanAll(ctx); err != nil {
					slog.Error("scheduled rescan failed", "error", err)
				}
			},
		})
		if err != nil {
			slog.Error("bad scan_cron expression", "expr", cfg.Index.ScanCron, "error", err)
			os.Exit(1)
		}
	}
	sched.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			slog.Error("server failed", "error", err)
		}
	}

	// Teardown mirrors startup in reverse.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	sched.Stop()
	indexSvc.Shutdown()
	if err := store.Close(); err != nil {
		slog.Warn("index store close", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
