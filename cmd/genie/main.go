package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/genie/internal/agent"
	"github.com/kolapsis/genie/internal/calendar"
	"github.com/kolapsis/genie/internal/config"
	"github.com/kolapsis/genie/internal/llm"
	geniemcp "github.com/kolapsis/genie/internal/mcp"
	"github.com/kolapsis/genie/internal/notify"
	"github.com/kolapsis/genie/internal/pipeline"
	"github.com/kolapsis/genie/internal/research"
	"github.com/kolapsis/genie/internal/server"
	"github.com/kolapsis/genie/internal/store"
	"github.com/kolapsis/genie/internal/tunnel"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("genie %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: genie <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the Genie server\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting genie",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			out = io.MultiWriter(os.Stdout, f)
		}
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Store ---
	st, err := store.NewJSONStore(store.Options{
		Path:                cfg.Storage.Path,
		BackupDir:           cfg.Storage.BackupDir,
		AutoBackup:          cfg.Storage.AutoBackup,
		BackupRetentionDays: cfg.Storage.BackupRetentionDays,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	slog.Info("store opened", "path", cfg.Storage.Path)

	// --- Prompt templates ---
	templates, err := llm.LoadTemplates(cfg.LLM.PromptsDir)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}

	// --- External clients ---
	llmClient, err := llm.NewClient(llm.Options{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		Deadline:   cfg.LLM.Deadline,
		MaxElapsed: cfg.LLM.MaxRetry,
	}, templates)
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	researchClient, err := research.NewClient(research.Options{
		APIKey:   cfg.Research.APIKey,
		BaseURL:  cfg.Research.BaseURL,
		Model:    cfg.Research.Model,
		Deadline: cfg.Research.Deadline,
	}, templates)
	if err != nil {
		return fmt.Errorf("creating research client: %w", err)
	}

	var cal calendar.Client
	gcal, err := calendar.NewGoogleClient(ctx, calendar.GoogleOptions{
		CredentialsPath: cfg.Calendar.CredentialsPath,
		TokenPath:       cfg.Calendar.TokenPath,
		CalendarID:      cfg.Calendar.CalendarID,
		SummaryPrefix:   cfg.Calendar.SummaryPrefix,
		Deadline:        cfg.Calendar.Deadline,
	})
	if err != nil {
		slog.Warn("calendar unavailable, scheduling degrades to advisory", "error", err)
		cal = &calendar.Offline{Prefix: cfg.Calendar.SummaryPrefix}
	} else {
		cal = gcal
	}

	// --- Notifications ---
	var notifiers []notify.Notifier
	for _, hook := range cfg.Notifications.Webhooks {
		notifiers = append(notifiers, notify.NewWebhook(hook.Name, hook.URL, hook.Events))
	}
	hub := notify.NewHub(notifiers...)

	// --- Pipeline ---
	pipe := pipeline.New(pipeline.Options{
		Store:           st,
		Extractor:       agent.NewExtractor(llmClient),
		Planner:         agent.NewPlanner(llmClient, researchClient),
		Prioritizer:     agent.NewPrioritizer(),
		Scheduler:       agent.NewScheduler(cal, st),
		Calendar:        cal,
		Hub:             hub,
		OverallDeadline: cfg.Pipeline.OverallDeadline,
		MaxConcurrent:   cfg.Pipeline.MaxConcurrent,
	})

	// --- HTTP + MCP ---
	components := map[string]string{
		"storage":  "ok",
		"llm":      "configured",
		"research": "configured",
		"calendar": "connected",
	}
	if cfg.Research.APIKey == "" {
		components["research"] = "disabled"
	}
	if _, offline := cal.(*calendar.Offline); offline {
		components["calendar"] = "offline"
	}
	api := server.New(pipe, st, version, components)

	mcpSrv := geniemcp.NewServer(&geniemcp.Deps{
		Pipeline: pipe,
		Store:    st,
		Version:  version,
	})

	r := chi.NewRouter()
	r.Mount("/", api.Handler())
	r.Handle("/mcp", mcpserver.NewStreamableHTTPServer(mcpSrv))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("genie is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var tun *tunnel.NgrokTunnel
	if cfg.Tunnel.Enabled {
		tun = tunnel.NewNgrok(cfg.Tunnel.AuthToken, cfg.Tunnel.Domain)
		publicURL, err := tun.Start(ctx, addr)
		if err != nil {
			return fmt.Errorf("starting tunnel: %w", err)
		}
		slog.Info("tunnel active", "public_url", publicURL)
		go func() {
			if err := srv.Serve(tun.Listener()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer func() { _ = tun.Close() }()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
