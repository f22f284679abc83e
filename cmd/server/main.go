package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tiss-anexos/intake/internal/api"
	"github.com/tiss-anexos/intake/internal/config"
	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/loader"
	"github.com/tiss-anexos/intake/internal/metrics"
	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/run"
	"github.com/tiss-anexos/intake/internal/storage"
	"github.com/tiss-anexos/intake/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configFlag := flag.String("config", "", "path to the XML or YAML config file")
	flag.Parse()

	configPath, err := resolveConfigPath(*configFlag)
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	embeddedMode := web.HasEmbeddedFiles()

	fileStore, err := storage.NewLocalStore(cfg.GetUploadDir())
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	// Runs are cancelled on shutdown, never by the request that started them
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventLog := events.NewLog(cfg.Advanced.EventBufferSize)
	selection := intake.NewSelection(eventLog)

	var m *metrics.Metrics
	var gatherer prometheus.Gatherer
	if cfg.Advanced.EnableMetrics {
		m = metrics.Default()
		gatherer = prometheus.DefaultGatherer
	}

	runMgr := run.NewManager(run.Options{
		Selection: selection,
		Source:    loader.StoreSource{Store: fileStore},
		Log:       eventLog,
		Backend:   run.NewBackend(cfg),
		Metrics:   m,
		Settings:  run.SettingsFromConfig(cfg),
	})

	cleanupInterval := time.Duration(cfg.Intake.CleanupIntervalMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runMgr.CleanupOldRuns(time.Duration(cfg.Intake.RunRetentionMinutes) * time.Minute)
			case <-ctx.Done():
				return
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e, cfg)

	handlers := api.NewHandlers(&api.Dependencies{
		Store:      fileStore,
		Selection:  selection,
		Runs:       runMgr,
		Log:        eventLog,
		Version:    Version,
		Backend:    cfg.Backend.BaseURL,
		RunContext: ctx,
		Gatherer:   gatherer,
	})
	api.RegisterRoutes(e, handlers)

	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			fmt.Printf("Warning: failed to register static routes: %v\n", err)
		} else {
			fmt.Println("Serving embedded console from binary")
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, embeddedMode)
	events.Emitf(eventLog, models.LevelInfo, "Service started, backend at %s", cfg.Backend.BaseURL)

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("Server error: %v\n", err)
			stop()
		}
	}()

	<-ctx.Done()
	fmt.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("Shutdown error: %v\n", err)
	}
	runMgr.Wait()
}

// resolveConfigPath prefers the flag, then ANEXOS_CONFIG, then a file next to
// the executable.
func resolveConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("ANEXOS_CONFIG"); env != "" {
		return env, nil
	}
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(exePath), "anexos-intake.config"), nil
}

func printBanner(cfg *config.AppConfig, configPath string, embeddedMode bool) {
	mode := "API only"
	if embeddedMode {
		mode = "Embedded console"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           TISS Attachment Intake                          ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Backend:   %-46s║\n", cfg.Backend.BaseURL)
	fmt.Printf("║  Scratch:   %-46s║\n", cfg.GetUploadDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}
}
