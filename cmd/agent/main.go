package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/cutroom/cutroom-agent/internal/api"
	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/config"
	"github.com/cutroom/cutroom-agent/internal/db"
	"github.com/cutroom/cutroom-agent/internal/editor"
	"github.com/cutroom/cutroom-agent/internal/execution"
	"github.com/cutroom/cutroom-agent/internal/export"
	"github.com/cutroom/cutroom-agent/internal/logging"
	"github.com/cutroom/cutroom-agent/internal/media"
	"github.com/cutroom/cutroom-agent/internal/metrics"
	"github.com/cutroom/cutroom-agent/internal/playback"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/ui"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.ExportsDir(), cfg.ThumbnailsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel(), Format: cfg.LogFormat()})
	logger.Info("starting cutroom agent",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"config", logging.SanitizePath(cfg.Source()),
	)

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken := cfg.AuthToken()
	if authToken == "" {
		if authToken, err = ensureAuthToken(repo); err != nil {
			return fmt.Errorf("failed to ensure auth token: %w", err)
		}
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  CUTROOM AGENT v%-10s                ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	m := metrics.New(nil)
	prober := media.NewFFprobe(cfg.FFprobePath(), cfg.FFmpegPath(), logger)
	catalogSvc := catalog.NewService(repo, prober, cfg.ThumbnailsDir(), logger)
	compiler := rendergraph.NewCompiler(prober, logger)

	enc := cfg.Encoder()
	execCfg := execution.DefaultConfig(logger)
	execCfg.FFmpegPath = cfg.FFmpegPath()
	execCfg.VideoCodec = enc.VideoCodec
	execCfg.Preset = enc.Preset
	execCfg.CRF = enc.CRF
	execCfg.AudioCodec = enc.AudioCodec
	execCfg.AudioBitrate = enc.AudioBitrate
	execCfg.Timeout = cfg.ExportTimeout()

	var executor execution.Executor
	var doctor *execution.CachedDoctor
	ffmpeg, err := execution.NewFFmpegExecutor(execCfg)
	if err != nil {
		logger.Warn("ffmpeg unavailable, exports will fail until it is installed", "error", err)
		executor = unavailableExecutor{err: err}
	} else {
		executor = ffmpeg
		doctor = execution.NewCachedDoctor(ffmpeg.ProbeCapabilities, logger)

		probeCtx, probeCancel := context.WithTimeout(context.Background(), 15*time.Second)
		if caps, err := doctor.Refresh(probeCtx); err != nil {
			logger.Warn("initial ffmpeg probe failed", "error", err)
		} else {
			logger.Info("ffmpeg capabilities detected",
				"version", caps.Version,
				"ready", caps.Ready(),
				"missing_encoders", caps.MissingEncoders,
				"missing_filters", caps.MissingFilters,
			)
		}
		probeCancel()
	}

	sessions := editor.NewManager(catalogSvc,
		editor.WithHistorySize(cfg.HistorySize()),
		editor.WithMetrics(m),
		editor.WithLogger(logger),
	)

	var runner *catalog.Runner
	exportCfg := export.Config{
		ExportsDir: cfg.ExportsDir(),
		LockPath:   cfg.LockPath(),
		Metrics:    m,
		Logger:     logger,
		Notify:     func() { runner.Notify() },
	}
	if doctor != nil {
		exportCfg.Doctor = doctor
	}
	exports := export.NewService(repo, catalogSvc, compiler, executor, exportCfg)
	runner = catalog.NewRunner(repo, exports, cfg.PollInterval(), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Catalog:   catalogSvc,
		Editor:    sessions,
		Exports:   exports,
		Playback:  playback.NewServer(logger),
		Runner:    runner,
		Doctor:    doctor,
		Metrics:   m,
		Token:     func(context.Context) (string, error) { return authToken, nil },
		Logger:    logger,
		StartTime: startTime,
		DeviceID:  deviceID,
		Version:   config.Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Jobs:   exports,
			Queue:  runner,
			Logger: logger,
			OnOpenExports: func() error {
				return openPath(cfg.ExportsDir())
			},
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}
	if err := sessions.CloseAll(shutdownCtx); err != nil {
		logger.Error("failed to save open projects", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// unavailableExecutor fails every export with the reason ffmpeg could not be
// resolved at startup.
type unavailableExecutor struct {
	err error
}

func (u unavailableExecutor) Execute(ctx context.Context, g *rendergraph.Graph, target string) (<-chan execution.Event, error) {
	return nil, fmt.Errorf("ffmpeg unavailable: %w", u.err)
}

func openPath(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	return cmd.Start()
}

func ensureDeviceID(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
