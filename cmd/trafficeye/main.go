package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"trafficeye/internal/auth"
	"trafficeye/internal/camera"
	"trafficeye/internal/config"
	"trafficeye/internal/database"
	"trafficeye/internal/evidence"
	"trafficeye/internal/notify"
	"trafficeye/internal/pipeline"
	"trafficeye/internal/pipeline/detectors"
	"trafficeye/internal/pipeline/strategies"
	"trafficeye/internal/services"
	"trafficeye/internal/sink"
	"trafficeye/internal/timeutil"
	"trafficeye/internal/ws"
)

func main() {
	var (
		configF   = flag.String("config", "", "Path to JSON configuration file")
		httpAddrF = flag.String("http-addr", "", "HTTP listen address (overrides config)")
		grpcAddrF = flag.String("grpc-addr", "", "gRPC health listen address (overrides config, \"off\" disables)")
		dbgF      = flag.Bool("debug", false, "Log request and response bodies")
	)
	flag.Parse()

	var (
		logger *log.Logger
	)
	{
		logger = log.New(os.Stderr, "[trafficeye] ", log.Ltime)
	}

	cfg, err := config.Load(*configF)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if *httpAddrF != "" {
		cfg.HTTPAddr = *httpAddrF
	}
	if *grpcAddrF != "" {
		cfg.GRPCAddr = *grpcAddrF
	}

	clock := timeutil.RealClock{}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	detector, err := detectors.NewYOLORegistry(cfg.YOLOEndpoints, float32(cfg.DetectorConfidence), cfg.DetectorTimeout)
	if err != nil {
		logger.Fatalf("failed to create detectors: %v", err)
	}
	defer detector.Close()

	// Live push and alerts hang off the event bus
	bus := pipeline.NewEventBus()
	defer bus.Close()

	hub := ws.NewViolationHub()
	defer hub.Close()
	bus.Subscribe(hub)

	if cfg.Telegram.Enabled {
		bot := notify.NewTelegramBot(notify.Config{
			BotToken:        cfg.Telegram.BotToken,
			ChatID:          cfg.Telegram.ChatID,
			Enabled:         true,
			CooldownSeconds: cfg.Telegram.CooldownSeconds,
		})
		notifier := notify.NewNotifier(bot, time.Duration(cfg.Telegram.CooldownSeconds)*time.Second, clock)
		defer notifier.Close()
		bus.Subscribe(notifier)
		logger.Printf("Telegram alerts enabled for critical violations")
	}

	violationSink := sink.New(db, evidence.NewCapturer(cfg.OutputDir, clock), bus, clock)

	factory := strategies.NewStrategyFactory(clock)
	manager := pipeline.NewDetectionPipelineManager(
		pipeline.NewFFmpegFrameProvider(clock),
		detector,
		violationSink,
		db,
		factory.Create,
		clock,
	)
	defer manager.Close()
	manager.SetGlobalConfig(cfg.Pipeline)
	for name, profile := range cfg.CustomProfiles() {
		manager.SetProfile(name, profile)
	}

	authenticator, err := auth.NewAuthenticator(auth.Options{
		Enabled:   cfg.Auth.Enabled,
		Username:  cfg.Auth.Username,
		Password:  cfg.Auth.Password,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTExpiry: cfg.Auth.JWTExpiry,
		Clock:     clock,
	})
	if err != nil {
		logger.Fatalf("failed to configure authentication: %v", err)
	}

	api := services.New(services.Options{
		DB:            db,
		Cameras:       camera.NewManager(db, clock),
		Pipelines:     manager,
		Detector:      detector,
		Authenticator: authenticator,
		ArchiveDir:    cfg.ArchiveDir,
		Clock:         clock,
		Logger:        logger,
	})

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	handleHTTPServer(ctx, cfg.HTTPAddr, api, ws.NewHandler(hub), authenticator, &wg, errc, logger, *dbgF)

	if cfg.GRPCAddr != "off" {
		handleGRPCServer(ctx, cfg.GRPCAddr, healthChecks(db, detector), &wg, errc, logger)
	}

	// Wait for signal.
	logger.Printf("exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	logger.Println("exited")
}

// healthChecks maps gRPC health service names to probes
func healthChecks(db *database.Database, detector pipeline.Detector) map[string]func() bool {
	return map[string]func() bool{
		"trafficeye.database": func() bool { return db.Ping() == nil },
		"trafficeye.detector": detector.IsHealthy,
	}
}
