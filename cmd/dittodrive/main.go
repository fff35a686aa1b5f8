package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/adapter/rest"
	"github.com/marmos91/dittodrive/pkg/config"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/registry"
	"github.com/marmos91/dittodrive/pkg/server"
	"github.com/marmos91/dittodrive/pkg/upload"
)

const usage = `DittoDrive - chunked upload and range streaming file service

Usage:
  dittodrive <command> [flags]

Commands:
  init     Write a sample configuration file
  start    Start the server
  token    Print a bearer token for a member
  gc       Run one garbage collection pass and exit

Run 'dittodrive <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "init":
		err = runInit(args)
	case "start":
		err = runStart(args)
	case "token":
		err = runToken(args)
	case "gc":
		err = runGC(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "", "Where to write the file (default: $XDG_CONFIG_HOME/dittodrive/config.yaml)")
	force := fs.Bool("force", false, "Overwrite an existing file")
	_ = fs.Parse(args)

	target := *path
	if target == "" {
		target = config.GetDefaultConfigPath()
	}
	if err := config.InitConfigToPath(target, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", target)
	return nil
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	path := fs.String("config", "", "Path to config file")
	member := fs.Int64("member", 0, "Member id the token identifies")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = fs.Parse(args)

	if *member <= 0 {
		return fmt.Errorf("-member must be a positive id")
	}

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if cfg.Adapters.REST.JWTSecret == "" {
		return fmt.Errorf("adapters.rest.jwt_secret is not set; tokens are not required")
	}

	token, err := rest.GenerateToken(*member, []byte(cfg.Adapters.REST.JWTSecret), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// setupLogging applies the logging section.
func setupLogging(cfg *config.Config) error {
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	return logger.SetOutput(cfg.Logging.Output)
}

// openRegistry creates both stores and the registry around them. Stores
// opened before a failure are closed again.
func openRegistry(ctx context.Context, cfg *config.Config, m *config.MetricsResult) (*registry.Registry, error) {
	metadataStore, err := config.CreateMetadataStore(ctx, &cfg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	logger.Info("Metadata store: %s", cfg.Metadata.Type)

	blobStore, err := config.CreateBlobStore(ctx, &cfg.Blob, m.S3)
	if err != nil {
		_ = metadataStore.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	logger.Info("Blob store: %s", cfg.Blob.Type)

	reg, err := config.InitializeRegistry(ctx, cfg, metadataStore, blobStore, m)
	if err != nil {
		_ = metadataStore.Close()
		_ = blobStore.Close()
		return nil, err
	}
	return reg, nil
}

func runStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	path := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/dittodrive/config.yaml)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	fmt.Println("DittoDrive - chunked upload and range streaming")
	logger.Info("Log level: %s", cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := config.InitializeMetrics(cfg)

	reg, err := openRegistry(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("Failed to close stores: %v", err)
		}
	}()

	srv := server.New(reg, cfg.Server.ShutdownTimeout)

	adapters, err := config.CreateAdapters(cfg, m.HTTP)
	if err != nil {
		return err
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
		logger.Info("Adapter %s configured", a.Protocol())
	}

	srv.AddWorker(upload.NewSweeper(reg.Uploads()))

	collector, err := gc.NewCollector(reg.MetadataStore(), reg.BlobStore(), reg.Uploads(), cfg.GC, m.GC)
	if err != nil {
		logger.Warn("Garbage collection unavailable: %v", err)
	} else {
		srv.AddWorker(collector)
	}

	if m.Server != nil {
		// Start returns once ctx is cancelled
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			_ = m.Server.Stop(stopCtx)
		}()
		logger.Info("Metrics available on port %d", m.Server.Port())
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running with %d folder(s). Press Ctrl+C to stop.", reg.CountFolders())

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		logger.Info("Server stopped")
	}
	return nil
}

func runGC(args []string) error {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)
	path := fs.String("config", "", "Path to config file")
	dryRun := fs.String("dry-run", "", "Override gc.dry_run (true|false)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*path)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	if *dryRun != "" {
		v, err := strconv.ParseBool(*dryRun)
		if err != nil {
			return fmt.Errorf("-dry-run: %w", err)
		}
		cfg.GC.DryRun = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg, err := openRegistry(ctx, cfg, &config.MetricsResult{})
	if err != nil {
		return err
	}
	defer reg.Close()

	// No live sessions exist in a standalone run; MinAge protects the
	// staged blobs of a server running against the same stores.
	collector, err := gc.NewCollector(reg.MetadataStore(), reg.BlobStore(), nil, cfg.GC, nil)
	if err != nil {
		return err
	}

	stats, err := collector.RunNow(ctx)
	if err != nil {
		return err
	}
	fmt.Println(stats.Summary())
	return nil
}
