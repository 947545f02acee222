package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/marmos91/netclass/internal/logger"
	"github.com/marmos91/netclass/pkg/config"
	"github.com/marmos91/netclass/pkg/server"
	"github.com/marmos91/netclass/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/netclass/config.yaml)")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous clients (overrides config)")
	password := flag.String("password", "", "Session password (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR; overrides config)")
	initConfig := flag.Bool("init", false, "Write a default config file and exit")
	force := flag.Bool("force", false, "With -init, overwrite an existing config file")
	flag.Parse()

	if *initConfig {
		path, err := writeDefaultConfig(*configPath, *force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "netclass: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", path)
		return
	}

	if err := run(*configPath, overrides{
		port:       *port,
		maxClients: *maxClients,
		password:   *password,
		logLevel:   *logLevel,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "netclass: %v\n", err)
		os.Exit(1)
	}
}

// writeDefaultConfig writes the commented default config to path, or to the
// default location when path is empty.
func writeDefaultConfig(path string, force bool) (string, error) {
	if path == "" {
		return config.InitConfig(force)
	}
	return path, config.InitConfigToPath(path, force)
}

// overrides are command-line values that win over the config file.
type overrides struct {
	port       int
	maxClients int
	password   string
	logLevel   string
}

func (o overrides) apply(cfg *config.Config) error {
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.maxClients != 0 {
		cfg.Server.MaxClients = o.maxClients
	}
	if o.password != "" {
		cfg.Server.Password = o.password
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	config.ApplyDefaults(cfg)
	return config.Validate(cfg)
}

func run(configPath string, o overrides) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := o.apply(cfg); err != nil {
		return fmt.Errorf("invalid command-line override: %w", err)
	}

	logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)

	var wg sync.WaitGroup
	if m.Server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	tr, err := config.CreateTransport(&cfg.Transport)
	if err != nil {
		return err
	}

	sess := session.New(tr,
		session.WithMetrics(m.SessionMetrics),
		session.WithAllowNonHostOwnership(cfg.Server.AllowsNonHostOwnership()),
	)

	srv := server.New(sess, server.Options{
		Port:                    cfg.Server.Port,
		MaxClients:              cfg.Server.MaxClients,
		Password:                cfg.Server.Password,
		TickRate:                cfg.Server.TickRate,
		RestartOnHostDisconnect: cfg.Server.RestartsOnHostDisconnect(),
		MetricsLogInterval:      cfg.Server.MetricsLogInterval,
	})

	logger.Info("netclass starting: transport=%s port=%d max_clients=%d", tr.Protocol(), cfg.Server.Port, cfg.Server.MaxClients)

	serveErr := srv.Serve(ctx)
	stop()

	if m.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = m.Server.Stop(shutdownCtx)
		wg.Wait()
	}

	switch {
	case serveErr == nil, errors.Is(serveErr, context.Canceled):
		logger.Info("Server stopped gracefully")
		return nil
	case errors.Is(serveErr, server.ErrSessionEnded):
		logger.Info("Session ended, exiting")
		return nil
	default:
		return serveErr
	}
}
