// Package main is the entry point for the loginwatch service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loginwatch/internal/api"
	"loginwatch/internal/archive"
	"loginwatch/internal/config"
	"loginwatch/internal/correlate"
	"loginwatch/internal/detect"
	"loginwatch/internal/event"
	"loginwatch/internal/ingest"
	"loginwatch/internal/publish"
	"loginwatch/internal/session"
	"loginwatch/internal/stats"
	"loginwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("configuration loaded",
		"ingest_port", cfg.Ingest.TCP.Port,
		"api_port", cfg.API.Port,
		"provider_host", cfg.Detection.ProviderHost,
		"callback_timeout", cfg.Detection.CallbackTimeout,
		"session_backend", cfg.Session.Backend,
		"storage_backend", cfg.Storage.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event store
	var store storage.Store
	var chClient *storage.ClickHouseClient

	switch cfg.Storage.Backend {
	case "clickhouse":
		chConfig := storage.ClickHouseConfig{
			Hosts:           cfg.Storage.ClickHouse.Hosts,
			Database:        cfg.Storage.ClickHouse.Database,
			Username:        cfg.Storage.ClickHouse.Username,
			Password:        cfg.Storage.ClickHouse.Password,
			MaxOpenConns:    cfg.Storage.ClickHouse.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.ClickHouse.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ClickHouse.ConnMaxLifetime,
			DialTimeout:     cfg.Storage.ClickHouse.DialTimeout,
		}

		chClient, err = storage.NewClickHouseClient(chConfig)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		store, err = storage.NewClickHouseStore(ctx, chClient)
		if err != nil {
			slog.Error("failed to open event store", "error", err)
			os.Exit(1)
		}
	case "memory":
		slog.Warn("using in-memory event store, events are lost on restart")
		store = storage.NewMemoryStore()
	}

	// Session tracker
	var tracker session.Tracker
	var redisTracker *session.RedisTracker

	switch cfg.Session.Backend {
	case "redis":
		redisCfg := session.DefaultRedisConfig()
		redisCfg.Addr = cfg.Session.Redis.Addr
		redisCfg.Password = cfg.Session.Redis.Password
		redisCfg.DB = cfg.Session.Redis.DB

		redisTracker, err = session.NewRedisTracker(redisCfg, cfg.Detection.CallbackTimeout)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		tracker = redisTracker
	case "memory":
		tracker = session.NewMemoryTracker(cfg.Detection.CallbackTimeout)
	}

	// Correlator
	classifier := detect.NewClassifier(cfg.Detection.ProviderHost)
	correlator := correlate.New(classifier, tracker, store)

	// Optional Kafka fan-out
	var publisher *publish.Publisher
	if cfg.Kafka.Enabled {
		pubCfg := publish.DefaultConfig()
		pubCfg.Brokers = cfg.Kafka.Brokers
		pubCfg.Topic = cfg.Kafka.Topic

		publisher, err = publish.NewPublisher(pubCfg)
		if err != nil {
			slog.Error("failed to create kafka publisher", "error", err)
			os.Exit(1)
		}
		correlator.AddSink(publisher.Sink())
	}

	// Optional S3 archive
	if cfg.Archive.Enabled {
		archCfg := archive.DefaultConfig()
		archCfg.Bucket = cfg.Archive.Bucket
		archCfg.Prefix = cfg.Archive.Prefix
		archCfg.Region = cfg.Archive.Region
		archCfg.Endpoint = cfg.Archive.Endpoint
		archCfg.Interval = cfg.Archive.Interval

		exporter, err := archive.NewExporter(ctx, archCfg, store)
		if err != nil {
			slog.Error("failed to create s3 exporter", "error", err)
			os.Exit(1)
		}
		go exporter.Run(ctx)
	}

	// Ingest servers
	validator := event.NewValidator()

	tcpCfg := ingest.DefaultTCPServerConfig()
	tcpCfg.Address = fmt.Sprintf("%s:%d", cfg.Ingest.TCP.Host, cfg.Ingest.TCP.Port)
	tcpCfg.MaxConnections = cfg.Ingest.TCP.MaxConnections
	tcpCfg.IdleTimeout = cfg.Ingest.TCP.IdleTimeout
	tcpCfg.MaxLineLength = cfg.Ingest.TCP.MaxLineLength
	tcpCfg.TLSEnabled = cfg.Ingest.TCP.TLSEnabled
	tcpCfg.TLSCertFile = cfg.Ingest.TCP.TLSCertFile
	tcpCfg.TLSKeyFile = cfg.Ingest.TCP.TLSKeyFile

	tcpServer := ingest.NewTCPServer(tcpCfg, validator, correlator)
	if cfg.Ingest.TCP.Enabled {
		if err := tcpServer.Start(ctx); err != nil {
			slog.Error("failed to start observation TCP server", "error", err)
			os.Exit(1)
		}
	}

	var dtlsServer *ingest.DTLSServer
	if cfg.Ingest.DTLS.Enabled {
		dtlsCfg := ingest.DefaultDTLSServerConfig()
		dtlsCfg.Address = fmt.Sprintf("%s:%d", cfg.Ingest.DTLS.Host, cfg.Ingest.DTLS.Port)
		dtlsCfg.CertFile = cfg.Ingest.DTLS.CertFile
		dtlsCfg.KeyFile = cfg.Ingest.DTLS.KeyFile
		dtlsCfg.MaxMessageSize = cfg.Ingest.DTLS.MaxMessageSize
		dtlsCfg.ConnectionTimeout = cfg.Ingest.DTLS.ConnectionTimeout

		dtlsServer, err = ingest.NewDTLSServer(dtlsCfg, validator, correlator)
		if err != nil {
			slog.Error("failed to create DTLS server", "error", err)
			os.Exit(1)
		}
		if err := dtlsServer.Start(ctx); err != nil {
			slog.Error("failed to start DTLS server", "error", err)
			os.Exit(1)
		}
	}

	// API server
	apiCfg := api.DefaultServerConfig()
	apiCfg.Address = fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	apiCfg.ReadTimeout = cfg.API.ReadTimeout
	apiCfg.WriteTimeout = cfg.API.WriteTimeout

	apiServer := api.NewServer(apiCfg, stats.NewReporter(store))
	apiServer.RegisterMetrics("correlator", func() any { return correlator.MetricsSnapshot() })
	apiServer.RegisterMetrics("ingest_tcp", func() any { return tcpServer.Metrics() })
	if dtlsServer != nil {
		apiServer.RegisterMetrics("ingest_dtls", func() any { return dtlsServer.Metrics() })
	}
	if publisher != nil {
		apiServer.RegisterMetrics("publisher", func() any { return publisher.MetricsSnapshot() })
	}

	if err := apiServer.Start(); err != nil {
		slog.Error("failed to start API server", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown error", "error", err)
	}

	if cfg.Ingest.TCP.Enabled {
		tcpServer.Stop()
	}
	if dtlsServer != nil {
		dtlsServer.Stop()
	}

	cancel()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			slog.Error("kafka publisher close error", "error", err)
		}
	}
	if redisTracker != nil {
		if err := redisTracker.Close(); err != nil {
			slog.Error("redis tracker close error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		slog.Error("event store close error", "error", err)
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	m := correlator.MetricsSnapshot()
	slog.Info("shutdown complete",
		"tunnels_tracked", m.TunnelsTracked,
		"logins_recorded", m.LoginsRecorded,
		"suppressed", m.Suppressed,
	)
}

// setupLogging configures the process-wide structured logger.
func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	slog.SetDefault(slog.New(handler))
}
