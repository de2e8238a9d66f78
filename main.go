package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"cakeday/announce"
	"cakeday/bot"
	"cakeday/config"
	"cakeday/dal"
	"cakeday/logging"
)

var (
	configPath = flag.String(
		"config",
		"cakeday.toml",
		"TOML config file path. Skipped if it does not exist.",
	)
	envPath = flag.String(
		"env",
		".env",
		"Dotenv file to load before reading the environment.",
	)
	botToken = flag.String(
		"token",
		"",
		"Bot access token. Overrides discord.token.",
	)
	guildID = flag.String(
		"guild",
		"",
		"Test guild ID. If set, slash commands are only registered there.",
	)
)

func init() {
	flag.Parse()
}

func main() {
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}
	if *botToken != "" {
		os.Setenv(config.EnvPrefix+"DISCORD__TOKEN", *botToken)
	}
	if *guildID != "" {
		os.Setenv(config.EnvPrefix+"DISCORD__GUILD_ID", *guildID)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Bot stopped with an error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := dal.Open(ctx, cfg.Database, logger.Named("dal"))
	if err != nil {
		return err
	}
	defer func() {
		if err := dal.Close(db); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}()

	clk := clock.WallClock

	birthdayBot, err := bot.New(cfg.Discord, db, clk, logger.Named("bot"))
	if err != nil {
		return err
	}

	announcer := announce.New(db, birthdayBot, clk, cfg.Announce, logger.Named("announce"))
	birthdayBot.SetAnnouncer(announcer)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		announcer.Metrics(),
	)
	server := newHTTPServer(cfg.HTTP.Addr, db, registry)
	if server != nil {
		go func() {
			logger.Info("Serving health and metrics", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
	}

	if err := birthdayBot.Open(); err != nil {
		return err
	}

	announceCtx, stopAnnouncer := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		announcer.Run(announceCtx)
	}()

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	stopAnnouncer()
	wg.Wait()

	birthdayBot.Shutdown()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down HTTP server", zap.Error(err))
		}
	}

	return nil
}

func newHTTPServer(addr string, db *gorm.DB, registry *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
