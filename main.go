package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"mess/config"
	"mess/db"
	"mess/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	seed := flag.Bool("seed", false, "seed the database with test users and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		slog.Error("failed to initialize database", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer database.Close()

	if *seed {
		if err := database.Seed(); err != nil {
			slog.Error("failed to seed database", "err", err)
			os.Exit(1)
		}
		return
	}

	srv := server.New(database, cfg)

	if cfg.MetricsAddr != "" {
		go func() {
			slog.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, promhttp.Handler()); err != nil {
				slog.Error("metrics listener failed", "err", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("shutting down", "signal", sig.String())
		srv.Shutdown()
		os.Exit(0)
	}()

	if err := srv.Start(); err != nil {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}
}
