// Command showreeld runs the content pipeline daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"showreel/internal/config"
	"showreel/internal/daemon"
	"showreel/internal/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config.toml (default ~/.config/showreel/config.toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "showreeld:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: []string{"stderr", cfg.LogFilePath()},
	})
	if err != nil {
		return err
	}

	if !loaded {
		logger.Warn("no config file found, using defaults")
	}

	d := daemon.New(cfg, version, logger)
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = d.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-signals:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	case err := <-waitErr(d):
		if err != nil {
			logger.Error("api server exited", logging.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}

func waitErr(d *daemon.Daemon) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- d.Wait() }()
	return ch
}
