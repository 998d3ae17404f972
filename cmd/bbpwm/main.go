package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"

	"bbpwm/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/bbpwm.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}

	log := newLogger(cfg.Log, colorable.NewColorableStdout())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	overlays, err := newOverlayLoader(cfg.Capemgr, log)
	if err != nil {
		log.Fatalf("cape manager init failed: %v", err)
	}

	log.Info("bbpwm starting")
	if err := run(ctx, cfg, log, overlays, nil); err != nil {
		log.Fatalf("bbpwm stopped: %v", err)
	}
	log.Info("bbpwm stopping")
}
