package main

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"bbpwm/internal/api"
	"bbpwm/internal/capemgr"
	"bbpwm/internal/config"
	"bbpwm/internal/gpioline"
	"bbpwm/internal/pinstatus"
	"bbpwm/internal/pwm"
)

func newLogger(c config.LogConfig, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if lvl, err := logrus.ParseLevel(c.Level); err == nil {
		l.SetLevel(lvl)
	}
	if c.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// newOverlayLoader returns the cape manager, or a loader that does nothing
// when overlays are applied at boot.
func newOverlayLoader(c config.CapemgrConfig, log logrus.FieldLogger) (pwm.OverlayLoader, error) {
	if !c.Enable {
		return capemgr.Nop{}, nil
	}
	slots := c.Slots
	if slots == "" {
		found, err := capemgr.Find()
		if err != nil {
			return nil, err
		}
		slots = found
	}
	log.WithField("slots", slots).Info("using cape manager")
	return capemgr.New(slots, log), nil
}

// startChannels starts every configured channel, carrying on past failures.
func startChannels(ctl *pwm.Controller, channels []config.ChannelConfig, log logrus.FieldLogger) error {
	var err error
	for _, ch := range channels {
		if serr := ctl.Start(ch.PinID, ch.Options()...); serr != nil {
			log.WithField("pin", ch.PinID).WithError(serr).Error("channel start failed")
			err = multierr.Append(err, serr)
		}
	}
	return err
}

// run wires the controller, starts the configured channels and serves the
// API until ctx is done. open is nil outside tests.
func run(ctx context.Context, cfg config.Config, log logrus.FieldLogger, overlays pwm.OverlayLoader, open pwm.OpenFunc) error {
	reg := pinstatus.New()
	ctl := pwm.NewController(reg, overlays, &gpioline.Evictor{Registry: reg, Log: log}, pwm.Options{
		SysfsBase: cfg.SysfsBase,
		Open:      open,
		Settle:    cfg.Capemgr.Settle,
		Log:       log,
	})

	// A channel that fails to start is reported but does not stop the daemon.
	if err := startChannels(ctl, cfg.Channels, log); err != nil {
		log.WithError(err).Warnf("%d of %d configured channels failed to start", len(multierr.Errors(err)), len(cfg.Channels))
	}

	var serveErr error
	if cfg.HTTP.Enable {
		srv := &api.Server{Controller: ctl, Logger: log}
		serveErr = srv.Serve(ctx, cfg.HTTP.Listen)
		if errors.Is(serveErr, context.Canceled) {
			serveErr = nil
		}
	} else {
		<-ctx.Done()
	}

	if cfg.CleanupOnExit {
		if err := ctl.Cleanup(); err != nil {
			serveErr = multierr.Append(serveErr, err)
		}
	}
	return serveErr
}
