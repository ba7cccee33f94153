package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-arkiosk/internal/config"
	"github.com/teslashibe/go-arkiosk/internal/log"
	"github.com/teslashibe/go-arkiosk/pkg/analytics"
	"github.com/teslashibe/go-arkiosk/pkg/device"
	"github.com/teslashibe/go-arkiosk/pkg/stand"
	"github.com/teslashibe/go-arkiosk/pkg/web"
)

func newServeCommand(opts *options) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept AR clients and serve the dashboard API",
		Long: `Serve loads the stand configuration, accepts AR clients on /ws/device and
serves the status API and event stream. Send SIGHUP to reload the stand file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := config.LoadKiosk()
			if err != nil {
				return err
			}
			if port != "" {
				k.Port = port
				if err := k.Validate(); err != nil {
					return err
				}
			}
			if opts.standsFile != "" {
				k.StandsFile = opts.standsFile
			}
			return serve(cmd.Context(), k)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (default $KIOSK_PORT)")
	return cmd
}

func serve(ctx context.Context, k config.Kiosk) error {
	logger := log.With("component", "kiosk")

	if err := os.MkdirAll(k.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(k.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another kiosk is running with data dir %s", k.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	stands, err := config.LoadStands(k.StandsFile)
	if err != nil {
		return err
	}
	logger.Info("stands loaded", "file", k.StandsFile, "stands", len(stands))

	devices := device.NewHub(stands, log.L())

	var (
		store    *analytics.Store
		recorder *analytics.Recorder
		reader   web.Analytics
	)
	if k.Analytics {
		store, err = analytics.Open(k.AnalyticsPath())
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = analytics.NewRecorder(store, k.AnalyticsBuffer, log.L())
		reader = store
	}

	server := web.NewServer(web.Config{Addr: k.Addr(), StaticDir: k.StaticDir, Logger: log.L()}, devices, reader)

	devices.OnEvent(func(session string, e stand.Event) {
		server.PublishEvent(session, e)
		if recorder != nil {
			recorder.Observe(session, e)
		}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recorderDone := make(chan struct{})
	go func() {
		defer close(recorderDone)
		if recorder != nil {
			recorder.Run(ctx)
		}
	}()

	go reloadOnHangup(ctx, k.StandsFile, devices)

	err = server.Start(ctx)
	cancel()
	<-recorderDone

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("kiosk stopped")
	return nil
}

// reloadOnHangup re-reads the stand file on SIGHUP. Existing stands keep
// their presentation; new sightings use the new bindings.
func reloadOnHangup(ctx context.Context, path string, devices *device.Hub) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.LoadStands(path)
			if err != nil {
				log.Error("stand reload failed", "file", path, "error", err)
				continue
			}
			if err := devices.Configure(cfg); err != nil {
				log.Error("stand reload rejected", "error", err)
				continue
			}
			log.Info("stands reloaded", "file", path, "stands", len(cfg))
		}
	}
}
