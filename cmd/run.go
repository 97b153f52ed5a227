package cmd

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/vanilla/internal/config"
	"firestige.xyz/vanilla/internal/hub"
	"firestige.xyz/vanilla/internal/log"
	"firestige.xyz/vanilla/internal/metrics"
	"firestige.xyz/vanilla/internal/signal"
	"firestige.xyz/vanilla/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the hub and block until a trapped signal stops it",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.Init(cfg.Log)
	logger := log.GetLogger()

	h, err := hub.New()
	if err != nil {
		return fmt.Errorf("create hub: %w", err)
	}

	ctx := context.Background()

	sigs := parseSignals(cfg.Hub.Signals)
	src := signal.NewSource(h)
	trapped := src.Subscribe(ctx, sigs...)
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		n, err := trapped.Recv(ctx)
		if err != nil {
			return nil
		}
		logger.WithField("signal", n).Info("trapped signal, stopping hub")
		return h.Stop()
	})

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer srv.Stop(ctx)
	}

	if cfg.Transport.Enabled {
		ln, err := transport.Listen(h, cfg.Transport.ListenAddr, cfg.Transport.MaxConns)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Transport.ListenAddr, err)
		}
		defer ln.Close()
		logger.WithField("addr", cfg.Transport.ListenAddr).Info("transport listening")
		go acceptLoop(h, ln, logger)
	}

	logger.Info("hub starting")
	reportStats(h, logger)
	if err := h.Run(); err != nil {
		return fmt.Errorf("hub run: %w", err)
	}
	h.Repanic()
	logger.Info("hub idle, exiting")
	return nil
}

// acceptLoop runs outside the hub on an ordinary goroutine, since
// net.Listener.Accept blocks the calling OS thread rather than parking a
// task; each accepted Conn is then handed a dedicated hub task.
func acceptLoop(h *hub.Hub, ln *transport.Listener, logger log.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
			defer conn.Close()
			if err := conn.RecvLoop(ctx); err != nil {
				logger.WithError(err).Debug("connection closed")
			}
			return nil
		})
	}
}

func reportStats(h *hub.Hub, logger log.Logger) {
	stats := h.Stats()
	metrics.ReadyQueueLength.Set(float64(stats.ReadyLen))
	metrics.TimersLive.Set(float64(stats.TimersLive))
	metrics.FDsRegistered.Set(float64(stats.Registered))
	logger.WithFields(map[string]interface{}{
		"ready":  stats.ReadyLen,
		"timers": stats.TimersLive,
		"fds":    stats.Registered,
	}).Debug("hub stats")
}

var signalNames = map[string]os.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGHUP":  syscall.SIGHUP,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

func parseSignals(names []string) []os.Signal {
	out := make([]os.Signal, 0, len(names))
	for _, n := range names {
		if sig, ok := signalNames[n]; ok {
			out = append(out, sig)
		}
	}
	return out
}
