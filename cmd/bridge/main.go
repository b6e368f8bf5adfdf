// Command bridge runs the EZSP-over-SPI-to-ASH-over-TCP protocol bridge: it
// loads configuration, starts one NcpActor worker bound to the SPI/GPIO
// transport, serves a diagnostics HTTP surface, and accepts TCP clients one
// at a time, handing each to a new pkg/bridge Session bound to the shared
// NcpActor.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/proman21/ezsp-spi-bridge/pkg/bridge"
	"github.com/proman21/ezsp-spi-bridge/pkg/config"
	"github.com/proman21/ezsp-spi-bridge/pkg/diag"
	"github.com/proman21/ezsp-spi-bridge/pkg/ncp"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgPath := flag.String("config", "", "Path to YAML config file (optional; env/defaults otherwise)")
	diagAddr := flag.String("diag-address", "0.0.0.0:8081", "Diagnostics HTTP server listen address")
	devFakeNcp := flag.Bool("dev-fake-ncp", false, "Use an in-process fake NCP instead of real SPI/GPIO hardware")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if level, perr := zerolog.ParseLevel(cfg.LogLevel); perr == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("loglevel", cfg.LogLevel).Msg("unrecognised log level, defaulting to info")
	}

	dev, err := openSpiDevice(cfg, *devFakeNcp)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open SPI device")
	}

	actor := ncp.NewActor(dev)

	var active sync.Map // holds at most one entry, keyed by a constant
	diagRouter := diag.NewRouter(func() diag.SessionView {
		v, ok := active.Load(activeKey)
		if !ok {
			return nil
		}
		return v.(diag.SessionView)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		actor.Run(ctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Str("address", *diagAddr).Msg("starting diagnostics server")
		errc := make(chan error, 1)
		go func() { errc <- diagRouter.Run(*diagAddr) }()
		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		return acceptLoop(ctx, cfg, actor, &active)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("bridge exited with error")
		os.Exit(1)
	}
}

const activeKey = "active"

// acceptLoop serves one TCP client connection at a time, per spec.md §1's
// one-client-at-a-time non-goal: accept, run the session to completion, then
// accept again.
func acceptLoop(ctx context.Context, cfg config.Config, actor *ncp.Actor, active *sync.Map) error {
	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return err
	}
	defer listener.Close()

	log.Info().Str("address", cfg.ListenAddr()).Msg("listening for ASH host connections")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		sess := bridge.NewSession(conn, actor)
		active.Store(activeKey, sess)
		log.Info().Str("session", sess.ID()).Str("remote", conn.RemoteAddr().String()).Msg("client connected")

		if err := sess.Run(ctx); err != nil {
			log.Warn().Err(err).Str("session", sess.ID()).Msg("session ended")
		}
		active.Delete(activeKey)

		if ctx.Err() != nil {
			return nil
		}
	}
}
