package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"oneshot-rpc/config"
	"oneshot-rpc/message"
	"oneshot-rpc/metrics"
	"oneshot-rpc/middleware"
	"oneshot-rpc/protocol"
	"oneshot-rpc/server"
)

func newServeCmd() *cobra.Command {
	var (
		dispatcher string
		grace      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a listener that answers one request per connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			d, err := newDispatcher(dispatcher)
			if err != nil {
				return err
			}
			svr, err := newServer(cfg, d)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, svr, grace)
		},
	}
	cmd.Flags().StringVar(&dispatcher, "dispatcher", "static", "static answers \"message from server\", echo answers interface.method")
	cmd.Flags().DurationVar(&grace, "shutdown-timeout", 5*time.Second, "how long to wait for open connections on shutdown")
	return cmd
}

func newDispatcher(name string) (server.Dispatcher, error) {
	switch name {
	case "static":
		return server.NewStaticDispatcher(), nil
	case "echo":
		return server.DispatcherFunc(func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return &message.Response{Message: req.InterfaceName + "." + req.MethodName}, nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown dispatcher %q", name)
	}
}

func newServer(cfg *config.Config, d server.Dispatcher) (*server.Server, error) {
	svr, err := server.New(
		server.WithDispatcher(d),
		server.WithCodec(cfg.CodecType()),
		server.WithLimits(protocol.Limits{MaxPayloadBytes: cfg.MaxFrameBytes}),
		server.WithRequestTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return nil, err
	}
	svr.Use(middleware.LoggingMiddleware())
	svr.Use(middleware.MetricsMiddleware())
	if cfg.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.HandlerTimeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.HandlerTimeout))
	}
	return svr, nil
}

// run serves until ctx is done or the listener fails, then shuts everything down.
func run(ctx context.Context, cfg *config.Config, svr *server.Server, grace time.Duration) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.ListenHost, strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svr.ServeListener(ln)
	})
	if metricsSrv != nil {
		g.Go(func() error {
			log.Info().Str("module", "serve").Str("addr", cfg.MetricsAddr).Msg("metrics listening")
			if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Str("module", "serve").Msg("shutting down")
		err := svr.Shutdown(grace)
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), grace)
			defer cancel()
			err = errors.Join(err, metricsSrv.Shutdown(sctx))
		}
		return err
	})
	return g.Wait()
}
