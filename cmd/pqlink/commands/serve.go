package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pzverkov/pqlink/internal/constants"
	qerrors "github.com/pzverkov/pqlink/internal/errors"
	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/metrics"
	"github.com/pzverkov/pqlink/pkg/tunnel"
)

type serveOptions struct {
	addr           string
	obsAddr        string
	tracing        string
	strict         bool
	maxConnsPerIP  int
	handshakeRate  float64
	handshakeBurst int
	maxHeapMiB     int
}

func serveCmd(opts *options) *cobra.Command {
	so := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a responder and print every confidential message received",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, so, nil)
		},
	}

	f := cmd.Flags()
	f.StringVar(&so.addr, "addr", ":"+strconv.Itoa(constants.DefaultPort), "address to listen on")
	f.StringVar(&so.obsAddr, "obs-addr", "", "metrics and health server address (empty disables)")
	f.StringVar(&so.tracing, "tracing", "none", "tracing mode: none, simple, otel (requires -tags otel)")
	f.BoolVar(&so.strict, "strict", false, "treat malformed lines as fatal")
	f.IntVar(&so.maxConnsPerIP, "max-conns-per-ip", 0, "concurrent connections allowed per IP (0 = unlimited)")
	f.Float64Var(&so.handshakeRate, "handshake-rate", 0, "handshakes accepted per second (0 = unlimited)")
	f.IntVar(&so.handshakeBurst, "handshake-burst", 10, "handshake burst size")
	f.IntVar(&so.maxHeapMiB, "health-max-heap", 0, "report unhealthy above this heap size in MiB (0 disables; needs --obs-addr)")
	return cmd
}

// runServe serves until ctx is cancelled. ready, if non-nil, receives the
// bound listener address once accepting.
func runServe(ctx context.Context, opts *options, so *serveOptions, ready chan<- net.Addr) error {
	if so.maxHeapMiB < 0 || (so.maxHeapMiB > 0 && so.obsAddr == "") {
		return fmt.Errorf("--health-max-heap needs --obs-addr and a positive size")
	}
	cfg, err := opts.tunnelConfig()
	if err != nil {
		return err
	}
	cfg.StrictParsing = so.strict
	cfg.RateLimit = tunnel.RateLimitConfig{
		MaxConnectionsPerIP: so.maxConnsPerIP,
		HandshakeRateLimit:  so.handshakeRate,
		HandshakeBurst:      so.handshakeBurst,
	}

	p, err := opts.provider()
	if err != nil {
		return err
	}
	if err := crypto.SelfTest(p); err != nil {
		return fmt.Errorf("provider self test: %w", err)
	}
	cfg.Provider = p

	id, err := opts.loadIdentity(p)
	if err != nil {
		return err
	}
	defer id.Wipe()

	collector, err := setupObservability(opts, &cfg, so.tracing)
	if err != nil {
		return err
	}

	ln, err := tunnel.Listen("tcp", so.addr, id, cfg)
	if err != nil {
		return err
	}
	opts.logger.Info("listening", metrics.Fields{
		"addr":        ln.Addr().String(),
		"fingerprint": id.Fingerprint(),
		"suite":       cfg.Suite.String(),
		"messages":    cfg.Messages.String(),
	})
	if ready != nil {
		ready <- ln.Addr()
	}

	g, gctx := errgroup.WithContext(ctx)

	if so.obsAddr != "" {
		server := metrics.NewServer(metrics.ServerConfig{
			Collector:        collector,
			Version:          getVersion(),
			Namespace:        "pqlink",
			EnablePrometheus: true,
			EnableHealth:     true,
		})
		if so.maxHeapMiB > 0 {
			server.AddHealthCheck("heap", metrics.MemoryCheck(uint64(so.maxHeapMiB)<<20))
		}
		g.Go(func() error {
			err := server.Serve(gctx, so.obsAddr)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		opts.logger.Info("observability server", metrics.Fields{"addr": so.obsAddr})
	}

	g.Go(func() error {
		return ln.Serve(gctx, func(ctx context.Context, c *tunnel.Conn) error {
			return printMessages(opts, c)
		})
	})

	return g.Wait()
}

// printMessages writes each received plaintext to stdout until the peer
// disconnects.
func printMessages(opts *options, c *tunnel.Conn) error {
	remote := c.RemoteAddr().String()
	for {
		data, err := c.Receive()
		if err != nil {
			if errors.Is(err, qerrors.ErrConnectionClosed) {
				return nil
			}
			return err
		}
		fmt.Fprintf(opts.out, "[%s] %q\n", remote, data)
	}
}
