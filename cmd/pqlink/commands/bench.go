package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pzverkov/pqlink/internal/constants"
	"github.com/pzverkov/pqlink/pkg/identity"
	"github.com/pzverkov/pqlink/pkg/tunnel"
)

type benchOptions struct {
	handshakes int
	sends      int
	size       int
}

func benchCmd(opts *options) *cobra.Command {
	bo := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure handshake latency and payload throughput over loopback",
		Long: `Run a responder and an initiator on 127.0.0.1 with a throwaway identity.
Each handshake is a fresh session; the throughput run sends --sends payloads
of --size bytes over a single session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), opts, bo)
		},
	}

	f := cmd.Flags()
	f.IntVar(&bo.handshakes, "handshakes", 20, "number of handshakes to time")
	f.IntVar(&bo.sends, "sends", 1000, "payloads to send in the throughput run (0 skips it)")
	f.IntVar(&bo.size, "size", 1024, "payload size in bytes")
	return cmd
}

func runBench(ctx context.Context, opts *options, bo *benchOptions) error {
	if bo.handshakes < 1 && bo.sends < 1 {
		return fmt.Errorf("nothing to measure: set --handshakes or --sends")
	}
	if bo.size < 1 || bo.size > constants.MaxPayloadSize {
		return fmt.Errorf("--size must be between 1 and %d", constants.MaxPayloadSize)
	}

	cfg, err := opts.tunnelConfig()
	if err != nil {
		return err
	}
	p, err := opts.provider()
	if err != nil {
		return err
	}
	id, err := identity.Generate(p)
	if err != nil {
		return err
	}
	defer id.Wipe()

	fmt.Fprintf(opts.out, "Suite %s, messages %s\n", p.Suite(), cfg.Messages)
	fmt.Fprintln(opts.out, strings.Repeat("-", 48))

	if bo.handshakes > 0 {
		if err := benchHandshakes(ctx, opts.out, id, cfg, bo.handshakes); err != nil {
			return err
		}
	}
	if bo.sends > 0 && cfg.Messages.Has(tunnel.MessagesConfidential) {
		return benchThroughput(ctx, opts.out, id, cfg, bo.sends, bo.size)
	}
	return nil
}

func benchHandshakes(ctx context.Context, out io.Writer, id *identity.Identity, cfg tunnel.Config, count int) error {
	ln, err := tunnel.Listen("tcp", "127.0.0.1:0", id, cfg)
	if err != nil {
		return err
	}
	defer ln.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i := 0; i < count; i++ {
			c, err := ln.Accept()
			if err != nil {
				return err
			}
			_ = c.Close()
		}
		return nil
	})

	durations := make([]time.Duration, 0, count)
	start := time.Now()
	for i := 0; i < count; i++ {
		t0 := time.Now()
		c, err := tunnel.Dial(ctx, "tcp", ln.Addr().String(), id.PublicKey, cfg)
		if err != nil {
			return fmt.Errorf("handshake %d: %w", i+1, err)
		}
		durations = append(durations, time.Since(t0))
		_ = c.Close()
	}
	if err := g.Wait(); err != nil {
		return err
	}
	total := time.Since(start)

	lo, hi, sum := durations[0], durations[0], time.Duration(0)
	for _, d := range durations {
		sum += d
		lo = min(lo, d)
		hi = max(hi, d)
	}
	fmt.Fprintf(out, "Handshakes: %d in %v (%.1f/s)\n", count, total.Round(time.Millisecond), float64(count)/total.Seconds())
	fmt.Fprintf(out, "  avg %v  min %v  max %v\n", (sum / time.Duration(count)).Round(time.Microsecond),
		lo.Round(time.Microsecond), hi.Round(time.Microsecond))
	return nil
}

func benchThroughput(ctx context.Context, out io.Writer, id *identity.Identity, cfg tunnel.Config, sends, size int) error {
	ln, err := tunnel.Listen("tcp", "127.0.0.1:0", id, cfg)
	if err != nil {
		return err
	}
	defer ln.Close()

	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}

	var received int64
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := ln.Accept()
		if err != nil {
			return err
		}
		defer c.Close()
		for i := 0; i < sends; i++ {
			data, err := c.Receive()
			if err != nil {
				return err
			}
			received += int64(len(data))
		}
		return nil
	})

	c, err := tunnel.Dial(ctx, "tcp", ln.Addr().String(), id.PublicKey, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	start := time.Now()
	for i := 0; i < sends; i++ {
		if err := c.Send(payload); err != nil {
			return err
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	mib := float64(received) / (1 << 20)
	fmt.Fprintf(out, "Throughput: %d x %d bytes in %v\n", sends, size, elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "  %.2f MiB/s  %.0f messages/s\n", mib/elapsed.Seconds(), float64(sends)/elapsed.Seconds())
	return nil
}
