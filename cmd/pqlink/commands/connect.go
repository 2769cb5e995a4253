package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqlink/internal/constants"
	"github.com/pzverkov/pqlink/pkg/identity"
	"github.com/pzverkov/pqlink/pkg/metrics"
	"github.com/pzverkov/pqlink/pkg/tunnel"
)

type connectOptions struct {
	addr       string
	peerKey    string
	messages   []string
	attempts   int
	retryDelay time.Duration
	noAck      bool

	in io.Reader
}

func connectCmd(opts *options) *cobra.Command {
	co := &connectOptions{}

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run an initiator and send messages to a responder",
		Long: `Connect to a responder, verify its identity against --peer-key, establish
a session secret and send each --message as ConfidentialData. With no
--message, lines are read from standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			co.in = cmd.InOrStdin()
			return runConnect(ctx, opts, co)
		},
	}

	f := cmd.Flags()
	f.StringVar(&co.addr, "addr", "localhost:"+strconv.Itoa(constants.DefaultPort), "responder address")
	f.StringVar(&co.peerKey, "peer-key", "", "responder public key file (required unless auth is disabled)")
	f.StringArrayVarP(&co.messages, "message", "m", nil, "message to send (repeatable)")
	f.IntVar(&co.attempts, "attempts", 1, "connection attempts before giving up")
	f.DurationVar(&co.retryDelay, "retry-delay", time.Second, "pause between attempts")
	f.BoolVar(&co.noAck, "no-ack", false, "do not acknowledge the responder's AuthReply")
	return cmd
}

func runConnect(ctx context.Context, opts *options, co *connectOptions) error {
	cfg, err := opts.tunnelConfig()
	if err != nil {
		return err
	}
	cfg.SendAck = !co.noAck

	var peerKey []byte
	if cfg.Messages.Has(tunnel.MessagesAuth) {
		if co.peerKey == "" {
			return fmt.Errorf("--peer-key is required when auth is enabled")
		}
		p, err := opts.provider()
		if err != nil {
			return err
		}
		peerKey, err = identity.LoadPublicKey(co.peerKey, p.Sizes().SigningPublicKey)
		if err != nil {
			return err
		}
	}

	c, err := dialWithAttempts(ctx, opts, co, peerKey, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	s := c.Session()
	fmt.Fprintf(opts.out, "Session %s established with %s (%s)\n", s.ID(), c.RemoteAddr(), s.Messages())
	if ts, ok := s.PeerTimestamp(); ok {
		opts.logger.Debug("responder timestamp", metrics.Fields{"timestamp": ts})
	}

	if !cfg.Messages.Has(tunnel.MessagesConfidential) {
		return nil
	}
	if len(co.messages) > 0 {
		for _, m := range co.messages {
			if err := c.Send([]byte(m)); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "sent %d bytes\n", len(m))
		}
		return nil
	}

	scanner := bufio.NewScanner(co.in)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := c.Send([]byte(line)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dialWithAttempts dials up to co.attempts times. Every attempt starts a
// fresh session; nothing from a failed attempt is reused.
func dialWithAttempts(ctx context.Context, opts *options, co *connectOptions, peerKey []byte, cfg tunnel.Config) (*tunnel.Conn, error) {
	attempts := co.attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		c, err := tunnel.Dial(ctx, "tcp", co.addr, peerKey, cfg)
		if err == nil {
			return c, nil
		}
		lastErr = err
		opts.logger.Warn("connect attempt failed", metrics.Fields{
			"attempt": i,
			"of":      attempts,
			"error":   err.Error(),
		})
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(co.retryDelay):
		}
	}
	return nil, fmt.Errorf("connect to %s: %w", co.addr, lastErr)
}
