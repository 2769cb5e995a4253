package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqlink/internal/constants"
	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/identity"
	"github.com/pzverkov/pqlink/pkg/metrics"
	"github.com/pzverkov/pqlink/pkg/tunnel"
)

// options holds the persistent flags shared by every subcommand.
type options struct {
	home      string
	logLevel  string
	logFormat string
	suite     string
	messages  string

	out    io.Writer
	errOut io.Writer
	logger *metrics.Logger
}

// Execute runs the root command against os.Args.
func Execute() error {
	return newRootCmd(os.Stdout, os.Stderr).Execute()
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "pqlink",
		Short:         "Post-quantum authenticated sessions over a byte stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				opts.home = filepath.Join(dir, ".pqlink")
			}
			return opts.setupLogger()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.home, "home", "", "identity directory (default ~/.pqlink)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error, silent")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&opts.suite, "suite", "aes-256-ctr", "stream cipher suite: aes-256-ctr or chacha20")
	pf.StringVar(&opts.messages, "messages", "all", "enabled message kinds: all, or auth/kem/confidential joined by +")

	root.AddCommand(
		keygenCmd(opts),
		fingerprintCmd(opts),
		serveCmd(opts),
		connectCmd(opts),
		selftestCmd(opts),
		benchCmd(opts),
		versionCmd(opts),
	)

	return root
}

func (o *options) setupLogger() error {
	level, err := metrics.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	format, err := metrics.ParseFormat(o.logFormat)
	if err != nil {
		return err
	}
	o.logger = metrics.NewLogger(
		metrics.WithOutput(o.errOut),
		metrics.WithLevel(level),
		metrics.WithFormat(format),
		metrics.WithFields(metrics.Fields{"app": "pqlink"}),
	)
	metrics.SetLogger(o.logger)
	return nil
}

// tunnelConfig builds the session configuration from the persistent flags.
func (o *options) tunnelConfig() (tunnel.Config, error) {
	cfg := tunnel.DefaultConfig()

	suite, ok := constants.ParseStreamSuite(strings.ToLower(o.suite))
	if !ok {
		return cfg, fmt.Errorf("unknown stream suite %q", o.suite)
	}
	cfg.Suite = suite

	messages, err := tunnel.ParseMessageSet(o.messages)
	if err != nil {
		return cfg, err
	}
	cfg.Messages = messages
	cfg.Logger = o.logger

	return cfg, cfg.Validate()
}

func (o *options) provider() (*crypto.CirclProvider, error) {
	suite, ok := constants.ParseStreamSuite(strings.ToLower(o.suite))
	if !ok {
		return nil, fmt.Errorf("unknown stream suite %q", o.suite)
	}
	return crypto.NewProvider(suite)
}

func (o *options) store() *identity.FileStore {
	return identity.NewFileStore(o.home)
}

// loadIdentity reads the identity from the home directory and checks that
// its halves belong together.
func (o *options) loadIdentity(p crypto.Provider) (*identity.Identity, error) {
	sizes := p.Sizes()
	id, err := o.store().Load(sizes.SigningPublicKey, sizes.SigningSecretKey)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, fmt.Errorf("no identity in %s (run pqlink keygen)", o.home)
		}
		return nil, err
	}
	if err := id.Validate(p); err != nil {
		id.Wipe()
		return nil, err
	}
	return id, nil
}
