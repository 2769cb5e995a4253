package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqlink/pkg/crypto"
	"github.com/pzverkov/pqlink/pkg/identity"
)

func fingerprintCmd(opts *options) *cobra.Command {
	var pubPath string

	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of the local identity or a peer public key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.provider()
			if err != nil {
				return err
			}
			if pubPath == "" {
				pubPath = opts.store().PublicKeyPath()
			}
			pub, err := identity.LoadPublicKey(pubPath, p.Sizes().SigningPublicKey)
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "Fingerprint: %s\n", crypto.FingerprintString(pub))
			return nil
		},
	}
	cmd.Flags().StringVar(&pubPath, "pub", "", "public key file (default: the local identity)")
	return cmd
}
