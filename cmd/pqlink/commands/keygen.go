package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqlink/pkg/identity"
)

func keygenCmd(opts *options) *cobra.Command {
	var (
		force  bool
		export string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the responder's signing identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := opts.store()
			if store.Exists() && !force {
				return fmt.Errorf("identity already exists in %s (use --force to replace it)", opts.home)
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

			if err := store.Save(id); err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "Identity created in %s\n", opts.home)
			fmt.Fprintf(opts.out, "Public key:  %s\n", store.PublicKeyPath())
			if export != "" {
				if err := identity.SavePublicKey(export, id.PublicKey); err != nil {
					return fmt.Errorf("export public key: %w", err)
				}
				fmt.Fprintf(opts.out, "Exported:    %s\n", export)
			}
			fmt.Fprintf(opts.out, "Fingerprint: %s\n", id.Fingerprint())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity")
	cmd.Flags().StringVar(&export, "export", "", "also write the public key to this file for distribution to initiators")
	return cmd
}
