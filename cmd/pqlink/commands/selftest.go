package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqlink/pkg/crypto"
)

func selftestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Run the known-answer and round-trip cryptographic self tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfTest(opts)
		},
	}
}

func runSelfTest(opts *options) error {
	post := crypto.RunPOST()
	status := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "FAILED"
	}
	fmt.Fprintf(opts.out, "Known-answer tests (FIPS mode: %v)\n", crypto.FIPSMode())
	fmt.Fprintf(opts.out, "  stream ciphers: %s\n", status(post.StreamPassed))
	fmt.Fprintf(opts.out, "  ML-DSA-44:      %s\n", status(post.MLDSAPassed))
	fmt.Fprintf(opts.out, "  ML-KEM-512:     %s\n", status(post.MLKEMPassed))
	if !post.Passed {
		return fmt.Errorf("self test failed: %v", post.Errors)
	}

	for _, suite := range crypto.SupportedStreamSuites() {
		p, err := crypto.NewProvider(suite)
		if err != nil {
			return err
		}
		if err := crypto.SelfTest(p); err != nil {
			fmt.Fprintf(opts.out, "  provider %s: FAILED\n", suite)
			return err
		}
		fmt.Fprintf(opts.out, "  provider %s: ok\n", suite)
	}
	return nil
}
