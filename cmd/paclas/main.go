// Command paclas is the off-chain claims signer. It builds, signs and checks
// the EIP-712 vouchers products accept in SubmitClaim.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var v voucherFlags

	cmd := &cobra.Command{
		Use:           "paclas",
		Short:         "Sign and verify Solace claim vouchers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	v.register(cmd)

	cmd.AddCommand(
		newDigestCmd(&v),
		newSignCmd(&v),
		newVerifyCmd(&v),
	)
	return cmd
}
