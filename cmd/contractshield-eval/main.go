// Command contractshield-eval is the reference host adapter for the PDP
// library: it loads a policy document and a request-context fixture from
// disk, wires the optional capabilities (schema loader, replay store,
// secret resolver) from the environment, and prints the resulting
// Decision. It is the library-embedding equivalent of the teacher's
// cmd/helm entry point, scoped to a single evaluate call instead of a
// long-running server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "contractshield-eval",
	Short: "Evaluate a ContractShield policy against a request-context fixture",
	Long: `contractshield-eval is a reference driver for the ContractShield PDP.

It is not part of the PDP's product surface — it exists so the pipeline
can be exercised from the command line the way an embedding host would
call pkg/pdp.Evaluate directly.`,
}

func main() {
	rootCmd.AddCommand(evalCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
