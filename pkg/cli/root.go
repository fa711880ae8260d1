// Package cli exposes the sieve command tree so other binaries can embed it.
package cli

import (
	"github.com/spf13/cobra"

	internalcli "github.com/SmitUplenchwar2687/Sieve/internal/cli"
)

// NewRootCmd creates the public Sieve root command for embedding.
func NewRootCmd() *cobra.Command {
	return internalcli.NewRootCmd()
}
