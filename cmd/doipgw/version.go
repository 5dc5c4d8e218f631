package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the doipgw version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("doipgw", version)
	},
}
