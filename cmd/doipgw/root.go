// Package cmd implements the doipgw CLI using cobra, the way
// firestige-Otus/cmd/root.go assembles its command tree: a rootCmd
// holding persistent flags shared by every subcommand, with Execute
// called once from main.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	daemonMode bool
	verbose    bool
	trace      bool
	pidFile    string

	flagVIN      string
	flagAddress  string
	flagLoopback bool
)

var rootCmd = &cobra.Command{
	Use:   "doipgw",
	Short: "DoIP diagnostic gateway",
	Long: `doipgw is a DoIP (ISO 13400-2) gateway: it answers vehicle
identification requests, negotiates routing activation, and forwards
UDS (ISO 14229) diagnostic requests to a downstream ECU transport
(CAN ISO-TP or a mock provider).`,
}

// Execute runs the root command, returning the first error any
// command handler produces; main.go maps that to an exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "doipgw.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&daemonMode, "daemon", "d", false, "detach and run in the background")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&trace, "trace", false, "trace-level logging (implies --verbose)")
	rootCmd.PersistentFlags().StringVar(&pidFile, "pidfile", "", "pid file path, written after --daemon detaches")

	rootCmd.PersistentFlags().StringVar(&flagVIN, "vin", "", "override entity.vin from the config file")
	rootCmd.PersistentFlags().StringVar(&flagAddress, "address", "", "override entity.logical_address from the config file")
	rootCmd.PersistentFlags().BoolVar(&flagLoopback, "loopback", false, "send vehicle announcements to 127.0.0.1 instead of broadcast, overriding network.loopback")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(versionCmd)
}
