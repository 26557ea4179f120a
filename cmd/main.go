package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "reservoird",
		Short:        "Water reservoir pump monitoring and control",
		SilenceUsage: true,
	}
	serveCmd := newServeCmd(&configPath)
	// serve is the default command
	root.RunE = serveCmd.RunE
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default configs/config.yml)")
	root.AddCommand(
		serveCmd,
		newPortsCmd(),
		newReadCmd(&configPath),
	)
	return root
}
