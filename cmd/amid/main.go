// Command amid is the hosted-service glue named but left external by
// the core's scope: it loads configuration, runs a Supervisor, wires
// optional message-bus bridges, and serves until signalled.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "amid",
		Short: "Asterisk Manager Interface supervisor daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(serveCmd())
	root.AddCommand(healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
