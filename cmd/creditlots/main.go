// Command creditlots runs the credit lot engine: the REST API with its
// payment webhook, the maintenance worker, one-off sweeps and migrations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	dev        bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "creditlots",
		Short:         "Credit lot reservation and settlement engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a yaml config file")
	root.PersistentFlags().BoolVar(&flags.dev, "dev", false, "use a local sqlite database and in-process locks")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newSweepCommand(flags))
	root.AddCommand(newMigrateCommand(flags))
	return root
}
