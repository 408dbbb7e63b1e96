// Command pluginctl vets and runs parser plugins locally, without a
// server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

type globalOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "pluginctl",
		Short: "Vet and run link-resolution plugins",
		Long: `pluginctl checks plugin sources against the sandbox security policies
and runs their capabilities in an isolated interpreter context.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or TOML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log sandbox internals to stderr")

	root.AddCommand(newCheckCommand(opts))
	root.AddCommand(newRunCommand(opts))
	return root
}
