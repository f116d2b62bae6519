// Command fileroom serves a directory tree to browsers: listing, upload,
// download with on-the-fly zip, and basic file management.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fileroom/internal/config"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fileroom",
		Short:         "Browser file manager for a single directory tree",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json or toml)")
	pf.String("root", config.DefaultRoot, "directory to serve")
	pf.String("state", "", "state dir for upload parts and thumbnails")
	pf.String("log-level", "info", "debug, info, warn or error")

	serve := newServeCmd()
	root.AddCommand(serve, newResolveCmd())

	// plain "fileroom" behaves like "fileroom serve"
	root.Flags().AddFlagSet(serve.Flags())
	root.RunE = serve.RunE
	return root
}

// loadConfig merges file, env and flags for cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, _, err := config.Load(cfgFile, cmd.Flags())
	return cfg, err
}
