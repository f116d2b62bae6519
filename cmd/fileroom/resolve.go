package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fileroom/internal/fsutil"
)

// newResolveCmd prints how the server would resolve each path, which is
// handy when checking symlinks placed under the root.
func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve PATH...",
		Short: "Show where client paths resolve and whether they stay inside the root",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			res, err := fsutil.NewResolver(cfg.Root)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tVERDICT\tTARGET")
			for _, a := range args {
				p := res.Resolve(a)
				verdict, target := "inside", p.Canonical
				if !p.Inside {
					verdict, target = "violation", p.Path
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", a, verdict, target)
			}
			return tw.Flush()
		},
	}
}
