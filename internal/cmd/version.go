package cmd

import (
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/collectdesk/convo/internal/cmd.version=..."
var (
	version = "dev"
	commit  = "none"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := newFormatter(cmd)
			if f.StartTable("VERSION", "COMMIT") {
				f.Row(version, commit)
				return f.EndTable()
			}
			return f.Output(map[string]string{"version": version, "commit": commit})
		},
	}
}
