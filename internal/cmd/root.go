package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/config"
	"github.com/collectdesk/convo/internal/debug"
	"github.com/collectdesk/convo/internal/outfmt"
)

// rootFlags holds global CLI flags.
type rootFlags struct {
	Output  string
	JQ      string
	Debug   bool
	Profile string
	Config  string
	Timeout time.Duration
}

// flags is reset at the start of every Execute call; tests rely on that.
var flags = rootFlags{
	Output:  defaultOutput(),
	Timeout: api.DefaultTimeout,
}

func defaultOutput() string {
	if value := strings.TrimSpace(os.Getenv("CONVO_OUTPUT")); value != "" {
		return value
	}
	return "text"
}

// Execute runs the root command.
func Execute(ctx context.Context, args []string) error {
	// .env first so CONVO_OUTPUT and friends feed the flag defaults.
	config.LoadDotEnv()

	flags = rootFlags{
		Output:  defaultOutput(),
		Config:  strings.TrimSpace(os.Getenv("CONVO_CONFIG")),
		Timeout: api.DefaultTimeout,
	}

	root := &cobra.Command{
		Use:           "convo",
		Short:         "Operator console for contact-center conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if flags.JQ != "" && !cmd.Flags().Changed("output") {
				flags.Output = "json"
			}
			mode, err := outfmt.Parse(strings.TrimSpace(flags.Output))
			if err != nil {
				return err
			}
			if flags.JQ != "" && mode == outfmt.Text {
				return fmt.Errorf("--jq requires --output json or jsonl")
			}
			if flags.Timeout < 0 {
				return fmt.Errorf("--timeout must be >= 0")
			}
			ctx = outfmt.WithMode(ctx, mode)
			ctx = outfmt.WithQuery(ctx, flags.JQ)

			debug.SetupLogger(flags.Debug)
			ctx = debug.WithDebug(ctx, flags.Debug)

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)
	root.PersistentFlags().StringVarP(&flags.Output, "output", "o", flags.Output, "Output format: text|json|jsonl (env CONVO_OUTPUT)")
	root.PersistentFlags().StringVar(&flags.JQ, "jq", "", "jq expression applied to JSON output")
	root.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flags.Profile, "profile", "", "Credentials profile (env CONVO_PROFILE)")
	root.PersistentFlags().StringVarP(&flags.Config, "config", "c", flags.Config, "Engine settings, comma-separated YAML files (env CONVO_CONFIG)")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", flags.Timeout, "HTTP request timeout (e.g. 30s, 2m)")

	root.AddCommand(newAuthCmd())
	root.AddCommand(newFollowCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newNoteCmd())
	root.AddCommand(newMediaCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newTagCmd())
	root.AddCommand(newLinkCmd())
	root.AddCommand(newSuggestCmd())
	root.AddCommand(newQuickCmd())
	root.AddCommand(newSLACmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newVersionCmd())

	err := root.Execute()
	if err != nil && !errors.Is(err, errAlreadyHandled) {
		// Flag and argument errors never reach RunE.
		_, _ = fmt.Fprint(root.ErrOrStderr(), HandleError(err))
	}
	return err
}
