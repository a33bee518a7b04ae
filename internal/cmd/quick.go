package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/quickreply"
)

type quickResult struct {
	Input      string             `json:"input"`
	Matches    []model.QuickReply `json:"matches"`
	DidYouMean []model.QuickReply `json:"did_you_mean,omitempty"`
	Selected   string             `json:"selected,omitempty"`
}

func newQuickCmd() *cobra.Command {
	var (
		refresh bool
		selectN int
	)
	cmd := &cobra.Command{
		Use:   "quick INPUT",
		Short: "Match quick replies for composer input such as /bol",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			replies, err := s.catalog(cmd.Context()).QuickReplies(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			prefix := s.settings.QuickReply.Prefix
			composer := quickreply.NewComposer(replies, prefix)
			composer.SetInput(args[0])
			if !composer.Open() {
				return fmt.Errorf("input must start with %q", prefix)
			}

			res := quickResult{Input: args[0], Matches: composer.Candidates()}
			if res.Matches == nil {
				res.Matches = []model.QuickReply{}
			}
			if len(res.Matches) == 0 {
				query, _ := quickreply.Query(args[0], prefix)
				res.DidYouMean = quickreply.Closest(query, replies, 3)
			}
			if cmd.Flags().Changed("select") {
				text, err := composer.Select(selectN)
				if err != nil {
					return err
				}
				res.Selected = text
			}

			f := newFormatter(cmd)
			if !f.StartTable("SHORTCUT", "CONTENT") {
				return f.Output(res)
			}
			if res.Selected != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Selected)
				return nil
			}
			for _, qr := range res.Matches {
				f.Row(prefix+qr.Shortcut, truncate(qr.Content, 60))
			}
			if err := f.EndTable(); err != nil {
				return err
			}
			if len(res.Matches) == 0 {
				f.Empty("no quick replies match")
				for _, qr := range res.DidYouMean {
					f.Empty("  did you mean " + prefix + qr.Shortcut + "?")
				}
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the catalog cache")
	cmd.Flags().IntVar(&selectN, "select", 0, "Print the content of the Nth match (0-based)")
	return cmd
}
