package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/sla"
	"github.com/collectdesk/convo/internal/store"
)

type slaRow struct {
	ConversationID string                   `json:"conversation_id"`
	Name           string                   `json:"name"`
	Status         model.ConversationStatus `json:"status"`
	sla.Evaluation
	Display string `json:"display"`
}

func newSLACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sla [CONVERSATION]",
		Short: "Evaluate SLA tiers for one conversation or every open one",
		Args:  cobra.MaximumNArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()

			var convs []model.Conversation
			if len(args) == 1 {
				conv, err := s.client.GetConversation(ctx, args[0])
				if err != nil {
					return err
				}
				convs = append(convs, *conv)
			} else {
				convs, err = s.client.ListConversations(ctx, "")
				if err != nil {
					return err
				}
			}

			st := store.New(nil)
			for _, c := range convs {
				if _, err := st.UpsertConversation(model.PatchFromConversation(c)); err != nil {
					return err
				}
			}

			now := time.Now()
			var rows []slaRow
			for _, c := range st.Conversations() {
				if len(args) == 0 && c.Status == model.StatusClosed {
					continue
				}
				ev, err := st.SLA(c.ID, now)
				if err != nil {
					return err
				}
				rows = append(rows, slaRow{ConversationID: c.ID, Name: c.Label(), Status: c.Status, Evaluation: ev, Display: ev.String()})
			}
			summary := st.SLASummary(now)

			f := newFormatter(cmd)
			if !f.StartTable("CONVERSATION", "NAME", "STATUS", "SLA") {
				return f.Output(map[string]any{"conversations": rows, "summary": summary})
			}
			for _, r := range rows {
				f.Row(r.ConversationID, truncate(r.Name, 30), string(r.Status), r.Display)
			}
			if err := f.EndTable(); err != nil {
				return err
			}
			if len(args) == 0 {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "on track %d, at risk %d, expired %d, untracked %d\n",
					summary[sla.OnTrack], summary[sla.AtRisk], summary[sla.Expired], summary[sla.None])
			}
			return nil
		}),
	}
}
