package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/outfmt"
	"github.com/collectdesk/convo/internal/suggest"
)

type suggestionView struct {
	ConversationID string             `json:"conversation_id"`
	Text           string             `json:"text"`
	Complete       bool               `json:"complete"`
	Canceled       bool               `json:"canceled"`
	Sent           *model.ChatMessage `json:"sent,omitempty"`
	Error          string             `json:"error,omitempty"`
}

func newSuggestCmd() *cobra.Command {
	var (
		send    bool
		history int
	)
	cmd := &cobra.Command{
		Use:   "suggest CONVERSATION",
		Short: "Stream a reply suggestion; Ctrl-C keeps the partial text",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if history <= 0 {
				return fmt.Errorf("--history must be > 0")
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			conversationID := args[0]
			ctx := cmd.Context()
			conv, err := s.client.GetConversation(ctx, conversationID)
			if err != nil {
				return err
			}
			msgs, err := s.client.ListMessages(ctx, conversationID, history)
			if err != nil {
				return err
			}
			req := api.SuggestionRequest{
				ConversationID: conversationID,
				Messages:       api.HistoryFromMessages(msgs),
				Context: &api.SuggestionContext{
					ClientName: conv.Label(),
					Status:     string(conv.Status),
				},
			}

			streamCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			printed := 0
			var onText func(string)
			if !outfmt.IsJSON(ctx) {
				onText = func(text string) {
					_, _ = fmt.Fprint(out, text[printed:])
					printed = len(text)
				}
			}
			res, err := suggest.Generate(streamCtx, s.client, req, onText)
			stop()
			if onText != nil && printed > 0 {
				_, _ = fmt.Fprintln(out)
			}
			// A broken stream keeps whatever text arrived but still fails the
			// command, and the partial text is never sent.
			var streamErr *suggest.StreamError
			if err != nil && (!errors.As(err, &streamErr) || !res.Usable()) {
				return err
			}

			view := suggestionView{ConversationID: conversationID, Text: res.Text, Complete: res.Complete, Canceled: res.Canceled}
			if streamErr != nil {
				view.Error = streamErr.Error()
			}
			if send && streamErr == nil {
				if !res.Usable() {
					return fmt.Errorf("no suggestion text to send")
				}
				msg, err := newDispatcher(s).AcceptSuggestion(ctx, conversationID, strings.TrimSpace(res.Text))
				if err != nil {
					return err
				}
				view.Sent = &msg
			}
			if outfmt.IsJSON(ctx) {
				if err := newFormatter(cmd).Output(view); err != nil {
					return err
				}
			} else {
				switch {
				case streamErr != nil:
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "(stream failed; partial suggestion kept)")
				case res.Canceled:
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "(stopped; partial suggestion kept)")
				case !res.Complete:
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "(stream ended early)")
				}
				if view.Sent != nil {
					_, _ = fmt.Fprintf(out, "sent %s\n", view.Sent.ID)
				}
			}
			if streamErr != nil {
				if send {
					return fmt.Errorf("partial suggestion not sent: %w", streamErr)
				}
				return streamErr
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&send, "send", false, "Send the suggestion once generated")
	cmd.Flags().IntVar(&history, "history", 20, "Recent messages given as context")
	return cmd
}
