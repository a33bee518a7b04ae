package cmd

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/outbound"
	"github.com/collectdesk/convo/internal/store"
)

// maxMediaBytes caps uploads read from disk.
const maxMediaBytes = 16 << 20

func newDispatcher(s *session) *outbound.Dispatcher {
	return outbound.New(store.New(nil), s.client, nil)
}

func printMessage(cmd *cobra.Command, msg model.ChatMessage) error {
	f := newFormatter(cmd)
	if f.StartTable("ID", "CONVERSATION", "TYPE", "STATUS") {
		f.Row(msg.ID, msg.ConversationID, string(msg.Type), string(msg.Status))
		return f.EndTable()
	}
	return f.Output(msg)
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send CONVERSATION TEXT...",
		Short: "Send a text message",
		Args:  cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			msg, err := newDispatcher(s).SendText(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printMessage(cmd, msg)
		}),
	}
}

func newNoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note CONVERSATION TEXT...",
		Short: "Save an internal note (never reaches the remote party)",
		Args:  cobra.MinimumNArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			msg, err := newDispatcher(s).SendNote(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printMessage(cmd, msg)
		}),
	}
}

func newMediaCmd() *cobra.Command {
	var caption, mimeType string
	cmd := &cobra.Command{
		Use:   "media CONVERSATION FILE",
		Short: "Upload a file and send it as a media message",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			content, err := readMediaFile(args[1])
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = detectMIME(args[1], content)
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			msg, err := newDispatcher(s).SendMedia(cmd.Context(), args[0], outbound.Media{
				Filename: filepath.Base(args[1]),
				MimeType: mimeType,
				Content:  content,
				Caption:  caption,
			})
			if err != nil {
				return err
			}
			return printMessage(cmd, msg)
		}),
	}
	cmd.Flags().StringVar(&caption, "caption", "", "Caption sent with the file")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "MIME type (default: detected)")
	return cmd
}

func readMediaFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxMediaBytes {
		return nil, fmt.Errorf("%s is %d bytes; files must be at most %d bytes", path, info.Size(), maxMediaBytes)
	}
	return os.ReadFile(path)
}

func detectMIME(path string, content []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(content)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status CONVERSATION open|waiting|closed",
		Short: "Change a conversation's status",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			status, err := model.ParseConversationStatus(args[1])
			if err != nil {
				return err
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			if err := newDispatcher(s).ChangeStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			return printAction(cmd, args[0], "status", string(status))
		}),
	}
}

func newTagCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "tag CONVERSATION TAG",
		Short: "Assign (or --remove) a tag",
		Args:  cobra.ExactArgs(2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			d := newDispatcher(s)
			action := "tag_assigned"
			if remove {
				action = "tag_removed"
				err = d.RemoveTag(cmd.Context(), args[0], args[1])
			} else {
				err = d.AssignTag(cmd.Context(), args[0], args[1])
			}
			if err != nil {
				return err
			}
			return printAction(cmd, args[0], action, args[1])
		}),
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the tag instead")
	return cmd
}

func newLinkCmd() *cobra.Command {
	var unlink bool
	cmd := &cobra.Command{
		Use:   "link CONVERSATION [CLIENT]",
		Short: "Link the conversation to a client record (or --unlink)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			if unlink == (len(args) == 2) {
				return fmt.Errorf("exactly one of CLIENT or --unlink is required")
			}
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			d := newDispatcher(s)
			if unlink {
				if err := d.UnlinkClient(cmd.Context(), args[0]); err != nil {
					return err
				}
				return printAction(cmd, args[0], "unlinked", "")
			}
			if err := d.LinkClient(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			return printAction(cmd, args[0], "linked", args[1])
		}),
	}
	cmd.Flags().BoolVar(&unlink, "unlink", false, "Remove the client link")
	return cmd
}

type actionResult struct {
	ConversationID string `json:"conversation_id"`
	Action         string `json:"action"`
	Value          string `json:"value,omitempty"`
}

func printAction(cmd *cobra.Command, conversationID, action, value string) error {
	f := newFormatter(cmd)
	res := actionResult{ConversationID: conversationID, Action: action, Value: value}
	if f.StartTable("CONVERSATION", "ACTION", "VALUE") {
		f.Row(res.ConversationID, res.Action, res.Value)
		return f.EndTable()
	}
	return f.Output(res)
}
