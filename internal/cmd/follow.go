package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/collectdesk/convo/internal/ingest"
	"github.com/collectdesk/convo/internal/metrics"
	"github.com/collectdesk/convo/internal/model"
	"github.com/collectdesk/convo/internal/outfmt"
	"github.com/collectdesk/convo/internal/realtime"
	"github.com/collectdesk/convo/internal/store"
)

// changeView is one printed line of the follow stream.
type changeView struct {
	At           time.Time           `json:"at"`
	Kind         store.ChangeKind    `json:"kind"`
	Conversation *model.Conversation `json:"conversation,omitempty"`
	Message      *model.ChatMessage  `json:"message,omitempty"`
}

func newFollowCmd() *cobra.Command {
	var (
		active      string
		metricsAddr string
		duration    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Hydrate the tenant's conversations and follow the realtime feed",
		Long: `Loads a snapshot of conversations, subscribes to the realtime feed and
prints every committed change. The snapshot is re-read after each reconnect;
messages seen twice are applied once. Waiting conversations are announced
once per episode through the configured notifier.`,
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()
			if metricsAddr == "" {
				metricsAddr = s.settings.Metrics.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			notifier, err := s.notifier(ctx)
			if err != nil {
				return err
			}
			log := slog.Default()
			st := store.New(log.With("component", "store"))
			ic := ingest.New(st, notifier, ingest.WithReadMarker(s.client), ingest.WithLogger(log.With("component", "ingest")))
			defer ic.Reset()

			changes, unwatch := st.Watch(512)
			defer unwatch()

			cableURL := s.profile.CableURL
			if cableURL == "" {
				cableURL = realtime.CableURL(s.profile.BaseURL)
			}
			events := make(chan ingest.Event, 256)

			// The snapshot is queued behind events already delivered so the
			// dispatcher loop applies it; Follow does not forward the new
			// connection's deliveries until it is queued.
			activate := active
			hydrate := func(ctx context.Context) error {
				snap, err := ingest.FetchSnapshot(ctx, s.client, s.settings.Snapshot.MessageLimit)
				if err != nil {
					return err
				}
				select {
				case events <- ingest.SnapshotEvent{Snapshot: snap, Activate: activate}:
					activate = ""
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				defer close(events)
				return realtime.Follow(gctx, realtime.Options{
					URL:   cableURL,
					Token: s.profile.APIToken,
					Channel: realtime.ChannelID{
						TenantID:   s.profile.TenantID,
						OperatorID: s.profile.OperatorID,
					},
					PingTimeout:      s.settings.Realtime.PingTimeout,
					PresenceInterval: s.settings.Realtime.PresenceInterval,
					MinBackoff:       s.settings.Realtime.MinBackoff,
					MaxBackoff:       s.settings.Realtime.MaxBackoff,
					OnConnect:        hydrate,
					Logger:           log.With("component", "realtime"),
				}, events)
			})
			g.Go(func() error {
				err := ic.Run(gctx, events)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				return printChanges(gctx, cmd.OutOrStdout(), st, changes)
			})
			g.Go(func() error {
				refreshSLA(gctx, st, slaRefreshInterval)
				return nil
			})
			if metricsAddr != "" {
				g.Go(func() error {
					return serveMetrics(gctx, metricsAddr)
				})
			}

			err = g.Wait()
			if err != nil && ctx.Err() != nil && !store.IsConflict(err) {
				return nil
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&active, "active", "", "Conversation to keep marked as read")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9102)")
	cmd.Flags().DurationVar(&duration, "for", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func printChanges(ctx context.Context, w io.Writer, st *store.Store, changes <-chan store.Change) error {
	mode := outfmt.ModeFromContext(ctx)
	query := outfmt.GetQuery(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			view := changeView{At: time.Now().UTC(), Kind: ch.Kind}
			if conv, ok := st.Conversation(ch.ConversationID); ok {
				view.Conversation = &conv
			}
			if ch.MessageID != "" {
				if msg, ok := st.Message(ch.MessageID); ok {
					view.Message = &msg
				}
			}
			if mode == outfmt.Text {
				_, _ = fmt.Fprintln(w, formatChange(view, ch))
				continue
			}
			if err := outfmt.WriteFiltered(w, view, query, true); err != nil {
				return err
			}
		}
	}
}

func formatChange(v changeView, ch store.Change) string {
	name := ch.ConversationID
	status := ""
	if v.Conversation != nil {
		name = v.Conversation.Label()
		status = string(v.Conversation.Status)
	}
	line := fmt.Sprintf("%s  %-22s %s", v.At.Local().Format("15:04:05"), ch.Kind, name)
	switch {
	case v.Message != nil:
		arrow := "<"
		if v.Message.Direction == model.Outbound {
			arrow = ">"
		}
		if v.Message.IsInternal {
			arrow = "#"
		}
		body := v.Message.Text()
		if body == "" && v.Message.MediaURL != nil {
			body = "[" + string(v.Message.Type) + "] " + deref(v.Message.MediaURL)
		}
		line += fmt.Sprintf(" %s %s (%s)", arrow, truncate(body, 80), v.Message.Status)
	case status != "":
		line += fmt.Sprintf(" [%s, %d unread]", status, v.Conversation.UnreadCount)
	}
	return line
}

// slaRefreshInterval re-evaluates SLA tiers that move with the clock alone.
const slaRefreshInterval = 30 * time.Second

func refreshSLA(ctx context.Context, st *store.Store, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			st.SLASummary(now)
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
