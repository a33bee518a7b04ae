package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/collectdesk/convo/internal/ingest"
)

// Options configures Follow.
type Options struct {
	URL     string
	Token   string
	Channel ChannelID

	PingTimeout      time.Duration
	PresenceInterval time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	// ResetAfter is how long a connection must stay up before the backoff
	// returns to MinBackoff.
	ResetAfter time.Duration

	// OnConnect runs after every successful subscribe, before events are
	// forwarded. Use it to re-read a snapshot so that nothing missed while
	// disconnected is lost; duplicates are absorbed downstream.
	OnConnect func(ctx context.Context) error
	Logger    *slog.Logger
}

func (o *Options) defaults() {
	if o.PingTimeout == 0 {
		o.PingTimeout = DefaultPingTimeout
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = 2 * time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = 30 * time.Second
		if o.MaxBackoff < o.MinBackoff {
			o.MaxBackoff = o.MinBackoff
		}
	}
	if o.ResetAfter <= 0 {
		o.ResetAfter = time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Follow keeps a feed subscription alive and forwards events to out until
// ctx is cancelled. Disconnects are retried with exponential backoff.
// Follow returns nil on cancellation and only returns an error when
// OnConnect fails.
func Follow(ctx context.Context, opts Options, out chan<- ingest.Event) error {
	opts.defaults()
	backoff := opts.MinBackoff

	for {
		start := time.Now()
		err := followOnce(ctx, opts, out)
		if ctx.Err() != nil {
			return nil
		}
		var hookErr *connectHookError
		if errors.As(err, &hookErr) {
			return hookErr.err
		}
		if time.Since(start) > opts.ResetAfter {
			backoff = opts.MinBackoff
		}
		opts.Logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
		backoff = min(backoff*2, opts.MaxBackoff)
	}
}

type connectHookError struct{ err error }

func (e *connectHookError) Error() string { return e.err.Error() }

func followOnce(ctx context.Context, opts Options, out chan<- ingest.Event) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := Connect(ctx, opts.URL, opts.Token)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close() }()
	conn.log = opts.Logger

	if err := conn.Subscribe(ctx, opts.Channel); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if opts.PresenceInterval > 0 {
		conn.StartPresence(ctx, opts.PresenceInterval, func(err error) {
			opts.Logger.Warn("presence failed", "error", err)
		})
	}

	// Read before the snapshot so events racing the snapshot are buffered,
	// not lost.
	deliveries := conn.Listen(ctx, opts.PingTimeout)
	if opts.OnConnect != nil {
		if err := opts.OnConnect(ctx); err != nil {
			return &connectHookError{err: err}
		}
	}
	opts.Logger.Debug("feed subscribed", "tenant", opts.Channel.TenantID)

	for d := range deliveries {
		if d.Err != nil {
			return d.Err
		}
		select {
		case out <- d.Event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
