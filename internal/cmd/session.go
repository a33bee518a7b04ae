package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/collectdesk/convo/internal/api"
	"github.com/collectdesk/convo/internal/cache"
	"github.com/collectdesk/convo/internal/catalog"
	"github.com/collectdesk/convo/internal/config"
	"github.com/collectdesk/convo/internal/notify"
)

// session bundles what a tenant-scoped command needs.
type session struct {
	profile  config.Profile
	settings *config.Settings
	client   *api.Client
	closers  []func() error
}

func openSession() (*session, error) {
	profile, err := config.Resolve(flags.Profile)
	if err != nil {
		return nil, err
	}
	settings, err := config.LoadSettings(flags.Config)
	if err != nil {
		return nil, err
	}
	client := api.New(profile.BaseURL, profile.APIToken, profile.TenantID)
	if flags.Timeout > 0 {
		client.HTTP.Timeout = flags.Timeout
	}
	client.UserAgent = "convo/" + version
	return &session{profile: profile, settings: settings, client: client}, nil
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// cacheStore returns Redis when configured, otherwise the file cache. A
// Redis that cannot be reached falls back to files.
func (s *session) cacheStore(ctx context.Context) cache.Store {
	rc := s.settings.Redis
	if rc.Addr != "" {
		client, err := cache.DialRedis(ctx, rc.Addr, rc.Password, rc.Database)
		if err == nil {
			s.closers = append(s.closers, client.Close)
			return cache.NewRedisStore(client, rc.Prefix, s.profile.BaseURL, s.profile.TenantID, s.settings.Catalog.TTL)
		}
		slog.Warn("redis cache unavailable, using file cache", "addr", rc.Addr, "error", err)
	}
	dir, err := cache.DefaultDir()
	if err != nil {
		return nil
	}
	return cache.NewFileStore(dir, s.profile.BaseURL, s.profile.TenantID, s.settings.Catalog.TTL)
}

func (s *session) catalog(ctx context.Context) *catalog.Loader {
	return catalog.NewLoader(s.client, s.cacheStore(ctx), slog.Default().With("component", "catalog"))
}

// notifier publishes to AMQP when a broker is configured and logs otherwise.
func (s *session) notifier(ctx context.Context) (notify.Notifier, error) {
	n := s.settings.Notify
	if n.AMQPURL == "" {
		return notify.LogNotifier{Log: slog.Default().With("component", "notify")}, nil
	}
	pub, err := notify.DialAMQP(ctx, notify.AMQPOptions{
		URL:        n.AMQPURL,
		Exchange:   n.Exchange,
		RoutingKey: n.RoutingKey,
		Producer:   "convo/" + s.profile.TenantID,
		Logger:     slog.Default().With("component", "notify"),
	})
	if err != nil {
		return nil, fmt.Errorf("notification broker: %w", err)
	}
	s.closers = append(s.closers, pub.Close)
	return pub, nil
}
