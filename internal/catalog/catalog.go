// Package catalog loads the tenant's quick replies and tags, consulting the
// cache first and collapsing concurrent loads into one backend call.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/collectdesk/convo/internal/cache"
	"github.com/collectdesk/convo/internal/model"
)

const (
	quickRepliesKey = "quick_replies"
	tagsKey         = "tags"
)

// Source is the backend side of the catalogs.
type Source interface {
	ListQuickReplies(ctx context.Context) ([]model.QuickReply, error)
	ListTags(ctx context.Context) ([]model.Tag, error)
}

// Loader serves catalogs from cache or the backend.
type Loader struct {
	src   Source
	cache cache.Store
	log   *slog.Logger
	group singleflight.Group
}

// NewLoader builds a Loader. A nil store disables caching.
func NewLoader(src Source, store cache.Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{src: src, cache: store, log: logger}
}

// QuickReplies returns the quick-reply catalog.
func (l *Loader) QuickReplies(ctx context.Context, refresh bool) ([]model.QuickReply, error) {
	return load(ctx, l, quickRepliesKey, refresh, l.src.ListQuickReplies)
}

// Tags returns the tag catalog.
func (l *Loader) Tags(ctx context.Context, refresh bool) ([]model.Tag, error) {
	return load(ctx, l, tagsKey, refresh, l.src.ListTags)
}

// Invalidate drops both cached catalogs.
func (l *Loader) Invalidate(ctx context.Context) {
	if l.cache == nil {
		return
	}
	l.cache.Clear(ctx, quickRepliesKey)
	l.cache.Clear(ctx, tagsKey)
}

func load[T any](ctx context.Context, l *Loader, key string, refresh bool, fetch func(context.Context) ([]T, error)) ([]T, error) {
	if !refresh && l.cache != nil {
		var cached []T
		if l.cache.Get(ctx, key, &cached) {
			l.log.Debug("catalog cache hit", "catalog", key, "items", len(cached))
			return cached, nil
		}
	}
	v, err, shared := l.group.Do(key, func() (any, error) {
		items, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if l.cache != nil {
			l.cache.Put(ctx, key, items)
		}
		return items, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	items := v.([]T)
	l.log.Debug("catalog loaded", "catalog", key, "items", len(items), "shared", shared)
	return items, nil
}
