package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/collectdesk/convo/internal/cache"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the catalog cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove cached quick replies and tags",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			dir, err := cache.DefaultDir()
			if err != nil {
				return err
			}
			cache.ClearAll(dir)

			if s, err := openSession(); err == nil {
				defer s.Close()
				if redisStore, ok := s.cacheStore(cmd.Context()).(*cache.RedisStore); ok {
					if err := redisStore.ClearScope(cmd.Context()); err != nil {
						return fmt.Errorf("clear redis cache: %w", err)
					}
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		}),
	})
	return cmd
}
