package main

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/vetbook/libs/config"
	"github.com/md-rashed-zaman/vetbook/libs/db"
	"github.com/md-rashed-zaman/vetbook/libs/runtime"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/directory"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func providerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage the provider directory",
	}

	upsertCmd := &cobra.Command{
		Use:   "upsert",
		Short: "Write the providers from the config file into the directory tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			only, _ := cmd.Flags().GetString("id")
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return upsertProviders(ctx, cmd, only)
		},
	}
	upsertCmd.Flags().String("id", "", "Only upsert the provider with this id")
	cmd.AddCommand(upsertCmd)
	return cmd
}

func upsertProviders(ctx context.Context, cmd *cobra.Command, only string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(s.Service, s.LogLevel, s.LogFormat)
	providers, err := loadProviders(s.DefaultCurrency)
	if err != nil {
		return err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := storage.NewProviderRepository(pool)
	var cache *directory.Cached
	if s.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB})
		defer rdb.Close()
		cache = directory.NewCached(repo, rdb, s.CacheTTL, logger)
	}

	count := 0
	for _, p := range providers {
		if only != "" && p.ID != only {
			continue
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return fmt.Errorf("upsert provider %s: %w", p.ID, err)
		}
		if cache != nil {
			invalidateCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := cache.Invalidate(invalidateCtx, p.ID); err != nil {
				logger.Warn().Err(err).Str("provider_id", p.ID).Msg("provider cache invalidation failed")
			}
			cancel()
		}
		count++
	}
	if only != "" && count == 0 {
		return fmt.Errorf("provider %q is not in the config file", only)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "upserted %d provider(s)\n", count)
	return nil
}
