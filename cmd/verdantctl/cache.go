// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and prune cached analyses",
	}
	cmd.AddCommand(newCacheStatsCmd(e), newCachePurgeCmd(e), newCacheClearCmd(e))
	return cmd
}

func newCacheStatsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := svc.CacheStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Cached analyses: %d\n", stats.Count)
			_, _ = fmt.Fprintf(out, "Approximate size: %s\n", humanBytes(stats.ApproximateSizeBytes))
			return nil
		},
	}
}

func newCachePurgeCmd(e *env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete analyses older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 0 {
				return errors.New("--days must not be negative")
			}
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.PurgeCache(cmd.Context(), days)
			if err != nil {
				return fmt.Errorf("purge cache: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Purged %d analyses older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "age threshold in days (0 deletes everything)")
	return cmd
}

func newCacheClearCmd(e *env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				return errors.New("refusing to clear the cache without --force")
			}
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			n, err := svc.ClearCache(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d analyses\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "confirm deletion")
	return cmd
}
