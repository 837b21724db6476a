// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newModelsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List, download and evict on-device models",
	}
	cmd.AddCommand(newModelsListCmd(e), newModelsDownloadCmd(e), newModelsEvictCmd(e))
	return cmd
}

func newModelsListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the model catalog and cache state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout(), "ID", "NAME", "VERSION", "SIZE", "MODES", "STATE", "CACHED")
			for _, m := range svc.ModelCatalog() {
				cached := "-"
				if !m.CachedAt.IsZero() {
					cached = m.CachedAt.Local().Format(time.DateTime)
				}
				t.row(m.ID, m.Name, m.Version, fmt.Sprintf("%.1f MB", m.SizeMB),
					strings.Join(m.Modes, ","), m.State, cached)
			}
			return t.flush()
		},
	}
}

func newModelsDownloadCmd(e *env) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "download <model-id>",
		Short: "Download a model so it can run offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			id := args[0]
			model, err := svc.Model(id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if svc.IsModelCached(id) {
				_, _ = fmt.Fprintf(out, "%s is already cached\n", id)
				return nil
			}

			onProgress := func(int) {}
			var bar *progressbar.ProgressBar
			if !quiet {
				bar = progressbar.NewOptions(100,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription(fmt.Sprintf("Downloading %s", model.Name)),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
				onProgress = func(p int) { _ = bar.Set(p) }
			}

			if err := svc.DownloadModel(cmd.Context(), id, onProgress); err != nil {
				return fmt.Errorf("download %s: %w", id, err)
			}
			if bar != nil {
				_ = bar.Finish()
				_, _ = fmt.Fprintln(cmd.ErrOrStderr())
			}
			_, _ = fmt.Fprintf(out, "%s cached\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress the progress bar")
	return cmd
}

func newModelsEvictCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "evict <model-id>",
		Short: "Remove a cached model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.EvictModel(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("evict %s: %w", args[0], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s evicted\n", args[0])
			return nil
		},
	}
}
