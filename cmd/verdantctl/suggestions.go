// Verdant - Offline Plant Analysis Cache and Model Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/verdant

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSuggestionsCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Show current mode suggestions learned from usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := e.service(cmd.Context())
			if err != nil {
				return err
			}
			list, err := svc.Suggestions(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("suggestions: %w", err)
			}
			if len(list) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No suggestions yet")
				return nil
			}
			t := newTable(cmd.OutOrStdout(), "TYPE", "VALUE", "CONFIDENCE", "REASON")
			for _, s := range list {
				t.row(s.Type, s.Value, fmt.Sprintf("%.0f%%", s.Confidence*100), s.Reason)
			}
			return t.flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum suggestions (0 uses the configured default)")
	return cmd
}
