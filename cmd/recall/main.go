// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// The recall binary serves the cascading recall API: parallel tiered
// lookups across memory sources with profiling-driven auto-tuning.
package main

import (
	"log"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Adaptive cascading recall service",
	Long: `recall serves the Aleutian memory recall API. Queries are classified,
fanned out across memory sources under an auto-tuned concurrency cap
and timeout, optionally enriched with session context, and optionally
synthesized into a narrative answer.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recall HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults apply when omitted)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
