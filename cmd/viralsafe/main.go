// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/viralsafe/pkg/logging"
	"github.com/AleutianAI/viralsafe/services/scanner/config"
	"github.com/AleutianAI/viralsafe/services/scanner/risk"
	"github.com/AleutianAI/viralsafe/services/scanner/signal"
)

var (
	flagConfig   string
	flagLogLevel string
	flagJSON     bool

	flagNoDeep   bool
	flagNoAI     bool
	flagNoIntel  bool
	flagNoCache  bool
	flagBatchIn  string

	rootCmd = &cobra.Command{
		Use:   "viralsafe",
		Short: "Scan URLs and messages for phishing, scams, and malware",
		Long: `viralsafe orchestrates reachability probes, content heuristics,
threat-intelligence feeds, and an AI ensemble into a single safety
verdict for a URL or a pasted message.`,
		SilenceUsage: true,
	}

	scanCmd = &cobra.Command{
		Use:   "scan [target]",
		Short: "Scan one URL or text payload",
		Args:  cobra.ExactArgs(1),
		RunE:  runScan,
	}

	batchCmd = &cobra.Command{
		Use:   "batch [targets...]",
		Short: "Scan multiple targets with bounded parallelism",
		Long: `Scans every target given as an argument, or read one per line
from the file named by --file. Use "-" to read targets from stdin.`,
		RunE: runBatch,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Report signal-source health and cache statistics",
		RunE:  runHealth,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to scanner.yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit the full verdict as JSON")

	for _, cmd := range []*cobra.Command{scanCmd, batchCmd} {
		cmd.Flags().BoolVar(&flagNoDeep, "no-deep", false, "skip the deep-scan tier")
		cmd.Flags().BoolVar(&flagNoAI, "no-ai", false, "skip the AI ensemble")
		cmd.Flags().BoolVar(&flagNoIntel, "no-threat-intel", false, "skip external threat feeds")
		cmd.Flags().BoolVar(&flagNoCache, "no-cache", false, "bypass the verdict cache")
	}
	batchCmd.Flags().StringVar(&flagBatchIn, "file", "", "file with one target per line (\"-\" for stdin)")

	rootCmd.AddCommand(scanCmd, batchCmd, healthCmd)
}

// setup loads config, builds the logger and the wired orchestrator.
func setup() (*config.Config, *logging.Logger, func(), error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, nil, err
	}

	levelStr := cfg.Logging.Level
	if flagLogLevel != "" {
		levelStr = flagLogLevel
	}
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "scanner",
		JSON:    cfg.Logging.JSON,
	})
	return &cfg, logger, func() { logger.Close() }, nil
}

func scanOptions() signal.Options {
	opts := signal.DefaultOptions()
	opts.DeepScan = !flagNoDeep
	opts.AIEnsemble = !flagNoAI
	opts.ThreatIntel = !flagNoIntel
	opts.CacheEnabled = !flagNoCache
	return opts
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	o, cleanup, err := buildScanner(*cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer cleanup()

	v, err := o.Scan(cmd.Context(), args[0], scanOptions())
	if err != nil {
		return err
	}
	return printVerdict(v)
}

func runBatch(cmd *cobra.Command, args []string) error {
	targets := args
	if flagBatchIn != "" {
		fromFile, err := readTargets(flagBatchIn)
		if err != nil {
			return err
		}
		targets = append(targets, fromFile...)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no targets: pass them as arguments or via --file")
	}

	cfg, logger, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	o, cleanup, err := buildScanner(*cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer cleanup()

	out := o.BatchScan(cmd.Context(), targets, scanOptions())
	if flagJSON {
		return printJSON(out)
	}

	for _, item := range out.Items {
		if item.Verdict != nil {
			fmt.Printf("%-50s %3d  %-8s %s\n",
				truncate(item.Target, 50), item.Verdict.FinalScore,
				item.Verdict.RiskLevel, item.Verdict.Grade)
		} else {
			fmt.Printf("%-50s ERR  %s\n", truncate(item.Target, 50), item.Error)
		}
	}
	fmt.Printf("\n%d scanned, %d ok, %d failed in %s\n",
		out.Total, out.Successful, out.Failed, out.TotalTime.Round(time.Millisecond))
	return nil
}

func runHealth(_ *cobra.Command, _ []string) error {
	cfg, logger, done, err := setup()
	if err != nil {
		return err
	}
	defer done()

	o, cleanup, err := buildScanner(*cfg, logger.Slog())
	if err != nil {
		return err
	}
	defer cleanup()

	return printJSON(o.HealthSnapshot())
}

func printVerdict(v risk.Verdict) error {
	if flagJSON {
		return printJSON(v)
	}

	fmt.Printf("Target:      %s\n", v.Target)
	fmt.Printf("Score:       %d/100 (grade %s, %s)\n", v.FinalScore, v.Grade, v.TrustRating)
	fmt.Printf("Risk:        %s\n", v.RiskLevel)
	fmt.Printf("Confidence:  %d%%\n", v.Confidence)
	if v.CacheHit {
		fmt.Println("Cache:       hit")
	}
	if v.Fallback {
		fmt.Println("Note:        all signal sources were unavailable; baseline verdict")
	}
	if len(v.RiskFactors) > 0 {
		fmt.Println("Risk factors:")
		for _, f := range v.RiskFactors {
			fmt.Printf("  - %s\n", f)
		}
	}
	if len(v.Recommendations) > 0 {
		fmt.Println("Recommendations:")
		for _, r := range v.Recommendations {
			fmt.Printf("  - %s\n", r)
		}
	}
	fmt.Printf("Scan %s completed in %s\n", v.ScanID, v.Elapsed.Round(time.Millisecond))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readTargets(path string) ([]string, error) {
	var r *os.File
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open targets file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return targets, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
