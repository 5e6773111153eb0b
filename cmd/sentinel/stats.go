package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/archgraph/sentinel/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats <repo-id>",
	Short: "Show the most recent completed analysis run for a repo",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	repoID := args[0]

	dsn := cfg.Storage.LocalPath
	if cfg.Storage.Type == "postgres" {
		dsn = cfg.Storage.PostgresDSN
	}

	st, err := store.New(dsn, logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	run, err := st.GetMostRecentCompleted(cmd.Context(), repoID)
	if err != nil {
		return fmt.Errorf("load most recent completed run: %w", err)
	}

	findings, err := st.GetFindings(cmd.Context(), run.ID)
	if err != nil {
		return fmt.Errorf("load findings: %w", err)
	}

	fmt.Printf("repo:         %s\n", repoID)
	fmt.Printf("run id:       %s\n", run.ID)
	fmt.Printf("health score: %s\n", formatScore(run.HealthScore))
	fmt.Printf("structure:    %s\n", formatScore(run.StructureScore))
	fmt.Printf("quality:      %s\n", formatScore(run.QualityScore))
	fmt.Printf("architecture: %s\n", formatScore(run.ArchitectureScore))
	fmt.Printf("findings:     %d\n", len(findings))
	if run.CompletedAt != nil {
		fmt.Printf("completed at: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func formatScore(score *float64) string {
	if score == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f", *score)
}
