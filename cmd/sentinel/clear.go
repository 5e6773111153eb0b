package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archgraph/sentinel/internal/cache"
)

var clearCmd = &cobra.Command{
	Use:   "clear <repo-id>",
	Short: "Evict a repo's cached baseline metrics from Redis",
	Args:  cobra.ExactArgs(1),
	RunE:  runClear,
}

func runClear(cmd *cobra.Command, args []string) error {
	repoID := args[0]

	if cfg.Redis.Host == "" {
		return fmt.Errorf("redis is not configured")
	}
	c, err := cache.NewClient(cmd.Context(), cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer c.Close()

	pattern := cache.BaselineCacheKey(repoID, "*")
	n, err := c.DeletePattern(cmd.Context(), pattern)
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	fmt.Printf("cleared %d cached entries for repo %q\n", n, repoID)
	return nil
}
