package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// listCachedCmd reflects only this process's in-memory tenant cache, so a
// one-shot CLI invocation always reports empty; it exists for parity with
// the worker command, which runs long enough for the cache to matter.
var listCachedCmd = &cobra.Command{
	Use:   "list-cached",
	Short: "List orgIDs with a currently cached tenant client",
	RunE:  runListCached,
}

func runListCached(cmd *cobra.Command, args []string) error {
	factory, cacheClient, err := newTenantFactory(cmd.Context())
	if err != nil {
		return err
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}
	defer factory.CloseAll()

	orgIDs := factory.CachedOrgIDs()
	if len(orgIDs) == 0 {
		fmt.Println("no cached tenant clients")
		return nil
	}

	for _, id := range orgIDs {
		fmt.Println(id)
	}
	return nil
}
