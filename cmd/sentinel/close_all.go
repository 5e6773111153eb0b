package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var closeAllCmd = &cobra.Command{
	Use:   "close-all",
	Short: "Close every cached tenant client",
	RunE:  runCloseAll,
}

func runCloseAll(cmd *cobra.Command, args []string) error {
	factory, cacheClient, err := newTenantFactory(cmd.Context())
	if err != nil {
		return err
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}

	factory.CloseAll()
	fmt.Println("closed all cached tenant clients")
	return nil
}
