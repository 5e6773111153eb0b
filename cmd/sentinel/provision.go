package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archgraph/sentinel/internal/config"
)

var provisionCmd = &cobra.Command{
	Use:   "provision <org-id> [org-slug]",
	Short: "Provision a tenant's graph schema",
	Long: `Provision ensures the named organization's graph indexes exist,
creating the org's isolated client on first use. Idempotent: safe to
run on every deploy.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	orgID, orgSlug, err := requireOrgArgs(args)
	if err != nil {
		return err
	}

	if result := cfg.Validate(config.ValidationContextProvision); result.HasErrors() {
		return fmt.Errorf("invalid configuration:\n%s", result.Error())
	}

	factory, cacheClient, err := newTenantFactory(cmd.Context())
	if err != nil {
		return err
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}
	defer factory.CloseAll()

	graphName, err := factory.ProvisionTenant(cmd.Context(), orgID, orgSlug)
	if err != nil {
		return fmt.Errorf("provision tenant: %w", err)
	}

	fmt.Printf("provisioned org %q -> graph %q\n", orgID, graphName)
	return nil
}
