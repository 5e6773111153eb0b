package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archgraph/sentinel/internal/config"
)

var confirmDeprovision bool

var deprovisionCmd = &cobra.Command{
	Use:   "deprovision <org-id> [org-slug]",
	Short: "Delete a tenant's entire graph",
	Long: `Deprovision closes the cached client for an organization and
deletes every node tagged to it. Destructive and irreversible: requires
--confirm.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDeprovision,
}

func init() {
	deprovisionCmd.Flags().BoolVar(&confirmDeprovision, "confirm", false, "confirm permanent deletion of the org's graph data")
}

func runDeprovision(cmd *cobra.Command, args []string) error {
	if !confirmDeprovision {
		return fmt.Errorf("refusing to deprovision without --confirm: this permanently deletes the org's graph data")
	}

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

	if err := factory.DeprovisionTenant(cmd.Context(), orgID, orgSlug); err != nil {
		return fmt.Errorf("deprovision tenant: %w", err)
	}

	fmt.Printf("deprovisioned org %q\n", orgID)
	return nil
}
