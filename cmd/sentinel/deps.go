package main

import (
	"context"
	"fmt"

	"github.com/archgraph/sentinel/internal/cache"
	"github.com/archgraph/sentinel/internal/graph"
	"github.com/archgraph/sentinel/internal/tenant"
)

// newTenantFactory wires the Tenant Factory (C2) to a real Neo4j cluster,
// plus a Redis cache client when the config names one so ProvisionTenant
// is safe across separate worker processes, not just within this one.
func newTenantFactory(ctx context.Context) (*tenant.Factory, *cache.Client, error) {
	newBackend := func(ctx context.Context, graphName string) (graph.Backend, error) {
		return graph.NewNeo4jBackend(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, graphName)
	}

	var cacheClient *cache.Client
	if cfg.Redis.Host != "" {
		c, err := cache.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, provisioning will rely on the in-process lock only")
		} else {
			cacheClient = c
		}
	}

	return tenant.NewFactory(newBackend, cacheClient), cacheClient, nil
}

// requireOrgArgs pulls orgID/orgSlug positional args with a uniform error.
func requireOrgArgs(args []string) (orgID, orgSlug string, err error) {
	if len(args) < 1 {
		return "", "", fmt.Errorf("org id is required")
	}
	orgID = args[0]
	if len(args) > 1 {
		orgSlug = args[1]
	}
	return orgID, orgSlug, nil
}
