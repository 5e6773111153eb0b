// Package tenant provisions and caches graph-isolated clients, one per
// organization, on top of a shared Backend connection.
package tenant

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/archgraph/sentinel/internal/cache"
	"github.com/archgraph/sentinel/internal/graph"
)

// provisionLockTTL bounds how long a provisioning lock is held before it
// expires on its own, in case the holder crashes mid-provision.
const provisionLockTTL = 30 * time.Second

// BackendFactory constructs a graph.Backend bound to a named graph/database.
// Neo4j backs multi-database deployments with a database name; single-
// database deployments can ignore graphName and rely on the repoId property
// filter as the sole isolation mechanism as a defense-in-depth measure.
type BackendFactory func(ctx context.Context, graphName string) (graph.Backend, error)

// Tenant is a provisioned, cached client for one organization.
type Tenant struct {
	OrgID     string
	OrgSlug   string
	GraphName string
	Backend   graph.Backend
}

// Factory caches one Tenant per orgID, mirroring the double-checked-locking
// client cache in the teacher's GraphClientFactory. The in-process mutex
// only serializes goroutines within one worker; Cache (when set) additionally
// serializes ProvisionTenant across separate worker processes via a Redis
// distributed lock.
type Factory struct {
	mu              sync.Mutex
	tenants         map[string]*Tenant
	graphNameToOrg  map[string]string
	newBackend      BackendFactory
	logger          *slog.Logger
	Cache           *cache.Client
}

// NewFactory creates a Factory that provisions backends via newBackend.
// cacheClient may be nil, in which case ProvisionTenant relies solely on
// the in-process mutex (fine for a single-worker deployment).
func NewFactory(newBackend BackendFactory, cacheClient *cache.Client) *Factory {
	return &Factory{
		tenants:        make(map[string]*Tenant),
		graphNameToOrg: make(map[string]string),
		newBackend:     newBackend,
		logger:         slog.Default().With("component", "tenant_factory"),
		Cache:          cacheClient,
	}
}

// GetClient returns the cached Tenant for orgID, creating one on first
// access. First-time creation is serialized across all orgIDs: the single
// mutex is held through backend construction, so the collision check and the
// map insert below happen atomically.
func (f *Factory) GetClient(ctx context.Context, orgID, orgSlug string) (*Tenant, error) {
	f.mu.Lock()
	if t, ok := f.tenants[orgID]; ok {
		f.mu.Unlock()
		return t, nil
	}
	f.mu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check: another goroutine may have created it while we waited
	// for the lock.
	if t, ok := f.tenants[orgID]; ok {
		return t, nil
	}

	graphName := GraphName(orgID, orgSlug)

	if existingOrg, ok := f.graphNameToOrg[graphName]; ok && existingOrg != orgID {
		f.logger.Error("graph name collision detected",
			"graph_name", graphName, "existing_org", existingOrg, "new_org", orgID)
		return nil, fmt.Errorf("graph name collision: %q already belongs to org %s, cannot assign to org %s",
			graphName, existingOrg, orgID)
	}

	backend, err := f.newBackend(ctx, graphName)
	if err != nil {
		return nil, fmt.Errorf("create backend for org %s: %w", orgID, err)
	}

	t := &Tenant{OrgID: orgID, OrgSlug: orgSlug, GraphName: graphName, Backend: backend}
	f.tenants[orgID] = t
	f.graphNameToOrg[graphName] = orgID

	f.logger.Info("tenant graph access",
		"tenant_id", orgID, "tenant_slug", orgSlug, "graph_name", graphName,
		"action", "client_created", "ts", time.Now().UTC().Format(time.RFC3339))

	return t, nil
}

// ValidateTenantContext confirms client belongs to expectedOrgID, logging
// and failing on mismatch as a security event.
func (f *Factory) ValidateTenantContext(client *Tenant, expectedOrgID string) error {
	if client.OrgID != expectedOrgID {
		f.logger.Warn("tenant context mismatch detected",
			"expected_org_id", expectedOrgID, "client_org_id", client.OrgID,
			"action", "context_mismatch", "ts", time.Now().UTC().Format(time.RFC3339))
		return fmt.Errorf("tenant context mismatch: client belongs to org %s, expected org %s",
			client.OrgID, expectedOrgID)
	}
	f.logger.Debug("tenant context validated", "org_id", expectedOrgID, "action", "context_validated")
	return nil
}

// ProvisionTenant ensures the graph's schema (indexes) exists for orgID and
// returns the graph name. Idempotent: safe to call on every deploy. When
// f.Cache is set, the whole operation is serialized across worker processes
// by a Redis distributed lock keyed on orgID, so two workers racing to
// provision the same org never both attempt CreateIndexes concurrently.
func (f *Factory) ProvisionTenant(ctx context.Context, orgID, orgSlug string) (string, error) {
	if f.Cache != nil {
		lockName := fmt.Sprintf("tenant-provision:%s", orgID)
		token, acquired, err := f.Cache.AcquireLock(ctx, lockName, provisionLockTTL)
		if err != nil {
			return "", fmt.Errorf("acquire provision lock for org %s: %w", orgID, err)
		}
		if !acquired {
			return "", fmt.Errorf("provision tenant %s: another worker is already provisioning this org", orgID)
		}
		defer func() {
			if err := f.Cache.ReleaseLock(ctx, lockName, token); err != nil {
				f.logger.Warn("failed to release provision lock", "org_id", orgID, "error", err)
			}
		}()
	}

	t, err := f.GetClient(ctx, orgID, orgSlug)
	if err != nil {
		return "", err
	}
	if err := t.Backend.CreateIndexes(ctx); err != nil {
		return "", fmt.Errorf("provision tenant %s: %w", orgID, err)
	}
	return t.GraphName, nil
}

// DeprovisionTenant closes the cached client and deletes every node tagged
// to orgID. Idempotent; safe to call on an org with no cached client.
func (f *Factory) DeprovisionTenant(ctx context.Context, orgID, orgSlug string) error {
	f.mu.Lock()
	t, ok := f.tenants[orgID]
	f.mu.Unlock()

	if !ok {
		backend, err := f.newBackend(ctx, GraphName(orgID, orgSlug))
		if err != nil {
			return fmt.Errorf("deprovision tenant %s: %w", orgID, err)
		}
		defer backend.Close()
		_, err = backend.DeleteRepository(ctx, orgID)
		return err
	}

	if _, err := t.Backend.DeleteRepository(ctx, orgID); err != nil {
		return fmt.Errorf("deprovision tenant %s: %w", orgID, err)
	}
	return f.CloseClient(orgID)
}

// CloseClient closes and evicts the cached client for orgID, if any.
func (f *Factory) CloseClient(orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.tenants[orgID]
	if !ok {
		return nil
	}

	err := t.Backend.Close()
	delete(f.tenants, orgID)
	delete(f.graphNameToOrg, t.GraphName)
	return err
}

// CloseAll closes every cached client. Call during shutdown.
func (f *Factory) CloseAll() {
	f.mu.Lock()
	orgIDs := make([]string, 0, len(f.tenants))
	for id := range f.tenants {
		orgIDs = append(orgIDs, id)
	}
	f.mu.Unlock()

	for _, id := range orgIDs {
		if err := f.CloseClient(id); err != nil {
			f.logger.Warn("error closing tenant client", "org_id", id, "error", err)
		}
	}
}

// CachedOrgIDs returns the orgIDs currently holding a cached client.
func (f *Factory) CachedOrgIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.tenants))
	for id := range f.tenants {
		ids = append(ids, id)
	}
	return ids
}

// GraphName derives the graph/database name for an org: a sanitized
// slug plus an 8-hex fingerprint of orgID when a slug is supplied, or a
// 16-hex fingerprint alone otherwise.
func GraphName(orgID, orgSlug string) string {
	sum := md5.Sum([]byte(orgID))
	fingerprint := fmt.Sprintf("%x", sum)

	if orgSlug == "" {
		return "org_" + fingerprint[:16]
	}

	return fmt.Sprintf("org_%s_%s", sanitizeSlug(orgSlug), fingerprint[:8])
}

// sanitizeSlug lowercases orgSlug, collapses any run of non-alphanumeric
// characters into a single underscore, and trims leading/trailing
// underscores.
func sanitizeSlug(slug string) string {
	var b strings.Builder
	lastWasUnderscore := false
	for _, r := range strings.ToLower(slug) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastWasUnderscore = false
			continue
		}
		if !lastWasUnderscore {
			b.WriteByte('_')
			lastWasUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
