package tenant

import (
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archgraph/sentinel/internal/cache"
	"github.com/archgraph/sentinel/internal/graph"
)

func newTestCacheClient(t *testing.T) *cache.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c, err := cache.NewClient(context.Background(), host, port, "")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// fakeBackend satisfies graph.Backend minimally for factory tests.
type fakeBackend struct {
	graphName string

	mu          sync.Mutex
	closed      bool
	deletedOrgs []string
}

func (b *fakeBackend) ExecuteQuery(ctx context.Context, query string, params map[string]any, timeout time.Duration) ([]map[string]any, error) {
	return nil, nil
}
func (b *fakeBackend) BatchCreateNodes(ctx context.Context, entities []graph.Entity) error { return nil }
func (b *fakeBackend) BatchCreateRelationships(ctx context.Context, rels []graph.Relationship) error {
	return nil
}
func (b *fakeBackend) DeleteFileEntities(ctx context.Context, repoID, path string) (int, error) {
	return 0, nil
}
func (b *fakeBackend) DeleteRepository(ctx context.Context, repoID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletedOrgs = append(b.deletedOrgs, repoID)
	return 1, nil
}
func (b *fakeBackend) GetAllFilePaths(ctx context.Context, repoID string) ([]string, error) {
	return nil, nil
}
func (b *fakeBackend) GetFileMetadata(ctx context.Context, repoID, path string) (*graph.FileMetadata, error) {
	return nil, nil
}
func (b *fakeBackend) CreateIndexes(ctx context.Context) error { return nil }
func (b *fakeBackend) SupportsTemporalTypes() bool             { return true }
func (b *fakeBackend) SupportsConstraints() bool               { return true }
func (b *fakeBackend) SupportsFullTextIndex() bool             { return true }
func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func newTestFactory() (*Factory, *int) {
	calls := 0
	f := NewFactory(func(ctx context.Context, graphName string) (graph.Backend, error) {
		calls++
		return &fakeBackend{graphName: graphName}, nil
	}, nil)
	return f, &calls
}

func TestGraphName_DeterministicAndSlugCollisionSafe(t *testing.T) {
	name1 := GraphName("org-1", "acme-corp")
	name2 := GraphName("org-1", "acme-corp")
	assert.Equal(t, name1, name2, "graph name must be deterministic for the same inputs")

	name3 := GraphName("org-2", "acme_corp")
	assert.NotEqual(t, name1, name3, "different orgIDs with colliding sanitized slugs must still differ")
}

func TestGraphName_NoSlugFallsBackTo16HexFingerprint(t *testing.T) {
	name := GraphName("org-1", "")
	assert.Regexp(t, `^org_[0-9a-f]{16}$`, name)
}

func TestGraphName_SlugIsSanitized(t *testing.T) {
	name := GraphName("org-1", "Acme Corp!!")
	assert.Regexp(t, `^org_acme_corp_[0-9a-f]{8}$`, name)
}

func TestFactory_GetClient_CachesPerOrg(t *testing.T) {
	f, calls := newTestFactory()

	t1, err := f.GetClient(context.Background(), "org-1", "acme")
	require.NoError(t, err)

	t2, err := f.GetClient(context.Background(), "org-1", "acme")
	require.NoError(t, err)

	assert.Same(t, t1, t2)
	assert.Equal(t, 1, *calls, "second GetClient call must hit the cache, not construct a new backend")
}

func TestFactory_GetClient_ConcurrentFirstAccessIsSerialized(t *testing.T) {
	f, calls := newTestFactory()

	var wg sync.WaitGroup
	results := make([]*Tenant, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tn, err := f.GetClient(context.Background(), "org-shared", "shared")
			require.NoError(t, err)
			results[i] = tn
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, *calls, "concurrent first access for the same org must construct exactly one backend")
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestFactory_GetClient_GraphNameCollisionRejected(t *testing.T) {
	f, _ := newTestFactory()

	_, err := f.GetClient(context.Background(), "org-1", "acme")
	require.NoError(t, err)

	f.mu.Lock()
	f.graphNameToOrg[GraphName("org-1", "acme")] = "some-other-org"
	f.mu.Unlock()
	delete(f.tenants, "org-1")

	_, err = f.GetClient(context.Background(), "org-1", "acme")
	assert.Error(t, err)
}

func TestFactory_ValidateTenantContext_MismatchFails(t *testing.T) {
	f, _ := newTestFactory()
	t1, err := f.GetClient(context.Background(), "org-1", "acme")
	require.NoError(t, err)

	err = f.ValidateTenantContext(t1, "org-2")
	assert.Error(t, err)

	err = f.ValidateTenantContext(t1, "org-1")
	assert.NoError(t, err)
}

func TestFactory_DeprovisionTenant_DeletesAndCloses(t *testing.T) {
	f, _ := newTestFactory()
	tn, err := f.GetClient(context.Background(), "org-1", "acme")
	require.NoError(t, err)

	backend := tn.Backend.(*fakeBackend)

	err = f.DeprovisionTenant(context.Background(), "org-1", "acme")
	require.NoError(t, err)

	assert.Contains(t, backend.deletedOrgs, "org-1")
	assert.True(t, backend.closed)
	assert.Empty(t, f.CachedOrgIDs())
}

func TestFactory_DeprovisionTenant_WithoutPriorGetClient(t *testing.T) {
	f, calls := newTestFactory()

	err := f.DeprovisionTenant(context.Background(), "org-never-seen", "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
}

func TestFactory_ProvisionTenant_UsesDistributedLockWhenCacheIsSet(t *testing.T) {
	c := newTestCacheClient(t)
	calls := 0
	f := NewFactory(func(ctx context.Context, graphName string) (graph.Backend, error) {
		calls++
		return &fakeBackend{graphName: graphName}, nil
	}, c)

	name, err := f.ProvisionTenant(context.Background(), "org-1", "acme")
	require.NoError(t, err)
	assert.Equal(t, GraphName("org-1", "acme"), name)

	// The lock must be released afterward, so a second call succeeds too.
	_, err = f.ProvisionTenant(context.Background(), "org-1", "acme")
	require.NoError(t, err)
}

func TestFactory_ProvisionTenant_LockHeldByAnotherWorkerFails(t *testing.T) {
	c := newTestCacheClient(t)
	f := NewFactory(func(ctx context.Context, graphName string) (graph.Backend, error) {
		return &fakeBackend{graphName: graphName}, nil
	}, c)

	_, acquired, err := c.AcquireLock(context.Background(), "tenant-provision:org-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = f.ProvisionTenant(context.Background(), "org-1", "acme")
	assert.Error(t, err)
}

func TestFactory_CloseAll(t *testing.T) {
	f, _ := newTestFactory()
	_, err := f.GetClient(context.Background(), "org-1", "a")
	require.NoError(t, err)
	_, err = f.GetClient(context.Background(), "org-2", "b")
	require.NoError(t, err)

	f.CloseAll()
	assert.Empty(t, f.CachedOrgIDs())
}
