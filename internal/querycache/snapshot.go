package querycache

import (
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// snapshotBucket holds one JSON-encoded Cache per repoID, keyed by repoID.
// Grounded on the teacher's internal/mcp/identity_resolver.go bbolt usage
// (CreateBucketIfNotExists + JSON marshal/unmarshal per key) — the same
// idiom, applied to a whole-cache snapshot instead of a per-path rename list.
const snapshotBucket = "query_cache_snapshots"

// SaveSnapshot persists cache to db for warm-start reuse in local/offline
// mode, keyed by cache.RepoID. It is an optional acceleration, never
// required for correctness: a missing or stale snapshot just means the next
// run calls Materialize instead.
func SaveSnapshot(db *bolt.DB, cache *Cache) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("marshal query cache snapshot: %w", err)
	}

	return db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		if err != nil {
			return fmt.Errorf("open snapshot bucket: %w", err)
		}
		return bucket.Put([]byte(cache.RepoID), data)
	})
}

// LoadSnapshot returns the last snapshot saved for repoID, or (nil, nil) if
// none exists. Callers must still treat a loaded snapshot as possibly stale
// relative to the live graph — the Query Cache is only authoritative for
// the analysis run it was materialized for (it is invalidated between
// runs); a snapshot is a warm-start convenience, not a substitute for it.
func LoadSnapshot(db *bolt.DB, repoID string) (*Cache, error) {
	var cache *Cache

	err := db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(repoID))
		if data == nil {
			return nil
		}
		cache = &Cache{}
		return json.Unmarshal(data, cache)
	})
	if err != nil {
		return nil, fmt.Errorf("load query cache snapshot: %w", err)
	}

	return cache, nil
}

// DeleteSnapshot removes a stored snapshot, so the next run for repoID
// re-materializes. Tenant deprovisioning does not call it.
func DeleteSnapshot(db *bolt.DB, repoID string) error {
	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(repoID))
	})
}
