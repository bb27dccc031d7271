package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// PartitionName returns the storage-safe name of a tenant's partition within
// a dimension shard, e.g. "emb_384_3f2a9c0d1b7e4a55".
//
// The tenant ID is hashed so names stay within backend naming rules
// (lowercase, digits, underscore) regardless of the characters it contains.
func PartitionName(dimension int, tenantID string) string {
	sum := sha256.Sum256([]byte(tenantID))
	return fmt.Sprintf("emb_%d_%s", dimension, hex.EncodeToString(sum[:8]))
}

// ShardName returns the name of the shared collection or table for a
// dimension shard, e.g. "emb_768".
func ShardName(dimension int) string {
	return fmt.Sprintf("emb_%d", dimension)
}
