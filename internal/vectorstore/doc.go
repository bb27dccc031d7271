// Package vectorstore persists tenant-transformed embeddings in fixed-size
// dimension shards and answers tenant-scoped nearest neighbour queries.
//
// Every vector passes through tenant.Transform before it reaches a Backend,
// and every query is transformed with the same tenant key. Backends never
// see raw vectors. Relational index metadata (segment, journey, model) lives
// behind IndexRepository and is joined onto backend matches at query time.
//
// Backends:
//   - chromem (default): embedded chromem-go, one collection per shard and
//     tenant partition
//   - qdrant: one collection per shard, mandatory tenant payload filter
//   - milvus: one collection per shard, tenant boolean expression
//   - pgvector: one table per shard keyed by (tenant_id, index_id)
package vectorstore
