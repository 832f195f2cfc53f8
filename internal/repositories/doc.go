// Package repositories implements the key-value persistence behind the token store.
//
// Every backend implements [models.Repository]:
//   - [MemoryKV] : process-local map, used by tests and the memory store type
//   - [SQLiteKV] : kv_store table created by the embedded migrations
//   - [RedisKV] : string keys under the "nowplaying:" prefix
//   - [PostgresKV] : kv_store table created on open
//
// [Open] selects a backend from the [store] section of the config.
package repositories
