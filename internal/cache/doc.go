// Package cache defines the partitioned response storage used by the worker.
// A Storage owns named partitions; each Partition maps a normalized request
// key (METHOD + URL) to a captured response and enumerates its keys in
// insertion order. The Registry binds one scope's four recognized partition
// names to a Storage, and the Governor keeps a partition under its byte
// budget by evicting the oldest-enumerated entries in batches.
// Backends: the disk store in this package, plus redisstore and sqlitestore.
package cache
