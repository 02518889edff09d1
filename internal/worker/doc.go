// Package worker models the lifecycle of one cache worker version for a site
// scope: install populates the static and external partitions from the
// precache manifest, activate removes partitions left by previous versions,
// and fetch runs the per-class caching strategy for every intercepted
// request. Events are routed through an explicit dispatch table; each handler
// receives the partition registry as a parameter instead of reaching for
// shared state. Controller swaps worker versions so a failed install never
// replaces a worker that is already serving.
package worker
