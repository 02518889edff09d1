// Package server hosts the Fiber HTTP service that fronts every configured
// site scope. It resolves each request to a ScopeRoute (by Host for
// same-origin traffic, by Origin/Referer for cross-origin traffic issued by a
// controlled page), computes the absolute upstream target, assigns request
// IDs, and bootstraps one worker Controller per scope. Keep exports narrow and
// accept explicit dependencies so proxy and routes can be tested in isolation.
package server
