// Package cache provides the tag-capable key-value store shared by the
// JWKS key store, the access resolver and the RBAC permission caches.
//
// Keys are structured (Key) and serialized deterministically so the
// different caches can never collide. Values are stored as JSON in every
// backend, which lets a nil result (for example "no access") be cached
// and read back as nil.
//
// Two backends are provided:
//
//   - Memory: in-process LRU with lazy per-entry expiry
//   - Redis: shared cache for multi-instance deployments
//
// Remember implements cache-aside. Backend failures never fail a read: the
// loader result is returned and the failure is reported through the
// Instrumented wrapper.
package cache
