// Package cache provides the request cache contract and the key serializer
// used for query signatures.
//
// # Overview
//
//   - CacheService: read-through cache that lets identical transport reads
//     share one in-flight call. The default implementation is backed by
//     sturdyc (see NewCacheService).
//   - KeySerializer: builds stable keys from a method name and arguments.
//
// # Basic Usage
//
//	svc, err := cache.NewCacheService(cache.DefaultConfig())
//	serializer := cache.NewDefaultKeySerializer()
//
//	key := serializer.SerializeKey("users::find", params.Query)
//	page, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (transport.Page, error) {
//		return remote.Find(ctx, params)
//	})
//
// # Key Serialization Strategy
//
// The default serializer walks values with reflection:
//
//   - Maps: sorted key/value pairs, so key order never matters
//   - Strings: quoted, so "1" and 1 do not collide
//   - Numbers: normalized, so 21 and the JSON float 21 produce the same key
//   - time.Time: RFC 3339 in UTC
//   - *record.Record: its evaluated fields
//   - Functions and channels: %p, stable only within one process
//   - Structs: exported fields with name:value pairs
//
// The pagination ledger relies on these rules for its query and page
// signatures.
package cache
