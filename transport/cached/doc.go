// Package cached provides a read-through decorator for transport.Service.
//
// # Overview
//
// The decorator wraps any transport.Service and sends Find and Get through a
// shared cache.CacheService, so identical reads issued at the same time by
// several collections share one remote call. Writes go straight to the wrapped
// service and then evict the reads they can affect.
//
// # Key Features
//
//   - **Request coalescing**: concurrent identical reads share one fetch
//   - **Prefix invalidation**: writes evict every tracked key of the resource
//   - **Tags**: reads can carry tags (WithCacheTags) evicted together with InvalidateTags
//   - **Event aware**: when the wrapped service is a transport.EventSource,
//     incoming events evict the same keys a local write would
//
// # Basic Usage
//
//	requests, _ := cache.NewCacheService(cache.DefaultConfig())
//	todos := cached.New(rest.NewService(client, "todos"), requests,
//		cache.NewDefaultKeySerializer(), cached.WithNamespace("Todos"))
//
//	page, err := todos.Find(ctx, transport.Params{Query: query.Query{"done": false}})
//
// # Keys
//
// Keys are "<namespace>:find" or "<namespace>:get" followed by the serialized
// id, query and tags. The namespace is snake_cased and stripped of
// punctuation, so prefix matching stays reliable and keys remain valid for
// external stores.
//
// Values handed out are copies; the cached page and records are never shared
// with callers.
package cached
