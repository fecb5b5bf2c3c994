// Package service binds a remote resource to a normalized store.
//
// A Collection runs every remote call through the same lifecycle: the verb is
// marked pending on the store, the transport is called once, and the answer
// is merged into the cached records before the verb settles. Failures are
// both returned and recorded on the store (see store.ErrorInfo), so callers
// can either handle the error or watch the store status.
//
//	todos, err := service.New(rest.NewService(client, "todos"), service.Config{
//		Name:       "todos",
//		AutoRemove: true,
//	})
//	if err != nil {
//		return err
//	}
//	defer todos.Close()
//
//	res, err := todos.Find(ctx, service.FindParams{Query: query.Query{"done": false}})
//
// Records handed back by actions are the live cached instances. A record
// created without an id keeps its identity when the server assigns one.
//
// Collections sharing a Registry can declare Relations: nested objects under
// a related field are ingested into the related collection and replaced by
// its cached record.
package service
