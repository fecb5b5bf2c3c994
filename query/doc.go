// Package query evaluates a MongoDB style filter language against cached
// records.
//
// Supported operators are $in, $nin, $lt, $lte, $gt, $gte, $ne, $or and
// $elemMatch, plus the page modifiers $sort, $limit, $skip and $select. Any
// other $-prefixed key, at any depth, fails with ErrInvalidOperator unless it
// is listed in Options.Whitelist.
//
// Run evaluates in a fixed order: keys listed in Options.ParamsForServer are
// dropped, whitelisted operators without an evaluator are dropped, the filter
// is matched, Total is counted, then the matches are sorted, skipped, limited
// and projected.
//
//	res, err := query.Run(rows, query.Query{
//		"age":    map[string]any{"$gte": 21},
//		"$sort":  query.Desc("age"),
//		"$limit": 10,
//	}, query.Options{})
package query
