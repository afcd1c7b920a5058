// Package adapter is the per-provider contract layer on top of the
// registry. Define binds a provider key, a factory building the descriptor
// from caller options, an optional validation schema and a typed use()
// extractor into a UseScript function.
//
// Schemas are validator rule maps, for example
//
//	adapter.WithSchema[API](map[string]interface{}{"id": "required,startswith=G-"})
//
// and are only evaluated in development builds.
package adapter
