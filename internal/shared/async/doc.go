// Package async provides the one-shot futures and disposal scopes used by
// triggers, the transform pipeline and the script registry.
//
// A Future settles at most once. A Future that never settles is a valid
// state (server-side triggers stay pending for the whole request), so every
// blocking wait takes a context.
package async
