// Package script defines the vocabulary shared by the loader packages.
//
// Components:
//   - Descriptor: what to inject (src or inline body plus ordered attributes)
//   - Status / StatusRef: observable lifecycle of a script instance
//   - Mode: client (executes scripts) or server (emits markup only)
//   - Errors: validation, relay, execution and policy failures
//   - Integrity: subresource integrity hashing and verification
package script
