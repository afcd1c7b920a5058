// Command scriptkit serves the script relay and registry endpoints and
// offers offline tooling around the provider catalogue: printing the
// generated service worker, listing providers, measuring bundle sizes and
// probing a provider inside a headless document.
package main
