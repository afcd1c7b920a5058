// Package providers holds the catalogue of third-party script providers.
//
// A Registration ties a provider key to its category, label and either a
// built-in adapter Definition or an importPath that manifests declare. The
// Catalog is how the HTTP surface, the CLI and the relay allow-list find
// providers without knowing them at compile time.
//
// Built-ins:
//   - google-analytics: gtag.js with a dataLayer command queue
//   - plausible: privacy analytics with a queued plausible() stub
//   - fathom: privacy analytics
//   - crisp: chat widget, loads on first interaction
//   - stripe: Stripe.js
//
// Manifests (.yaml, .yml, .toml) in a directory add more registrations and
// are reloaded on change in development.
package providers
