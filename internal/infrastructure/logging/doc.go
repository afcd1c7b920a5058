// Package logging builds the zap logger from the LOG_* settings.
//
// Production writes JSON; LOG_DEV switches to a colored console encoder.
// Components receive a *zap.Logger through their constructors and derive
// a named child with Component.
package logging
