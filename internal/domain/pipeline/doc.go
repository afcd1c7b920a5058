// Package pipeline applies ordered presets to a script descriptor before
// injection. Presets may rewrite the descriptor (proxy, inline) or add
// suspension points to the ready future (idle-defer, manual-gate).
package pipeline
