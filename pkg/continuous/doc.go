// Package continuous runs flagged graph nodes in indefinite background
// loops. Each node gets its own worker goroutine that executes one
// iteration, publishes an event, sleeps its configured interval, and checks
// for cancellation between steps. Workers fail independently: a panic or
// error ends only the affected loop, with exactly one error event emitted.
package continuous
