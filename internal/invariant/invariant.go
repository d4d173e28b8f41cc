// Package invariant provides a single panic helper for conditions that can
// only be reached by a bug in this module's own bookkeeping, never by
// external input. Anything externally reachable (malformed feedback, a
// peer violating the wire protocol) returns a sentinel error instead; see
// each package's errors.go.
package invariant

import "fmt"

// Check panics with a formatted message if cond is false. Use only for
// conditions this module itself guarantees, e.g. "a RedBlock transitioning
// to Recovered while a sibling slot is still Lost" — never for anything a
// remote peer can trigger.
func Check(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("invariant violated: "+format, args...))
	}
}
