//go:build !release

// Package assert checks internal invariants. Checks are compiled into default builds and compiled
// out when building with `-tags release`. They guard against bugs in this module, never against
// caller errors, which are always reported as returned errors.
package assert

import "fmt"

// Enabled reports whether invariant checks are compiled in.
const Enabled = true

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf("invariant violated: "+format, args...))
	}
}
