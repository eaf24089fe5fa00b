package common

import "fmt"

// Assert checks a condition and panics if it is false.
//
// In idiomatic Go you return an error for conditions that might reasonably
// happen (file not found, a timeout). The lock manager and log manager are
// instead defined by invariants that must always hold (I1-I6 in spec.md
// §8); if one is violated, continuing is more dangerous than crashing.
//
// WHEN TO USE: checking "impossible" conditions and internal data
// structure integrity.
// WHEN NOT TO USE: validating caller input, or surfacing I/O failures —
// those return an error instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
