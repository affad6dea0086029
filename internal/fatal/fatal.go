// Package fatal implements the error-handling policy of §7: client misuse,
// heap corruption and internal invariant violations are never recoverable
// errors, they abort the process.
package fatal

import "fmt"

// Errorf formats msg and panics with it. Callers on a fatal path must never
// recover; this mirrors the teacher's own
// panic(fmt.Errorf(...)) convention in pointerstore.Store.Destroy and
// objectstore.Store.Free.
func Errorf(format string, args ...any) {
	panic(fmt.Errorf(format, args...))
}
