// Package authority provides unforgeable in-process capability values.
//
// Shared registries (feed bindings, rate policy, points weights) are plain
// configuration objects; the right to mutate them is represented by a
// Capability handed out at wiring time and checked per call. A component
// accepts exactly the capabilities it was constructed with, so no package can
// reach privileged operations through an ambient global.
package authority

import "sync/atomic"

var counter atomic.Uint64

// Capability is a comparable token granting access to guarded operations.
// The zero value is never granted and always fails checks.
type Capability struct {
	id uint64
}

// Grant mints a fresh capability. Each call returns a distinct value.
func Grant() Capability {
	return Capability{id: counter.Add(1)}
}

// Valid reports whether the capability was produced by Grant.
func (c Capability) Valid() bool {
	return c.id != 0
}
