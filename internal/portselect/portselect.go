// Package portselect implements the deterministic port-selection policy
// used when the configured bind port is unavailable: retry against a
// single fixed port, an explicit list, or a two-element range.
package portselect

import (
	"fmt"
	"sort"
)

// Kind discriminates the shape of a PortSpec.
type Kind int

const (
	// Single always resolves to the same fixed port.
	Single Kind = iota
	// List resolves to the next configured port strictly above prev.
	List
	// Range resolves to min on the first attempt (prev == 0), otherwise to
	// max(prev, min)+1, failing once that exceeds max.
	Range
)

// Spec describes a port configuration as accepted by GetPort.
type Spec struct {
	Kind  Kind
	Port  int   // used when Kind == Single
	Ports []int // used when Kind == List, must have len >= 3
	Min   int   // used when Kind == Range
	Max   int   // used when Kind == Range
}

// GetPort returns the next port to try, given the previously attempted
// port (0 if this is the first attempt). It is a pure function of
// (spec, prev): calling it twice with the same arguments always yields
// the same result or the same error.
func GetPort(spec Spec, prev int) (int, error) {
	switch spec.Kind {
	case Single:
		return spec.Port, nil

	case List:
		sorted := append([]int(nil), spec.Ports...)
		sort.Ints(sorted)
		for _, p := range sorted {
			if p > prev {
				return p, nil
			}
		}
		return 0, fmt.Errorf("Out of list %v", sorted)

	case Range:
		var candidate int
		if prev == 0 {
			candidate = spec.Min
		} else {
			candidate = prev
			if spec.Min > candidate {
				candidate = spec.Min
			}
			candidate++
		}
		if candidate > spec.Max {
			return 0, fmt.Errorf("Out of range [%d - %d]", spec.Min, spec.Max)
		}
		return candidate, nil

	default:
		return 0, fmt.Errorf("portselect: unknown spec kind %d", spec.Kind)
	}
}
