package pipeline

import (
	"fmt"
)

// Route is where a budgeted failure is sent.
type Route string

const (
	RouteRegenerate Route = "REGENERATE"
	RouteReselect   Route = "RESELECT"
	// RouteAccept treats a data-shaped failure as a legitimate answer.
	RouteAccept Route = "ACCEPT"
)

// RemediationPolicy maps each budgeted failure kind to a route.
type RemediationPolicy struct {
	Empty          Route
	AllNull        Route
	ExecutionFault Route
}

// DefaultPolicy sends narrow predicates back to synthesis and wrong-table
// symptoms back to selection.
func DefaultPolicy() RemediationPolicy {
	return RemediationPolicy{
		Empty:          RouteRegenerate,
		AllNull:        RouteReselect,
		ExecutionFault: RouteReselect,
	}
}

func (p RemediationPolicy) isZero() bool {
	return p == RemediationPolicy{}
}

// Validate rejects policies that collapse remediation into a single generic
// retry, and policies that accept execution faults as answers.
func (p RemediationPolicy) Validate() error {
	for name, r := range map[string]Route{"empty": p.Empty, "all-null": p.AllNull, "execution-fault": p.ExecutionFault} {
		switch r {
		case RouteRegenerate, RouteReselect, RouteAccept:
		default:
			return fmt.Errorf("%s route %q is invalid", name, r)
		}
	}
	if p.ExecutionFault == RouteAccept {
		return fmt.Errorf("execution faults cannot be accepted")
	}
	if p.Empty == p.AllNull && p.AllNull == p.ExecutionFault {
		return fmt.Errorf("remediation policy must route failure kinds asymmetrically")
	}
	return nil
}

// Route returns the route for a budgeted failure kind.
func (p RemediationPolicy) Route(kind Kind) (Route, error) {
	switch kind {
	case KindEmpty:
		return p.Empty, nil
	case KindAllNull:
		return p.AllNull, nil
	case KindExecutionFault:
		return p.ExecutionFault, nil
	default:
		return "", fmt.Errorf("failure kind %s is not remediable", kind)
	}
}

func (r Route) mode() RemediationMode {
	if r == RouteReselect {
		return ModeReselect
	}
	return ModeRegenerate
}

func (r Route) target() State {
	if r == RouteReselect {
		return StateSelect
	}
	return StateSynthesize
}
