package collector

import "fmt"

// OutcomeStatus is the terminal state of one collection cycle.
type OutcomeStatus string

const (
	// OutcomeDelivered means the payload reached its destination.
	OutcomeDelivered OutcomeStatus = "delivered"
	// OutcomeAborted means the collection was incomplete and nothing was sent.
	OutcomeAborted OutcomeStatus = "aborted"
	// OutcomeFailed means a transport or local failure stopped the cycle.
	OutcomeFailed OutcomeStatus = "failed"
)

// Reason qualifies a non delivered outcome.
type Reason string

// Outcome reasons.
const (
	ReasonNone          Reason = ""
	ReasonEmptyEntity   Reason = "empty_entity"
	ReasonMissingParent Reason = "missing_parent"
	ReasonTransport     Reason = "transport"
	ReasonLocalIO       Reason = "local_io"
	ReasonParse         Reason = "parse"
	ReasonForward       Reason = "forward"
	ReasonTenantLookup  Reason = "tenant_lookup"
	ReasonNoTenants     Reason = "no_tenants"
	ReasonConfig        Reason = "config"
	ReasonInternal      Reason = "internal"
)

// Outcome is returned up the call chain in place of an abort error.
type Outcome struct {
	Status OutcomeStatus
	Reason Reason
	Entity string
	Err    error
}

// Delivered builds a successful outcome.
func Delivered() Outcome {
	return Outcome{Status: OutcomeDelivered}
}

// Abort builds an incomplete collection outcome for entity.
func Abort(reason Reason, entity string) Outcome {
	return Outcome{Status: OutcomeAborted, Reason: reason, Entity: entity}
}

// Fail builds a failure outcome carrying its cause.
func Fail(reason Reason, err error) Outcome {
	return Outcome{Status: OutcomeFailed, Reason: reason, Err: err}
}

// WithEntity returns a copy of o naming the entity that produced it.
func (o Outcome) WithEntity(entity string) Outcome {
	o.Entity = entity
	return o
}

// OK reports whether the payload was delivered.
func (o Outcome) OK() bool {
	return o.Status == OutcomeDelivered
}

func (o Outcome) String() string {
	switch {
	case o.OK():
		return string(o.Status)
	case o.Err != nil && o.Entity != "":
		return fmt.Sprintf("%s (%s, entity %s): %v", o.Status, o.Reason, o.Entity, o.Err)
	case o.Err != nil:
		return fmt.Sprintf("%s (%s): %v", o.Status, o.Reason, o.Err)
	case o.Entity != "":
		return fmt.Sprintf("%s (%s, entity %s)", o.Status, o.Reason, o.Entity)
	default:
		return fmt.Sprintf("%s (%s)", o.Status, o.Reason)
	}
}
