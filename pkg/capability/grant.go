package capability

import (
	"time"
)

// Grant binds a capability set to a specific node instance. Grants are
// created when a user approves a permission request for a node, consulted on
// every invocation of that node, and revoked by deletion; revocation ends
// future invocations with a denial rather than a crash.
type Grant struct {
	// NodeID is the graph node this grant is bound to.
	NodeID string `json:"node_id" yaml:"node_id"`

	// Set is the granted capability variant.
	Set Set `json:"set" yaml:"set"`

	// GrantedAt is when the user approved the grant.
	GrantedAt time.Time `json:"granted_at" yaml:"granted_at"`

	// Scope is a human-readable description of what was approved.
	Scope string `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// NewGrant creates a grant for a node with the current timestamp and a
// scope description derived from the set.
func NewGrant(nodeID string, set Set) *Grant {
	return &Grant{
		NodeID:    nodeID,
		Set:       set,
		GrantedAt: time.Now(),
		Scope:     set.String(),
	}
}

// Satisfies reports whether the grant covers the required set.
//
// Full satisfies anything, and a required None is always satisfied.
// Otherwise the check is variant-kind equality only: a grant scoped to /a
// satisfies a request for /b as long as both are the same file variant.
// This matches the documented behavior of the permission model; tightening
// it to path/host-subset comparison would be a behavior change.
func (g *Grant) Satisfies(required Set) bool {
	if g == nil {
		return required.Kind == SetNone
	}
	if g.Set.Kind == SetFull {
		return true
	}
	if required.Kind == SetNone {
		return true
	}
	return g.Set.Kind == required.Kind
}
