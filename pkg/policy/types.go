package policy

import (
	"strings"
	"time"

	"github.com/nodeweave/nodeweave/pkg/capability"
)

// Severity ranks how serious a policy violation is. Only error and critical
// violations block a grant.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Policy is one Rego policy evaluated against grant requests.
type Policy struct {
	// Name uniquely identifies the policy.
	Name string `json:"name"`

	// Description explains what the policy enforces.
	Description string `json:"description"`

	// Severity is the default severity for the policy's violations.
	Severity Severity `json:"severity"`

	// Enabled controls whether the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Tags group related policies.
	Tags []string `json:"tags,omitempty"`

	// Rego is the policy source. Violations are collected from the
	// package's deny set.
	Rego string `json:"rego"`

	// CreatedAt and UpdatedAt track the policy lifecycle.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GrantRequest is a capability grant awaiting policy approval.
type GrantRequest struct {
	// NodeID is the node the grant would be bound to.
	NodeID string `json:"node_id"`

	// ComponentName identifies the component behind the node, if known.
	ComponentName string `json:"component_name,omitempty"`

	// Set is the requested capability set.
	Set capability.Set `json:"set"`
}

// grantInput is the shape handed to Rego as input.grant.
type grantInput struct {
	NodeID        string   `json:"node_id"`
	ComponentName string   `json:"component_name,omitempty"`
	Kind          string   `json:"kind"`
	Paths         []string `json:"paths,omitempty"`
	Hosts         []string `json:"hosts,omitempty"`
	Risk          string   `json:"risk"`
}

// policyInput is the full Rego input document.
type policyInput struct {
	Grant   grantInput    `json:"grant"`
	Context policyContext `json:"context"`
}

type policyContext struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
}

// Violation is one policy denial or warning.
type Violation struct {
	// Policy names the policy that produced the violation.
	Policy string `json:"policy"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity ranks the violation.
	Severity string `json:"severity"`

	// NodeID is the affected node, when the policy reports one.
	NodeID string `json:"node_id,omitempty"`
}

// Decision is the outcome of evaluating all enabled policies against a
// grant request.
type Decision struct {
	// Allowed is false when any violation is error or critical severity.
	Allowed bool `json:"allowed"`

	// Violations are all policy findings, including non-blocking ones.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings records policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the decision was made.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

func newGrantInput(req *GrantRequest) grantInput {
	return grantInput{
		NodeID:        req.NodeID,
		ComponentName: req.ComponentName,
		Kind:          string(req.Set.Kind),
		Paths:         req.Set.Paths,
		Hosts:         req.Set.Hosts,
		Risk:          strings.ToLower(req.Set.MaxRisk().String()),
	}
}
