package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in grant policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		fullAccessPolicy(),
		sensitivePathsPolicy(),
		networkHostsPolicy(),
		highRiskAuditPolicy(),
	}
}

// fullAccessPolicy blocks full-access grants outright. Full access bypasses
// the sandbox entirely, so it must be allowed by an operator-supplied policy
// rather than the defaults.
func fullAccessPolicy() Policy {
	return Policy{
		Name:        "deny-full-access",
		Description: "Denies full-access grants; full access disables sandbox isolation",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"grants", "isolation"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodeweave.policies.fullaccess

import rego.v1

deny contains violation if {
	input.grant.kind == "full"
	violation := {
		"message": sprintf("node %s requests full access; full grants bypass sandbox isolation", [input.grant.node_id]),
		"severity": "critical",
		"node_id": input.grant.node_id,
	}
}
`,
	}
}

// sensitivePathsPolicy rejects filesystem grants that reach into system
// directories.
func sensitivePathsPolicy() Policy {
	return Policy{
		Name:        "deny-sensitive-paths",
		Description: "Denies filesystem grants on system directories (/etc, /root, /usr, /bin, /sbin)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"grants", "filesystem"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodeweave.policies.paths

import rego.v1

sensitive_prefixes := ["/etc", "/root", "/usr", "/bin", "/sbin"]

deny contains violation if {
	some path in input.grant.paths
	some prefix in sensitive_prefixes
	startswith(path, prefix)
	violation := {
		"message": sprintf("node %s requests access to sensitive path %s", [input.grant.node_id, path]),
		"severity": "error",
		"node_id": input.grant.node_id,
	}
}
`,
	}
}

// networkHostsPolicy rejects network grants with an empty or wildcard host
// list. Network capability must name the hosts it reaches.
func networkHostsPolicy() Policy {
	return Policy{
		Name:        "require-named-hosts",
		Description: "Network grants must list concrete hosts; wildcards are denied",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"grants", "network"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodeweave.policies.network

import rego.v1

deny contains violation if {
	input.grant.kind == "network"
	some host in input.grant.hosts
	contains(host, "*")
	violation := {
		"message": sprintf("node %s requests wildcard network host %s", [input.grant.node_id, host]),
		"severity": "error",
		"node_id": input.grant.node_id,
	}
}
`,
	}
}

// highRiskAuditPolicy flags high-risk grants without blocking them. The
// warning surfaces in the decision for later review.
func highRiskAuditPolicy() Policy {
	return Policy{
		Name:        "audit-high-risk",
		Description: "Flags high-risk capability grants for review",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"grants", "audit"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package nodeweave.policies.audit

import rego.v1

deny contains violation if {
	input.grant.risk == "high"
	input.grant.kind != "full"
	violation := {
		"message": sprintf("node %s requests a high-risk %s grant", [input.grant.node_id, input.grant.kind]),
		"severity": "warning",
		"node_id": input.grant.node_id,
	}
}
`,
	}
}
