// Package policy gates capability grant creation behind Rego policies.
//
// Grant requests are rendered into a Rego input document and evaluated
// against every enabled policy's deny set. Violations at error or critical
// severity block the grant; warning and info violations are surfaced in the
// decision without blocking. Built-in policies cover full-access grants,
// sensitive filesystem paths, wildcard network hosts, and high-risk audit
// flags; operators can register additional policies at runtime.
package policy
